package stream

import (
	"fmt"
	"strings"
)

const (
	DefaultVolume = 100
	MaxVolume     = 200
	MaxToneGain   = 20 // dB, bass/treble clamp either side
)

// Effect presets map to ffmpeg audio filters.
const (
	EffectNone      = ""
	EffectNightcore = "nightcore"
	EffectVaporwave = "vaporwave"
	Effect8D        = "8d"
)

func EffectNames() []string {
	return []string{EffectNightcore, EffectVaporwave, Effect8D}
}

func ValidEffect(name string) bool {
	switch name {
	case EffectNone, EffectNightcore, EffectVaporwave, Effect8D:
		return true
	}
	return false
}

// Params describes the transform applied to a decoded stream. The zero
// value plus Volume=DefaultVolume is a pass-through.
type Params struct {
	Effect  string
	Bass    int // dB
	Treble  int // dB
	Volume  int // percent, 0..MaxVolume
	Karaoke bool
}

func DefaultParams() Params { return Params{Volume: DefaultVolume} }

func (p Params) Default() bool {
	return p.Effect == EffectNone && p.Bass == 0 && p.Treble == 0 &&
		p.Volume == DefaultVolume && !p.Karaoke
}

// FilterChain renders the ffmpeg -af argument. Empty string means no filter
// is needed.
func (p Params) FilterChain() string {
	var filters []string

	switch p.Effect {
	case EffectNightcore:
		filters = append(filters, "asetrate=48000*1.25", "aresample=48000")
	case EffectVaporwave:
		filters = append(filters, "asetrate=48000*0.8", "aresample=48000")
	case Effect8D:
		filters = append(filters, "apulsator=hz=0.09")
	}
	if p.Karaoke {
		// Center-channel cancellation.
		filters = append(filters, "pan=stereo|c0=c0-c1|c1=c1-c0")
	}
	if p.Bass != 0 {
		filters = append(filters, fmt.Sprintf("bass=g=%d", p.Bass))
	}
	if p.Treble != 0 {
		filters = append(filters, fmt.Sprintf("treble=g=%d", p.Treble))
	}
	if p.Volume != DefaultVolume {
		filters = append(filters, fmt.Sprintf("volume=%.2f", float64(p.Volume)/100))
	}

	return strings.Join(filters, ",")
}
