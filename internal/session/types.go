package session

import (
	"context"
	"io"
	"time"

	"github.com/hikarunoir/aria/internal/queue"
	"github.com/hikarunoir/aria/internal/resolver"
	"github.com/hikarunoir/aria/internal/stream"
	"github.com/hikarunoir/aria/internal/view"
)

type Status int

const (
	StatusIdle Status = iota
	StatusPlaying
	StatusPaused
)

// Lifecycle is separate from playback status so illegal flag combinations
// are unrepresentable: an Active session may be idle, playing or paused;
// TearingDown and Destroyed sessions reject every operation.
type Lifecycle int

const (
	LifeActive Lifecycle = iota
	LifeTearingDown
	LifeDestroyed
)

type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopOff:
		return "off"
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	}
	return "unknown"
}

func ParseLoopMode(s string) (LoopMode, error) {
	switch s {
	case "off":
		return LoopOff, nil
	case "track":
		return LoopTrack, nil
	case "queue":
		return LoopQueue, nil
	}
	return LoopOff, ErrInvalidLoopMode
}

// Config carries per-session tuning. Tests shrink the delays; production
// wiring uses DefaultConfig adjusted from guild settings.
type Config struct {
	HistorySize   int
	IdleTimeout   time.Duration
	DefaultVolume int

	ConnectTimeout time.Duration // initial voice join
	ReconnectGrace time.Duration // drop until resumption must be observed
	ReconnectReady time.Duration // resumption until Ready

	BatchSize     int           // background resolver batch width
	BatchDelay    time.Duration // delay between batches
	StaggerDelay  time.Duration // per-item delay within a batch
	ProgressEvery int           // resolved tracks per lightweight re-render
	SummaryEvery  int           // resolved tracks per user-visible summary
}

func DefaultConfig() Config {
	return Config{
		HistorySize:    25,
		IdleTimeout:    5 * time.Minute,
		DefaultVolume:  stream.DefaultVolume,
		ConnectTimeout: 30 * time.Second,
		ReconnectGrace: 5 * time.Second,
		ReconnectReady: 20 * time.Second,
		BatchSize:      3,
		BatchDelay:     800 * time.Millisecond,
		StaggerDelay:   150 * time.Millisecond,
		ProgressEvery:  3,
		SummaryEvery:   15,
	}
}

// AudioStream is a live decode pipeline handed out by the stream provider.
type AudioStream interface {
	Reader() io.Reader
	Close()
}

// StreamProvider opens PCM pipelines for playable refs.
type StreamProvider interface {
	Open(ctx context.Context, playableRef string, startSec int, fx stream.Params) (AudioStream, error)
}

// OpusEncoder consumes fixed-size PCM frames and emits Opus packets.
type OpusEncoder interface {
	FrameBytes() int
	Encode(pcm []byte, emit func(pkt []byte) error) error
	Close()
}

type EncoderFactory func() (OpusEncoder, error)

// VoiceLink is the live transport connection owned by the ConnManager.
type VoiceLink interface {
	Ready() bool
	// Resuming reports whether the transport is re-establishing itself
	// after an unexpected drop.
	Resuming() bool
	Speaking(bool) error
	OpusSend() chan<- []byte
	Disconnect(ctx context.Context) error
}

type VoiceJoiner interface {
	Join(ctx context.Context, guildID, channelID string) (VoiceLink, error)
}

// PlayRecorder persists started tracks. Best-effort: failures are logged
// and never reach the playback path.
type PlayRecorder interface {
	RecordPlay(ctx context.Context, guildID string, t queue.Track) error
}

// Deps are the collaborators a session is constructed with.
type Deps struct {
	Resolver    resolver.Resolver
	Recommender resolver.Recommender
	Streams     StreamProvider
	NewEncoder  EncoderFactory
	Notifier    view.Notifier
	Recorder    PlayRecorder // optional
	Joiner      VoiceJoiner
}
