// Package stream turns a playable reference into raw PCM and Opus packets.
// Decoding runs in an ffmpeg child process emitting s16le 48k stereo; the
// effect chain rides along as an -af filter graph, so any change of effect
// parameters means a fresh process.
package stream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
)

const (
	SampleRate    = 48000
	Channels      = 2
	FrameSamples  = 960 // 20 ms at 48 kHz
	FrameDuration = 20  // ms
)

// FrameBytes is the size of one 20 ms interleaved s16le frame.
const FrameBytes = FrameSamples * Channels * 2

// PCMStream is a live decode pipeline. Reader yields raw PCM until the
// source ends or Close kills the process.
type PCMStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
}

// Provider opens PCM streams for resolved tracks.
type Provider struct{}

func NewProvider() *Provider { return &Provider{} }

// Open starts ffmpeg for inputURL. startSec seeks before the input (fast
// keyframe seek); fx appends the effect filter chain.
func (p *Provider) Open(ctx context.Context, inputURL string, startSec int, fx Params) (*PCMStream, error) {
	ctx2, cancel := context.WithCancel(ctx)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
	}
	if startSec > 0 {
		args = append(args, "-ss", fmt.Sprint(startSec))
	}
	args = append(args, "-i", inputURL)
	args = append(args,
		"-vn",
		"-ac", fmt.Sprint(Channels),
		"-ar", fmt.Sprint(SampleRate),
	)
	if chain := fx.FilterChain(); chain != "" {
		args = append(args, "-af", chain)
	}
	args = append(args, "-f", "s16le", "pipe:1")

	cmd := exec.CommandContext(ctx2, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg start: %w (stderr: %s)", err, stderr.String())
	}

	return &PCMStream{cmd: cmd, stdout: stdout, stderr: stderr, cancel: cancel}, nil
}

func (s *PCMStream) Reader() io.Reader { return s.stdout }

func (s *PCMStream) Close() {
	s.cancel()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}
