package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/hikarunoir/aria/internal/queue"
)

// advance moves the session to its next track. Selection order: replay the
// current track under loop-track, then the queue head, then a queue-loop
// recycle of history, then an autoplay recommendation. When all of those
// come up empty the session goes idle and the reaper timer is armed.
func (s *Session) advance(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.life != LifeActive {
			s.mu.Unlock()
			return
		}

		var (
			next      queue.Track
			have      bool
			replay    bool
			recommend bool
		)

		switch {
		case s.loop == LoopTrack && s.current != nil:
			next, have, replay = *s.current, true, true
		default:
			if t, ok := s.q.Shift(); ok {
				next, have = t, true
				break
			}
			if s.loop == LoopQueue && s.q.HistoryLen() > 0 {
				if s.current != nil {
					s.q.PushHistory(*s.current)
					s.current = nil
				}
				s.q.RecycleFromHistory()
				if t, ok := s.q.Shift(); ok {
					next, have = t, true
				}
				break
			}
			if s.autoplay && s.current != nil {
				recommend = true
			}
		}

		if !have && recommend {
			cur := *s.current
			recent := s.q.HistorySnapshot()
			s.mu.Unlock()

			t, err := s.deps.Recommender.Recommend(ctx, cur, recent)
			if err != nil {
				slog.Warn("autoplay recommendation failed", "key", s.key, "err", err)
				s.goIdle()
				return
			}
			next, have = t, true

			s.mu.Lock()
			if s.life != LifeActive {
				s.mu.Unlock()
				return
			}
		}

		if !have {
			s.mu.Unlock()
			s.goIdle()
			return
		}
		s.mu.Unlock()

		// Lazy entries carry no playable reference until now.
		if !next.Resolved() {
			resolved, err := s.deps.Resolver.ResolvePlayable(ctx, next)
			if err != nil {
				slog.Warn("track unresolvable, skipping", "key", s.key, "title", next.Title, "err", err)
				continue
			}
			next = resolved
		}

		if err := s.startPlayback(ctx, next, 0, !replay); err != nil {
			if errors.Is(err, ErrSessionDestroyed) {
				return
			}
			slog.Warn("playback start failed, skipping", "key", s.key, "title", next.Title, "err", err)
			continue
		}
		s.notify()
		return
	}
}

// goIdle parks the session with an empty pipeline and rearms the reaper.
func (s *Session) goIdle() {
	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		return
	}
	if s.current != nil {
		s.q.PushHistory(*s.current)
		s.current = nil
	}
	s.status = StatusIdle
	s.positionSec = 0
	s.scheduleIdleLocked()
	link := s.conn.Link()
	s.mu.Unlock()

	if link != nil {
		_ = link.Speaking(false)
	}
	s.notify()
}

// startPlayback opens the decode pipeline for t at startSec, commits it as
// the current play session, and launches the sender. pushPrev records the
// previous current track in history (false for replays and resumes).
func (s *Session) startPlayback(ctx context.Context, t queue.Track, startSec int, pushPrev bool) error {
	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		return ErrSessionDestroyed
	}
	fx := s.fxLocked()
	s.mu.Unlock()

	// Playback must outlive the command interaction that triggered it.
	playCtx, cancel := context.WithCancel(context.Background())

	st, err := s.deps.Streams.Open(playCtx, t.PlayableRef, startSec, fx)
	if err != nil {
		cancel()
		return err
	}
	enc, err := s.deps.NewEncoder()
	if err != nil {
		st.Close()
		cancel()
		return err
	}

	sess := &playSession{
		ctx:    playCtx,
		cancel: cancel,
		stream: st,
		enc:    enc,
		track:  t,
		doneCh: make(chan struct{}),
	}

	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		st.Close()
		enc.Close()
		cancel()
		return ErrSessionDestroyed
	}
	s.stopPlayLocked()
	// stopPlayLocked drops the mutex while draining the old sender, so a
	// concurrent Destroy may have finished in the meantime.
	if s.life != LifeActive {
		s.mu.Unlock()
		st.Close()
		enc.Close()
		cancel()
		return ErrSessionDestroyed
	}
	if pushPrev && s.current != nil && s.current.ID != t.ID {
		s.q.PushHistory(*s.current)
	}
	cur := t
	s.current = &cur
	s.status = StatusPlaying
	s.positionSec = startSec
	s.play = sess
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	link := s.conn.Link()
	s.mu.Unlock()

	if link == nil {
		s.mu.Lock()
		if s.play == sess {
			s.play = nil
			s.status = StatusIdle
		}
		s.mu.Unlock()
		st.Close()
		enc.Close()
		cancel()
		return ErrNotConnected
	}

	go s.sendLoop(sess, link)

	if s.deps.Recorder != nil {
		go func() {
			rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rcancel()
			if err := s.deps.Recorder.RecordPlay(rctx, s.key, t); err != nil {
				slog.Warn("play record failed", "key", s.key, "err", err)
			}
		}()
	}
	return nil
}

// sendLoop pulls fixed-size PCM frames from the stream, encodes them to
// opus and paces them onto the voice link one frame per 20ms tick.
func (s *Session) sendLoop(sess *playSession, link VoiceLink) {
	defer func() {
		sess.stream.Close()
		sess.enc.Close()
		sess.cancel()
		close(sess.doneCh)
	}()

	if !waitFor(sess.ctx, 100*time.Millisecond, s.cfg.ReconnectGrace, link.Ready) {
		s.handlePlaybackEnd(sess)
		return
	}

	_ = link.Speaking(true)
	defer func() { _ = link.Speaking(false) }()

	reader := bufio.NewReaderSize(sess.stream.Reader(), 1<<17)
	frameBytes := sess.enc.FrameBytes()
	pcm := make([]byte, frameBytes)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	framesSent := 0
	for {
		if _, err := io.ReadFull(reader, pcm); err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF && sess.ctx.Err() == nil {
				slog.Warn("stream read failed", "key", s.key, "err", err)
			}
			break
		}

		var pkt []byte
		err := sess.enc.Encode(pcm, func(b []byte) error {
			pkt = append(pkt[:0], b...)
			return nil
		})
		if err != nil {
			slog.Warn("opus encode failed", "key", s.key, "err", err)
			break
		}
		if len(pkt) == 0 {
			continue
		}

		select {
		case <-sess.ctx.Done():
			return
		case <-ticker.C:
		}

		select {
		case <-sess.ctx.Done():
			return
		case link.OpusSend() <- pkt:
		case <-time.After(200 * time.Millisecond):
			// Link stalled; drop the frame and let the watcher decide.
		}

		framesSent++
		if framesSent%50 == 0 {
			s.mu.Lock()
			if s.play == sess {
				s.positionSec++
			}
			s.mu.Unlock()
		}
	}

	s.handlePlaybackEnd(sess)
}

// handlePlaybackEnd advances after a natural end of stream. A cancelled
// pipeline has already been detached from the session and is ignored.
func (s *Session) handlePlaybackEnd(sess *playSession) {
	s.mu.Lock()
	if s.play != sess || s.life != LifeActive {
		s.mu.Unlock()
		return
	}
	s.play = nil
	s.status = StatusIdle
	s.positionSec = 0
	s.mu.Unlock()

	s.advance(context.Background())
}
