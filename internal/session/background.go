package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hikarunoir/aria/internal/queue"
	"github.com/hikarunoir/aria/internal/view"
)

// StartBackgroundResolve resolves the given lazy tracks off the caller's
// path and appends each one to the queue as soon as it is playable. Only
// one background run may be active per session; a second call while one is
// in flight is a silent no-op and returns false.
func (s *Session) StartBackgroundResolve(items []queue.Track) bool {
	if len(items) == 0 {
		return false
	}
	if !s.bgActive.CompareAndSwap(false, true) {
		return false
	}

	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		s.bgActive.Store(false)
		return false
	}
	s.progress = viewProgress(0, len(items), 0)
	s.mu.Unlock()

	go s.runBackgroundResolve(items)
	return true
}

func (s *Session) runBackgroundResolve(items []queue.Track) {
	defer s.bgActive.Store(false)

	total := len(items)
	var mu sync.Mutex
	resolved := 0
	failed := 0

	for start := 0; start < total; start += s.cfg.BatchSize {
		if s.Destroyed() {
			slog.Info("background resolve aborted", "key", s.key, "processed", resolved+failed, "total", total)
			return
		}
		if start > 0 {
			time.Sleep(s.cfg.BatchDelay)
		}

		end := start + s.cfg.BatchSize
		if end > total {
			end = total
		}

		// Each track goes onto the queue the moment it resolves, so playback
		// can pick it up without waiting for the rest of the batch. The
		// stagger keeps completions roughly in playlist order.
		var wg sync.WaitGroup
		for i, item := range items[start:end] {
			wg.Add(1)
			go func(i int, item queue.Track) {
				defer wg.Done()
				time.Sleep(time.Duration(i) * s.cfg.StaggerDelay)

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				t, err := s.deps.Resolver.ResolvePlayable(ctx, item)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					slog.Warn("background resolve failed", "key", s.key, "title", item.Title, "err", err)
					failed++
					s.bumpProgress(total, resolved, failed, false)
					return
				}
				if !s.appendResolved(t) {
					return
				}
				resolved++
				s.bumpProgress(total, resolved, failed, resolved%s.cfg.ProgressEvery == 0)
				if resolved%s.cfg.SummaryEvery == 0 && s.deps.Notifier != nil {
					s.deps.Notifier.Announce(fmt.Sprintf("Added %d of %d tracks so far", resolved, total))
				}
			}(i, item)
		}
		wg.Wait()
	}

	s.bumpProgress(total, resolved, failed, resolved > 0)
	if resolved > 0 && s.deps.Notifier != nil {
		msg := fmt.Sprintf("Finished adding %d tracks", resolved)
		if failed > 0 {
			msg = fmt.Sprintf("Finished adding %d tracks (%d failed)", resolved, failed)
		}
		s.deps.Notifier.Announce(msg)
	}
}

// appendResolved pushes one resolved track onto the queue, refusing once
// teardown has begun. Returns false when the run should stop.
func (s *Session) appendResolved(t queue.Track) bool {
	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		return false
	}
	s.q.Push(t, false)
	s.mu.Unlock()
	return true
}

// bumpProgress updates the resolve counters and optionally refreshes the
// view at milestone boundaries.
func (s *Session) bumpProgress(total, resolved, failed int, milestone bool) {
	s.mu.Lock()
	s.progress = viewProgress(resolved+failed, total, failed)
	s.mu.Unlock()
	if milestone {
		s.notify()
	}
}

func viewProgress(processed, total, failed int) view.Progress {
	return view.Progress{Processed: processed, Total: total, Failed: failed}
}
