// Package session implements the playback orchestration core: one Session
// per guild owning a single voice connection, an ordered queue with bounded
// history, a background resolver, and an idle watchdog. All public
// operations on a Session are serialized by its mutex; the background
// resolver only appends to the queue and reads lifecycle state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hikarunoir/aria/internal/queue"
	"github.com/hikarunoir/aria/internal/resolver"
	"github.com/hikarunoir/aria/internal/stream"
	"github.com/hikarunoir/aria/internal/utils"
	"github.com/hikarunoir/aria/internal/view"
)

type Session struct {
	key  string
	cfg  Config
	deps Deps

	conn *ConnManager

	mu           sync.Mutex
	q            *queue.Queue
	current      *queue.Track
	status       Status
	life         Lifecycle
	loop         LoopMode
	autoplay     bool
	volume       int
	bass         int
	treble       int
	effect       string
	karaoke      bool
	positionSec  int
	lastActivity time.Time
	viewHandle   string
	idleTimer    *time.Timer
	play         *playSession
	progress     view.Progress

	bgActive atomic.Bool

	// installed by the registry; the registry is the only entry deleter
	onDestroyed func(key string)
}

// playSession is one in-flight decode/encode/send pipeline. Cancelling ctx
// stops the sender; doneCh closes once all resources are released.
type playSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream AudioStream
	enc    OpusEncoder
	track  queue.Track
	doneCh chan struct{}
}

func New(key string, cfg Config, deps Deps) *Session {
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	s := &Session{
		key:          key,
		cfg:          cfg,
		deps:         deps,
		q:            queue.New(cfg.HistorySize),
		volume:       cfg.DefaultVolume,
		lastActivity: time.Now(),
	}
	if s.volume <= 0 {
		s.volume = stream.DefaultVolume
	}
	s.conn = newConnManager(cfg, deps.Joiner, key, func(err error) {
		slog.Warn("connection failure, tearing down session", "key", key, "err", err)
		s.Destroy()
	})
	s.scheduleIdle()
	return s
}

func (s *Session) Key() string { return s.key }

// guardLocked rejects operations on a torn-down session and registers
// activity. Caller holds s.mu.
func (s *Session) guardLocked() error {
	if s.life != LifeActive {
		return ErrSessionDestroyed
	}
	s.touchLocked()
	return nil
}

func (s *Session) touchLocked() {
	s.lastActivity = time.Now()
	s.scheduleIdleLocked()
}

// Connect joins the voice channel for this session.
func (s *Session) Connect(ctx context.Context, channelID string) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	return s.conn.Connect(ctx, channelID)
}

func (s *Session) ConnState() ConnState { return s.conn.State() }

// AddTrack resolves query into one track and enqueues it (front-of-queue
// when front is set). If nothing is playing, playback starts immediately.
func (s *Session) AddTrack(ctx context.Context, query, requester string, front bool) (queue.Track, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return queue.Track{}, err
	}
	s.mu.Unlock()

	t, err := s.deps.Resolver.Resolve(ctx, query, requester)
	if err != nil {
		return queue.Track{}, err
	}

	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		return queue.Track{}, ErrSessionDestroyed
	}
	s.q.Push(t, front)
	shouldStart := s.status == StatusIdle
	s.mu.Unlock()

	if shouldStart {
		s.advance(ctx)
	} else {
		s.notify()
	}
	return t, nil
}

// AddPlaylist fetches a playlist summary, resolves and enqueues its first
// item right away, starts playback if idle, and hands the remaining stubs
// to the background resolver. Play first, resolve the rest.
func (s *Session) AddPlaylist(ctx context.Context, ref, requester string) (resolver.Playlist, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return resolver.Playlist{}, err
	}
	s.mu.Unlock()

	pl, err := s.deps.Resolver.ResolvePlaylist(ctx, ref, requester)
	if err != nil {
		return resolver.Playlist{}, err
	}
	if len(pl.Items) == 0 {
		return resolver.Playlist{}, resolver.ErrNotFound
	}

	first := pl.Items[0]
	if resolved, err := s.deps.Resolver.ResolvePlayable(ctx, first); err == nil {
		first = resolved
	} else {
		// Leave it lazy; the advance path retries and skips on failure.
		slog.Warn("first playlist item not resolvable yet", "key", s.key, "title", first.Title, "err", err)
	}

	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		return resolver.Playlist{}, ErrSessionDestroyed
	}
	s.q.Push(first, false)
	shouldStart := s.status == StatusIdle
	s.mu.Unlock()

	if shouldStart {
		s.advance(ctx)
	} else {
		s.notify()
	}

	if rest := pl.Items[1:]; len(rest) > 0 {
		s.StartBackgroundResolve(rest)
	}
	return pl, nil
}

// Play starts playback: resumes when paused, otherwise advances into the
// queue. Fails with ErrEmptyQueue when there is nothing to play.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	switch {
	case s.status == StatusPlaying:
		s.mu.Unlock()
		return nil
	case s.status == StatusPaused && s.current != nil:
		s.mu.Unlock()
		return s.Resume(ctx)
	case s.q.Len() == 0:
		s.mu.Unlock()
		return ErrEmptyQueue
	}
	s.mu.Unlock()
	s.advance(ctx)
	return nil
}

func (s *Session) Pause() error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.status != StatusPlaying {
		s.mu.Unlock()
		return fmt.Errorf("nothing is playing")
	}
	s.stopPlayLocked()
	s.status = StatusPaused
	link := s.conn.Link()
	s.mu.Unlock()

	if link != nil {
		_ = link.Speaking(false)
	}
	s.notify()
	return nil
}

// Resume restarts the paused track at its recorded position.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.status == StatusPlaying {
		s.mu.Unlock()
		return fmt.Errorf("already playing")
	}
	if s.current == nil {
		s.mu.Unlock()
		return ErrEmptyQueue
	}
	t := *s.current
	pos := s.positionSec
	s.mu.Unlock()

	if err := s.startPlayback(ctx, t, pos, false); err != nil {
		return err
	}
	s.notify()
	return nil
}

// Skip disposes the in-flight stream synchronously, then advances.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.stopPlayLocked()
	s.mu.Unlock()

	s.advance(ctx)
	return nil
}

// Previous re-queues the most recent history entry ahead of the current
// track and advances into it.
func (s *Session) Previous(ctx context.Context) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	prev, ok := s.q.PopHistory()
	if !ok {
		s.mu.Unlock()
		return ErrNoPreviousTrack
	}
	s.stopPlayLocked()
	if s.current != nil {
		s.q.Push(*s.current, true)
	}
	s.q.Push(prev, true)
	// Clear current so the advance does not double-record it in history.
	s.current = nil
	s.positionSec = 0
	s.mu.Unlock()

	s.advance(ctx)
	return nil
}

func (s *Session) SetVolume(ctx context.Context, v int) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.volume = utils.Clamp(v, 0, stream.MaxVolume)
	s.mu.Unlock()
	return s.rebuildPipeline(ctx)
}

func (s *Session) SetLoop(mode LoopMode) error {
	if mode != LoopOff && mode != LoopTrack && mode != LoopQueue {
		return ErrInvalidLoopMode
	}
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.loop = mode
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) ToggleAutoplay() (bool, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.autoplay = !s.autoplay
	v := s.autoplay
	s.mu.Unlock()
	s.notify()
	return v, nil
}

func (s *Session) ToggleKaraoke(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.karaoke = !s.karaoke
	v := s.karaoke
	s.mu.Unlock()
	return v, s.rebuildPipeline(ctx)
}

func (s *Session) SetEffect(ctx context.Context, name string) error {
	if !stream.ValidEffect(name) {
		return fmt.Errorf("unknown effect %q", name)
	}
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.effect = name
	s.mu.Unlock()
	return s.rebuildPipeline(ctx)
}

func (s *Session) SetBass(ctx context.Context, n int) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.bass = utils.Clamp(n, -stream.MaxToneGain, stream.MaxToneGain)
	s.mu.Unlock()
	return s.rebuildPipeline(ctx)
}

func (s *Session) SetTreble(ctx context.Context, n int) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.treble = utils.Clamp(n, -stream.MaxToneGain, stream.MaxToneGain)
	s.mu.Unlock()
	return s.rebuildPipeline(ctx)
}

func (s *Session) Shuffle() error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.q.Shuffle()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) Clear() error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.q.Clear()
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Session) RemoveAt(i int) (queue.Track, error) {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return queue.Track{}, err
	}
	t, err := s.q.RemoveAt(i)
	s.mu.Unlock()
	if err != nil {
		return queue.Track{}, err
	}
	s.notify()
	return t, nil
}

func (s *Session) MoveAt(from, to int) error {
	s.mu.Lock()
	if err := s.guardLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	err := s.q.MoveAt(from, to)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// rebuildPipeline restarts the current track from the beginning so changed
// effect parameters take hold. Deliberately no seek: the pipeline is a
// one-way ffmpeg process.
func (s *Session) rebuildPipeline(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusPlaying || s.current == nil {
		s.mu.Unlock()
		s.notify()
		return nil
	}
	t := *s.current
	s.stopPlayLocked()
	s.mu.Unlock()

	if err := s.startPlayback(ctx, t, 0, false); err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *Session) fxLocked() stream.Params {
	return stream.Params{
		Effect:  s.effect,
		Bass:    s.bass,
		Treble:  s.treble,
		Volume:  s.volume,
		Karaoke: s.karaoke,
	}
}

// Destroy runs safe teardown. Idempotent: concurrent triggers (explicit
// stop, idle expiry, connection failure) all collapse into one pass.
func (s *Session) Destroy() {
	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		return
	}
	s.life = LifeTearingDown
	s.stopPlayLocked()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.current = nil
	s.status = StatusIdle
	s.positionSec = 0
	s.q.Clear()
	s.q.ClearHistory()
	s.mu.Unlock()

	s.conn.Destroy()

	s.mu.Lock()
	s.life = LifeDestroyed
	s.mu.Unlock()

	slog.Info("session destroyed", "key", s.key)
	s.notify()
	if s.onDestroyed != nil {
		s.onDestroyed(s.key)
	}
}

func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.life != LifeActive
}

// scheduleIdle (re)arms the idle reaper timer.
func (s *Session) scheduleIdle() {
	s.mu.Lock()
	s.scheduleIdleLocked()
	s.mu.Unlock()
}

func (s *Session) scheduleIdleLocked() {
	if s.life != LifeActive || s.cfg.IdleTimeout <= 0 {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.cfg.IdleTimeout, s.idleExpired)
}

func (s *Session) idleExpired() {
	s.mu.Lock()
	if s.life != LifeActive {
		s.mu.Unlock()
		return
	}
	reap := s.status != StatusPlaying && s.current == nil && s.q.Len() == 0
	if !reap {
		// Not reapable yet (playing or paused); keep watching.
		s.scheduleIdleLocked()
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	slog.Info("idle timeout, reaping session", "key", s.key)
	s.Destroy()
}

// stopPlayLocked cancels the in-flight pipeline and waits briefly for the
// sender to exit, releasing the mutex while waiting. Caller holds s.mu.
func (s *Session) stopPlayLocked() {
	if s.play == nil {
		return
	}
	sess := s.play
	s.play = nil
	sess.cancel()

	done := sess.doneCh
	s.mu.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	s.mu.Lock()
}

// Snapshot copies the observable state for rendering and for tests.
func (s *Session) Snapshot() view.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := view.Snapshot{
		Key:         s.key,
		Playing:     s.status == StatusPlaying,
		Paused:      s.status == StatusPaused,
		Destroyed:   s.life != LifeActive,
		Queue:       s.q.Snapshot(),
		QueueLen:    s.q.Len(),
		HistoryLen:  s.q.HistoryLen(),
		LoopMode:    s.loop.String(),
		Autoplay:    s.autoplay,
		Volume:      s.volume,
		Effect:      s.effect,
		Bass:        s.bass,
		Treble:      s.treble,
		Karaoke:     s.karaoke,
		PositionSec: s.positionSec,
		Resolving:   s.bgActive.Load(),
		Progress:    s.progress,
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// notify pushes the latest snapshot to the view, updating the existing
// message and falling back to a fresh one when it is gone.
func (s *Session) notify() {
	if s.deps.Notifier == nil {
		return
	}
	snap := s.Snapshot()

	s.mu.Lock()
	handle := s.viewHandle
	s.mu.Unlock()

	if handle != "" {
		err := s.deps.Notifier.Update(handle, snap)
		if err == nil {
			return
		}
		if !errors.Is(err, view.ErrViewNotFound) {
			slog.Warn("view update failed", "key", s.key, "err", err)
			return
		}
	}

	newHandle, err := s.deps.Notifier.Send(snap)
	if err != nil {
		slog.Warn("view send failed", "key", s.key, "err", err)
		return
	}
	s.mu.Lock()
	s.viewHandle = newHandle
	s.mu.Unlock()
}
