package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hikarunoir/aria/internal/queue"
)

func TestDestroyIsTerminal(t *testing.T) {
	h := newHarness(testConfig())
	h.s.Destroy()

	require.True(t, h.s.Destroyed())
	assert.ErrorIs(t, h.s.Connect(context.Background(), "voice-1"), ErrSessionDestroyed)
	_, err := h.s.AddTrack(context.Background(), "song", "user", false)
	assert.ErrorIs(t, err, ErrSessionDestroyed)
	assert.ErrorIs(t, h.s.Play(context.Background()), ErrSessionDestroyed)
	assert.ErrorIs(t, h.s.Pause(), ErrSessionDestroyed)
	assert.ErrorIs(t, h.s.Skip(context.Background()), ErrSessionDestroyed)
	assert.ErrorIs(t, h.s.Previous(context.Background()), ErrSessionDestroyed)
	assert.ErrorIs(t, h.s.SetVolume(context.Background(), 50), ErrSessionDestroyed)
	assert.ErrorIs(t, h.s.Shuffle(), ErrSessionDestroyed)

	// A second destroy is a no-op, not a panic or a double teardown.
	h.s.Destroy()
	assert.True(t, h.s.Snapshot().Destroyed)
}

func TestDestroyDuringTrackSwapStaysTerminal(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "first", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	// Hold the old pipeline's teardown open so the swap parks in its
	// wait-for-old-sender window.
	release := h.streams.last().blockClose()

	next := queue.Track{
		ID:          queue.NewTrackID(),
		Title:       "second",
		PlayableRef: "https://media.example/second",
	}
	errCh := make(chan error, 1)
	go func() { errCh <- h.s.startPlayback(context.Background(), next, 0, true) }()
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 2 }))
	time.Sleep(20 * time.Millisecond)

	h.s.Destroy()
	release()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionDestroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("track swap never returned")
	}

	// No field of a destroyed session moves after teardown.
	snap := h.s.Snapshot()
	assert.True(t, snap.Destroyed)
	assert.Nil(t, snap.Current)
	assert.False(t, snap.Playing)
	assert.Zero(t, snap.QueueLen)
}

func TestNaturalAdvanceOrdering(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "trackA", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	_, err = h.s.AddTrack(context.Background(), "trackB", "user", false)
	require.NoError(t, err)
	_, err = h.s.AddTrack(context.Background(), "trackC", "user", false)
	require.NoError(t, err)

	h.streams.last().finish(1)
	require.True(t, waitUntil(2*time.Second, func() bool { return h.streams.openCount() == 2 }))
	h.streams.last().finish(1)
	require.True(t, waitUntil(2*time.Second, func() bool { return h.streams.openCount() == 3 }))
	h.streams.last().finish(1)

	require.True(t, waitUntil(2*time.Second, func() bool {
		snap := h.s.Snapshot()
		return !snap.Playing && snap.Current == nil
	}))

	assert.Equal(t, []string{
		"https://media.example/trackA",
		"https://media.example/trackB",
		"https://media.example/trackC",
	}, h.streams.refs)

	snap := h.s.Snapshot()
	assert.Zero(t, snap.QueueLen)
	assert.Equal(t, 3, snap.HistoryLen)
	assert.False(t, snap.Destroyed)
}

func TestSkipAdvances(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "one", "user", false)
	require.NoError(t, err)
	_, err = h.s.AddTrack(context.Background(), "two", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	require.NoError(t, h.s.Skip(context.Background()))
	require.True(t, waitUntil(2*time.Second, func() bool { return h.streams.openCount() == 2 }))

	snap := h.s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "two", snap.Current.Title)
	assert.Equal(t, 1, snap.HistoryLen)
}

func TestLoopTrackReplays(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "looped", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))
	require.NoError(t, h.s.SetLoop(LoopTrack))

	h.streams.last().finish(1)
	require.True(t, waitUntil(2*time.Second, func() bool { return h.streams.openCount() == 2 }))

	// Replays never touch history.
	snap := h.s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "looped", snap.Current.Title)
	assert.Zero(t, snap.HistoryLen)

	require.NoError(t, h.s.SetLoop(LoopOff))
	h.streams.last().finish(1)
	require.True(t, waitUntil(2*time.Second, func() bool {
		return !h.s.Snapshot().Playing
	}))
	assert.Equal(t, 1, h.s.Snapshot().HistoryLen)
}

func TestLoopQueueRecyclesHistory(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)
	require.NoError(t, h.s.SetLoop(LoopQueue))

	_, err := h.s.AddTrack(context.Background(), "alpha", "user", false)
	require.NoError(t, err)
	_, err = h.s.AddTrack(context.Background(), "beta", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	h.streams.last().finish(1)
	require.True(t, waitUntil(2*time.Second, func() bool { return h.streams.openCount() == 2 }))
	h.streams.last().finish(1)

	// Queue exhausted; history recycles and alpha comes back around.
	require.True(t, waitUntil(2*time.Second, func() bool { return h.streams.openCount() == 3 }))
	snap := h.s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "alpha", snap.Current.Title)
}

func TestPreviousRequeuesCurrent(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "first", "user", false)
	require.NoError(t, err)
	_, err = h.s.AddTrack(context.Background(), "second", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	h.streams.last().finish(1)
	require.True(t, waitUntil(2*time.Second, func() bool {
		snap := h.s.Snapshot()
		return snap.Current != nil && snap.Current.Title == "second"
	}))

	require.NoError(t, h.s.Previous(context.Background()))
	require.True(t, waitUntil(2*time.Second, func() bool {
		snap := h.s.Snapshot()
		return snap.Current != nil && snap.Current.Title == "first"
	}))

	snap := h.s.Snapshot()
	require.Equal(t, 1, snap.QueueLen)
	assert.Equal(t, "second", snap.Queue[0].Title)
}

func TestPreviousWithoutHistory(t *testing.T) {
	h := newHarness(testConfig())
	assert.ErrorIs(t, h.s.Previous(context.Background()), ErrNoPreviousTrack)
}

func TestPlayOnEmptyQueue(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)
	assert.ErrorIs(t, h.s.Play(context.Background()), ErrEmptyQueue)
}

func TestPauseResume(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "slow", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	require.NoError(t, h.s.Pause())
	snap := h.s.Snapshot()
	assert.True(t, snap.Paused)
	assert.False(t, snap.Playing)
	require.NotNil(t, snap.Current)

	require.NoError(t, h.s.Resume(context.Background()))
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 2 }))
	assert.True(t, h.s.Snapshot().Playing)

	h.streams.mu.Lock()
	resumeStart := h.streams.starts[1]
	h.streams.mu.Unlock()
	assert.Equal(t, snap.PositionSec, resumeStart)
}

func TestVolumeClampsAndRestartsPipeline(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "loud", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	require.NoError(t, h.s.SetVolume(context.Background(), 500))
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 2 }))

	h.streams.mu.Lock()
	fx := h.streams.fx[1]
	start := h.streams.starts[1]
	h.streams.mu.Unlock()

	assert.Equal(t, 200, fx.Volume)
	// Effect changes always restart from the top of the track.
	assert.Zero(t, start)
	assert.Equal(t, 200, h.s.Snapshot().Volume)
}

func TestEffectChangeWhileIdleOnlyUpdatesState(t *testing.T) {
	h := newHarness(testConfig())
	require.NoError(t, h.s.SetEffect(context.Background(), "nightcore"))
	assert.Equal(t, "nightcore", h.s.Snapshot().Effect)
	assert.Zero(t, h.streams.openCount())

	assert.Error(t, h.s.SetEffect(context.Background(), "reverb9000"))
}

func TestAutoplayRecommendsAfterQueueEmpty(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	h.rec.next = []queue.Track{{
		ID:          queue.NewTrackID(),
		Title:       "recommended",
		Source:      queue.SourceYouTube,
		CatalogID:   "rec1",
		PlayableRef: "https://media.example/rec1",
	}}

	_, err := h.s.AddTrack(context.Background(), "seed", "user", false)
	require.NoError(t, err)
	_, toggleErr := h.s.ToggleAutoplay()
	require.NoError(t, toggleErr)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	h.streams.last().finish(1)
	require.True(t, waitUntil(2*time.Second, func() bool { return h.streams.openCount() == 2 }))

	snap := h.s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "recommended", snap.Current.Title)
}

func TestMoveOutOfRangeLeavesQueueIntact(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	for _, q := range []string{"a", "b", "c", "d"} {
		_, err := h.s.AddTrack(context.Background(), q, "user", false)
		require.NoError(t, err)
	}
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	before := h.s.Snapshot().Queue
	require.Len(t, before, 3)

	err := h.s.MoveAt(0, 5)
	require.ErrorIs(t, err, queue.ErrIndexOutOfRange)

	after := h.s.Snapshot().Queue
	require.Len(t, after, 3)
	for i := range before {
		assert.Equal(t, before[i].Title, after[i].Title)
	}
}

func TestIdleReaperDestroysSession(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	h := newHarness(cfg)

	require.True(t, waitUntil(time.Second, h.s.Destroyed))
}

func TestIdleReaperSparesActivePlayback(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 40 * time.Millisecond
	h := newHarness(cfg)
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "keepalive", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.streams.openCount() == 1 }))

	time.Sleep(120 * time.Millisecond)
	assert.False(t, h.s.Destroyed())
}

func TestIdleReaperRearmsWhenNotReapable(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = time.Hour
	h := newHarness(cfg)
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "held", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool { return h.s.Snapshot().Playing }))
	require.NoError(t, h.s.Pause())

	// A fired AfterFunc is spent; drop it as the runtime would, then run
	// the expiry by hand.
	h.s.mu.Lock()
	h.s.idleTimer.Stop()
	h.s.idleTimer = nil
	h.s.mu.Unlock()

	// Expiry on a paused session must not reap it, and must leave the
	// timer armed for the next check rather than dropping it.
	h.s.idleExpired()

	assert.False(t, h.s.Destroyed())
	h.s.mu.Lock()
	armed := h.s.idleTimer != nil
	h.s.mu.Unlock()
	assert.True(t, armed)
}

func TestParseLoopMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want LoopMode
	}{
		{"off", LoopOff},
		{"track", LoopTrack},
		{"queue", LoopQueue},
	} {
		got, err := ParseLoopMode(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ParseLoopMode("bogus")
	assert.ErrorIs(t, err, ErrInvalidLoopMode)
}

func TestNotifierFallsBackWhenViewLost(t *testing.T) {
	h := newHarness(testConfig())
	h.connect(t)

	_, err := h.s.AddTrack(context.Background(), "msg", "user", false)
	require.NoError(t, err)
	require.True(t, waitUntil(time.Second, func() bool {
		h.notifier.mu.Lock()
		defer h.notifier.mu.Unlock()
		return len(h.notifier.sends) == 1
	}))

	h.notifier.mu.Lock()
	h.notifier.lostView = true
	h.notifier.mu.Unlock()

	require.NoError(t, h.s.SetLoop(LoopQueue))

	h.notifier.mu.Lock()
	sends := len(h.notifier.sends)
	h.notifier.mu.Unlock()
	assert.Equal(t, 2, sends)
}
