package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/hikarunoir/aria/internal/queue"
	"github.com/hikarunoir/aria/internal/resolver"
	"github.com/hikarunoir/aria/internal/stream"
	"github.com/hikarunoir/aria/internal/view"
)

// fakeResolver produces deterministic tracks keyed by query text.
type fakeResolver struct {
	mu       sync.Mutex
	failRefs map[string]error
	resolved []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{failRefs: make(map[string]error)}
}

func (f *fakeResolver) Resolve(_ context.Context, query, requester string) (queue.Track, error) {
	if err, ok := f.failRefs[query]; ok {
		return queue.Track{}, err
	}
	return queue.Track{
		ID:          queue.NewTrackID(),
		Title:       query,
		Source:      queue.SourceYouTube,
		CatalogID:   query,
		PlayableRef: "https://media.example/" + query,
		RequestedBy: requester,
		AddedAt:     time.Now(),
	}, nil
}

func (f *fakeResolver) ResolvePlaylist(_ context.Context, ref, requester string) (resolver.Playlist, error) {
	if err, ok := f.failRefs[ref]; ok {
		return resolver.Playlist{}, err
	}
	items := make([]queue.Track, 0, 12)
	for i := 0; i < 12; i++ {
		items = append(items, queue.Track{
			ID:          queue.NewTrackID(),
			Title:       fmt.Sprintf("%s-%02d", ref, i),
			Source:      queue.SourceSpotify,
			CatalogID:   fmt.Sprintf("%s-%02d", ref, i),
			RequestedBy: requester,
			AddedAt:     time.Now(),
		})
	}
	return resolver.Playlist{Name: ref, Ref: ref, Items: items}, nil
}

func (f *fakeResolver) ResolvePlayable(_ context.Context, t queue.Track) (queue.Track, error) {
	if err, ok := f.failRefs[t.CatalogID]; ok {
		return queue.Track{}, err
	}
	f.mu.Lock()
	f.resolved = append(f.resolved, t.CatalogID)
	f.mu.Unlock()
	t.PlayableRef = "https://media.example/" + t.CatalogID
	return t, nil
}

func (f *fakeResolver) failOn(ref string, err error) {
	f.failRefs[ref] = err
}

type fakeRecommender struct {
	mu    sync.Mutex
	next  []queue.Track
	calls int
	err   error
}

func (f *fakeRecommender) Recommend(_ context.Context, _ queue.Track, _ []queue.Track) (queue.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return queue.Track{}, f.err
	}
	if len(f.next) == 0 {
		return queue.Track{}, resolver.ErrNotFound
	}
	t := f.next[0]
	f.next = f.next[1:]
	return t, nil
}

// fakeStream blocks reads until finish or Close, simulating a live ffmpeg
// pipe. finish() makes the reader return a few frames then EOF.
type fakeStream struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	closeOnce sync.Once
	closeGate chan struct{}
}

func newFakeStream() *fakeStream {
	pr, pw := io.Pipe()
	return &fakeStream{pr: pr, pw: pw}
}

func (f *fakeStream) Reader() io.Reader { return f.pr }

func (f *fakeStream) Close() {
	f.closeOnce.Do(func() {
		if f.closeGate != nil {
			<-f.closeGate
		}
		f.pw.CloseWithError(io.EOF)
		f.pr.Close()
	})
}

// blockClose makes Close wait until the returned release func is called,
// holding the pipeline teardown window open. Install before any Close.
func (f *fakeStream) blockClose() (release func()) {
	gate := make(chan struct{})
	f.closeGate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// finish writes n full PCM frames and then closes the pipe so the send
// loop sees a natural end of stream.
func (f *fakeStream) finish(n int) {
	go func() {
		frame := make([]byte, stream.FrameBytes)
		for i := 0; i < n; i++ {
			if _, err := f.pw.Write(frame); err != nil {
				return
			}
		}
		f.pw.Close()
	}()
}

type fakeStreams struct {
	mu     sync.Mutex
	opened []*fakeStream
	refs   []string
	starts []int
	fx     []stream.Params
	err    error
}

func (f *fakeStreams) Open(ctx context.Context, ref string, startSec int, fx stream.Params) (AudioStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st := newFakeStream()
	// Mirror the real provider: a cancelled play context kills the
	// pipeline and unblocks any pending read.
	go func() {
		<-ctx.Done()
		st.Close()
	}()
	f.opened = append(f.opened, st)
	f.refs = append(f.refs, ref)
	f.starts = append(f.starts, startSec)
	f.fx = append(f.fx, fx)
	return st, nil
}

func (f *fakeStreams) last() *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

func (f *fakeStreams) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

// fakeEncoder passes PCM frames straight through as opus packets.
type fakeEncoder struct{}

func (fakeEncoder) FrameBytes() int { return stream.FrameBytes }

func (fakeEncoder) Encode(pcm []byte, emit func([]byte) error) error {
	return emit(pcm)
}

func (fakeEncoder) Close() {}

func newFakeEncoder() (OpusEncoder, error) { return fakeEncoder{}, nil }

type fakeNotifier struct {
	mu        sync.Mutex
	updates   []view.Snapshot
	sends     []view.Snapshot
	announced []string
	handleSeq int
	lostView  bool
}

func (f *fakeNotifier) Update(handle string, snap view.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lostView {
		return view.ErrViewNotFound
	}
	f.updates = append(f.updates, snap)
	return nil
}

func (f *fakeNotifier) Send(snap view.Snapshot) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lostView = false
	f.handleSeq++
	f.sends = append(f.sends, snap)
	return fmt.Sprintf("msg-%d", f.handleSeq), nil
}

func (f *fakeNotifier) Announce(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.announced = append(f.announced, text)
}

func (f *fakeNotifier) announcements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.announced))
	copy(out, f.announced)
	return out
}

// fakeLink is a controllable voice link with a drained opus sink.
type fakeLink struct {
	mu        sync.Mutex
	ready     bool
	resuming  bool
	speaking  []bool
	opus      chan []byte
	disc      int
	drainStop chan struct{}
}

func newFakeLink() *fakeLink {
	l := &fakeLink{
		ready:     true,
		opus:      make(chan []byte, 16),
		drainStop: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-l.drainStop:
				return
			case <-l.opus:
			}
		}
	}()
	return l
}

func (l *fakeLink) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

func (l *fakeLink) Resuming() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.resuming
}

func (l *fakeLink) setReady(v bool) {
	l.mu.Lock()
	l.ready = v
	l.mu.Unlock()
}

func (l *fakeLink) setResuming(v bool) {
	l.mu.Lock()
	l.resuming = v
	l.mu.Unlock()
}

func (l *fakeLink) Speaking(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.speaking = append(l.speaking, on)
	return nil
}

func (l *fakeLink) OpusSend() chan<- []byte { return l.opus }

func (l *fakeLink) Disconnect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disc++
	return nil
}

type fakeJoiner struct {
	mu    sync.Mutex
	links []*fakeLink
	err   error
	delay time.Duration
	// notReady makes new links start out not ready, never becoming ready
	notReady bool
}

func (j *fakeJoiner) Join(ctx context.Context, guildID, channelID string) (VoiceLink, error) {
	j.mu.Lock()
	err, delay, notReady := j.err, j.delay, j.notReady
	j.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	l := newFakeLink()
	if notReady {
		l.setReady(false)
	}
	j.mu.Lock()
	j.links = append(j.links, l)
	j.mu.Unlock()
	return l, nil
}

func (j *fakeJoiner) lastLink() *fakeLink {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.links) == 0 {
		return nil
	}
	return j.links[len(j.links)-1]
}

type fakeRecorder struct {
	mu     sync.Mutex
	played []queue.Track
}

func (f *fakeRecorder) RecordPlay(_ context.Context, _ string, t queue.Track) error {
	f.mu.Lock()
	f.played = append(f.played, t)
	f.mu.Unlock()
	return nil
}

// testConfig shrinks every cadence so tests run in milliseconds.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 0
	cfg.ConnectTimeout = 500 * time.Millisecond
	cfg.ReconnectGrace = 200 * time.Millisecond
	cfg.ReconnectReady = 200 * time.Millisecond
	cfg.BatchDelay = 5 * time.Millisecond
	cfg.StaggerDelay = time.Millisecond
	return cfg
}

// harness bundles a session with all of its fakes.
type harness struct {
	s        *Session
	resolver *fakeResolver
	rec      *fakeRecommender
	streams  *fakeStreams
	notifier *fakeNotifier
	joiner   *fakeJoiner
	recorder *fakeRecorder
}

func newHarness(cfg Config) *harness {
	h := &harness{
		resolver: newFakeResolver(),
		rec:      &fakeRecommender{},
		streams:  &fakeStreams{},
		notifier: &fakeNotifier{},
		joiner:   &fakeJoiner{},
		recorder: &fakeRecorder{},
	}
	h.s = New("guild-1", cfg, Deps{
		Resolver:    h.resolver,
		Recommender: h.rec,
		Streams:     h.streams,
		NewEncoder:  newFakeEncoder,
		Notifier:    h.notifier,
		Recorder:    h.recorder,
		Joiner:      h.joiner,
	})
	return h
}

// connect joins a fake voice channel so playback can start.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	if err := h.s.Connect(context.Background(), "voice-1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}
