package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type ConnState int

const (
	ConnIdle ConnState = iota
	ConnConnecting
	ConnReady
	ConnDisconnected
	ConnDestroyed
)

func (s ConnState) String() string {
	switch s {
	case ConnIdle:
		return "idle"
	case ConnConnecting:
		return "connecting"
	case ConnReady:
		return "ready"
	case ConnDisconnected:
		return "disconnected"
	case ConnDestroyed:
		return "destroyed"
	}
	return "unknown"
}

// ConnManager owns the single voice link of a session. It reuses a ready
// link for the same target, re-establishes for a new target, and watches
// for unexpected drops: a drop gets ReconnectGrace to start resuming and
// ReconnectReady to become ready again, after which the link is declared
// unrecoverable and the owning session is told to tear down.
type ConnManager struct {
	cfg     Config
	joiner  VoiceJoiner
	guildID string

	mu          sync.Mutex
	link        VoiceLink
	channelID   string
	state       ConnState
	watchCancel context.CancelFunc

	fatalOnce sync.Once
	onFatal   func(err error)
}

func newConnManager(cfg Config, joiner VoiceJoiner, guildID string, onFatal func(error)) *ConnManager {
	return &ConnManager{cfg: cfg, joiner: joiner, guildID: guildID, onFatal: onFatal}
}

// Connect joins channelID, blocking until the link is ready or the connect
// window expires. A ready link to the same channel is reused.
func (m *ConnManager) Connect(ctx context.Context, channelID string) error {
	m.mu.Lock()
	if m.state == ConnDestroyed {
		m.mu.Unlock()
		return ErrSessionDestroyed
	}
	if m.state == ConnReady && m.channelID == channelID && m.link != nil && m.link.Ready() {
		m.mu.Unlock()
		return nil
	}
	old := m.link
	oldCancel := m.watchCancel
	m.link = nil
	m.watchCancel = nil
	m.state = ConnConnecting
	m.channelID = channelID
	m.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if old != nil {
		releaseLink(old)
	}

	jctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	link, err := m.joiner.Join(jctx, m.guildID, channelID)
	if err != nil {
		m.setState(ConnDisconnected)
		if jctx.Err() != nil {
			// The connect window is the bounded retry budget; exhausting
			// it tears the session down like any unrecoverable drop.
			m.fatal(ErrConnectionTimeout)
			return ErrConnectionTimeout
		}
		return err
	}
	if !waitFor(jctx, 100*time.Millisecond, m.cfg.ConnectTimeout, link.Ready) {
		releaseLink(link)
		m.setState(ConnDisconnected)
		m.fatal(ErrConnectionTimeout)
		return ErrConnectionTimeout
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.state == ConnDestroyed {
		m.mu.Unlock()
		watchCancel()
		releaseLink(link)
		return ErrSessionDestroyed
	}
	m.link = link
	m.state = ConnReady
	m.watchCancel = watchCancel
	m.mu.Unlock()

	go m.watch(watchCtx, link)
	return nil
}

func (m *ConnManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Link returns the current voice link, or nil when not connected.
func (m *ConnManager) Link() VoiceLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != ConnReady && m.state != ConnDisconnected && m.state != ConnConnecting {
		return nil
	}
	return m.link
}

// Destroy releases the link and stops the watchdog. Idempotent.
func (m *ConnManager) Destroy() {
	m.mu.Lock()
	if m.state == ConnDestroyed {
		m.mu.Unlock()
		return
	}
	m.state = ConnDestroyed
	link := m.link
	m.link = nil
	cancel := m.watchCancel
	m.watchCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if link != nil {
		releaseLink(link)
	}
}

func (m *ConnManager) setState(s ConnState) {
	m.mu.Lock()
	if m.state != ConnDestroyed {
		m.state = s
	}
	m.mu.Unlock()
}

func (m *ConnManager) fatal(err error) {
	m.fatalOnce.Do(func() {
		slog.Warn("voice connection unrecoverable", "guildID", m.guildID, "err", err)
		if m.onFatal != nil {
			go m.onFatal(err)
		}
	})
}

// watch polls the link and drives the bounded reconnect window without
// blocking any session operation.
func (m *ConnManager) watch(ctx context.Context, link VoiceLink) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if link.Ready() {
			continue
		}

		slog.Warn("voice link dropped", "guildID", m.guildID)
		m.setState(ConnDisconnected)

		// The transport must start resuming within the grace window.
		if !waitFor(ctx, 50*time.Millisecond, m.cfg.ReconnectGrace,
			func() bool { return link.Ready() || link.Resuming() }) {
			m.fatal(ErrConnectionLost)
			return
		}
		if link.Ready() {
			slog.Info("voice link recovered", "guildID", m.guildID)
			m.setState(ConnReady)
			continue
		}

		m.setState(ConnConnecting)
		if !waitFor(ctx, 50*time.Millisecond, m.cfg.ReconnectReady, link.Ready) {
			m.fatal(ErrConnectionLost)
			return
		}
		slog.Info("voice link recovered", "guildID", m.guildID)
		m.setState(ConnReady)
	}
}

// waitFor polls cond every interval until it holds, the context ends, or
// the deadline expires.
func waitFor(ctx context.Context, interval, deadline time.Duration, cond func() bool) bool {
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if cond() {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return false
		case <-ticker.C:
		}
	}
}

func releaseLink(link VoiceLink) {
	_ = link.Speaking(false)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = link.Disconnect(ctx)
}
