package session

import "errors"

var (
	// ErrSessionDestroyed rejects any operation on a torn-down session.
	ErrSessionDestroyed = errors.New("session destroyed")
	ErrEmptyQueue       = errors.New("queue is empty")
	ErrNoPreviousTrack  = errors.New("no previous track")
	ErrInvalidLoopMode  = errors.New("invalid loop mode")
	ErrNotConnected     = errors.New("not connected to a voice channel")

	// ErrConnectionTimeout is returned when establishing the voice link
	// exceeds the connect window; ErrConnectionLost is the fatal signal
	// after the bounded reconnect window expires.
	ErrConnectionTimeout = errors.New("voice connection timed out")
	ErrConnectionLost    = errors.New("voice connection lost")
)
