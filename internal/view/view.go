// Package view renders session state for users. The session controller only
// sees the Notifier interface; the Discord implementation lives alongside so
// nothing in the core reaches back into transport code.
package view

import (
	"errors"

	"github.com/hikarunoir/aria/internal/queue"
)

// ErrViewNotFound reports that a previously issued handle no longer points
// at a live view (message deleted, channel gone). Callers fall back to Send.
var ErrViewNotFound = errors.New("view not found")

// Progress mirrors the background resolver counters.
type Progress struct {
	Processed int
	Total     int
	Failed    int
}

// Snapshot is an immutable copy of everything a renderer needs.
type Snapshot struct {
	Key         string
	Playing     bool
	Paused      bool
	Destroyed   bool
	Current     *queue.Track
	Queue       []queue.Track
	QueueLen    int
	HistoryLen  int
	LoopMode    string
	Autoplay    bool
	Volume      int
	Effect      string
	Bass        int
	Treble      int
	Karaoke     bool
	PositionSec int
	Resolving   bool
	Progress    Progress
}

type Notifier interface {
	// Update refreshes an existing view identified by handle.
	Update(handle string, snap Snapshot) error
	// Send creates a fresh view and returns its handle.
	Send(snap Snapshot) (string, error)
	// Announce emits a transient user-visible notice (resolver summaries,
	// teardown notices). Best-effort.
	Announce(text string)
}
