// Package queue holds the in-memory track queue and bounded play history
// for a single session. It is a pure data structure: no I/O, no rendering.
// Append safety for the background resolver is provided by the internal
// mutex; everything else is serialized by the owning session.
package queue

import (
	"errors"
	"math/rand"
	"sync"
)

var ErrIndexOutOfRange = errors.New("queue position out of range")

type Queue struct {
	mu         sync.Mutex
	items      []Track
	history    []Track
	historyCap int
}

func New(historyCap int) *Queue {
	if historyCap < 1 {
		historyCap = 1
	}
	return &Queue{historyCap: historyCap}
}

// Push appends a track, or prepends it when front is set.
func (q *Queue) Push(t Track, front bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if front {
		q.items = append([]Track{t}, q.items...)
		return
	}
	q.items = append(q.items, t)
}

// Shift pops the head of the queue.
func (q *Queue) Shift() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Track{}, false
	}
	t := q.items[0]
	q.items = q.items[1:]
	return t, true
}

func (q *Queue) Shuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	rand.Shuffle(len(q.items), func(i, j int) {
		q.items[i], q.items[j] = q.items[j], q.items[i]
	})
}

func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

// RemoveAt removes the track at the 0-based position i.
func (q *Queue) RemoveAt(i int) (Track, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.items) {
		return Track{}, ErrIndexOutOfRange
	}
	t := q.items[i]
	q.items = append(q.items[:i], q.items[i+1:]...)
	return t, nil
}

// MoveAt moves the track at position from to position to (both 0-based).
// The queue is left untouched on a bounds failure.
func (q *Queue) MoveAt(from, to int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}
	t := q.items[from]
	q.items = append(q.items[:from], q.items[from+1:]...)
	q.items = append(q.items[:to], append([]Track{t}, q.items[to:]...)...)
	return nil
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot copies the pending items for rendering.
func (q *Queue) Snapshot() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, len(q.items))
	copy(out, q.items)
	return out
}

// PushHistory records a finished track, evicting the oldest entry once the
// capacity is reached.
func (q *Queue) PushHistory(t Track) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history = append(q.history, t)
	if len(q.history) > q.historyCap {
		q.history = q.history[len(q.history)-q.historyCap:]
	}
}

// PopHistory removes and returns the most recent history entry.
func (q *Queue) PopHistory() (Track, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.history) == 0 {
		return Track{}, false
	}
	t := q.history[len(q.history)-1]
	q.history = q.history[:len(q.history)-1]
	return t, true
}

func (q *Queue) HistoryLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.history)
}

func (q *Queue) HistorySnapshot() []Track {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Track, len(q.history))
	copy(out, q.history)
	return out
}

// RecycleFromHistory moves the history back into the queue in play order and
// clears the history. Used by queue-loop once the queue runs dry.
func (q *Queue) RecycleFromHistory() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, q.history...)
	q.history = nil
}

func (q *Queue) ClearHistory() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history = nil
}
