package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func track(title string) Track {
	return Track{ID: NewTrackID(), Title: title, PlayableRef: "ref:" + title}
}

func titles(ts []Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func TestPushShiftFIFO(t *testing.T) {
	q := New(10)
	q.Push(track("a"), false)
	q.Push(track("b"), false)
	q.Push(track("c"), false)

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Shift()
		require.True(t, ok)
		assert.Equal(t, want, got.Title)
	}
	_, ok := q.Shift()
	assert.False(t, ok)
}

func TestPushFront(t *testing.T) {
	q := New(10)
	q.Push(track("a"), false)
	q.Push(track("b"), true)

	got, ok := q.Shift()
	require.True(t, ok)
	assert.Equal(t, "b", got.Title)
}

func TestRemoveAtBounds(t *testing.T) {
	q := New(10)
	q.Push(track("a"), false)
	q.Push(track("b"), false)

	_, err := q.RemoveAt(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = q.RemoveAt(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, 2, q.Len())

	got, err := q.RemoveAt(0)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Title)
	assert.Equal(t, []string{"b"}, titles(q.Snapshot()))
}

func TestMoveAt(t *testing.T) {
	q := New(10)
	for _, s := range []string{"a", "b", "c", "d"} {
		q.Push(track(s), false)
	}

	require.NoError(t, q.MoveAt(0, 2))
	assert.Equal(t, []string{"b", "c", "a", "d"}, titles(q.Snapshot()))

	require.NoError(t, q.MoveAt(3, 0))
	assert.Equal(t, []string{"d", "b", "c", "a"}, titles(q.Snapshot()))
}

func TestMoveAtOutOfRangeLeavesQueueUnchanged(t *testing.T) {
	q := New(10)
	for _, s := range []string{"a", "b", "c"} {
		q.Push(track(s), false)
	}

	err := q.MoveAt(0, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	assert.Equal(t, []string{"a", "b", "c"}, titles(q.Snapshot()))
}

func TestShuffleKeepsAllItems(t *testing.T) {
	q := New(10)
	want := map[string]bool{}
	for i := 0; i < 20; i++ {
		s := fmt.Sprintf("t%d", i)
		want[s] = true
		q.Push(track(s), false)
	}
	q.Shuffle()

	got := q.Snapshot()
	require.Len(t, got, 20)
	for _, tr := range got {
		assert.True(t, want[tr.Title], tr.Title)
	}
}

func TestHistoryCapEviction(t *testing.T) {
	q := New(3)
	for i := 0; i < 5; i++ {
		q.PushHistory(track(fmt.Sprintf("h%d", i)))
		assert.LessOrEqual(t, q.HistoryLen(), 3)
	}
	// oldest evicted first
	assert.Equal(t, []string{"h2", "h3", "h4"}, titles(q.HistorySnapshot()))
}

func TestPopHistoryIsLIFO(t *testing.T) {
	q := New(5)
	q.PushHistory(track("old"))
	q.PushHistory(track("new"))

	got, ok := q.PopHistory()
	require.True(t, ok)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, 1, q.HistoryLen())
}

func TestRecycleFromHistory(t *testing.T) {
	q := New(5)
	q.PushHistory(track("a"))
	q.PushHistory(track("b"))
	q.Push(track("c"), false)

	q.RecycleFromHistory()
	assert.Equal(t, 0, q.HistoryLen())
	assert.Equal(t, []string{"c", "a", "b"}, titles(q.Snapshot()))
}
