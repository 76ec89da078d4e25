package queue

import (
	"time"

	"github.com/google/uuid"
)

type Source int

const (
	SourceYouTube Source = iota
	SourceSpotify
	SourceHLS
)

func (s Source) String() string {
	switch s {
	case SourceYouTube:
		return "youtube"
	case SourceSpotify:
		return "spotify"
	case SourceHLS:
		return "hls"
	}
	return "unknown"
}

// Track is one queued item. PlayableRef is empty for lazy entries (e.g.
// Spotify metadata that still needs a YouTube lookup before playback).
type Track struct {
	ID          string
	Title       string
	Artist      string
	Source      Source
	CatalogID   string // upstream id (YouTube video id); empty for HLS
	PlayableRef string
	DurationMs  int64
	IsLive      bool
	Thumbnail   string
	RequestedBy string
	AddedAt     time.Time
}

// NewTrackID returns a fresh id, unique within a session.
func NewTrackID() string { return uuid.NewString() }

func (t Track) Resolved() bool { return t.PlayableRef != "" }
