// Package resolver turns user queries and playlist references into queue
// tracks. YouTube lookups go through yt-dlp; Spotify lookups produce lazy
// stubs that are matched against YouTube right before playback.
package resolver

import (
	"context"
	"errors"

	"github.com/hikarunoir/aria/internal/queue"
)

var (
	ErrNotFound    = errors.New("no matching track found")
	ErrRateLimited = errors.New("upstream rate limited")
	ErrUnavailable = errors.New("upstream unavailable")
)

// Playlist is the summary returned for a playlist/album reference. Items are
// stubs: title/artist metadata only, PlayableRef filled in later.
type Playlist struct {
	Name  string
	Ref   string
	Items []queue.Track
}

type Resolver interface {
	// Resolve turns a free-form query or single-item URL into one track.
	Resolve(ctx context.Context, query, requester string) (queue.Track, error)
	// ResolvePlaylist fetches a playlist summary without resolving items.
	ResolvePlaylist(ctx context.Context, ref, requester string) (Playlist, error)
	// ResolvePlayable fills in the playable reference of a lazy track.
	ResolvePlayable(ctx context.Context, t queue.Track) (queue.Track, error)
}

type Recommender interface {
	// Recommend synthesizes one follow-up track from the current track,
	// avoiding anything in recent history.
	Recommend(ctx context.Context, current queue.Track, recent []queue.Track) (queue.Track, error)
}
