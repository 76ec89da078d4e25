package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hikarunoir/aria/internal/queue"
)

// Service dispatches queries across the supported catalogs. It implements
// both Resolver and Recommender.
type Service struct {
	sp            *spotifyClient // nil when Spotify is not configured
	playlistLimit int
}

func NewService(spotifyClientID, spotifyClientSecret string, playlistLimit int) *Service {
	s := &Service{playlistLimit: playlistLimit}
	if spotifyClientID != "" && spotifyClientSecret != "" {
		s.sp = newSpotifyClient(spotifyClientID, spotifyClientSecret)
	}
	return s
}

// IsPlaylistRef reports whether the query names a multi-item reference that
// should go through ResolvePlaylist instead of Resolve.
func IsPlaylistRef(query string) bool {
	q := strings.TrimSpace(query)
	if isSpotifyRef(q) {
		typ, _, err := parseSpotifyID(q)
		return err == nil && typ != "track"
	}
	return isYouTubeRef(q) && strings.Contains(q, "list=")
}

func isYouTubeRef(q string) bool {
	return strings.Contains(q, "youtube.com") ||
		strings.Contains(q, "youtu.be") ||
		strings.Contains(q, "music.youtube.")
}

func isURL(q string) bool {
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}

func trackFromInfo(v videoInfo, requester string) queue.Track {
	return queue.Track{
		ID:          queue.NewTrackID(),
		Title:       v.Title,
		Artist:      v.Uploader,
		Source:      queue.SourceYouTube,
		CatalogID:   v.ID,
		PlayableRef: v.MediaURL,
		DurationMs:  int64(v.Duration * 1000),
		IsLive:      v.IsLive,
		Thumbnail:   v.Thumbnail,
		RequestedBy: requester,
		AddedAt:     time.Now(),
	}
}

func (s *Service) Resolve(ctx context.Context, query, requester string) (queue.Track, error) {
	q := strings.TrimSpace(query)

	if isSpotifyRef(q) || strings.HasPrefix(q, "spotify:") {
		if s.sp == nil {
			return queue.Track{}, fmt.Errorf("spotify is not enabled: %w", ErrUnavailable)
		}
		typ, id, err := parseSpotifyID(q)
		if err != nil {
			return queue.Track{}, fmt.Errorf("%s: %w", q, ErrNotFound)
		}
		if typ != "track" {
			return queue.Track{}, fmt.Errorf("spotify %s is a playlist reference", typ)
		}
		t, err := s.sp.track(ctx, id)
		if err != nil {
			return queue.Track{}, fmt.Errorf("spotify track: %w", err)
		}
		// Lazy: matched against YouTube right before playback.
		return queue.Track{
			ID:          queue.NewTrackID(),
			Title:       t.Name,
			Artist:      t.Artist,
			Source:      queue.SourceSpotify,
			RequestedBy: requester,
			AddedAt:     time.Now(),
		}, nil
	}

	if isURL(q) {
		if isYouTubeRef(q) {
			info, err := ytdlpGetInfo(ctx, q)
			if err != nil {
				return queue.Track{}, err
			}
			return trackFromInfo(*info, requester), nil
		}
		// Anything else is treated as a live HLS/radio URL.
		return queue.Track{
			ID:          queue.NewTrackID(),
			Title:       q,
			Artist:      q,
			Source:      queue.SourceHLS,
			PlayableRef: q,
			IsLive:      true,
			RequestedBy: requester,
			AddedAt:     time.Now(),
		}, nil
	}

	info, err := ytdlpGetInfo(ctx, "ytsearch1:"+q)
	if err != nil {
		return queue.Track{}, err
	}
	return trackFromInfo(*info, requester), nil
}

func (s *Service) ResolvePlaylist(ctx context.Context, ref, requester string) (Playlist, error) {
	q := strings.TrimSpace(ref)

	if isSpotifyRef(q) {
		if s.sp == nil {
			return Playlist{}, fmt.Errorf("spotify is not enabled: %w", ErrUnavailable)
		}
		typ, id, err := parseSpotifyID(q)
		if err != nil {
			return Playlist{}, fmt.Errorf("%s: %w", q, ErrNotFound)
		}
		var name string
		var tracks []spotifyTrack
		switch typ {
		case "album":
			name, tracks, err = s.sp.album(ctx, id, s.playlistLimit)
		case "playlist":
			name, tracks, err = s.sp.playlist(ctx, id, s.playlistLimit)
		default:
			return Playlist{}, fmt.Errorf("spotify %s is not a playlist reference", typ)
		}
		if err != nil {
			return Playlist{}, fmt.Errorf("spotify %s: %w", typ, err)
		}
		items := make([]queue.Track, 0, len(tracks))
		for _, t := range tracks {
			items = append(items, queue.Track{
				ID:          queue.NewTrackID(),
				Title:       t.Name,
				Artist:      t.Artist,
				Source:      queue.SourceSpotify,
				RequestedBy: requester,
				AddedAt:     time.Now(),
			})
		}
		return Playlist{Name: name, Ref: q, Items: items}, nil
	}

	name, entries, err := ytdlpFlatPlaylist(ctx, q)
	if err != nil {
		return Playlist{}, err
	}
	if s.playlistLimit > 0 && len(entries) > s.playlistLimit {
		entries = entries[:s.playlistLimit]
	}
	items := make([]queue.Track, 0, len(entries))
	for _, e := range entries {
		// Flat entries carry no media URL yet; they stay lazy.
		items = append(items, queue.Track{
			ID:          queue.NewTrackID(),
			Title:       e.Title,
			Artist:      e.Uploader,
			Source:      queue.SourceYouTube,
			CatalogID:   e.ID,
			DurationMs:  int64(e.Duration * 1000),
			IsLive:      e.IsLive,
			RequestedBy: requester,
			AddedAt:     time.Now(),
		})
	}
	if len(items) == 0 {
		return Playlist{}, ErrNotFound
	}
	return Playlist{Name: name, Ref: q, Items: items}, nil
}

func (s *Service) ResolvePlayable(ctx context.Context, t queue.Track) (queue.Track, error) {
	if t.Resolved() {
		return t, nil
	}

	var info *videoInfo
	var err error
	switch t.Source {
	case queue.SourceSpotify:
		info, err = ytdlpGetInfo(ctx, fmt.Sprintf(`ytsearch1:"%s" "%s"`, t.Title, t.Artist))
	case queue.SourceYouTube:
		if t.CatalogID == "" {
			return t, ErrNotFound
		}
		info, err = ytdlpGetInfo(ctx, "https://www.youtube.com/watch?v="+t.CatalogID)
	default:
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if info.MediaURL == "" {
		return t, ErrNotFound
	}

	t.CatalogID = info.ID
	t.PlayableRef = info.MediaURL
	t.IsLive = info.IsLive
	if t.DurationMs == 0 {
		t.DurationMs = int64(info.Duration * 1000)
	}
	if t.Thumbnail == "" {
		t.Thumbnail = info.Thumbnail
	}
	return t, nil
}

// Recommend walks the YouTube mix playlist for the current track and picks
// the first entry not present in recent history.
func (s *Service) Recommend(ctx context.Context, current queue.Track, recent []queue.Track) (queue.Track, error) {
	if current.CatalogID == "" {
		return queue.Track{}, ErrNotFound
	}

	seen := map[string]bool{current.CatalogID: true}
	for _, t := range recent {
		if t.CatalogID != "" {
			seen[t.CatalogID] = true
		}
	}

	mixURL := fmt.Sprintf("https://www.youtube.com/watch?v=%s&list=RD%s", current.CatalogID, current.CatalogID)
	_, entries, err := ytdlpFlatPlaylist(ctx, mixURL)
	if err != nil {
		return queue.Track{}, err
	}
	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		info, err := ytdlpGetInfo(ctx, "https://www.youtube.com/watch?v="+e.ID)
		if err != nil {
			continue
		}
		t := trackFromInfo(*info, current.RequestedBy)
		return t, nil
	}
	return queue.Track{}, ErrNotFound
}
