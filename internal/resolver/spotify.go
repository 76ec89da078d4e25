package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

type spotifyTrack struct {
	Name   string
	Artist string
}

type spotifyClient struct {
	raw *spotify.Client
}

func newSpotifyClient(clientID, clientSecret string) *spotifyClient {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := cfg.Client(context.Background())
	return &spotifyClient{raw: spotify.New(httpClient, spotify.WithRetry(true))}
}

func isSpotifyRef(s string) bool {
	return strings.HasPrefix(s, "spotify:") || strings.Contains(s, "open.spotify.com")
}

func parseSpotifyID(raw string) (typ string, id spotify.ID, err error) {
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) == 3 {
			return parts[1], spotify.ID(parts[2]), nil
		}
		return "", "", fmt.Errorf("invalid spotify URI")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid spotify URL path")
	}
	switch parts[0] {
	case "album", "playlist", "track":
		return parts[0], spotify.ID(parts[1]), nil
	}
	return "", "", fmt.Errorf("unsupported spotify type: %s", parts[0])
}

func firstArtist(artists []spotify.SimpleArtist) string {
	if len(artists) == 0 {
		return ""
	}
	return artists[0].Name
}

func (c *spotifyClient) track(ctx context.Context, id spotify.ID) (spotifyTrack, error) {
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return spotifyTrack{}, err
	}
	return spotifyTrack{Name: t.Name, Artist: firstArtist(t.Artists)}, nil
}

func (c *spotifyClient) album(ctx context.Context, id spotify.ID, limit int) (string, []spotifyTrack, error) {
	alb, err := c.raw.GetAlbum(ctx, id)
	if err != nil {
		return "", nil, err
	}
	page, err := c.raw.GetAlbumTracks(ctx, id)
	if err != nil {
		return "", nil, err
	}
	out := make([]spotifyTrack, 0, page.Total)
	add := func(items []spotify.SimpleTrack) {
		for _, t := range items {
			if limit > 0 && len(out) >= limit {
				break
			}
			out = append(out, spotifyTrack{Name: t.Name, Artist: firstArtist(t.Artists)})
		}
	}
	add(page.Tracks)
	for page.Next != "" && (limit == 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Tracks)
	}
	return alb.Name, out, nil
}

func (c *spotifyClient) playlist(ctx context.Context, id spotify.ID, limit int) (string, []spotifyTrack, error) {
	pl, err := c.raw.GetPlaylist(ctx, id)
	if err != nil {
		return "", nil, err
	}
	page, err := c.raw.GetPlaylistItems(ctx, id)
	if err != nil {
		return "", nil, err
	}
	out := make([]spotifyTrack, 0, page.Total)
	add := func(items []spotify.PlaylistItem) {
		for _, it := range items {
			if it.Track.Track == nil {
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			t := it.Track.Track
			out = append(out, spotifyTrack{Name: t.Name, Artist: firstArtist(t.Artists)})
		}
	}
	add(page.Items)
	for page.Next != "" && (limit == 0 || len(out) < limit) {
		if err := c.raw.NextPage(ctx, page); err != nil {
			break
		}
		add(page.Items)
	}
	return pl.Name, out, nil
}
