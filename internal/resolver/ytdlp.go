package resolver

import (
	"context"
	"fmt"
	"strings"
	"sync"

	ytdlp "github.com/lrstanley/go-ytdlp"
)

// videoInfo is the slice of yt-dlp output this package cares about.
type videoInfo struct {
	ID        string
	Title     string
	Uploader  string
	Duration  float64 // seconds
	IsLive    bool
	Thumbnail string
	MediaURL  string

	Entries []videoInfo // playlist / search containers
}

var installOnce sync.Once

func ensureYtdlp(ctx context.Context) {
	installOnce.Do(func() {
		ytdlp.MustInstall(ctx, nil)
	})
}

func strOf(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func floatOf(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func boolOf(p *bool) bool {
	if p == nil {
		return false
	}
	return *p
}

func fromExtracted(e *ytdlp.ExtractedInfo) videoInfo {
	v := videoInfo{
		ID:       e.ID,
		Title:    strOf(e.Title),
		Uploader: strOf(e.Uploader),
		Duration: floatOf(e.Duration),
		IsLive:   boolOf(e.IsLive),
	}
	if len(e.Thumbnails) > 0 && e.Thumbnails[len(e.Thumbnails)-1] != nil {
		v.Thumbnail = e.Thumbnails[len(e.Thumbnails)-1].URL
	}
	v.MediaURL = pickMediaURL(e)
	return v
}

// pickMediaURL prefers requested formats, then the top-level url, then the
// first http format.
func pickMediaURL(e *ytdlp.ExtractedInfo) string {
	for _, f := range e.RequestedFormats {
		if f != nil && strings.HasPrefix(f.URL, "http") {
			return f.URL
		}
	}
	if u := strOf(e.URL); strings.HasPrefix(u, "http") {
		return u
	}
	for _, f := range e.Formats {
		if f != nil && strings.HasPrefix(f.URL, "http") {
			return f.URL
		}
	}
	return ""
}

// ytdlpGetInfo runs yt-dlp with JSON dump for a URL or ytsearch query.
func ytdlpGetInfo(ctx context.Context, url string) (*videoInfo, error) {
	ensureYtdlp(ctx)

	cmd := ytdlp.New().
		Format("ba[acodec^=opus]/ba[ext=m4a]/bestaudio/best").
		NoCheckCertificates().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp run: %w", err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, ErrNotFound
	}

	ext := infos[0]
	out := fromExtracted(ext)
	for _, e := range ext.Entries {
		if e == nil {
			continue
		}
		out.Entries = append(out.Entries, fromExtracted(e))
	}
	// Mirror the first entry of a container to the top level.
	if len(out.Entries) > 0 && out.ID == "" {
		first := out.Entries[0]
		first.Entries = out.Entries
		out = first
	}
	return &out, nil
}

// ytdlpFlatPlaylist lists playlist entries without resolving media URLs.
func ytdlpFlatPlaylist(ctx context.Context, url string) (string, []videoInfo, error) {
	ensureYtdlp(ctx)

	cmd := ytdlp.New().
		FlatPlaylist().
		DumpJSON()

	res, err := cmd.Run(ctx, url)
	if err != nil {
		return "", nil, fmt.Errorf("yt-dlp playlist fetch: %w", err)
	}
	infos, err := res.GetExtractedInfo()
	if err != nil {
		return "", nil, fmt.Errorf("parse yt-dlp playlist json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return "", nil, ErrNotFound
	}

	pl := infos[0]
	out := make([]videoInfo, 0, len(pl.Entries))
	for _, e := range pl.Entries {
		if e == nil {
			continue
		}
		out = append(out, fromExtracted(e))
	}
	return strOf(pl.Title), out, nil
}
