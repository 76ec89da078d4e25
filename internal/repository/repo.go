package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hikarunoir/aria/internal/queue"
)

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	_, _ = r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	)
	return r.GetSettings(ctx, guild)
}

func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, idle_timeout_sec, default_volume, playlist_limit,
	       queue_page_size, auto_announce_next_song
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var announce int
	if err := row.Scan(
		&s.GuildID,
		&s.IdleTimeoutSec,
		&s.DefaultVolume,
		&s.PlaylistLimit,
		&s.QueuePageSize,
		&announce,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	s.AutoAnnounceNext = announce != 0
	return &s, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE settings SET
		  idle_timeout_sec=?,
		  default_volume=?,
		  playlist_limit=?,
		  queue_page_size=?,
		  auto_announce_next_song=?
		WHERE guild_id=?`,
		s.IdleTimeoutSec, s.DefaultVolume, s.PlaylistLimit,
		s.QueuePageSize, boolToInt(s.AutoAnnounceNext), s.GuildID,
	)
	return err
}

func (r *Repo) AddFavorite(ctx context.Context, f *Favorite) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO favorites(guild_id, author_id, name, query) VALUES (?,?,?,?)`,
		f.GuildID, f.Author, f.Name, f.Query,
	)
	return err
}

func (r *Repo) RemoveFavorite(ctx context.Context, guild, name string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM favorites WHERE guild_id=? AND name=?`, guild, name)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) FindFavorite(ctx context.Context, guild, name string) (*Favorite, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, guild_id, author_id, name, query FROM favorites WHERE guild_id=? AND name=?`, guild, name)
	var f Favorite
	if err := row.Scan(&f.ID, &f.GuildID, &f.Author, &f.Name, &f.Query); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *Repo) ListFavorites(ctx context.Context, guild string) ([]Favorite, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, guild_id, author_id, name, query FROM favorites WHERE guild_id=? ORDER BY name ASC`, guild)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Favorite
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.ID, &f.GuildID, &f.Author, &f.Name, &f.Query); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RecordPlay persists one started track. Callers treat this as
// fire-and-forget; failures must never reach the playback path.
func (r *Repo) RecordPlay(ctx context.Context, guild string, t queue.Track) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO plays(guild_id, title, artist, source, catalog_id, requested_by, played_at)
		 VALUES (?,?,?,?,?,?,?)`,
		guild, t.Title, t.Artist, t.Source.String(), t.CatalogID, t.RequestedBy, time.Now().Unix(),
	)
	return err
}

func (r *Repo) TopPlays(ctx context.Context, guild string, limit int) ([]PlayCount, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT title, artist, source, COUNT(*) AS plays
		FROM plays WHERE guild_id=?
		GROUP BY title, artist, source
		ORDER BY plays DESC, title ASC
		LIMIT ?`, guild, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlayCount
	for rows.Next() {
		var p PlayCount
		if err := rows.Scan(&p.Title, &p.Artist, &p.Source, &p.PlayCount); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
