package repository

import "database/sql"

type Repo struct {
	db *sql.DB
}

type Settings struct {
	GuildID          string
	IdleTimeoutSec   int
	DefaultVolume    int
	PlaylistLimit    int
	QueuePageSize    int
	AutoAnnounceNext bool
}

type Favorite struct {
	ID      int64
	GuildID string
	Author  string
	Name    string
	Query   string
}

type PlayCount struct {
	Title     string
	Artist    string
	Source    string
	PlayCount int
}
