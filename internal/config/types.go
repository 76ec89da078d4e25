package config

import "time"

type Config struct {
	DiscordToken        string
	SpotifyClientID     string
	SpotifyClientSecret string
	DataDir             string
	BotStatus           string // online/dnd/idle
	BotActivity         string

	// Session tuning. Per-guild settings from the repository override
	// IdleTimeout and the default volume at session creation time.
	IdleTimeout   time.Duration
	HistorySize   int
	PlaylistLimit int

	RegisterCommandsOnBot bool
}
