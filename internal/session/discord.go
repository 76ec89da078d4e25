package session

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// DiscordJoiner joins guild voice channels over a discordgo session.
type DiscordJoiner struct {
	s *discordgo.Session
}

func NewDiscordJoiner(s *discordgo.Session) *DiscordJoiner {
	return &DiscordJoiner{s: s}
}

// Join connects to a guild voice channel. ChannelVoiceJoin blocks on its
// own internal handshake timeout; the caller's deadline is enforced by the
// connection manager's ready wait.
func (j *DiscordJoiner) Join(ctx context.Context, guildID, channelID string) (VoiceLink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := j.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, fmt.Errorf("joining voice channel: %w", err)
	}
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	return &discordLink{vc: vc}, nil
}

type discordLink struct {
	vc *discordgo.VoiceConnection
}

func (l *discordLink) Ready() bool {
	return l.vc.Ready
}

// Resuming reports whether the gateway still considers the connection
// alive while the websocket renegotiates. discordgo does not expose a
// dedicated resuming flag, so a non-ready link with an intact send channel
// is treated as in-flight recovery.
func (l *discordLink) Resuming() bool {
	return !l.vc.Ready && l.vc.OpusSend != nil
}

func (l *discordLink) Speaking(on bool) error {
	return l.vc.Speaking(on)
}

func (l *discordLink) OpusSend() chan<- []byte {
	return l.vc.OpusSend
}

func (l *discordLink) Disconnect(_ context.Context) error {
	return l.vc.Disconnect()
}
