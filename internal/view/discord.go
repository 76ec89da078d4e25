package view

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/hikarunoir/aria/internal/queue"
	"github.com/hikarunoir/aria/internal/utils"
)

// DiscordNotifier renders session snapshots as embeds in the text channel
// the session was started from. Handles are message IDs.
type DiscordNotifier struct {
	s         *discordgo.Session
	channelID string
}

func NewDiscordNotifier(s *discordgo.Session, channelID string) *DiscordNotifier {
	return &DiscordNotifier{s: s, channelID: channelID}
}

func (d *DiscordNotifier) Update(handle string, snap Snapshot) error {
	_, err := d.s.ChannelMessageEditEmbed(d.channelID, handle, buildEmbed(snap))
	if err != nil {
		var rerr *discordgo.RESTError
		if errors.As(err, &rerr) && rerr.Message != nil &&
			rerr.Message.Code == discordgo.ErrCodeUnknownMessage {
			return ErrViewNotFound
		}
		return err
	}
	return nil
}

func (d *DiscordNotifier) Send(snap Snapshot) (string, error) {
	msg, err := d.s.ChannelMessageSendEmbed(d.channelID, buildEmbed(snap))
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

func (d *DiscordNotifier) Announce(text string) {
	if _, err := d.s.ChannelMessageSend(d.channelID, text); err != nil {
		slog.Warn("announce failed", "channelID", d.channelID, "err", err)
	}
}

func trackLink(t queue.Track) string {
	if t.Source == queue.SourceHLS {
		return fmt.Sprintf("[%s](%s)", utils.EscapeMd(t.Title), t.PlayableRef)
	}
	if t.CatalogID != "" {
		return fmt.Sprintf("[%s](https://www.youtube.com/watch?v=%s)", utils.EscapeMd(t.Title), t.CatalogID)
	}
	return utils.EscapeMd(t.Title)
}

func progressBar(width int, progress float64) string {
	if width <= 0 {
		return ""
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	dot := int(float64(width) * progress)
	if dot >= width {
		dot = width - 1
	}
	out := make([]rune, 0, width*2)
	for i := 0; i < width; i++ {
		if i == dot {
			out = append(out, '🔘')
		} else {
			out = append(out, '▬')
		}
	}
	return string(out)
}

// NowPlayingEmbed renders a one-off playback embed for command replies.
func NowPlayingEmbed(snap Snapshot) *discordgo.MessageEmbed {
	return buildEmbed(snap)
}

// QueueEmbed renders one page of the queue, current track first.
func QueueEmbed(snap Snapshot, page, pageSize int) (*discordgo.MessageEmbed, error) {
	if pageSize < 1 {
		pageSize = 10
	}
	totalPages := (snap.QueueLen + pageSize - 1) / pageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 || page > totalPages {
		return nil, fmt.Errorf("the queue isn't that big")
	}

	var b strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&b, "**Playing:** %s\n\n", trackLink(*snap.Current))
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > snap.QueueLen {
		end = snap.QueueLen
	}
	if snap.QueueLen == 0 {
		b.WriteString("The queue is empty.")
	}
	for i := start; i < end; i++ {
		t := snap.Queue[i]
		dur := "live"
		if !t.IsLive {
			dur = utils.PrettyTime(int(t.DurationMs / 1000))
		}
		if !t.Resolved() {
			dur = "pending"
		}
		fmt.Fprintf(&b, "`%d.` %s `[ %s ]`\n", i+1, trackLink(t), dur)
	}

	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Queue (%d tracks)", snap.QueueLen),
		Description: b.String(),
		Color:       0x006400,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Page %d of %d | Loop: %s | History: %d", page, totalPages, snap.LoopMode, snap.HistoryLen),
		},
	}, nil
}

func buildEmbed(snap Snapshot) *discordgo.MessageEmbed {
	if snap.Destroyed {
		return &discordgo.MessageEmbed{
			Title:       "Session ended",
			Description: "Queue cleared and voice connection released.",
			Color:       0x992222,
		}
	}
	if snap.Current == nil {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "The queue is empty.",
			Color:       0x992222,
		}
	}

	cur := *snap.Current
	lengthSec := int(cur.DurationMs / 1000)
	progress := 0.0
	if lengthSec > 0 {
		progress = float64(snap.PositionSec) / float64(lengthSec)
	}
	elapsed := "live"
	if !cur.IsLive {
		elapsed = fmt.Sprintf("%s/%s", utils.PrettyTime(snap.PositionSec), utils.PrettyTime(lengthSec))
	}

	button := "▶️"
	if snap.Playing {
		button = "⏹️"
	}
	loop := ""
	switch snap.LoopMode {
	case "track":
		loop = "🔂"
	case "queue":
		loop = "🔁"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\nRequested by: <@%s>\n\n%s %s `[ %s ]` %s\n",
		trackLink(cur), cur.RequestedBy, button, progressBar(10, progress), elapsed, loop)

	if snap.Resolving {
		fmt.Fprintf(&b, "\nResolving queue items… %d/%d done", snap.Progress.Processed, snap.Progress.Total)
		if snap.Progress.Failed > 0 {
			fmt.Fprintf(&b, " (%d failed)", snap.Progress.Failed)
		}
		b.WriteString("\n")
	}

	if len(snap.Queue) > 0 {
		b.WriteString("\n**Up next:**\n")
		for i, t := range snap.Queue {
			if i >= 10 {
				fmt.Fprintf(&b, "…and %d more\n", snap.QueueLen-i)
				break
			}
			dur := "live"
			if !t.IsLive {
				dur = utils.PrettyTime(int(t.DurationMs / 1000))
			}
			fmt.Fprintf(&b, "`%d.` %s `[ %s ]`\n", i+1, trackLink(t), dur)
		}
	}

	title := "Now Playing"
	color := 0x006400
	if !snap.Playing {
		title = "Paused"
		color = 0x8B0000
	}

	var flags []string
	if snap.Autoplay {
		flags = append(flags, "autoplay")
	}
	if snap.Karaoke {
		flags = append(flags, "karaoke")
	}
	if snap.Effect != "" {
		flags = append(flags, snap.Effect)
	}
	footer := fmt.Sprintf("Source: %s | Volume: %d%%", cur.Source, snap.Volume)
	if len(flags) > 0 {
		footer += " | " + strings.Join(flags, ", ")
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: b.String(),
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: footer},
	}
	if cur.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: cur.Thumbnail}
	}
	return embed
}
