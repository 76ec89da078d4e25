package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hikarunoir/aria/internal/config"
	"github.com/hikarunoir/aria/internal/queue"
	"github.com/hikarunoir/aria/internal/repository"
	"github.com/hikarunoir/aria/internal/resolver"
	"github.com/hikarunoir/aria/internal/session"
	"github.com/hikarunoir/aria/internal/stream"
	"github.com/hikarunoir/aria/internal/utils"
	"github.com/hikarunoir/aria/internal/view"
)

type CommandHandler struct {
	cfg      *config.Config
	repo     *repository.Repo
	registry *session.Registry
	svc      *resolver.Service
	provider *stream.Provider
}

func NewCommandHandler(cfg *config.Config, repo *repository.Repo, registry *session.Registry, svc *resolver.Service, provider *stream.Provider) *CommandHandler {
	return &CommandHandler{cfg: cfg, repo: repo, registry: registry, svc: svc, provider: provider}
}

// ffmpegStreams adapts the concrete provider to the session's interface.
type ffmpegStreams struct {
	p *stream.Provider
}

func (f ffmpegStreams) Open(ctx context.Context, ref string, startSec int, fx stream.Params) (session.AudioStream, error) {
	st, err := f.p.Open(ctx, ref, startSec, fx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newOpusEncoder() (session.OpusEncoder, error) {
	enc, err := stream.NewEncoder()
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// sessionFor returns the live session for the interaction's guild, creating
// one with per-guild settings applied when none exists.
func (h *CommandHandler) sessionFor(s *discordgo.Session, i *discordgo.InteractionCreate) *session.Session {
	return h.registry.GetOrCreate(i.GuildID, func() *session.Session {
		cfg := session.DefaultConfig()
		cfg.HistorySize = h.cfg.HistorySize
		cfg.IdleTimeout = h.cfg.IdleTimeout

		ctx := context.Background()
		if set, err := h.repo.UpsertSettings(ctx, i.GuildID); err == nil {
			cfg.IdleTimeout = time.Duration(set.IdleTimeoutSec) * time.Second
			cfg.DefaultVolume = set.DefaultVolume
		} else {
			slog.Warn("settings load failed, using defaults", "guildID", i.GuildID, "err", err)
		}

		return session.New(i.GuildID, cfg, session.Deps{
			Resolver:    h.svc,
			Recommender: h.svc,
			Streams:     ffmpegStreams{p: h.provider},
			NewEncoder:  newOpusEncoder,
			Notifier:    view.NewDiscordNotifier(s, i.ChannelID),
			Recorder:    h.repo,
			Joiner:      session.NewDiscordJoiner(s),
		})
	})
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	slog.Info("registering application commands", "appID", appID, "guildID", guildID)

	effectChoices := []*discordgo.ApplicationCommandOptionChoice{
		{Name: "off", Value: "off"},
	}
	for _, name := range stream.EffectNames() {
		effectChoices = append(effectChoices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
	}

	cmds := []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song or playlist (YouTube/Spotify URL, HLS URL, or search)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true},
				{Name: "immediate", Description: "add to front of queue", Type: discordgo.ApplicationCommandOptionBoolean},
			},
		},
		{Name: "pause", Description: "pause the current song"},
		{Name: "resume", Description: "resume playback"},
		{Name: "next", Description: "skip to the next song"},
		{Name: "unskip", Description: "go back in the queue by one song"},
		{Name: "stop", Description: "stop playback, clear the queue and leave"},
		{Name: "clear", Description: "clear the queue except the current song"},
		{Name: "shuffle", Description: "shuffle the queue"},
		{Name: "now-playing", Description: "show the currently playing song"},
		{
			Name:        "queue",
			Description: "show the current queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "page", Description: "page of queue to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
				{Name: "page-size", Description: "how many items per page [default: 10, max: 30]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{
			Name:        "remove",
			Description: "remove a song from the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "position", Description: "position of the song to remove", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{
			Name:        "move",
			Description: "move songs within the queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "from", Description: "position of the song to move", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				{Name: "to", Description: "position to move the song to", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{
			Name:        "volume",
			Description: "set playback volume",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "level", Description: "0-200", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{
			Name:        "loop",
			Description: "set the loop mode",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "mode", Description: "off, track or queue", Type: discordgo.ApplicationCommandOptionString, Required: true, Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "off", Value: "off"},
					{Name: "track", Value: "track"},
					{Name: "queue", Value: "queue"},
				}},
			},
		},
		{Name: "autoplay", Description: "toggle autoplay when the queue runs out"},
		{Name: "karaoke", Description: "toggle the karaoke vocal filter"},
		{
			Name:        "effect",
			Description: "apply an audio effect",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "name", Description: "effect", Type: discordgo.ApplicationCommandOptionString, Required: true, Choices: effectChoices},
			},
		},
		{
			Name:        "bass",
			Description: "boost or cut bass",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "gain", Description: "-20 to 20 dB", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{
			Name:        "treble",
			Description: "boost or cut treble",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "gain", Description: "-20 to 20 dB", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
			},
		},
		{
			Name:        "favorites",
			Description: "Manage favorites",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "use",
					Description: "use a favorite",
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "name", Description: "favorite name", Type: discordgo.ApplicationCommandOptionString, Required: true},
						{Name: "immediate", Description: "front of queue", Type: discordgo.ApplicationCommandOptionBoolean},
					},
				},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list", Description: "list favorites"},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "create",
					Description: "create favorite",
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "name", Description: "name", Type: discordgo.ApplicationCommandOptionString, Required: true},
						{Name: "query", Description: "query", Type: discordgo.ApplicationCommandOptionString, Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "remove",
					Description: "remove favorite",
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "name", Description: "name", Type: discordgo.ApplicationCommandOptionString, Required: true},
					},
				},
			},
		},
		{
			Name:        "stats",
			Description: "most played songs on this server",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "limit", Description: "how many to show [default: 10]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-playlist-limit", Description: "set max playlist add", Options: []*discordgo.ApplicationCommandOption{
					{Name: "limit", Description: "max tracks", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-idle-timeout", Description: "seconds before an idle session disconnects", Options: []*discordgo.ApplicationCommandOption{
					{Name: "seconds", Description: "seconds (0 never leave)", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-default-volume", Description: "default volume", Options: []*discordgo.ApplicationCommandOption{
					{Name: "level", Description: "0-200", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-default-queue-page-size", Description: "queue page size", Options: []*discordgo.ApplicationCommandOption{
					{Name: "page_size", Description: "1-30", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-auto-announce-next-song", Description: "auto announce next", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
			},
		},
	}

	for _, c := range cmds {
		if _, err := s.ApplicationCommandCreate(appID, guildID, c); err != nil {
			slog.Error("failed to create application command", "guildID", guildID, "command", c.Name, "err", err)
			return err
		}
		slog.Debug("registered command", "guildID", guildID, "command", c.Name)
	}

	slog.Info("finished registering commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
		return
	}
	data := i.ApplicationCommandData()
	slog.Debug("interaction: application command", "guildID", i.GuildID, "userID", userIDOf(i), "command", data.Name)

	switch data.Name {
	case "play":
		h.cmdPlay(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "next":
		h.cmdNext(s, i)
	case "unskip":
		h.cmdUnskip(s, i)
	case "stop":
		h.cmdStop(s, i)
	case "clear":
		h.cmdClear(s, i)
	case "shuffle":
		h.cmdShuffle(s, i)
	case "now-playing":
		h.cmdNowPlaying(s, i)
	case "queue":
		h.cmdQueue(s, i)
	case "remove":
		h.cmdRemove(s, i)
	case "move":
		h.cmdMove(s, i)
	case "volume":
		h.cmdVolume(s, i)
	case "loop":
		h.cmdLoop(s, i)
	case "autoplay":
		h.cmdAutoplay(s, i)
	case "karaoke":
		h.cmdKaraoke(s, i)
	case "effect":
		h.cmdEffect(s, i)
	case "bass":
		h.cmdTone(s, i, "bass")
	case "treble":
		h.cmdTone(s, i, "treble")
	case "favorites":
		h.cmdFavorites(s, i)
	case "stats":
		h.cmdStats(s, i)
	case "config":
		h.cmdConfig(s, i)
	default:
		slog.Debug("unknown command", "name", data.Name, "guildID", i.GuildID, "userID", userIDOf(i))
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := uint64(0)
	if ephemeral {
		flags = 1 << 6
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlags(flags),
		},
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		slog.Warn("defer reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Content: &content,
	}); err != nil {
		slog.Warn("edit reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	g, _ := s.State.Guild(guildID)
	if g == nil {
		g, _ = s.Guild(guildID)
	}
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func (h *CommandHandler) enqueue(s *discordgo.Session, i *discordgo.InteractionCreate, query string, front bool) {
	guildID := i.GuildID
	memberID := userIDOf(i)

	chID, ok := userInVoice(s, guildID, memberID)
	if !ok {
		slog.Debug("user not in voice", "guildID", guildID, "userID", memberID)
		h.reply(s, i, "gotta be in a voice channel", true)
		return
	}

	h.deferReply(s, i)

	sess := h.sessionFor(s, i)
	ctx := context.Background()
	if err := sess.Connect(ctx, chID); err != nil {
		slog.Warn("voice connect failed", "guildID", guildID, "channelID", chID, "err", err)
		h.editReply(s, i, "couldn't connect to channel")
		return
	}

	if resolver.IsPlaylistRef(query) {
		pl, err := sess.AddPlaylist(ctx, query, memberID)
		if err != nil {
			slog.Debug("resolve playlist failed", "guildID", guildID, "query", query, "err", err)
			h.editReply(s, i, "no songs found")
			return
		}
		slog.Info("enqueued playlist", "guildID", guildID, "name", pl.Name, "count", len(pl.Items))
		h.editReply(s, i, fmt.Sprintf("**%s** added, %d tracks queuing up in the background", utils.EscapeMd(pl.Name), len(pl.Items)))
		return
	}

	t, err := sess.AddTrack(ctx, query, memberID, front)
	if err != nil {
		slog.Debug("resolve query failed", "guildID", guildID, "query", query, "err", err)
		h.editReply(s, i, "no songs found")
		return
	}
	where := ""
	if front {
		where = " front of the"
	}
	slog.Info("enqueued song", "guildID", guildID, "title", t.Title, "front", front)
	h.editReply(s, i, fmt.Sprintf("%s added to the%s queue", utils.EscapeMd(t.Title), where))
}

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var query string
	var front bool
	for _, o := range i.ApplicationCommandData().Options {
		switch o.Name {
		case "query":
			query = o.StringValue()
		case "immediate":
			front = o.BoolValue()
		}
	}
	slog.Info("cmd play", "guildID", i.GuildID, "userID", userIDOf(i), "query", query, "immediate", front)
	h.enqueue(s, i, query, front)
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "not currently playing", true)
		return
	}
	if err := sess.Pause(); err != nil {
		slog.Debug("pause failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd pause", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now red", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing to play", true)
		return
	}
	if err := sess.Resume(context.Background()); err != nil {
		slog.Debug("resume failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd resume", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "the stop-and-go light is now green", false)
}

func (h *CommandHandler) cmdNext(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "no song to skip to", true)
		return
	}
	if err := sess.Skip(context.Background()); err != nil {
		slog.Debug("next failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "no song to skip to", true)
		return
	}
	slog.Info("cmd next", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "skipped to next", false)
}

func (h *CommandHandler) cmdUnskip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "no song to go back to", true)
		return
	}
	if err := sess.Previous(context.Background()); err != nil {
		slog.Debug("unskip failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "no song to go back to", true)
		return
	}
	slog.Info("cmd unskip", "guildID", i.GuildID, "userID", userIDOf(i))
	if cur := h.currentOf(i.GuildID); cur != nil {
		h.reply(s, i, fmt.Sprintf("back 'er up, now playing %s", utils.EscapeMd(cur.Title)), false)
	} else {
		h.reply(s, i, "back 'er up", false)
	}
}

func (h *CommandHandler) currentOf(guildID string) *queue.Track {
	sess, ok := h.registry.Peek(guildID)
	if !ok {
		return nil
	}
	return sess.Snapshot().Current
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "not connected", true)
		return
	}
	sess.Destroy()
	slog.Info("cmd stop", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "u betcha, stopped", false)
}

func (h *CommandHandler) cmdClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing queued", true)
		return
	}
	if err := sess.Clear(); err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd clear queue", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "clearer than a field after a fresh harvest", false)
}

func (h *CommandHandler) cmdShuffle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing queued", true)
		return
	}
	if err := sess.Shuffle(); err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd shuffle", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "shuffled", false)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing is currently playing", true)
		return
	}
	snap := sess.Snapshot()
	if snap.Current == nil {
		h.reply(s, i, "nothing is currently playing", true)
		return
	}
	slog.Debug("cmd now-playing", "guildID", i.GuildID, "userID", userIDOf(i), "title", snap.Current.Title)
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{view.NowPlayingEmbed(snap)},
		},
	}); err != nil {
		slog.Warn("now-playing respond failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	set, err := h.repo.UpsertSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("get settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "failed to fetch settings", true)
		return
	}

	page := 1
	pageSize := set.QueuePageSize
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "page" {
			page = int(o.IntValue())
		} else if o.Name == "page-size" {
			pageSize = utils.Clamp(int(o.IntValue()), 1, 30)
		}
	}

	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "queue is empty", true)
		return
	}
	embed, err := view.QueueEmbed(sess.Snapshot(), page, pageSize)
	if err != nil {
		slog.Debug("build queue embed failed", "guildID", i.GuildID, "page", page, "pageSize", pageSize, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  1 << 6,
		},
	}); err != nil {
		slog.Warn("queue respond failed", "guildID", i.GuildID, "err", err)
	}
	slog.Debug("cmd queue", "guildID", i.GuildID, "userID", userIDOf(i), "page", page, "pageSize", pageSize)
}

func (h *CommandHandler) cmdRemove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	pos := 1
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "position" {
			pos = int(o.IntValue())
		}
	}
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing queued", true)
		return
	}
	t, err := sess.RemoveAt(pos - 1)
	if err != nil {
		slog.Debug("remove from queue failed", "guildID", i.GuildID, "pos", pos, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd remove", "guildID", i.GuildID, "userID", userIDOf(i), "pos", pos, "title", t.Title)
	h.reply(s, i, fmt.Sprintf(":wastebasket: removed %s", utils.EscapeMd(t.Title)), false)
}

func (h *CommandHandler) cmdMove(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var from, to int
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "from" {
			from = int(o.IntValue())
		}
		if o.Name == "to" {
			to = int(o.IntValue())
		}
	}
	if from < 1 || to < 1 {
		h.reply(s, i, "position must be at least 1", true)
		return
	}
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing queued", true)
		return
	}
	if err := sess.MoveAt(from-1, to-1); err != nil {
		slog.Debug("move failed", "guildID", i.GuildID, "from", from, "to", to, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd move", "guildID", i.GuildID, "userID", userIDOf(i), "from", from, "to", to)
	h.reply(s, i, fmt.Sprintf("moved song to position %d", to), false)
}

func (h *CommandHandler) cmdVolume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var level int
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "level" {
			level = int(o.IntValue())
		}
	}
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "not currently playing", true)
		return
	}
	if err := sess.SetVolume(context.Background(), level); err != nil {
		slog.Debug("volume failed", "guildID", i.GuildID, "level", level, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd volume", "guildID", i.GuildID, "userID", userIDOf(i), "level", level)
	h.reply(s, i, fmt.Sprintf("volume set to %d%%", sess.Snapshot().Volume), false)
}

func (h *CommandHandler) cmdLoop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var raw string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "mode" {
			raw = o.StringValue()
		}
	}
	mode, err := session.ParseLoopMode(raw)
	if err != nil {
		h.reply(s, i, "loop mode must be off, track or queue", true)
		return
	}
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "no song to loop!", true)
		return
	}
	if err := sess.SetLoop(mode); err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd loop", "guildID", i.GuildID, "userID", userIDOf(i), "mode", mode.String())
	h.reply(s, i, fmt.Sprintf("loop mode: %s", mode), false)
}

func (h *CommandHandler) cmdAutoplay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing playing yet", true)
		return
	}
	on, err := sess.ToggleAutoplay()
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd autoplay", "guildID", i.GuildID, "userID", userIDOf(i), "on", on)
	if on {
		h.reply(s, i, "autoplay on, the music never stops", false)
	} else {
		h.reply(s, i, "autoplay off", false)
	}
}

func (h *CommandHandler) cmdKaraoke(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing playing yet", true)
		return
	}
	on, err := sess.ToggleKaraoke(context.Background())
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd karaoke", "guildID", i.GuildID, "userID", userIDOf(i), "on", on)
	if on {
		h.reply(s, i, "🎤 karaoke time", false)
	} else {
		h.reply(s, i, "karaoke off", false)
	}
}

func (h *CommandHandler) cmdEffect(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var name string
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "name" {
			name = o.StringValue()
		}
	}
	if name == "off" {
		name = stream.EffectNone
	}
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing playing yet", true)
		return
	}
	if err := sess.SetEffect(context.Background(), name); err != nil {
		slog.Debug("effect failed", "guildID", i.GuildID, "effect", name, "err", err)
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd effect", "guildID", i.GuildID, "userID", userIDOf(i), "effect", name)
	if name == "" {
		h.reply(s, i, "effects cleared", false)
	} else {
		h.reply(s, i, fmt.Sprintf("effect set to %s", name), false)
	}
}

func (h *CommandHandler) cmdTone(s *discordgo.Session, i *discordgo.InteractionCreate, which string) {
	var gain int
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "gain" {
			gain = int(o.IntValue())
		}
	}
	sess, ok := h.registry.Peek(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing playing yet", true)
		return
	}
	var err error
	if which == "bass" {
		err = sess.SetBass(context.Background(), gain)
	} else {
		err = sess.SetTreble(context.Background(), gain)
	}
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd tone", "guildID", i.GuildID, "userID", userIDOf(i), "which", which, "gain", gain)
	h.reply(s, i, fmt.Sprintf("%s gain set to %d dB", which, gain), false)
}

func (h *CommandHandler) cmdFavorites(s *discordgo.Session, i *discordgo.InteractionCreate) {
	sub := i.ApplicationCommandData().Options[0]
	ctx := context.Background()
	switch sub.Name {
	case "create":
		var name, query string
		for _, o := range sub.Options {
			if o.Name == "name" {
				name = o.StringValue()
			} else if o.Name == "query" {
				query = o.StringValue()
			}
		}
		err := h.repo.AddFavorite(ctx, &repository.Favorite{
			GuildID: i.GuildID, Author: userIDOf(i), Name: name, Query: query,
		})
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				h.reply(s, i, "a favorite with that name already exists", true)
				return
			}
			slog.Warn("favorite create failed", "guildID", i.GuildID, "userID", userIDOf(i), "name", name, "err", err)
			h.reply(s, i, "failed to create favorite", true)
			return
		}
		slog.Info("favorite created", "guildID", i.GuildID, "userID", userIDOf(i), "name", name)
		h.reply(s, i, "👍 favorite created", false)
	case "remove":
		var name string
		for _, o := range sub.Options {
			if o.Name == "name" {
				name = o.StringValue()
			}
		}
		f, err := h.repo.FindFavorite(ctx, i.GuildID, name)
		if err != nil {
			h.reply(s, i, "no favorite with that name exists", true)
			return
		}
		if f.Author != userIDOf(i) {
			h.reply(s, i, "you can only remove your own favorites", true)
			return
		}
		if _, err := h.repo.RemoveFavorite(ctx, i.GuildID, name); err != nil {
			slog.Warn("favorite remove failed", "guildID", i.GuildID, "userID", userIDOf(i), "name", name, "err", err)
			h.reply(s, i, "failed to remove favorite", true)
			return
		}
		slog.Info("favorite removed", "guildID", i.GuildID, "userID", userIDOf(i), "name", name)
		h.reply(s, i, "👍 favorite removed", false)
	case "list":
		items, err := h.repo.ListFavorites(ctx, i.GuildID)
		if err != nil {
			slog.Warn("favorite list failed", "guildID", i.GuildID, "err", err)
		}
		if len(items) == 0 {
			h.reply(s, i, "there aren't any favorites yet", false)
			return
		}
		var b strings.Builder
		for _, f := range items {
			fmt.Fprintf(&b, "• %s: %s (<@%s>)\n", f.Name, f.Query, f.Author)
		}
		slog.Debug("favorite list", "guildID", i.GuildID, "count", len(items))
		h.reply(s, i, b.String(), true)
	case "use":
		var name string
		var front bool
		for _, o := range sub.Options {
			switch o.Name {
			case "name":
				name = o.StringValue()
			case "immediate":
				front = o.BoolValue()
			}
		}
		f, err := h.repo.FindFavorite(ctx, i.GuildID, name)
		if err != nil {
			h.reply(s, i, "no favorite with that name exists", true)
			return
		}
		slog.Info("favorite used", "guildID", i.GuildID, "userID", userIDOf(i), "name", name)
		h.enqueue(s, i, f.Query, front)
	}
}

func (h *CommandHandler) cmdStats(s *discordgo.Session, i *discordgo.InteractionCreate) {
	limit := 10
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "limit" {
			limit = utils.Clamp(int(o.IntValue()), 1, 30)
		}
	}
	rows, err := h.repo.TopPlays(context.Background(), i.GuildID, limit)
	if err != nil {
		slog.Warn("top plays failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "failed to fetch stats", true)
		return
	}
	if len(rows) == 0 {
		h.reply(s, i, "no plays recorded yet", true)
		return
	}
	var b strings.Builder
	b.WriteString("**Most played:**\n")
	for n, r := range rows {
		title := r.Title
		if r.Artist != "" {
			title = r.Artist + " - " + title
		}
		fmt.Fprintf(&b, "`%d.` %s (%d plays)\n", n+1, utils.EscapeMd(title), r.PlayCount)
	}
	slog.Debug("cmd stats", "guildID", i.GuildID, "count", len(rows))
	h.reply(s, i, b.String(), false)
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx := context.Background()
	set, err := h.repo.UpsertSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("get settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "failed to fetch config", true)
		return
	}

	sub := i.ApplicationCommandData().Options[0]
	switch sub.Name {
	case "get":
		idle := "never leave"
		if set.IdleTimeoutSec > 0 {
			idle = fmt.Sprintf("%ds", set.IdleTimeoutSec)
		}
		msg := fmt.Sprintf(
			"Config\n- Playlist Limit: %d\n- Idle timeout: %s\n- Auto announce next song: %t\n- Default volume: %d\n- Default queue page size: %d",
			set.PlaylistLimit, idle, set.AutoAnnounceNext, set.DefaultVolume, set.QueuePageSize,
		)
		slog.Debug("config get", "guildID", i.GuildID)
		h.reply(s, i, msg, false)
	case "set-playlist-limit":
		limit := int(sub.Options[0].IntValue())
		if limit < 1 {
			h.reply(s, i, "invalid limit", true)
			return
		}
		set.PlaylistLimit = limit
		_ = h.repo.UpdateSettings(ctx, set)
		slog.Info("config updated", "guildID", i.GuildID, "key", "PlaylistLimit", "value", limit)
		h.reply(s, i, "👍 limit updated", false)
	case "set-idle-timeout":
		secs := int(sub.Options[0].IntValue())
		if secs < 0 {
			h.reply(s, i, "invalid timeout", true)
			return
		}
		set.IdleTimeoutSec = secs
		_ = h.repo.UpdateSettings(ctx, set)
		slog.Info("config updated", "guildID", i.GuildID, "key", "IdleTimeoutSec", "value", secs)
		h.reply(s, i, "👍 idle timeout updated, applies to the next session", false)
	case "set-default-volume":
		val := utils.Clamp(int(sub.Options[0].IntValue()), 0, stream.MaxVolume)
		set.DefaultVolume = val
		_ = h.repo.UpdateSettings(ctx, set)
		slog.Info("config updated", "guildID", i.GuildID, "key", "DefaultVolume", "value", val)
		h.reply(s, i, "👍 volume setting updated", false)
	case "set-default-queue-page-size":
		val := utils.Clamp(int(sub.Options[0].IntValue()), 1, 30)
		set.QueuePageSize = val
		_ = h.repo.UpdateSettings(ctx, set)
		slog.Info("config updated", "guildID", i.GuildID, "key", "QueuePageSize", "value", val)
		h.reply(s, i, "👍 default queue page size updated", false)
	case "set-auto-announce-next-song":
		val := sub.Options[0].BoolValue()
		set.AutoAnnounceNext = val
		_ = h.repo.UpdateSettings(ctx, set)
		slog.Info("config updated", "guildID", i.GuildID, "key", "AutoAnnounceNext", "value", val)
		h.reply(s, i, "👍 auto announce setting updated", false)
	}
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i == nil || i.Member == nil || i.Member.User == nil {
		return ""
	}
	return i.Member.User.ID
}
