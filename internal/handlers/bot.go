package handlers

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/hikarunoir/aria/internal/config"
	"github.com/hikarunoir/aria/internal/repository"
	"github.com/hikarunoir/aria/internal/resolver"
	"github.com/hikarunoir/aria/internal/session"
	"github.com/hikarunoir/aria/internal/stream"
)

type Bot struct {
	cfg      *config.Config
	repo     *repository.Repo
	registry *session.Registry
	cmd      *CommandHandler
}

func NewBot(cfg *config.Config, repo *repository.Repo) *Bot {
	registry := session.NewRegistry()
	svc := resolver.NewService(cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.PlaylistLimit)
	cmd := NewCommandHandler(cfg, repo, registry, svc, stream.NewProvider())
	return &Bot{cfg: cfg, repo: repo, registry: registry, cmd: cmd}
}

func (b *Bot) Run(ctx context.Context) error {
	dg, err := discordgo.New("Bot " + b.cfg.DiscordToken)
	if err != nil {
		return err
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	// On ready: register commands depending on configuration
	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected", "user", s.State.User.Username)
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				slog.Error("register global commands", "err", err)
			} else {
				slog.Info("registered global application commands")
			}
		} else {
			var wg sync.WaitGroup
			for _, g := range s.State.Guilds {
				wg.Add(1)
				go func(guildID string) {
					defer wg.Done()
					if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
						slog.Error("register guild commands", "guild", guildID, "err", err)
					}
				}(g.ID)
			}
			wg.Wait()

			if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
				slog.Error("clear global commands", "err", err)
			}
			slog.Info("registered commands on all guilds")
		}
	})

	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot {
			return
		}
		appID := s.State.User.ID
		if err := b.cmd.RegisterCommands(s, appID, g.ID); err != nil {
			slog.Error("register guild commands on join", "guild", g.ID, "err", err)
		} else {
			slog.Info("registered commands on new guild", "guild", g.ID)
		}
	})

	// Interactions
	dg.AddHandler(b.cmd.HandleInteraction)

	// Tear the session down when the bot itself gets kicked from voice.
	dg.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if vs.UserID != s.State.User.ID || vs.ChannelID != "" {
			return
		}
		if sess, ok := b.registry.Peek(vs.GuildID); ok {
			slog.Info("bot removed from voice, destroying session", "guildID", vs.GuildID)
			sess.Destroy()
		}
	})

	if err := dg.Open(); err != nil {
		return err
	}
	defer dg.Close()

	<-ctx.Done()
	b.registry.DestroyAll()
	return nil
}
