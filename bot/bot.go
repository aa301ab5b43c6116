package bot

import (
	"context"
	"discord-moderation/alts"
	"discord-moderation/config"
	"discord-moderation/cooldown"
	"discord-moderation/ledger"
	"discord-moderation/platform"
	"discord-moderation/sanction"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"
)

// Services are the moderation components the bot drives.
type Services struct {
	Ledger    *ledger.Ledger
	Detector  *cooldown.Detector
	Sanctions *sanction.Service
	Alts      *alts.Graph
}

type Bot struct {
	Session   *discordgo.Session
	cfg       *config.Config
	services  Services
	prompter  *platform.Prompter
	scheduler *Scheduler
}

// New creates a bot for an unopened session. The prompter may be nil when duplicate
// confirmations are disabled.
func New(cfg *config.Config, session *discordgo.Session, services Services, prompter *platform.Prompter) *Bot {
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsDirectMessages
	return &Bot{
		Session:   session,
		cfg:       cfg,
		services:  services,
		prompter:  prompter,
		scheduler: NewScheduler(services, session, cfg.Sweep),
	}
}

// Load restores the active sanctions and the alt graph from the database.
func (b *Bot) Load(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.services.Sanctions.Load(ctx) })
	g.Go(func() error { return b.services.Alts.Load(ctx) })
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load moderation state: %w", err)
	}
	return nil
}

// Run opens the gateway connection and starts the scheduler.
func (b *Bot) Run() error {
	b.Session.AddHandler(b.onReady)
	b.Session.AddHandler(b.onGuildCreate)
	if b.prompter != nil {
		b.Session.AddHandler(b.prompter.HandleInteraction)
	}

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}
	b.scheduler.Start()
	log.Println("Bot is now running.")
	return nil
}

// Close stops the scheduler before the gateway connection goes away.
func (b *Bot) Close() {
	log.Println("Gracefully shutting down.")
	b.scheduler.Stop()
	if err := b.Session.Close(); err != nil {
		log.Printf("Error closing session: %v", err)
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	log.Printf("Logged in as %s, %d guilds", r.User.Username, len(r.Guilds))
	if b.cfg.SystemActorID == "" {
		b.services.Sanctions.SetSystemActor(r.User.ID)
	}
}

// onGuildCreate loads the guild's infractions once the guild becomes available.
func (b *Bot) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	if g.Unavailable {
		return
	}
	if err := b.services.Ledger.Hydrate(context.Background(), g.ID); err != nil {
		log.Printf("[Bot] Failed to load infractions for guild %s: %v", g.ID, err)
		return
	}
	log.Printf("[Bot] Guild %s (%s) is available", g.Name, g.ID)
}
