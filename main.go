package main

import (
	"context"
	"discord-moderation/alts"
	"discord-moderation/bot"
	"discord-moderation/config"
	"discord-moderation/cooldown"
	"discord-moderation/ledger"
	"discord-moderation/logger"
	"discord-moderation/platform"
	"discord-moderation/sanction"
	"discord-moderation/utils/database/infractions"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	logFile, err := logger.Setup(cfg.Logger)
	if err != nil {
		log.Fatalf("Error setting up logging: %v", err)
	}
	defer logFile.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	db, err := infractions.Init(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Error initializing database: %v", err)
	}
	defer db.Close()

	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		log.Fatalf("Error creating session: %v", err)
	}

	provider := config.NewProvider(cfg)
	discord := platform.NewDiscord(session, provider, cfg.Sweep.RevokeRate)
	provider.SetResolver(discord)
	prompter := platform.NewPrompter(session)

	l := ledger.New(db, discord, provider)
	detector := cooldown.New(prompter,
		cooldown.WithWindow(cfg.Cooldown.Window),
		cooldown.WithTimeout(cfg.Cooldown.ConfirmationTimeout))
	opts := []sanction.Option{sanction.WithRevokeRate(rate.Limit(cfg.Sweep.RevokeRate), 1)}
	if cfg.SystemActorID != "" {
		opts = append(opts, sanction.WithSystemActor(cfg.SystemActorID))
	}

	b := bot.New(cfg, session, bot.Services{
		Ledger:    l,
		Detector:  detector,
		Sanctions: sanction.New(db, l, detector, discord, provider, opts...),
		Alts:      alts.New(db),
	}, prompter)

	if err := b.Load(context.Background()); err != nil {
		log.Fatalf("Error loading state: %v", err)
	}

	metrics := serveMetrics(cfg.Metrics.Listen)

	if err := b.Run(); err != nil {
		log.Fatalf("Error starting bot: %v", err)
	}

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	b.Close()
	if metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(ctx); err != nil {
			log.Printf("Error stopping metrics server: %v", err)
		}
	}
}

// serveMetrics exposes /metrics on addr. It returns nil when addr is empty.
func serveMetrics(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Printf("Serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Metrics server failed: %v", err)
		}
	}()
	return srv
}
