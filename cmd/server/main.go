package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/tlw-bit/cherbot/internal/config"
	"github.com/tlw-bit/cherbot/internal/giveaway"
	"github.com/tlw-bit/cherbot/internal/handlers"
	"github.com/tlw-bit/cherbot/internal/middleware"
	"github.com/tlw-bit/cherbot/internal/platform"
	"github.com/tlw-bit/cherbot/internal/raffle"
	"github.com/tlw-bit/cherbot/internal/sched"
	"github.com/tlw-bit/cherbot/internal/store"
	"github.com/tlw-bit/cherbot/internal/xp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().
		Timestamp().
		Str("instance", uuid.NewString()).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backend store.Backend
	if cfg.LibsqlURL != "" {
		lb, err := store.NewLibsqlBackend(cfg.LibsqlURL, cfg.LibsqlAuthToken)
		if err != nil {
			log.Fatal().Err(err).Msg("libsql backend")
		}
		defer lb.Close()
		backend = lb
		log.Info().Msg("state persisted to libsql")
	} else {
		backend = store.NewFileBackend(cfg.DataFile)
		log.Info().Str("file", cfg.DataFile).Msg("state persisted to disk")
	}

	st, err := store.Open(ctx, backend, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open state")
	}

	clock := clockwork.NewRealClock()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	scheduler, err := sched.New(clock, log, cfg.SweepInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}
	scheduler.Start()
	defer scheduler.Stop()

	ledger := raffle.NewLedger(clock)
	raffles := raffle.NewEngine(st, ledger, clock, rng, scheduler, log)
	raffles.MiniWindow = cfg.MiniClaimWindow
	giveaways := giveaway.New(st, clock, rng, scheduler, log)
	tracker := xp.New(st, clock, rng, cfg.XPMin, cfg.XPMax, cfg.XPCooldown, log)

	tg, err := platform.NewTelegram(cfg.TelegramToken, cfg.AdminIDs, cfg.AllowedChats, log)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram")
	}

	bot := handlers.NewBot(cfg, tg, raffles, giveaways, tracker, log)

	// Deadlines persisted before the last shutdown fire again, and the
	// sweep catches any giveaway whose timer never got re-armed.
	raffles.RearmTimers()
	giveaways.RearmTimers()
	scheduler.Every("giveaway:sweep", func(ctx context.Context, _ string) {
		giveaways.Sweep(ctx)
	})

	auth := &middleware.AdminAuth{
		BotToken:      cfg.TelegramToken,
		AdminIDs:      cfg.AdminIDs,
		AdminPassword: cfg.AdminPassword,
		Log:           log,
	}
	api := handlers.NewAPI(st, raffles, giveaways, tracker, auth, log)

	go tg.Listen(ctx, bot)

	if err := api.Serve(ctx, ":"+cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("http server")
	}
}
