package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/image-poet/config"
	"github.com/raine/image-poet/internal/api"
	"github.com/raine/image-poet/internal/app"
	"github.com/raine/image-poet/internal/bot"
	"github.com/raine/image-poet/internal/janitor"
	"github.com/raine/image-poet/internal/metrics"
	"github.com/raine/image-poet/internal/storage"
)

const logFileName = "image-poet.log"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		fatalWithWait("invalid config: %v", err)
	}

	// The Telegram keys are only needed when the bot runs; with HTTP_ADDR
	// set the API can run on its own.
	missing := cfg.MissingModelKeys()
	if cfg.HTTPAddr == "" {
		missing = append(missing, cfg.MissingBotKeys()...)
	}
	if len(missing) > 0 {
		if !isInteractiveTerminal() {
			fatalWithWait("missing required config: %s", strings.Join(missing, ", "))
		}
		if !runSetupWizard(missing) {
			waitOnWindows()
			os.Exit(1)
		}
		if cfg, err = config.Load(); err != nil {
			fatalWithWait("invalid config: %v", err)
		}
	}

	// JOURNAL_STREAM is set by systemd, and journald keeps the logs there
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			fatalWithWait("failed to open log file: %v", err)
		}
		defer logFile.Close()

		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
		fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
		log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
		log.Info().Str("logFile", logFileName).Msg("logging to file")
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fatalWithWait("failed to initialize store: %v", err)
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("store initialized")

	metrics.Register()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	services, err := app.NewServices(ctx, cfg, store)
	if err != nil {
		fatalWithWait("failed to initialize models: %v", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.BotToken != "" {
		tg, err := tgbotapi.NewBotAPI(cfg.BotToken)
		if err != nil {
			fatalWithWait("failed to initialize telegram bot: %v", err)
		}
		tg.Debug = false
		log.Info().Str("username", tg.Self.UserName).Msg("authorized on account")
		bot.RegisterCommands(tg)

		b := bot.NewBot(tg, store, services.Analyzer, services.Composer, cfg.AdminID)
		defer b.Shutdown()
		g.Go(func() error {
			return runBot(ctx, tg, b)
		})
	}

	if cfg.CaptionCacheDays > 0 {
		janitorService := janitor.NewService(store, time.Duration(cfg.CaptionCacheDays)*24*time.Hour)
		g.Go(func() error {
			janitorService.Run(ctx)
			return nil
		})
	}

	if cfg.HTTPAddr != "" {
		server := api.NewServer(ctx, services.Captioner, services.Analyzer, services.Composer, store)
		g.Go(func() error {
			return server.ListenAndServe(ctx, cfg.HTTPAddr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

func runBot(ctx context.Context, tg *tgbotapi.BotAPI, b *bot.Bot) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := tg.GetUpdatesChan(updateConfig)

	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			tg.StopReceivingUpdates()
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}
