package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ticket-reservation-bot/config"
	"ticket-reservation-bot/control"
	"ticket-reservation-bot/engine"
	"ticket-reservation-bot/health"
	"ticket-reservation-bot/metrics"
	"ticket-reservation-bot/queues"
	qpubsub "ticket-reservation-bot/queues/pubsub"
	"ticket-reservation-bot/ticketapi"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

var version = "source"

type flags struct {
	event        string
	threads      int
	autoStart    bool
	priorityFile string
	showVersion  bool
}

func parseFlags(args []string) (*pflag.FlagSet, *flags, error) {
	f := &flags{}
	fs := pflag.NewFlagSet("ticket-reservation-bot", pflag.ContinueOnError)
	fs.StringVar(&f.event, "event", "", "event (product) id to poll; overrides BOT_EVENT_ID")
	fs.IntVar(&f.threads, "threads", 0, "number of workers; overrides BOT_THREAD_COUNT")
	fs.BoolVar(&f.autoStart, "auto-start", false, "start a session at boot using BOT_BEARER_TOKEN")
	fs.StringVar(&f.priorityFile, "priority-file", "", "YAML priority list; overrides BOT_PRIORITIES and BOT_PRIORITY_FILE")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")
	err := fs.Parse(args)
	return fs, f, err
}

func applyFlags(cfg *config.Config, fs *pflag.FlagSet, f *flags) error {
	if fs.Changed("event") {
		cfg.EventID = strings.TrimSpace(f.event)
	}
	if fs.Changed("threads") {
		cfg.ThreadCount = f.threads
	}
	if fs.Changed("auto-start") {
		cfg.AutoStart = f.autoStart
	}
	if fs.Changed("priority-file") {
		return cfg.UsePriorityFile(f.priorityFile)
	}
	return nil
}

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func main() {
	setLogger("info")

	fs, f, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatal().Err(err).Msg("invalid command line")
	}
	if f.showVersion {
		fmt.Println(version)
		return
	}

	log.Info().Msgf("Starting ticket-reservation-bot version: %s", version)
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := applyFlags(cfg, fs, f); err != nil {
		log.Fatal().Err(err).Msg("failed to apply command line overrides")
	}
	setLogger(cfg.LogLevel)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	// Context and shutdown handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := ticketapi.NewClient(cfg.APIBaseURL, ticketapi.WithSignedReservations(cfg.SignReservations))

	opts := []engine.Option{engine.WithStagger(cfg.BootStagger)}
	var publisher *qpubsub.Publisher
	if cfg.PubsubEnabled() && cfg.PubsubTopic != "" {
		if cfg.CredentialsFile != "" {
			log.Info().Str("credsFile", cfg.CredentialsFile).Msg("using explicit Google credentials file")
		} else {
			log.Info().Msg("using default Google credentials (ambient)")
		}
		publisher = qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.PubsubTopic, cfg.CredentialsFile)
		opts = append(opts, engine.WithPublisher(publisher))
	}
	manager, err := engine.NewManager(client, cfg.Settings(), opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid startup settings")
	}
	handler := control.NewHandler(manager, client, control.DefaultLookupTimeout)

	// Metrics, health and control HTTP server
	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, func() string { return string(manager.State()) })
	mux.Handle("/api/", control.NewRouter(handler))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting control/metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	if cfg.PubsubEnabled() && cfg.Subscription != "" {
		var subscriber queues.Subscriber = qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.Subscription, cfg.CredentialsFile)
		go func() {
			log.Info().Str("subscription", cfg.Subscription).Msg("starting control subscriber loop")
			if err := subscriber.Start(ctx, handler.HandleCommand); err != nil {
				// Non-recoverable: if we can't receive from Pub/Sub, terminate the process
				log.Fatal().Err(err).Msg("subscriber exited with fatal error; shutting down")
			}
		}()
	}

	if cfg.AutoStart {
		if err := manager.Start(ctx, cfg.BearerToken); err != nil {
			log.Error().Err(err).Msg("auto-start rejected; waiting for a start command")
		}
	}

	// Block until shutdown
	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("session notices still pending at shutdown")
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("pubsub publisher close failed")
		}
	}
	log.Info().Msg("shutdown complete")
}
