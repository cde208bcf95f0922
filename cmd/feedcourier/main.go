package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"

	"github.com/feedcourier/feedcourier/pkg/config"
	"github.com/feedcourier/feedcourier/pkg/feed"
	"github.com/feedcourier/feedcourier/pkg/notify"
	"github.com/feedcourier/feedcourier/pkg/repository"
	"github.com/feedcourier/feedcourier/pkg/scheduler"
	"github.com/feedcourier/feedcourier/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`
	Listen string `short:"l" long:"listen" env:"LISTEN" description:"listen address, overrides config"`

	// Common options
	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug)

	log.Printf("[INFO] starting feedcourier version %s", revision)

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// handle termination signals
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Print("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, cfg, opts.Debug); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	log.Print("[INFO] shutdown complete")
}

// run wires dependencies and blocks until the context is canceled
func run(ctx context.Context, cfg *config.Config, debug bool) error {
	repos, err := repository.NewRepositories(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init repositories: %w", err)
	}
	defer func() {
		if err := repos.Close(); err != nil {
			log.Printf("[WARN] failed to close repositories: %v", err)
		}
	}()

	fetcher := feed.NewFetcher(feed.FetcherConfig{
		Timeout:      cfg.Fetch.Timeout,
		UserAgent:    cfg.Fetch.UserAgent,
		MaxBodySize:  cfg.Fetch.MaxBodySize,
		PerHostLimit: cfg.Fetch.PerHostLimit,
	})
	notifier := notify.NewWebhookNotifier(cfg.Webhook.Timeout, cfg.Fetch.UserAgent)

	sched := scheduler.NewScheduler(repos.Source, repos.Forwarded, fetcher, notifier, scheduler.Config{
		Tick:            cfg.Schedule.Tick,
		DefaultInterval: cfg.Schedule.DefaultInterval,
		MinInterval:     cfg.Schedule.MinInterval,
		MaxInterval:     cfg.Schedule.MaxInterval,
		MaxItemsPerPoll: cfg.Schedule.MaxItemsPerPoll,
		Retention:       time.Duration(cfg.Schedule.RetentionDays) * 24 * time.Hour,
	})
	sched.Start(ctx)
	defer sched.Stop()

	discoverer := feed.NewDiscoverer(cfg.Fetch.Timeout, cfg.Fetch.UserAgent, cfg.Fetch.MaxBodySize)

	srv := server.New(repos.Source, sched, discoverer, fetcher, server.Config{
		Listen:          cfg.Server.Listen,
		Timeout:         cfg.Server.Timeout,
		Version:         revision,
		Debug:           debug,
		DefaultInterval: cfg.Schedule.DefaultInterval,
		WarmupCycles:    cfg.Schedule.WarmupCycles,
	})

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// loadConfig reads the config file, falling back to defaults when the
// default path doesn't exist and no explicit path was given
func loadConfig(opts Opts) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(opts.Config); err == nil {
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}
	return cfg, nil
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Out(io.Discard), lgr.Err(io.Discard)}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))
	if len(secs) > 0 {
		logOpts = append(logOpts, lgr.Secret(secs...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
