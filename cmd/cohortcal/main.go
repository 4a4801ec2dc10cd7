package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"cohortcal/internal/config"
	appLog "cohortcal/internal/log"
	"cohortcal/internal/metrics"
	"cohortcal/internal/refresh"
	"cohortcal/internal/service"
	"cohortcal/internal/web"
)

const version = "0.1.0"

func main() {
	// .env is optional.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		appLog.Error("cohortcal failed", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "cohortcal",
		Usage:   "Normalize cohort class schedules and serve them as calendar events.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "./cohortcal.yaml",
				Usage:   "Path to config file",
				EnvVars: []string{"COHORTCAL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			importCommand(),
			pasteCommand(),
			teachersCommand(),
			colorsCommand(),
			eventsCommand(),
			tableCommand(),
			publishCommand(),
		},
	}
}

// openService loads config and builds the shared service. A config that
// cannot be read or written is reported and replaced by defaults.
func openService(c *cli.Context) (*service.Service, *config.Config) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		appLog.Warn("config unavailable; using defaults", "config_path", path, "err", err)
	}

	level := cfg.LogLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	return service.New(path, cfg), cfg
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP API.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config if set)"},
		},
		Action: func(c *cli.Context) error {
			svc, cfg := openService(c)
			listen := cfg.Listen
			if c.String("listen") != "" {
				listen = c.String("listen")
			}

			appLog.Info("cohortcal starting",
				"version", version,
				"listen", listen,
				"schedule_path", cfg.SchedulePath,
				"refresh", cfg.RefreshCron,
				"watch_schedule", cfg.WatchSchedule,
			)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics.Init()

			cronSpec := cfg.RefreshCron
			if err := refresh.ValidateSpec(cronSpec); err != nil {
				appLog.Warn("periodic refresh disabled", "err", err)
				cronSpec = ""
			}
			opts := refresh.Options{CronSpec: cronSpec}
			if cfg.WatchSchedule {
				if err := os.MkdirAll(filepath.Dir(cfg.SchedulePath), 0o700); err != nil {
					return err
				}
				opts.WatchPath = cfg.SchedulePath
			}
			r := refresh.New(svc, opts)
			if err := r.Start(ctx); err != nil {
				return err
			}
			defer r.Stop()

			err := web.StartServer(ctx, svc, listen)
			if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
				err = nil
			}
			appLog.Info("cohortcal exiting")
			return err
		},
	}
}
