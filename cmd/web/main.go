// Command web runs the music enrichment API. Settings come from an optional
// TOML file, a .env file and the process environment; see pkg/config.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"Music-Enrich-Go/pkg/handlers"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("could not read .env file")
	}

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "music-enrich",
		Usage: "Aggregate track and artist data from SpotOnTrack, Spotify and Muso.AI",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("MUSIC_ENRICH_CONFIG"),
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP API",
				Action: serve,
			},
			{
				Name:  "health",
				Usage: "Probe every configured provider and exit non-zero when none is healthy",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-provider probe timeout",
						Value: handlers.DefaultHealthTimeout,
					},
				},
				Action: health,
			},
		},
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	svc, err := buildService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pruneLoop(ctx, svc.limiter, svc.limiter.Window(), log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           svc.app.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":  cfg.Server.Addr,
			"env":   cfg.Server.Env,
			"store": cfg.RateLimit.Store,
		}).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

func health(ctx context.Context, cmd *cli.Command) error {
	cfg, log, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}
	svc, err := buildService(cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()
	return checkProviders(ctx, svc.aggregator.Providers(), cmd.Duration("timeout"), os.Stdout)
}
