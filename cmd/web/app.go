package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"Music-Enrich-Go/pkg/config"
	"Music-Enrich-Go/pkg/db"
	"Music-Enrich-Go/pkg/handlers"
	"Music-Enrich-Go/pkg/music"
	"Music-Enrich-Go/pkg/musoai"
	"Music-Enrich-Go/pkg/ratelimit"
	"Music-Enrich-Go/pkg/spotify"
	"Music-Enrich-Go/pkg/spotontrack"
)

// newLogger builds the process logger from the [log] section. Unknown levels
// fall back to info.
func newLogger(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// service holds everything the serve and health commands need.
type service struct {
	app        *handlers.Application
	aggregator *music.Aggregator
	limiter    *ratelimit.Limiter
	closers    []io.Closer
}

func (s *service) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newLimiterStore opens the window store named by the [rate_limit] section.
func newLimiterStore(cfg config.RateLimitConfig) (ratelimit.Store, io.Closer, error) {
	switch cfg.Store {
	case "sqlite":
		d, err := db.New(cfg.DatabasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open rate limit database: %w", err)
		}
		return d, d, nil
	default:
		return ratelimit.NewMemoryStore(), nil, nil
	}
}

// buildService wires the providers, in priority order, into the aggregator
// and the handler application.
func buildService(cfg *config.Config, log *logrus.Logger) (*service, error) {
	creds := cfg.Credentials

	sot := spotontrack.New(creds.SpotOnTrack.APIKey, nil, log)
	sp := spotify.New(spotify.Config{
		ClientID:     creds.Spotify.ClientID,
		ClientSecret: creds.Spotify.ClientSecret,
		Timeout:      cfg.Providers.Timeout.Duration,
	}, log)
	pacer := rate.NewLimiter(rate.Limit(cfg.MusoAI.PacingRPS), cfg.MusoAI.PacingBurst)
	muso := musoai.New(creds.MusoAI.APIKey, nil, pacer, log)

	for _, p := range []music.Provider{sot, sp, muso} {
		log.WithFields(logrus.Fields{
			"provider":   p.Name(),
			"configured": p.Configured(),
		}).Info("provider registered")
	}

	proxies, err := cfg.ProxyPrefixes()
	if err != nil {
		return nil, err
	}
	store, closer, err := newLimiterStore(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	svc := &service{
		aggregator: music.NewAggregator(log, cfg.Providers.Timeout.Duration, sot, sp, muso),
		limiter:    ratelimit.New(store, cfg.RateLimit.Limit, cfg.RateLimit.Window.Duration),
	}
	if closer != nil {
		svc.closers = append(svc.closers, closer)
	}
	svc.app = &handlers.Application{
		Spotify:        sp,
		Aggregator:     svc.aggregator,
		Analytics:      sot,
		Muso:           muso,
		MusoLimiter:    svc.limiter,
		Log:            log,
		Production:     cfg.Production(),
		TrustedProxies: proxies,
	}
	return svc, nil
}

// pruneLoop drops expired limiter windows every interval until ctx ends.
func pruneLoop(ctx context.Context, l *ratelimit.Limiter, interval time.Duration, log logrus.FieldLogger) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := l.Prune(ctx)
			if err != nil {
				log.WithError(err).Warn("rate limit prune failed")
				continue
			}
			if n > 0 {
				log.WithField("removed", n).Debug("pruned rate limit windows")
			}
		}
	}
}

// checkProviders probes every configured provider and writes one line per
// provider to out. It fails when no configured provider is healthy.
func checkProviders(ctx context.Context, providers []music.Provider, timeout time.Duration, out io.Writer) error {
	healthy, configured := 0, 0
	for _, p := range providers {
		if !p.Configured() {
			fmt.Fprintf(out, "%-12s not configured\n", p.Name())
			continue
		}
		configured++
		pctx, cancel := context.WithTimeout(ctx, timeout)
		ok := p.HealthCheck(pctx)
		cancel()
		if ok {
			healthy++
			fmt.Fprintf(out, "%-12s healthy\n", p.Name())
		} else {
			fmt.Fprintf(out, "%-12s unhealthy\n", p.Name())
		}
	}
	if configured == 0 {
		return fmt.Errorf("no providers configured")
	}
	if healthy == 0 {
		return fmt.Errorf("all %d configured providers are unhealthy", configured)
	}
	return nil
}

func loadConfig(path string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log, os.Stderr), nil
}
