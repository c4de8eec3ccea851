package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"Music-Enrich-Go/pkg/config"
	"Music-Enrich-Go/pkg/music"
	"Music-Enrich-Go/pkg/ratelimit"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("expected debug level got %s", log.GetLevel())
	}
	log.WithField("k", "v").Info("hello")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil || line["k"] != "v" || line["msg"] != "hello" {
		t.Errorf("expected json log line, got %q", buf.String())
	}

	log = newLogger(config.LogConfig{Level: "loud"}, &buf)
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %s", log.GetLevel())
	}
	if _, ok := log.Formatter.(*logrus.TextFormatter); !ok {
		t.Errorf("expected text formatter got %T", log.Formatter)
	}
}

func quietLogger() *logrus.Logger {
	return newLogger(config.LogConfig{Level: "panic"}, &bytes.Buffer{})
}

// TestBuildServiceWithoutCredentials checks that the server starts with no
// keys at all and reports every provider as unconfigured.
func TestBuildServiceWithoutCredentials(t *testing.T) {
	svc, err := buildService(config.Default(), quietLogger())
	if err != nil {
		t.Fatalf("buildService: %v", err)
	}
	defer svc.Close()

	var names []string
	for _, p := range svc.aggregator.Providers() {
		names = append(names, p.Name())
	}
	want := []string{music.ProviderSpotOnTrack, music.ProviderSpotify, music.ProviderMusoAI}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("unexpected provider order %v", names)
	}
	if svc.limiter.Limit() != 30 || svc.limiter.Window() != time.Minute {
		t.Errorf("unexpected limiter %d/%s", svc.limiter.Limit(), svc.limiter.Window())
	}

	rr := httptest.NewRecorder()
	svc.app.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var body struct {
		Providers map[string]struct {
			Configured bool `json:"configured"`
			Healthy    bool `json:"healthy"`
		} `json:"providers"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(body.Providers) != 3 {
		t.Fatalf("expected 3 providers got %v", body.Providers)
	}
	for name, st := range body.Providers {
		if st.Configured || st.Healthy {
			t.Errorf("%s should be unconfigured: %+v", name, st)
		}
	}

	rr = httptest.NewRecorder()
	svc.app.Routes().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/track/enriched?title=x", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 without providers got %d", rr.Code)
	}
}

func TestBuildServiceSQLiteStore(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Store = "sqlite"
	cfg.RateLimit.DatabasePath = filepath.Join(t.TempDir(), "limits.db")
	cfg.RateLimit.Limit = 2

	svc, err := buildService(cfg, quietLogger())
	if err != nil {
		t.Fatalf("buildService: %v", err)
	}
	defer svc.Close()
	if len(svc.closers) != 1 {
		t.Fatalf("expected the database to be registered for closing")
	}

	ctx := context.Background()
	key := ratelimit.Key("muso_search", "192.0.2.1")
	for i := 0; i < 2; i++ {
		if d, err := svc.limiter.TryAcquire(ctx, key); err != nil || !d.Allowed {
			t.Fatalf("acquire %d: %+v %v", i, d, err)
		}
	}
	if d, _ := svc.limiter.TryAcquire(ctx, key); d.Allowed {
		t.Error("third acquire should be denied")
	}
}

func TestBuildServiceTrustedProxies(t *testing.T) {
	cfg := config.Default()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8", "127.0.0.1"}
	svc, err := buildService(cfg, quietLogger())
	if err != nil {
		t.Fatalf("buildService: %v", err)
	}
	defer svc.Close()
	if got := svc.app.TrustedProxies; len(got) != 2 || got[1].String() != "127.0.0.1/32" {
		t.Errorf("unexpected trusted proxies %v", got)
	}

	cfg.Server.TrustedProxies = []string{"not-an-ip"}
	if _, err := buildService(cfg, quietLogger()); err == nil {
		t.Error("expected an error for a malformed proxy entry")
	}
}

func TestPruneLoopStopsWithContext(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	l := ratelimit.New(store, 1, time.Minute)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Now = func() time.Time { return start }
	if _, err := l.TryAcquire(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	l.Now = func() time.Time { return start.Add(2 * time.Minute) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pruneLoop(ctx, l, 5*time.Millisecond, quietLogger())
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok, _ := store.Peek(context.Background(), "k", start); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired window was never pruned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pruneLoop did not return after cancel")
	}
}

type stubProvider struct {
	name       string
	configured bool
	healthy    bool
}

func (p stubProvider) Name() string     { return p.name }
func (p stubProvider) Configured() bool { return p.configured }
func (p stubProvider) SearchArtist(context.Context, string) ([]music.ArtistRecord, error) {
	return nil, nil
}
func (p stubProvider) SearchTracks(context.Context, string) ([]music.TrackRecord, error) {
	return nil, nil
}
func (p stubProvider) HealthCheck(context.Context) bool { return p.healthy }

func TestCheckProviders(t *testing.T) {
	var out bytes.Buffer
	err := checkProviders(context.Background(), []music.Provider{
		stubProvider{name: "a", configured: true, healthy: false},
		stubProvider{name: "b", configured: true, healthy: true},
		stubProvider{name: "c"},
	}, time.Second, &out)
	if err != nil {
		t.Fatalf("one healthy provider should pass: %v", err)
	}
	for _, want := range []string{"a            unhealthy", "b            healthy", "c            not configured"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}

	if err := checkProviders(context.Background(), []music.Provider{stubProvider{name: "a", configured: true}}, time.Second, &out); err == nil {
		t.Error("expected failure when every provider is unhealthy")
	}
	if err := checkProviders(context.Background(), []music.Provider{stubProvider{name: "a"}}, time.Second, &out); err == nil {
		t.Error("expected failure when nothing is configured")
	}
}

func TestCommandLayout(t *testing.T) {
	cmd := newCommand()
	var names []string
	for _, c := range cmd.Commands {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "serve,health" {
		t.Errorf("unexpected subcommands %v", names)
	}
	if cmd.Action == nil {
		t.Error("root command should default to serving")
	}
}
