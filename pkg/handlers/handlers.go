// This file holds the Application type and the music data endpoints.

package handlers

import (
	"context"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"Music-Enrich-Go/pkg/music"
	"Music-Enrich-Go/pkg/musoai"
	"Music-Enrich-Go/pkg/ratelimit"
	"Music-Enrich-Go/pkg/spotontrack"
)

// ArtistSearcher looks artists up in a single provider.
type ArtistSearcher interface {
	SearchArtist(ctx context.Context, name string) ([]music.ArtistRecord, error)
}

// Enricher is the subset of *music.Aggregator used by the handlers.
type Enricher interface {
	EnrichTrack(ctx context.Context, q music.EnrichQuery) (*music.EnrichedResult, error)
	TrendingArtists(ctx context.Context, tf music.Timeframe, limit int) (*music.TrendingResult, error)
	Providers() []music.Provider
}

// AnalyticsSource serves per-track chart and playlist data.
type AnalyticsSource interface {
	GetTrackAnalytics(ctx context.Context, isrc string) (*spotontrack.AnalyticsRecord, error)
}

// MusoSearcher runs raw Muso.AI searches.
type MusoSearcher interface {
	Search(ctx context.Context, query string, kind musoai.SearchKind, limit int) (*musoai.SearchResult, error)
}

// DefaultHealthTimeout bounds each provider probe on /api/status.
const DefaultHealthTimeout = 5 * time.Second

// Application bundles the dependencies used by the HTTP handlers. Nil
// dependencies make their routes answer with a not_configured error.
type Application struct {
	Spotify     ArtistSearcher
	Aggregator  Enricher
	Analytics   AnalyticsSource
	Muso        MusoSearcher
	MusoLimiter *ratelimit.Limiter
	Log         logrus.FieldLogger
	// Production hides upstream response bodies from error payloads.
	Production    bool
	HealthTimeout time.Duration
	// TrustedProxies are the peers allowed to name the caller through
	// X-Forwarded-For or X-Real-IP. Empty means the connection address is
	// always used.
	TrustedProxies []netip.Prefix
}

// Routes registers every endpoint and wraps the mux in the middleware chain.
func (app *Application) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/search/artist", app.SearchArtist)
	mux.HandleFunc("GET /api/track/enriched", app.EnrichedTrack)
	mux.HandleFunc("GET /api/trending/artists", app.TrendingArtists)
	mux.HandleFunc("GET /api/track/analytics", app.TrackAnalytics)
	mux.HandleFunc("GET /api/search/muso", app.MusoSearch)
	mux.HandleFunc("GET /api/search/muso/rate-limit", app.MusoRateLimit)
	mux.HandleFunc("GET /api/status", app.Status)
	mux.Handle("GET /metrics", promhttp.Handler())
	return app.middleware(mux)
}

// middleware applies, outermost first: request ID, access log and metrics,
// then panic recovery, then security headers. Recovery sits inside Observe
// so a panicking request is still logged and counted with its request ID.
func (app *Application) middleware(next http.Handler) http.Handler {
	return app.Observe(app.Recover(SecurityHeaders(next)))
}

// SearchArtist answers with Spotify's best match for ?name=, or a null
// artist when nothing matched.
func (app *Application) SearchArtist(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		respondJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if app.Spotify == nil {
		app.respondError(w, r, music.NotConfigured(music.ProviderSpotify, "search_artist"))
		return
	}
	artists, err := app.Spotify.SearchArtist(r.Context(), name)
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	var artist *music.ArtistRecord
	if len(artists) > 0 {
		artist = &artists[0]
		for i := range artists {
			if music.NormalizeKey(artists[i].Name) == music.NormalizeKey(name) {
				artist = &artists[i]
				break
			}
		}
	}
	respondJSON(w, http.StatusOK, envelope{"success": true, "artist": artist, "error": nil})
}

// EnrichedTrack merges every configured provider's view of a track.
func (app *Application) EnrichedTrack(w http.ResponseWriter, r *http.Request) {
	if app.Aggregator == nil {
		app.respondError(w, r, music.NotConfigured("", "enrich"))
		return
	}
	q := r.URL.Query()
	res, err := app.Aggregator.EnrichTrack(r.Context(), music.EnrichQuery{
		Title:   q.Get("title"),
		Artist:  q.Get("artist"),
		TrackID: q.Get("trackId"),
	})
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{"success": true, "data": res})
}

// TrendingArtists returns the popularity ranking. The ranking is an
// approximation and the payload says so; "sources" tells which providers
// actually ranked for the requested timeframe.
func (app *Application) TrendingArtists(w http.ResponseWriter, r *http.Request) {
	if app.Aggregator == nil {
		app.respondError(w, r, music.NotConfigured("", "trending"))
		return
	}
	q := r.URL.Query()
	tf, err := music.ParseTimeframe(q.Get("timeframe"))
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			respondJSONError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
	}
	res, err := app.Aggregator.TrendingArtists(r.Context(), tf, music.ClampTrendingLimit(limit))
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{
		"success": true,
		"data": envelope{
			"timeframe":     tf,
			"approximation": true,
			"artists":       res.Artists,
			"sources":       res.Sources,
		},
	})
}

// TrackAnalytics returns SpotOnTrack chart and playlist data for ?isrc=.
func (app *Application) TrackAnalytics(w http.ResponseWriter, r *http.Request) {
	if app.Analytics == nil {
		app.respondError(w, r, music.NotConfigured(music.ProviderSpotOnTrack, "analytics"))
		return
	}
	rec, err := app.Analytics.GetTrackAnalytics(r.Context(), r.URL.Query().Get("isrc"))
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{"success": true, "data": rec})
}

type providerStatus struct {
	Configured bool `json:"configured"`
	Healthy    bool `json:"healthy"`
}

// Status probes every provider concurrently.
func (app *Application) Status(w http.ResponseWriter, r *http.Request) {
	if app.Aggregator == nil {
		respondJSON(w, http.StatusOK, envelope{"success": true, "providers": map[string]providerStatus{}})
		return
	}
	timeout := app.HealthTimeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	providers := app.Aggregator.Providers()
	out := make(map[string]providerStatus, len(providers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st := providerStatus{Configured: p.Configured()}
			if st.Configured {
				ctx, cancel := context.WithTimeout(r.Context(), timeout)
				st.Healthy = p.HealthCheck(ctx)
				cancel()
			}
			mu.Lock()
			out[p.Name()] = st
			mu.Unlock()
		}()
	}
	wg.Wait()
	respondJSON(w, http.StatusOK, envelope{"success": true, "providers": out})
}
