// This file holds the rate limited Muso.AI search endpoints.

package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"Music-Enrich-Go/pkg/music"
	"Music-Enrich-Go/pkg/musoai"
	"Music-Enrich-Go/pkg/ratelimit"
)

// musoKeyPrefix namespaces limiter keys for the Muso.AI search route.
const musoKeyPrefix = "muso_search"

type rateLimitBody struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Used      int   `json:"used"`
	ResetTime int64 `json:"resetTime"`
	ResetIn   int   `json:"resetIn"`
}

func newRateLimitBody(limit, used, remaining int, reset, now time.Time) rateLimitBody {
	in := int(math.Ceil(reset.Sub(now).Seconds()))
	if in < 0 {
		in = 0
	}
	return rateLimitBody{
		Limit:     limit,
		Remaining: remaining,
		Used:      used,
		ResetTime: reset.UnixMilli(),
		ResetIn:   in,
	}
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
}

// MusoSearch runs ?q= against Muso.AI after charging the caller one slot of
// the per-IP window.
func (app *Application) MusoSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		respondJSONError(w, http.StatusBadRequest, "q is required")
		return
	}
	kind, err := musoai.ParseSearchKind(q.Get("type"))
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
	if app.Muso == nil || app.MusoLimiter == nil {
		app.respondError(w, r, music.NotConfigured(music.ProviderMusoAI, "search"))
		return
	}

	d, err := app.MusoLimiter.TryAcquire(r.Context(), ratelimit.Key(musoKeyPrefix, app.clientIP(r)))
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	setRateLimitHeaders(w, d)
	if !d.Allowed {
		now := app.MusoLimiter.Now()
		body := newRateLimitBody(d.Limit, d.Limit, 0, d.ResetTime, now)
		w.Header().Set("Retry-After", strconv.Itoa(body.ResetIn))
		respondJSON(w, http.StatusTooManyRequests, envelope{
			"success":   false,
			"error":     "rate limit exceeded, try again later",
			"rateLimit": body,
		})
		return
	}

	res, err := app.Muso.Search(r.Context(), query, kind, limit)
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{"success": true, "data": res})
}

// MusoRateLimit reports the caller's current window without consuming it.
func (app *Application) MusoRateLimit(w http.ResponseWriter, r *http.Request) {
	if app.MusoLimiter == nil {
		app.respondError(w, r, music.NotConfigured(music.ProviderMusoAI, "rate_limit"))
		return
	}
	u, err := app.MusoLimiter.Status(r.Context(), ratelimit.Key(musoKeyPrefix, app.clientIP(r)))
	if err != nil {
		app.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, envelope{
		"success":   true,
		"rateLimit": newRateLimitBody(u.Limit, u.Count, u.Remaining, u.ResetTime, app.MusoLimiter.Now()),
	})
}
