// Package music defines the normalized records and provider interfaces shared
// by every music-data integration. Provider packages (spotify, spotontrack,
// musoai) translate their raw JSON into these shapes so the Aggregator and the
// HTTP handlers never see provider-specific fields.
//
// Optional values are pointers so a field a provider does not report is left
// out of the JSON output instead of being rendered as a misleading zero.
package music

import (
	"context"
	"fmt"
	"strings"
)

// Provider names used in logs, metrics and availability reports.
const (
	ProviderSpotify     = "spotify"
	ProviderSpotOnTrack = "spotontrack"
	ProviderMusoAI      = "musoai"
)

// Credit is a contributor credit for a recording. Only Muso.AI supplies
// credits.
type Credit struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// TrackRecord is a track remapped from a provider response.
type TrackRecord struct {
	ISRC        string   `json:"isrc,omitempty"`
	Title       string   `json:"title"`
	ArtistNames []string `json:"artists"`
	AlbumName   string   `json:"album,omitempty"`
	ReleaseDate string   `json:"releaseDate,omitempty"`
	ArtworkURL  string   `json:"artworkUrl,omitempty"`
	DurationMs  *int     `json:"durationMs,omitempty"`
	Popularity  *int     `json:"popularity,omitempty"`
	Credits     []Credit `json:"credits,omitempty"`
	// Sources lists the providers that contributed to the record in merge
	// order.
	Sources []string `json:"sources,omitempty"`
}

// LeadArtist returns the first credited artist or "" when none is known.
func (t TrackRecord) LeadArtist() string {
	if len(t.ArtistNames) == 0 {
		return ""
	}
	return t.ArtistNames[0]
}

// ArtistRecord is an artist remapped from a provider response. Providers
// without an artist endpoint derive it from the first artist of a track.
type ArtistRecord struct {
	ProviderArtistID string   `json:"id,omitempty"`
	Name             string   `json:"name"`
	ImageURL         string   `json:"imageUrl,omitempty"`
	Genres           []string `json:"genres,omitempty"`
	Followers        *int     `json:"followers,omitempty"`
	Popularity       *int     `json:"popularity,omitempty"`
	Streams          *int64   `json:"streams,omitempty"`
	Source           string   `json:"source,omitempty"`
}

// Availability reports what a single provider contributed to an
// EnrichedResult.
type Availability struct {
	// Status is one of "ok", "empty", "error" or "not_configured".
	Status string `json:"status"`
	// Kind is the error kind when Status is "error".
	Kind   string `json:"kind,omitempty"`
	Tracks int    `json:"tracks"`
}

// Availability statuses.
const (
	StatusOK            = "ok"
	StatusEmpty         = "empty"
	StatusError         = "error"
	StatusNotConfigured = "not_configured"
)

// Metrics accompanies an EnrichedResult.
type Metrics struct {
	PerProviderAvailability map[string]Availability `json:"perProviderAvailability"`
}

// EnrichedResult is the union of whatever the configured providers returned
// for one query. Artist is nil and Tracks is empty when nothing matched.
type EnrichedResult struct {
	Artist  *ArtistRecord `json:"artist"`
	Tracks  []TrackRecord `json:"tracks"`
	Metrics Metrics       `json:"metrics"`
}

// Outcome is the settled result of one provider call: exactly one of Value or
// Err is meaningful. Callers resolve it by switching on KindOf(Err).
type Outcome[T any] struct {
	Provider string
	Value    T
	Err      error
}

// Timeframe selects the window used by trending lookups.
type Timeframe string

// Supported timeframes.
const (
	Daily   Timeframe = "daily"
	Weekly  Timeframe = "weekly"
	Monthly Timeframe = "monthly"
)

// ParseTimeframe validates s. An empty string selects Weekly.
func ParseTimeframe(s string) (Timeframe, error) {
	switch tf := Timeframe(strings.ToLower(strings.TrimSpace(s))); tf {
	case "":
		return Weekly, nil
	case Daily, Weekly, Monthly:
		return tf, nil
	default:
		return "", &Error{Op: "trending", Kind: KindInvalidInput, Err: fmt.Errorf("unknown timeframe %q", s)}
	}
}

// Provider is implemented by every external music-data client.
type Provider interface {
	// Name returns one of the Provider* constants.
	Name() string

	// Configured reports whether credentials are present. Unconfigured
	// providers are skipped by the Aggregator.
	Configured() bool

	// SearchArtist returns artists matching name. An empty slice is a
	// valid "nothing found" answer.
	SearchArtist(ctx context.Context, name string) ([]ArtistRecord, error)

	// SearchTracks returns tracks matching the free-text query.
	SearchTracks(ctx context.Context, query string) ([]TrackRecord, error)

	// HealthCheck issues a known-good query and reports whether the
	// provider answered with a 2xx and a parseable body. It never panics.
	HealthCheck(ctx context.Context) bool
}

// TrackLookup is implemented by providers that can fetch a track by their own
// identifier.
type TrackLookup interface {
	TrackByID(ctx context.Context, id string) (*TrackRecord, error)
}

// TrendingSource is implemented by providers that expose some popularity or
// stream signal usable for trending approximation.
type TrendingSource interface {
	TrendingArtists(ctx context.Context, tf Timeframe, limit int) ([]ArtistRecord, error)
}

// TimeframeIgnorer is implemented by trending sources whose ranking does not
// depend on the requested Timeframe. Sources without it are assumed to
// honour the timeframe.
type TimeframeIgnorer interface {
	IgnoresTimeframe() bool
}

// IntPtr returns a pointer to v. Provider mappers use it for optional fields.
func IntPtr(v int) *int { return &v }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
