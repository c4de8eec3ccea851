// Package musoai is the Muso.AI provider, the source of songwriter and
// producer credits. Muso.AI enforces a strict request quota, so every
// outbound request first waits on a shared rate.Limiter.
package musoai

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"Music-Enrich-Go/pkg/music"
	"Music-Enrich-Go/pkg/upstream"
)

const (
	// DefaultBaseURL is the production API host.
	DefaultBaseURL = "https://api.developer.muso.ai"

	// DefaultRate and DefaultBurst pace outbound requests.
	DefaultRate  = 5
	DefaultBurst = 5

	defaultLimit = 10
	maxLimit     = 50
)

// SearchKind selects what a search returns.
type SearchKind string

const (
	KindProfile SearchKind = "profile"
	KindTrack   SearchKind = "track"
)

// ParseSearchKind accepts "artist" or "profile" for profiles and "track" for
// tracks; an empty string means profiles.
func ParseSearchKind(s string) (SearchKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "artist", "profile":
		return KindProfile, nil
	case "track":
		return KindTrack, nil
	}
	return "", music.InvalidInput(music.ProviderMusoAI, "search", "type must be artist or track")
}

// Client talks to the Muso.AI developer API.
type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
	Pacer   *rate.Limiter
	Log     logrus.FieldLogger
}

var _ music.Provider = (*Client)(nil)

// New returns a client for apiKey. A nil pacer allows DefaultRate requests
// per second with DefaultBurst.
func New(apiKey string, hc *http.Client, pacer *rate.Limiter, log logrus.FieldLogger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: upstream.DefaultTimeout}
	}
	if pacer == nil {
		pacer = rate.NewLimiter(DefaultRate, DefaultBurst)
	}
	return &Client{APIKey: apiKey, BaseURL: DefaultBaseURL, HTTP: hc, Pacer: pacer, Log: log}
}

func (c *Client) api() *upstream.Client {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	uc := &upstream.Client{
		Provider: music.ProviderMusoAI,
		BaseURL:  base,
		HTTP:     c.HTTP,
		Authorize: func(r *http.Request) {
			r.Header.Set("x-api-key", c.APIKey)
		},
	}
	if c.Pacer != nil {
		uc.Wait = c.Pacer.Wait
	}
	return uc
}

func (c *Client) Name() string { return music.ProviderMusoAI }

func (c *Client) Configured() bool { return c.APIKey != "" }

type profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl"`
	CreditCount int    `json:"creditCount"`
}

type collaborator struct {
	Name string `json:"name"`
}

type credit struct {
	Role          string         `json:"role"`
	Collaborators []collaborator `json:"collaborators"`
}

type track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ISRC        string `json:"isrc"`
	Duration    int    `json:"duration"`
	ReleaseDate string `json:"releaseDate"`
	Album       struct {
		Title    string `json:"title"`
		AlbumArt string `json:"albumArt"`
	} `json:"album"`
	Artists []collaborator `json:"artists"`
	Credits []credit       `json:"credits"`
}

type searchResponse struct {
	Data struct {
		Profiles struct {
			Items []profile `json:"items"`
		} `json:"profiles"`
		Tracks struct {
			Items []track `json:"items"`
		} `json:"tracks"`
	} `json:"data"`
}

// SearchResult holds whichever list the search kind asked for; the other is
// empty.
type SearchResult struct {
	Artists []music.ArtistRecord `json:"artists"`
	Tracks  []music.TrackRecord  `json:"tracks"`
}

// Search queries /v4/search. limit is clamped to [1, 50] and defaults to 10.
func (c *Client) Search(ctx context.Context, query string, kind SearchKind, limit int) (*SearchResult, error) {
	const op = "search"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, music.InvalidInput(music.ProviderMusoAI, op, "keyword is required")
	}
	if !c.Configured() {
		return nil, music.NotConfigured(music.ProviderMusoAI, op)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	q := url.Values{
		"keyword": {query},
		"type":    {string(kind)},
		"limit":   {strconv.Itoa(limit)},
	}
	var resp searchResponse
	if err := c.api().GetJSON(ctx, op+"_"+string(kind), "/v4/search", q, &resp); err != nil {
		return nil, err
	}

	res := &SearchResult{Artists: []music.ArtistRecord{}, Tracks: []music.TrackRecord{}}
	for _, p := range resp.Data.Profiles.Items {
		res.Artists = append(res.Artists, music.ArtistRecord{
			ProviderArtistID: p.ID,
			Name:             p.Name,
			ImageURL:         p.AvatarURL,
			Source:           music.ProviderMusoAI,
		})
	}
	for _, t := range resp.Data.Tracks.Items {
		res.Tracks = append(res.Tracks, t.record())
	}
	return res, nil
}

func (t track) record() music.TrackRecord {
	r := music.TrackRecord{
		ISRC:        strings.ToUpper(strings.TrimSpace(t.ISRC)),
		Title:       t.Title,
		AlbumName:   t.Album.Title,
		ReleaseDate: t.ReleaseDate,
		ArtworkURL:  t.Album.AlbumArt,
		Sources:     []string{music.ProviderMusoAI},
	}
	if t.Duration > 0 {
		r.DurationMs = music.IntPtr(t.Duration)
	}
	for _, a := range t.Artists {
		r.ArtistNames = append(r.ArtistNames, a.Name)
	}
	for _, cr := range t.Credits {
		for _, p := range cr.Collaborators {
			r.Credits = append(r.Credits, music.Credit{Name: p.Name, Role: cr.Role})
		}
	}
	return r
}

// SearchArtist returns matching Muso.AI profiles.
func (c *Client) SearchArtist(ctx context.Context, name string) ([]music.ArtistRecord, error) {
	res, err := c.Search(ctx, name, KindProfile, defaultLimit)
	if err != nil {
		return nil, err
	}
	return res.Artists, nil
}

// SearchTracks returns matching tracks with their credits.
func (c *Client) SearchTracks(ctx context.Context, query string) ([]music.TrackRecord, error) {
	res, err := c.Search(ctx, query, KindTrack, defaultLimit)
	if err != nil {
		return nil, err
	}
	return res.Tracks, nil
}

// HealthCheck runs a one-result profile search.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	q := url.Values{"keyword": {"test"}, "type": {string(KindProfile)}, "limit": {"1"}}
	return c.api().Probe(ctx, "health", "/v4/search", q)
}
