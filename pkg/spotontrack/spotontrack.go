// Package spotontrack is the SpotOnTrack provider. SpotOnTrack is keyed by
// ISRC and is the preferred source of identifiers and artwork; it also serves
// the chart, playlist and stream analytics behind GetTrackAnalytics.
package spotontrack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"Music-Enrich-Go/pkg/music"
	"Music-Enrich-Go/pkg/upstream"
)

// DefaultBaseURL is the production API host.
const DefaultBaseURL = "https://www.spotontrack.com"

// Client talks to the SpotOnTrack REST API with a bearer API key.
type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
	Log     logrus.FieldLogger
}

var (
	_ music.Provider       = (*Client)(nil)
	_ music.TrendingSource = (*Client)(nil)
)

// New returns a client for apiKey. A nil hc uses a client with
// upstream.DefaultTimeout.
func New(apiKey string, hc *http.Client, log logrus.FieldLogger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: upstream.DefaultTimeout}
	}
	return &Client{APIKey: apiKey, BaseURL: DefaultBaseURL, HTTP: hc, Log: log}
}

func (c *Client) api() *upstream.Client {
	base := c.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	return &upstream.Client{
		Provider:  music.ProviderSpotOnTrack,
		BaseURL:   base,
		HTTP:      c.HTTP,
		Authorize: upstream.Bearer(c.APIKey),
	}
}

func (c *Client) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func (c *Client) Name() string { return music.ProviderSpotOnTrack }

func (c *Client) Configured() bool { return c.APIKey != "" }

type apiArtist struct {
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Image string      `json:"image"`
}

type apiTrack struct {
	ISRC        string      `json:"isrc"`
	Name        string      `json:"name"`
	Artwork     string      `json:"artwork"`
	ReleaseDate string      `json:"release_date"`
	Artists     []apiArtist `json:"artists"`
}

func (t apiTrack) record() music.TrackRecord {
	r := music.TrackRecord{
		ISRC:        strings.ToUpper(strings.TrimSpace(t.ISRC)),
		Title:       t.Name,
		ReleaseDate: t.ReleaseDate,
		ArtworkURL:  t.Artwork,
		Sources:     []string{music.ProviderSpotOnTrack},
	}
	for _, a := range t.Artists {
		r.ArtistNames = append(r.ArtistNames, a.Name)
	}
	return r
}

func (c *Client) searchRaw(ctx context.Context, op, query string) ([]apiTrack, error) {
	if !c.Configured() {
		return nil, music.NotConfigured(music.ProviderSpotOnTrack, op)
	}
	var tracks []apiTrack
	err := c.api().GetJSON(ctx, op, "/api/v1/tracks", url.Values{"query": {query}}, &tracks)
	return tracks, err
}

// SearchTracks searches the SpotOnTrack catalogue.
func (c *Client) SearchTracks(ctx context.Context, query string) ([]music.TrackRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, music.InvalidInput(music.ProviderSpotOnTrack, "search_tracks", "query is required")
	}
	raw, err := c.searchRaw(ctx, "search_tracks", query)
	if err != nil {
		return nil, err
	}
	tracks := make([]music.TrackRecord, 0, len(raw))
	for _, t := range raw {
		tracks = append(tracks, t.record())
	}
	return tracks, nil
}

// SearchArtist has no dedicated endpoint upstream. Artists are inferred from
// the lead artist of each track matching name, first occurrence wins.
func (c *Client) SearchArtist(ctx context.Context, name string) ([]music.ArtistRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, music.InvalidInput(music.ProviderSpotOnTrack, "search_artist", "artist name is required")
	}
	raw, err := c.searchRaw(ctx, "search_artist", name)
	if err != nil {
		return nil, err
	}
	artists := []music.ArtistRecord{}
	seen := map[string]bool{}
	for _, t := range raw {
		if len(t.Artists) == 0 {
			continue
		}
		a := t.Artists[0]
		key := music.NormalizeKey(a.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		artists = append(artists, music.ArtistRecord{
			ProviderArtistID: a.ID.String(),
			Name:             a.Name,
			ImageURL:         a.Image,
			Source:           music.ProviderSpotOnTrack,
		})
	}
	return artists, nil
}

// AnalyticsRecord is the chart, playlist and stream data for one track.
// Sections that could not be fetched hold an empty list and are named in
// Degraded.
type AnalyticsRecord struct {
	ISRC             string            `json:"isrc"`
	Track            music.TrackRecord `json:"track"`
	SpotifyCharts    json.RawMessage   `json:"spotifyCharts"`
	SpotifyPlaylists json.RawMessage   `json:"spotifyPlaylists"`
	DeezerPlaylists  json.RawMessage   `json:"deezerPlaylists"`
	ApplePlaylists   json.RawMessage   `json:"applePlaylists"`
	SpotifyStreams   json.RawMessage   `json:"spotifyStreams"`
	Degraded         []string          `json:"degraded"`
}

var emptyList = json.RawMessage("[]")

// GetTrackAnalytics resolves isrc and then fetches every analytics section in
// parallel. Only a failure to resolve the track fails the call.
func (c *Client) GetTrackAnalytics(ctx context.Context, isrc string) (*AnalyticsRecord, error) {
	const op = "analytics"
	isrc = strings.ToUpper(strings.TrimSpace(isrc))
	if isrc == "" {
		return nil, music.InvalidInput(music.ProviderSpotOnTrack, op, "isrc is required")
	}
	if !c.Configured() {
		return nil, music.NotConfigured(music.ProviderSpotOnTrack, op)
	}

	api := c.api()
	trackPath := "/api/v1/tracks/" + url.PathEscape(isrc)
	var primary []apiTrack
	if err := api.GetJSON(ctx, op, trackPath, nil, &primary); err != nil {
		return nil, err
	}
	if len(primary) == 0 {
		return nil, &music.Error{Provider: music.ProviderSpotOnTrack, Op: op, Kind: music.KindNotFound}
	}

	rec := &AnalyticsRecord{ISRC: isrc, Track: primary[0].record()}
	sections := []struct {
		name string
		path string
		dst  *json.RawMessage
	}{
		{"spotifyCharts", "/spotify/charts", &rec.SpotifyCharts},
		{"spotifyPlaylists", "/spotify/playlists", &rec.SpotifyPlaylists},
		{"deezerPlaylists", "/deezer/playlists", &rec.DeezerPlaylists},
		{"applePlaylists", "/apple/playlists", &rec.ApplePlaylists},
		{"spotifyStreams", "/spotify/streams", &rec.SpotifyStreams},
	}
	failed := make([]bool, len(sections))

	var g errgroup.Group
	for i, s := range sections {
		g.Go(func() error {
			var body json.RawMessage
			if err := api.GetJSON(ctx, op+"_"+s.name, trackPath+s.path, nil, &body); err != nil {
				c.logger().WithFields(logrus.Fields{
					"provider": music.ProviderSpotOnTrack,
					"op":       op,
					"section":  s.name,
					"kind":     music.KindOf(err).String(),
				}).Warn("analytics section unavailable")
				*s.dst = emptyList
				failed[i] = true
				return nil
			}
			*s.dst = body
			return nil
		})
	}
	_ = g.Wait()

	rec.Degraded = []string{}
	for i, s := range sections {
		if failed[i] {
			rec.Degraded = append(rec.Degraded, s.name)
		}
	}
	return rec, nil
}

type chartEntry struct {
	Position int      `json:"position"`
	Streams  int64    `json:"streams"`
	Track    apiTrack `json:"track"`
}

// TrendingArtists sums chart streams per lead artist for tf and ranks the
// artists by that total.
func (c *Client) TrendingArtists(ctx context.Context, tf music.Timeframe, limit int) ([]music.ArtistRecord, error) {
	const op = "trending"
	if !c.Configured() {
		return nil, music.NotConfigured(music.ProviderSpotOnTrack, op)
	}
	var entries []chartEntry
	if err := c.api().GetJSON(ctx, op, "/api/v1/spotify/charts/"+string(tf), nil, &entries); err != nil {
		return nil, err
	}

	artists := []music.ArtistRecord{}
	index := map[string]int{}
	for _, e := range entries {
		if len(e.Track.Artists) == 0 {
			continue
		}
		a := e.Track.Artists[0]
		key := music.NormalizeKey(a.Name)
		if key == "" {
			continue
		}
		i, ok := index[key]
		if !ok {
			artists = append(artists, music.ArtistRecord{
				ProviderArtistID: a.ID.String(),
				Name:             a.Name,
				ImageURL:         a.Image,
				Streams:          music.Int64Ptr(0),
				Source:           music.ProviderSpotOnTrack,
			})
			i = len(artists) - 1
			index[key] = i
		}
		*artists[i].Streams += e.Streams
	}
	sort.SliceStable(artists, func(i, j int) bool {
		return *artists[i].Streams > *artists[j].Streams
	})
	if limit > 0 && len(artists) > limit {
		artists = artists[:limit]
	}
	return artists, nil
}

// HealthCheck runs a fixed catalogue search.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	return c.api().Probe(ctx, "health", "/api/v1/tracks", url.Values{"query": {"test"}})
}
