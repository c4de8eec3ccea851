// Package spotify wraps the official Spotify client library as a
// music.Provider. It authenticates with the client credentials flow and keeps
// the resulting access token in memory until it expires; the next call after
// expiry fetches a new one.
//
// The wrapped library does not accept a context, so every catalogue call runs
// in its own goroutine and the caller stops waiting as soon as ctx is done.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zmb3/spotify"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"Music-Enrich-Go/pkg/metrics"
	"Music-Enrich-Go/pkg/music"
	"Music-Enrich-Go/pkg/upstream"
)

const (
	// DefaultTimeout bounds each catalogue and token request.
	DefaultTimeout = 10 * time.Second

	artistSearchLimit = 5
	trackSearchLimit  = 10
	trendingPool      = 50
)

// searcher defines the subset of the spotify.Client used by this package.
// It allows the concrete client to be replaced in tests.
type searcher interface {
	SearchOpt(query string, t spotify.SearchType, opt *spotify.Options) (*spotify.SearchResult, error)
	GetTrack(id spotify.ID) (*spotify.FullTrack, error)
}

// Config holds the application credentials from the Spotify developer
// dashboard. TokenURL defaults to spotify.TokenURL.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
	// Transport is the base round tripper for token and catalogue requests.
	Transport http.RoundTripper
}

// Client is the Spotify provider. The zero value is unusable; build one with
// New.
type Client struct {
	cfg Config
	log logrus.FieldLogger
	now func() time.Time

	// newSearcher builds a catalogue client that authenticates with tok.
	newSearcher func(tok *oauth2.Token) searcher

	mu     sync.Mutex
	token  *oauth2.Token
	expiry time.Time
}

var (
	_ music.Provider       = (*Client)(nil)
	_ music.TrackLookup    = (*Client)(nil)
	_ music.TrendingSource = (*Client)(nil)
)

// New returns a client for cfg. Missing credentials are not an error here;
// calls report music.KindNotConfigured instead.
func New(cfg Config, log logrus.FieldLogger) *Client {
	if cfg.TokenURL == "" {
		cfg.TokenURL = spotify.TokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}
	c := &Client{cfg: cfg, log: log, now: time.Now}
	c.newSearcher = c.catalogue
	return c
}

func (c *Client) catalogue(tok *oauth2.Token) searcher {
	hc := &http.Client{
		Timeout: c.cfg.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(tok),
			Base:   c.cfg.Transport,
		},
	}
	sc := spotify.NewClient(hc)
	return &sc
}

func (c *Client) Name() string { return music.ProviderSpotify }

func (c *Client) Configured() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// AccessToken returns the cached application token, fetching a new one when
// none is cached or the cached one has expired. Concurrent callers share a
// single fetch.
func (c *Client) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	if !c.Configured() {
		return nil, music.NotConfigured(music.ProviderSpotify, "token")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != nil && c.now().Before(c.expiry) {
		return c.token, nil
	}

	cc := &clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.TokenURL,
	}
	hc := &http.Client{Timeout: c.cfg.Timeout, Transport: c.cfg.Transport}
	started := time.Now()
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, hc))
	if err != nil {
		e := tokenError(err)
		metrics.ObserveProvider(music.ProviderSpotify, "token", e.Kind.String(), started)
		return nil, e
	}
	metrics.ObserveProvider(music.ProviderSpotify, "token", "ok", started)

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = c.now().Add(time.Hour)
	}
	c.token, c.expiry = tok, expiry
	c.log.WithFields(logrus.Fields{"provider": music.ProviderSpotify, "expiry": expiry}).Debug("fetched access token")
	return tok, nil
}

// tokenError maps a token endpoint failure. Spotify answers bad client
// credentials with 400 invalid_client, so 400 counts as unauthorized too.
func tokenError(err error) *music.Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		e := upstream.ErrorFromStatus(music.ProviderSpotify, "token", re.Response.StatusCode, re.Body, re.Response.Header)
		if re.Response.StatusCode == http.StatusBadRequest {
			e.Kind = music.KindUnauthorized
		}
		if e.Err == nil {
			e.Err = err
		}
		return e
	}
	return music.NewError(music.ProviderSpotify, "token", music.KindUnknown, err)
}

// apiError maps an error from the wrapped library.
func apiError(op string, err error) error {
	var se spotify.Error
	if errors.As(err, &se) {
		e := upstream.ErrorFromStatus(music.ProviderSpotify, op, se.Status, nil, nil)
		if se.Message != "" {
			e.Err = errors.New(se.Message)
		}
		return e
	}
	return music.NewError(music.ProviderSpotify, op, music.KindUnknown, err)
}

// do obtains a token, then runs fn against a catalogue client while honouring
// ctx.
func do[T any](ctx context.Context, c *Client, op string, fn func(searcher) (T, error)) (T, error) {
	var zero T
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return zero, err
	}
	s := c.newSearcher(tok)

	type result struct {
		v   T
		err error
	}
	started := time.Now()
	ch := make(chan result, 1)
	go func() {
		v, err := fn(s)
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		err := music.NewError(music.ProviderSpotify, op, music.KindUnknown, ctx.Err())
		metrics.ObserveProvider(music.ProviderSpotify, op, err.Kind.String(), started)
		return zero, err
	case r := <-ch:
		if r.err != nil {
			err := apiError(op, r.err)
			metrics.ObserveProvider(music.ProviderSpotify, op, music.KindOf(err).String(), started)
			return zero, err
		}
		metrics.ObserveProvider(music.ProviderSpotify, op, "ok", started)
		return r.v, nil
	}
}

// SearchArtist returns up to five artists matching name in Spotify's
// relevance order.
func (c *Client) SearchArtist(ctx context.Context, name string) ([]music.ArtistRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, music.InvalidInput(music.ProviderSpotify, "search_artist", "artist name is required")
	}
	return do(ctx, c, "search_artist", func(s searcher) ([]music.ArtistRecord, error) {
		limit := artistSearchLimit
		res, err := s.SearchOpt(name, spotify.SearchTypeArtist, &spotify.Options{Limit: &limit})
		if err != nil {
			return nil, err
		}
		return artistRecords(res), nil
	})
}

// SearchTracks returns up to ten tracks matching query.
func (c *Client) SearchTracks(ctx context.Context, query string) ([]music.TrackRecord, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, music.InvalidInput(music.ProviderSpotify, "search_tracks", "query is required")
	}
	return do(ctx, c, "search_tracks", func(s searcher) ([]music.TrackRecord, error) {
		limit := trackSearchLimit
		res, err := s.SearchOpt(query, spotify.SearchTypeTrack, &spotify.Options{Limit: &limit})
		if err != nil {
			return nil, err
		}
		tracks := []music.TrackRecord{}
		if res != nil && res.Tracks != nil {
			for _, t := range res.Tracks.Tracks {
				tracks = append(tracks, trackRecord(t))
			}
		}
		return tracks, nil
	})
}

// TrackByID looks up a single track by its Spotify ID.
func (c *Client) TrackByID(ctx context.Context, id string) (*music.TrackRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, music.InvalidInput(music.ProviderSpotify, "track", "track id is required")
	}
	return do(ctx, c, "track", func(s searcher) (*music.TrackRecord, error) {
		t, err := s.GetTrack(spotify.ID(id))
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, spotify.Error{Status: http.StatusNotFound, Message: "track not found"}
		}
		rec := trackRecord(*t)
		return &rec, nil
	})
}

// TrendingArtists approximates trending artists with a search for artists
// tagged with the current year, ranked by popularity. Spotify exposes no
// chart endpoint, so tf does not change the query.
func (c *Client) TrendingArtists(ctx context.Context, tf music.Timeframe, limit int) ([]music.ArtistRecord, error) {
	query := fmt.Sprintf("year:%d", c.now().Year())
	artists, err := do(ctx, c, "trending", func(s searcher) ([]music.ArtistRecord, error) {
		n := trendingPool
		res, err := s.SearchOpt(query, spotify.SearchTypeArtist, &spotify.Options{Limit: &n})
		if err != nil {
			return nil, err
		}
		return artistRecords(res), nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(artists, func(i, j int) bool {
		return deref(artists[i].Popularity) > deref(artists[j].Popularity)
	})
	if limit > 0 && len(artists) > limit {
		artists = artists[:limit]
	}
	return artists, nil
}

// IgnoresTimeframe reports that TrendingArtists ranks the same way for every
// timeframe.
func (c *Client) IgnoresTimeframe() bool { return true }

// HealthCheck runs a trivial artist search.
func (c *Client) HealthCheck(ctx context.Context) bool {
	if !c.Configured() {
		return false
	}
	_, err := c.SearchArtist(ctx, "a")
	return err == nil
}

func artistRecords(res *spotify.SearchResult) []music.ArtistRecord {
	artists := []music.ArtistRecord{}
	if res == nil || res.Artists == nil {
		return artists
	}
	for _, a := range res.Artists.Artists {
		artists = append(artists, artistRecord(a))
	}
	return artists
}

func artistRecord(a spotify.FullArtist) music.ArtistRecord {
	r := music.ArtistRecord{
		ProviderArtistID: string(a.ID),
		Name:             a.Name,
		Genres:           a.Genres,
		Followers:        music.IntPtr(int(a.Followers.Count)),
		Popularity:       music.IntPtr(a.Popularity),
		Source:           music.ProviderSpotify,
	}
	if len(a.Images) > 0 {
		r.ImageURL = a.Images[0].URL
	}
	return r
}

func trackRecord(t spotify.FullTrack) music.TrackRecord {
	r := music.TrackRecord{
		ISRC:        strings.ToUpper(t.ExternalIDs["isrc"]),
		Title:       t.Name,
		AlbumName:   t.Album.Name,
		ReleaseDate: t.Album.ReleaseDate,
		Popularity:  music.IntPtr(t.Popularity),
		Sources:     []string{music.ProviderSpotify},
	}
	if t.Duration > 0 {
		r.DurationMs = music.IntPtr(t.Duration)
	}
	for _, a := range t.Artists {
		r.ArtistNames = append(r.ArtistNames, a.Name)
	}
	if len(t.Album.Images) > 0 {
		r.ArtworkURL = t.Album.Images[0].URL
	}
	return r
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
