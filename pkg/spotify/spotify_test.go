package spotify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	libspotify "github.com/zmb3/spotify"
	"golang.org/x/oauth2"

	"Music-Enrich-Go/pkg/music"
)

type fakeSearcher struct {
	lastQuery string
	lastType  libspotify.SearchType
	lastLimit int
	result    *libspotify.SearchResult
	track     *libspotify.FullTrack
	err       error
	block     chan struct{}
}

func (f *fakeSearcher) SearchOpt(query string, t libspotify.SearchType, opt *libspotify.Options) (*libspotify.SearchResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.lastQuery = query
	f.lastType = t
	if opt != nil && opt.Limit != nil {
		f.lastLimit = *opt.Limit
	}
	return f.result, f.err
}

func (f *fakeSearcher) GetTrack(id libspotify.ID) (*libspotify.FullTrack, error) {
	return f.track, f.err
}

// tokenServer answers client credentials requests and counts them.
func tokenServer(t *testing.T, status int) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"invalid_client","error_description":"Invalid client"}`))
			return
		}
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = io.Discard
	return l
}

func newTestClient(t *testing.T, fs *fakeSearcher) (*Client, *int32) {
	t.Helper()
	srv, hits := tokenServer(t, http.StatusOK)
	c := New(Config{ClientID: "id", ClientSecret: "secret", TokenURL: srv.URL}, quietLogger())
	c.newSearcher = func(*oauth2.Token) searcher { return fs }
	return c, hits
}

func TestSearchArtistMapsRecord(t *testing.T) {
	artist := libspotify.FullArtist{
		SimpleArtist: libspotify.SimpleArtist{Name: "Drake", ID: "3TVX"},
		Popularity:   95,
		Genres:       []string{"rap"},
		Images:       []libspotify.Image{{URL: "http://img"}},
	}
	artist.Followers.Count = 1000000
	fs := &fakeSearcher{result: &libspotify.SearchResult{Artists: &libspotify.FullArtistPage{Artists: []libspotify.FullArtist{artist}}}}
	c, _ := newTestClient(t, fs)

	got, err := c.SearchArtist(context.Background(), " Drake ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.lastQuery != "Drake" || fs.lastType != libspotify.SearchTypeArtist || fs.lastLimit != artistSearchLimit {
		t.Errorf("search called with %q %v %d", fs.lastQuery, fs.lastType, fs.lastLimit)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 artist got %d", len(got))
	}
	a := got[0]
	if a.Name != "Drake" || *a.Followers != 1000000 || *a.Popularity != 95 || a.ImageURL != "http://img" || a.Source != music.ProviderSpotify {
		t.Errorf("unexpected artist %+v", a)
	}
}

func TestSearchArtistEmptyResult(t *testing.T) {
	c, _ := newTestClient(t, &fakeSearcher{result: &libspotify.SearchResult{}})
	got, err := c.SearchArtist(context.Background(), "nobody")
	if err != nil || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v %v", got, err)
	}
}

func TestSearchTracksMapsRecord(t *testing.T) {
	track := libspotify.FullTrack{
		SimpleTrack: libspotify.SimpleTrack{Name: "Song", Duration: 200000, Artists: []libspotify.SimpleArtist{{Name: "Artist"}}},
		Album:       libspotify.SimpleAlbum{Name: "LP", ReleaseDate: "2020-01-01"},
		ExternalIDs: map[string]string{"isrc": "usabc2000001"},
		Popularity:  50,
	}
	fs := &fakeSearcher{result: &libspotify.SearchResult{Tracks: &libspotify.FullTrackPage{Tracks: []libspotify.FullTrack{track}}}}
	c, _ := newTestClient(t, fs)

	got, err := c.SearchTracks(context.Background(), "Song Artist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ISRC != "USABC2000001" || *got[0].DurationMs != 200000 || got[0].LeadArtist() != "Artist" {
		t.Errorf("unexpected tracks %+v", got)
	}
	if fs.lastType != libspotify.SearchTypeTrack {
		t.Errorf("wrong search type %v", fs.lastType)
	}
}

func TestEmptyInputSkipsNetwork(t *testing.T) {
	c, hits := newTestClient(t, &fakeSearcher{})
	if _, err := c.SearchArtist(context.Background(), "  "); !errors.Is(err, music.ErrInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}
	if _, err := c.TrackByID(context.Background(), ""); !errors.Is(err, music.ErrInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Errorf("token endpoint called for invalid input")
	}
}

// TestAccessTokenCached verifies the token is fetched once and reused until
// it expires, then fetched again.
func TestAccessTokenCached(t *testing.T) {
	c, hits := newTestClient(t, &fakeSearcher{result: &libspotify.SearchResult{}})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.SearchArtist(ctx, "x"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := atomic.LoadInt32(hits); n != 1 {
		t.Fatalf("expected 1 token request got %d", n)
	}

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := c.SearchArtist(ctx, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(hits); n != 2 {
		t.Fatalf("expected refetch after expiry, got %d requests", n)
	}
}

func TestAccessTokenRejected(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized} {
		srv, _ := tokenServer(t, status)
		c := New(Config{ClientID: "id", ClientSecret: "bad", TokenURL: srv.URL}, quietLogger())
		_, err := c.SearchArtist(context.Background(), "x")
		if !errors.Is(err, music.ErrUnauthorized) {
			t.Errorf("status %d: expected unauthorized got %v", status, err)
		}
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(Config{}, quietLogger())
	if c.Configured() {
		t.Fatal("empty config reported as configured")
	}
	if _, err := c.SearchTracks(context.Background(), "x"); !errors.Is(err, music.ErrNotConfigured) {
		t.Fatalf("expected not configured got %v", err)
	}
	if c.HealthCheck(context.Background()) {
		t.Error("unconfigured client reported healthy")
	}
}

func TestAPIErrorMapping(t *testing.T) {
	cases := map[int]error{
		http.StatusTooManyRequests:     music.ErrRateLimited,
		http.StatusUnauthorized:        music.ErrUnauthorized,
		http.StatusNotFound:            music.ErrNotFound,
		http.StatusBadGateway:          music.ErrUpstream,
		http.StatusGatewayTimeout:      music.ErrTimeout,
		http.StatusInternalServerError: music.ErrUpstream,
	}
	for status, want := range cases {
		c, _ := newTestClient(t, &fakeSearcher{err: libspotify.Error{Status: status, Message: "m"}})
		_, err := c.SearchTracks(context.Background(), "x")
		if !errors.Is(err, want) {
			t.Errorf("status %d: got %v want %v", status, err, want)
		}
	}
}

func TestContextDeadline(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	c, _ := newTestClient(t, &fakeSearcher{block: block})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.SearchArtist(ctx, "slow"); !errors.Is(err, music.ErrTimeout) {
		t.Fatalf("expected timeout got %v", err)
	}
}

func TestTrackByID(t *testing.T) {
	track := &libspotify.FullTrack{SimpleTrack: libspotify.SimpleTrack{Name: "Song", ID: "1"}}
	c, _ := newTestClient(t, &fakeSearcher{track: track})
	got, err := c.TrackByID(context.Background(), "1")
	if err != nil || got.Title != "Song" {
		t.Fatalf("unexpected result %+v %v", got, err)
	}
}

func TestTrendingArtistsRanksByPopularity(t *testing.T) {
	artists := []libspotify.FullArtist{
		{SimpleArtist: libspotify.SimpleArtist{Name: "Low"}, Popularity: 10},
		{SimpleArtist: libspotify.SimpleArtist{Name: "High"}, Popularity: 90},
		{SimpleArtist: libspotify.SimpleArtist{Name: "Mid"}, Popularity: 50},
	}
	fs := &fakeSearcher{result: &libspotify.SearchResult{Artists: &libspotify.FullArtistPage{Artists: artists}}}
	c, _ := newTestClient(t, fs)
	c.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	got, err := c.TrendingArtists(context.Background(), music.Weekly, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fs.lastQuery != "year:2024" {
		t.Errorf("unexpected query %q", fs.lastQuery)
	}
	if len(got) != 2 || got[0].Name != "High" || got[1].Name != "Mid" {
		t.Errorf("unexpected ranking %+v", got)
	}
	var src music.TrendingSource = c
	if ti, ok := src.(music.TimeframeIgnorer); !ok || !ti.IgnoresTimeframe() {
		t.Error("spotify trending should report that it ignores the timeframe")
	}
}
