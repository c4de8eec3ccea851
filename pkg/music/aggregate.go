// This file implements the aggregation service which combines SpotOnTrack,
// Spotify and Muso.AI results into one enriched record.
//
// Providers are queried concurrently but merged in the order they were
// registered, so the first provider to supply a field always wins no matter
// which network call finished first. A failing provider contributes nothing;
// an error is surfaced only when every configured provider failed.

package music

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultProviderTimeout bounds each outbound provider call.
const DefaultProviderTimeout = 12 * time.Second

// Aggregator queries each configured Provider and merges the results.
type Aggregator struct {
	providers []Provider
	timeout   time.Duration
	log       logrus.FieldLogger
}

// NewAggregator returns an Aggregator over providers, highest priority first.
// A zero timeout selects DefaultProviderTimeout and a nil logger the logrus
// standard logger.
func NewAggregator(log logrus.FieldLogger, timeout time.Duration, providers ...Provider) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{providers: providers, timeout: timeout, log: log}
}

// Providers returns the registered providers in priority order.
func (a *Aggregator) Providers() []Provider {
	return a.providers
}

// EnrichQuery describes a track enrichment request. Title is required.
type EnrichQuery struct {
	Title   string
	Artist  string
	TrackID string
}

func (a *Aggregator) configured() []Provider {
	var out []Provider
	for _, p := range a.providers {
		if p != nil && p.Configured() {
			out = append(out, p)
		}
	}
	return out
}

// fanOut runs call for every provider concurrently, each under its own
// timeout. Outcomes are returned in provider order. A value returned without
// error is kept even if the deadline passed while it was being produced; a
// failure that raced the deadline is reported as a timeout. A panicking provider is
// converted into an error so it cannot take the others down.
func fanOut[T any](ctx context.Context, timeout time.Duration, providers []Provider, op string, call func(context.Context, Provider) (T, error)) []Outcome[T] {
	outcomes := make([]Outcome[T], len(providers))
	var g errgroup.Group
	for i, p := range providers {
		g.Go(func() (err error) {
			outcomes[i].Provider = p.Name()
			defer func() {
				if r := recover(); r != nil {
					outcomes[i].Err = NewError(p.Name(), op, KindUpstream, fmt.Errorf("panic: %v", r))
				}
			}()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			v, callErr := call(cctx, p)
			if callErr != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && KindOf(callErr) != KindTimeout {
				callErr = NewError(p.Name(), op, KindTimeout, callErr)
			}
			outcomes[i].Value, outcomes[i].Err = v, callErr
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// settled records per-provider success across the phases of one request.
type settled struct {
	avail    map[string]Availability
	ok       map[string]bool
	failures []error
}

func newSettled(all []Provider) *settled {
	s := &settled{avail: map[string]Availability{}, ok: map[string]bool{}}
	for _, p := range all {
		if p != nil && !p.Configured() {
			s.avail[p.Name()] = Availability{Status: StatusNotConfigured}
		}
	}
	return s
}

// record resolves one outcome. It reports whether the value may be merged.
func (s *settled) record(log logrus.FieldLogger, op, provider string, n int, err error) bool {
	cur := s.avail[provider]
	switch kind := KindOf(err); {
	case err == nil:
		s.ok[provider] = true
		if n > 0 {
			cur.Status, cur.Kind = StatusOK, ""
		} else if cur.Status == "" || cur.Status == StatusError {
			cur.Status, cur.Kind = StatusEmpty, ""
		}
	case kind == KindNotConfigured:
		cur.Status = StatusNotConfigured
		s.failures = append(s.failures, err)
	default:
		log.WithFields(logrus.Fields{
			"provider": provider,
			"op":       op,
			"kind":     kind.String(),
		}).WithError(err).Warn("provider call failed")
		if cur.Status == "" || cur.Status == StatusError {
			cur.Status, cur.Kind = StatusError, kind.String()
		}
		s.failures = append(s.failures, err)
	}
	s.avail[provider] = cur
	return err == nil
}

func (s *settled) anySucceeded() bool {
	return len(s.ok) > 0
}

func (s *settled) unavailable(op string) error {
	return &Error{Op: op, Kind: KindAllProvidersUnavailable, Err: errors.Join(s.failures...)}
}

func noProviders(op string) error {
	return &Error{Op: op, Kind: KindNotConfigured, Err: errors.New("no providers configured")}
}

// EnrichTrack searches every configured provider for the track, merges the
// results and attaches the best matching artist. An empty result is not an
// error; AllProvidersUnavailable is returned only when every configured
// provider failed.
func (a *Aggregator) EnrichTrack(ctx context.Context, q EnrichQuery) (*EnrichedResult, error) {
	title := strings.TrimSpace(q.Title)
	if title == "" {
		return nil, InvalidInput("", "enrich", "title is required")
	}
	providers := a.configured()
	if len(providers) == 0 {
		return nil, noProviders("enrich")
	}
	artistQuery := strings.TrimSpace(q.Artist)
	query := strings.TrimSpace(title + " " + artistQuery)
	trackID := strings.TrimSpace(q.TrackID)

	outcomes := fanOut(ctx, a.timeout, providers, "search_tracks", func(ctx context.Context, p Provider) ([]TrackRecord, error) {
		var seeded []TrackRecord
		if tl, ok := p.(TrackLookup); ok && trackID != "" {
			t, err := tl.TrackByID(ctx, trackID)
			switch {
			case err != nil:
				a.log.WithFields(logrus.Fields{"provider": p.Name(), "track_id": trackID}).WithError(err).Warn("track lookup failed")
			case t != nil:
				seeded = append(seeded, *t)
			}
		}
		tracks, err := p.SearchTracks(ctx, query)
		if err != nil {
			if len(seeded) > 0 {
				return seeded, nil
			}
			return nil, err
		}
		return append(seeded, tracks...), nil
	})

	st := newSettled(a.providers)
	set := newTrackSet()
	for _, o := range outcomes {
		if !st.record(a.log, "search_tracks", o.Provider, len(o.Value), o.Err) {
			continue
		}
		for _, t := range o.Value {
			set.add(o.Provider, t)
		}
		av := st.avail[o.Provider]
		av.Tracks = len(o.Value)
		st.avail[o.Provider] = av
	}
	tracks := set.list()

	artistName := artistQuery
	if artistName == "" && len(tracks) > 0 {
		artistName = tracks[0].LeadArtist()
	}
	var artist *ArtistRecord
	if artistName != "" {
		artist = a.mergeArtist(ctx, providers, artistName, st)
	}

	if !st.anySucceeded() {
		return nil, st.unavailable("enrich")
	}
	return &EnrichedResult{
		Artist:  artist,
		Tracks:  tracks,
		Metrics: Metrics{PerProviderAvailability: st.avail},
	}, nil
}

// SearchArtist runs the artist phase of EnrichTrack on its own. A nil record
// with a nil error means no provider knew the artist.
func (a *Aggregator) SearchArtist(ctx context.Context, name string) (*ArtistRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, InvalidInput("", "search_artist", "name is required")
	}
	providers := a.configured()
	if len(providers) == 0 {
		return nil, noProviders("search_artist")
	}
	st := newSettled(a.providers)
	artist := a.mergeArtist(ctx, providers, name, st)
	if !st.anySucceeded() {
		return nil, st.unavailable("search_artist")
	}
	return artist, nil
}

// mergeArtist takes the top hit of the highest-priority provider as the base
// and lets lower-priority providers fill its empty fields, but only when
// their top hit carries the same normalized name.
func (a *Aggregator) mergeArtist(ctx context.Context, providers []Provider, name string, st *settled) *ArtistRecord {
	outcomes := fanOut(ctx, a.timeout, providers, "search_artist", func(ctx context.Context, p Provider) ([]ArtistRecord, error) {
		return p.SearchArtist(ctx, name)
	})
	var base *ArtistRecord
	for _, o := range outcomes {
		if !st.record(a.log, "search_artist", o.Provider, len(o.Value), o.Err) || len(o.Value) == 0 {
			continue
		}
		top := pickArtist(o.Value, name)
		if base == nil {
			top.Source = o.Provider
			base = &top
			continue
		}
		if NormalizeKey(top.Name) == NormalizeKey(base.Name) {
			fillArtist(base, top)
		}
	}
	return base
}

// pickArtist prefers an exact (normalized) name match over ranking order.
func pickArtist(list []ArtistRecord, name string) ArtistRecord {
	want := NormalizeKey(name)
	for _, a := range list {
		if NormalizeKey(a.Name) == want {
			return a
		}
	}
	return list[0]
}
