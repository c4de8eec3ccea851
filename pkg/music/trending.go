package music

import (
	"context"
	"sort"

	"github.com/samber/lo"
)

// Trending list bounds.
const (
	DefaultTrendingLimit = 20
	MaxTrendingLimit     = 50
)

// TrendingSourceStatus reports what one provider contributed to a trending
// list. TimeframeApplied is false for sources that rank the same way whatever
// timeframe was asked for.
type TrendingSourceStatus struct {
	Status           string `json:"status"`
	Kind             string `json:"kind,omitempty"`
	Artists          int    `json:"artists"`
	TimeframeApplied bool   `json:"timeframeApplied"`
}

// TrendingResult is the merged ranking plus a per-provider report.
type TrendingResult struct {
	Artists []ArtistRecord                  `json:"artists"`
	Sources map[string]TrendingSourceStatus `json:"sources"`
}

// ClampTrendingLimit maps non-positive values to DefaultTrendingLimit and caps
// the rest at MaxTrendingLimit.
func ClampTrendingLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultTrendingLimit
	case limit > MaxTrendingLimit:
		return MaxTrendingLimit
	default:
		return limit
	}
}

// TrendingArtists approximates a cross-provider trending list. No provider
// exposes one, so artists from every TrendingSource are merged by name and
// ranked by the strongest signal each provider reports: streams, then
// popularity. Missing signals count as zero.
func (a *Aggregator) TrendingArtists(ctx context.Context, tf Timeframe, limit int) (*TrendingResult, error) {
	limit = ClampTrendingLimit(limit)
	sources := lo.Filter(a.configured(), func(p Provider, _ int) bool {
		_, ok := p.(TrendingSource)
		return ok
	})
	if len(sources) == 0 {
		return nil, noProviders("trending")
	}

	outcomes := fanOut(ctx, a.timeout, sources, "trending", func(ctx context.Context, p Provider) ([]ArtistRecord, error) {
		return p.(TrendingSource).TrendingArtists(ctx, tf, limit)
	})

	st := newSettled(nil)
	var merged []ArtistRecord
	index := map[string]int{}
	report := make(map[string]TrendingSourceStatus, len(outcomes))
	for n, o := range outcomes {
		ok := st.record(a.log, "trending", o.Provider, len(o.Value), o.Err)
		av := st.avail[o.Provider]
		src := TrendingSourceStatus{Status: av.Status, Kind: av.Kind, TimeframeApplied: true}
		if ti, ignores := sources[n].(TimeframeIgnorer); ignores && ti.IgnoresTimeframe() {
			src.TimeframeApplied = false
		}
		if ok {
			src.Artists = len(o.Value)
		}
		report[o.Provider] = src
		if !ok {
			continue
		}
		for _, artist := range o.Value {
			key := NormalizeKey(artist.Name)
			if key == "" {
				continue
			}
			if i, ok := index[key]; ok {
				fillArtist(&merged[i], artist)
				continue
			}
			if artist.Source == "" {
				artist.Source = o.Provider
			}
			index[key] = len(merged)
			merged = append(merged, artist)
		}
	}
	if !st.anySucceeded() {
		return nil, st.unavailable("trending")
	}

	sort.SliceStable(merged, func(i, j int) bool {
		si, sj := trendSignal(merged[i]), trendSignal(merged[j])
		if si != sj {
			return si > sj
		}
		return NormalizeKey(merged[i].Name) < NormalizeKey(merged[j].Name)
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	if merged == nil {
		merged = []ArtistRecord{}
	}
	return &TrendingResult{Artists: merged, Sources: report}, nil
}

func trendSignal(a ArtistRecord) float64 {
	switch {
	case a.Streams != nil:
		return float64(*a.Streams)
	case a.Popularity != nil:
		return float64(*a.Popularity)
	default:
		return 0
	}
}
