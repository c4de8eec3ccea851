package music

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeKey lowercases s, strips accents and collapses whitespace so
// "Beyoncé " and "beyonce" compare equal.
func NormalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// TrackKey returns the de-duplication key for t: the upper-cased ISRC when
// present, otherwise the normalized title and lead artist.
func TrackKey(t TrackRecord) string {
	if isrc := strings.ToUpper(strings.TrimSpace(t.ISRC)); isrc != "" {
		return "isrc:" + isrc
	}
	return compositeKey(t)
}

func compositeKey(t TrackRecord) string {
	return "meta:" + NormalizeKey(t.Title) + "|" + NormalizeKey(t.LeadArtist())
}

// trackSet accumulates tracks in arrival order. A later track that matches an
// existing entry by ISRC, or by title and artist when either side lacks an
// ISRC, only fills the fields the earlier entry left empty.
type trackSet struct {
	tracks []TrackRecord
	isrc   map[string]int
	meta   map[string]int
}

func newTrackSet() *trackSet {
	return &trackSet{isrc: map[string]int{}, meta: map[string]int{}}
}

func (s *trackSet) add(provider string, t TrackRecord) {
	isrc := strings.ToUpper(strings.TrimSpace(t.ISRC))
	meta := compositeKey(t)

	idx, ok := -1, false
	if isrc != "" {
		idx, ok = s.isrc[isrc]
	}
	if !ok {
		if i, found := s.meta[meta]; found {
			// Two different ISRCs for the same title are distinct recordings.
			existing := strings.ToUpper(s.tracks[i].ISRC)
			if isrc == "" || existing == "" {
				idx, ok = i, true
			}
		}
	}

	if !ok {
		t.ISRC = isrc
		t.Sources = appendSource(nil, provider)
		s.tracks = append(s.tracks, t)
		idx = len(s.tracks) - 1
	} else {
		fillTrack(&s.tracks[idx], t)
		s.tracks[idx].Sources = appendSource(s.tracks[idx].Sources, provider)
		if s.tracks[idx].ISRC == "" {
			s.tracks[idx].ISRC = isrc
		}
	}

	if cur := s.tracks[idx].ISRC; cur != "" {
		s.isrc[cur] = idx
	}
	if _, taken := s.meta[meta]; !taken {
		s.meta[meta] = idx
	}
}

func (s *trackSet) list() []TrackRecord {
	if s.tracks == nil {
		return []TrackRecord{}
	}
	return s.tracks
}

func appendSource(sources []string, provider string) []string {
	for _, s := range sources {
		if s == provider {
			return sources
		}
	}
	return append(sources, provider)
}

func fillTrack(dst *TrackRecord, src TrackRecord) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if len(dst.ArtistNames) == 0 {
		dst.ArtistNames = src.ArtistNames
	}
	if dst.AlbumName == "" {
		dst.AlbumName = src.AlbumName
	}
	if dst.ReleaseDate == "" {
		dst.ReleaseDate = src.ReleaseDate
	}
	if dst.ArtworkURL == "" {
		dst.ArtworkURL = src.ArtworkURL
	}
	if dst.DurationMs == nil {
		dst.DurationMs = src.DurationMs
	}
	if dst.Popularity == nil {
		dst.Popularity = src.Popularity
	}
	if len(dst.Credits) == 0 {
		dst.Credits = src.Credits
	}
}

// fillArtist copies the fields dst is missing from src.
func fillArtist(dst *ArtistRecord, src ArtistRecord) {
	if dst.ProviderArtistID == "" {
		dst.ProviderArtistID = src.ProviderArtistID
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.ImageURL == "" {
		dst.ImageURL = src.ImageURL
	}
	if len(dst.Genres) == 0 {
		dst.Genres = src.Genres
	}
	if dst.Followers == nil {
		dst.Followers = src.Followers
	}
	if dst.Popularity == nil {
		dst.Popularity = src.Popularity
	}
	if dst.Streams == nil {
		dst.Streams = src.Streams
	}
}
