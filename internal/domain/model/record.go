package model

import "time"

// Rendition is one produced quality layer of an episode's stream.
type Rendition struct {
	Quality      string `json:"quality"`
	RelativePath string `json:"relative_path"`
}

// SubtitleOrigin tells extracted tracks apart from user uploads.
type SubtitleOrigin string

const (
	SubtitleEmbedded SubtitleOrigin = "embedded"
	SubtitleUploaded SubtitleOrigin = "uploaded"
)

// Subtitle is a caption track attached to an episode.
// (Language, Origin) identifies a track.
type Subtitle struct {
	Language     string         `json:"language"`
	Label        string         `json:"label"`
	RelativePath string         `json:"relative_path"`
	Origin       SubtitleOrigin `json:"origin"`
}

// ContentRecord is the processing projection of an episode in the catalog.
type ContentRecord struct {
	EpisodeID string          `json:"episode_id"`
	Status    ProcessingState `json:"status"`
	Stage     Stage           `json:"stage"`
	HLSPath   string          `json:"hls_path,omitempty"`
	Qualities []Rendition     `json:"qualities"`
	Subtitles []Subtitle      `json:"subtitles"`
	Duration  float64         `json:"duration,omitempty"`
	Thumbnail string          `json:"thumbnail,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// QualityNames returns the quality labels in rendition order.
func (r *ContentRecord) QualityNames() []string {
	names := make([]string, 0, len(r.Qualities))
	for _, q := range r.Qualities {
		names = append(names, q.Quality)
	}
	return names
}

// MergeSubtitles adds incoming tracks to existing ones.
// A track sharing language and origin with an existing one replaces it in place.
func MergeSubtitles(existing, incoming []Subtitle) []Subtitle {
	merged := make([]Subtitle, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	for _, sub := range incoming {
		replaced := false
		for i := range merged {
			if merged[i].Language == sub.Language && merged[i].Origin == sub.Origin {
				merged[i] = sub
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, sub)
		}
	}
	return merged
}
