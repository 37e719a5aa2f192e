// Package planner decides which renditions to encode for a source.
package planner

import "fmt"

// Preset describes one target rendition.
type Preset struct {
	Quality      string
	Width        int
	Height       int
	VideoBitrate int // kb/s
	AudioBitrate int // kb/s
	EncodePreset string
}

// Bandwidth is the peak bits per second advertised in the master playlist.
func (p Preset) Bandwidth() int {
	return (p.VideoBitrate + p.AudioBitrate) * 1000
}

// Resolution formats the preset size as WIDTHxHEIGHT.
func (p Preset) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

var (
	HD = Preset{
		Quality:      "1080p",
		Width:        1920,
		Height:       1080,
		VideoBitrate: 5000,
		AudioBitrate: 192,
		EncodePreset: "slow",
	}

	Baseline = Preset{
		Quality:      "480p",
		Width:        854,
		Height:       480,
		VideoBitrate: 1000,
		AudioBitrate: 96,
		EncodePreset: "fast",
	}
)

// Plan returns the renditions for a source of the given height, highest first.
// The baseline is always produced; HD only when the source is at least 1080 lines tall.
func Plan(sourceHeight int) []Preset {
	if sourceHeight >= HD.Height {
		return []Preset{HD, Baseline}
	}
	return []Preset{Baseline}
}
