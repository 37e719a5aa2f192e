package model

import "testing"

func TestMergeSubtitles(t *testing.T) {
	existing := []Subtitle{
		{Language: "eng", Label: "English", RelativePath: "ep1/subtitles/eng.vtt", Origin: SubtitleEmbedded},
		{Language: "eng", Label: "English (CC)", RelativePath: "ep1/subtitles/eng-upload.vtt", Origin: SubtitleUploaded},
	}

	t.Run("same language and origin replaces", func(t *testing.T) {
		incoming := []Subtitle{
			{Language: "eng", Label: "English", RelativePath: "ep1/subtitles/eng-v2.vtt", Origin: SubtitleEmbedded},
		}

		got := MergeSubtitles(existing, incoming)
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0].RelativePath != "ep1/subtitles/eng-v2.vtt" {
			t.Errorf("embedded eng path = %q, want replaced path", got[0].RelativePath)
		}
		if got[1].Origin != SubtitleUploaded {
			t.Errorf("uploaded track should be untouched, got %+v", got[1])
		}
	})

	t.Run("new language appends", func(t *testing.T) {
		incoming := []Subtitle{
			{Language: "jpn", Label: "Japanese", RelativePath: "ep1/subtitles/jpn.vtt", Origin: SubtitleEmbedded},
		}

		got := MergeSubtitles(existing, incoming)
		if len(got) != 3 {
			t.Fatalf("len = %d, want 3", len(got))
		}
		if got[2].Language != "jpn" {
			t.Errorf("appended language = %q, want jpn", got[2].Language)
		}
	})

	t.Run("does not modify input", func(t *testing.T) {
		incoming := []Subtitle{
			{Language: "eng", Label: "English", RelativePath: "other.vtt", Origin: SubtitleEmbedded},
		}

		MergeSubtitles(existing, incoming)
		if existing[0].RelativePath != "ep1/subtitles/eng.vtt" {
			t.Errorf("existing slice was modified: %+v", existing[0])
		}
	})
}

func TestContentRecord_QualityNames(t *testing.T) {
	r := &ContentRecord{
		Qualities: []Rendition{
			{Quality: "1080p", RelativePath: "ep1/1080p/playlist.m3u8"},
			{Quality: "480p", RelativePath: "ep1/480p/playlist.m3u8"},
		},
	}

	got := r.QualityNames()
	if len(got) != 2 || got[0] != "1080p" || got[1] != "480p" {
		t.Errorf("QualityNames() = %v, want [1080p 480p]", got)
	}
}
