package transcoder

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Codes whose display names are pinned regardless of CLDR data.
var pinnedLabels = map[string]string{
	"en": "English", "eng": "English",
	"ja": "Japanese", "jpn": "Japanese",
	"vi": "Vietnamese", "vie": "Vietnamese",
	"zh": "Chinese", "chi": "Chinese", "zho": "Chinese",
	"ko": "Korean", "kor": "Korean",
}

// SubtitleLanguage returns the file-safe language key of a track.
// Tracks without a language tag are named sub{ordinal}.
func SubtitleLanguage(track SubtitleTrack) string {
	code := strings.ToLower(strings.TrimSpace(track.Language))
	if code == "" || code == "und" || strings.ContainsAny(code, `/\. `) {
		return fmt.Sprintf("sub%d", track.Ordinal)
	}
	return code
}

// LanguageLabel turns a language code into a human-readable name.
// Unknown codes are upper-cased.
func LanguageLabel(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if label, ok := pinnedLabels[code]; ok {
		return label
	}
	if tag, err := language.Parse(code); err == nil {
		if name := display.English.Tags().Name(tag); name != "" {
			return name
		}
	}
	return strings.ToUpper(code)
}
