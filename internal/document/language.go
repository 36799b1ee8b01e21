package document

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

const (
	languageSamplePages = 20
	languageSampleBytes = 2000
)

// normalizeLanguage reduces a declared language ("en-US", "eng", "English") to its
// two-letter base.
func normalizeLanguage(declared string) (string, bool) {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return "", false
	}
	tag, err := language.Parse(declared)
	if err != nil {
		if l := whatlanggo.CodeToLang(strings.ToLower(declared)); l != -1 {
			return l.Iso6391(), true
		}
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	return base.String(), true
}

// detectLanguage guesses the language of sample, falling back to hint.
func detectLanguage(sample, hint string) string {
	if strings.TrimSpace(sample) != "" {
		info := whatlanggo.Detect(sample)
		if code := info.Lang.Iso6391(); code != "" && info.Confidence > 0 {
			return code
		}
	}
	if h, ok := normalizeLanguage(hint); ok {
		return h
	}
	return DefaultLanguageHint
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
