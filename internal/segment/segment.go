// Package segment splits flattened document text into paragraph, sentence and
// chunk ranges. Ranges index the same buffer used for positions, so a spoken
// sentence or a highlighted chunk maps straight back to document offsets.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dgallion1/bookcore/internal/doctree"
)

// Config controls chunk grouping.
type Config struct {
	ChunkSize int // Target chunk size in tokens.
	MinChunk  int // Chunks smaller than this are merged into their predecessor.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize: 300,
		MinChunk:  20,
	}
}

// Paragraphs returns one range per non-blank line of text, trimmed of surrounding
// whitespace.
func Paragraphs(text string) []doctree.TextRange {
	return pieces(text, doctree.TextRange{Start: 0, Stop: len(text)}, splitLines)
}

// Sentences splits the part of text covered by within at terminal punctuation
// followed by whitespace. Line breaks always end a sentence.
func Sentences(text string, within doctree.TextRange) []doctree.TextRange {
	var out []doctree.TextRange
	for _, para := range pieces(text, within, splitLines) {
		out = append(out, pieces(text, para, splitSentences)...)
	}
	return out
}

// Chunks groups sentences into ranges of roughly cfg.ChunkSize tokens without
// crossing paragraph boundaries unless a paragraph is tiny.
func Chunks(text string, within doctree.TextRange, cfg Config) []doctree.TextRange {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 300
	}
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = 20
	}

	var out []doctree.TextRange
	var cur doctree.TextRange
	curTokens := 0
	flush := func() {
		if curTokens == 0 {
			return
		}
		if curTokens < cfg.MinChunk && len(out) > 0 {
			out[len(out)-1].Stop = cur.Stop
		} else {
			out = append(out, cur)
		}
		curTokens = 0
	}

	for _, para := range pieces(text, within, splitLines) {
		for _, sent := range pieces(text, para, splitSentences) {
			n := EstimateTokens(sent.Slice(text))
			if curTokens > 0 && curTokens+n > cfg.ChunkSize {
				flush()
			}
			if curTokens == 0 {
				cur = sent
			} else {
				cur.Stop = sent.Stop
			}
			curTokens += n
		}
		if curTokens >= cfg.MinChunk {
			flush()
		}
	}
	flush()
	return out
}

// splitter returns the end offsets (relative to s) where a piece of s finishes.
type splitter func(s string) []int

// pieces applies split to the part of text covered by r and returns the trimmed,
// non-empty pieces as absolute ranges.
func pieces(text string, r doctree.TextRange, split splitter) []doctree.TextRange {
	start, stop := max(r.Start, 0), min(r.Stop, len(text))
	if start >= stop {
		return nil
	}
	s := text[start:stop]
	var out []doctree.TextRange
	prev := 0
	for _, end := range append(split(s), len(s)) {
		if end <= prev {
			continue
		}
		if tr, ok := trim(s, prev, end); ok {
			out = append(out, doctree.TextRange{Start: start + tr.Start, Stop: start + tr.Stop})
		}
		prev = end
	}
	return out
}

func splitLines(s string) []int {
	var ends []int
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			ends = append(ends, i+1)
		}
	}
	return ends
}

func splitSentences(s string) []int {
	var ends []int
	for i, r := range s {
		if r != '.' && r != '!' && r != '?' && r != '…' {
			continue
		}
		j := i + utf8.RuneLen(r)
		// Closing quotes and brackets belong to the sentence they end.
		for j < len(s) {
			c, size := utf8.DecodeRuneInString(s[j:])
			if !strings.ContainsRune(`"')]’”»`, c) {
				break
			}
			j += size
		}
		if j < len(s) {
			if c, _ := utf8.DecodeRuneInString(s[j:]); unicode.IsSpace(c) {
				ends = append(ends, j)
			}
		}
	}
	return ends
}

func trim(s string, start, stop int) (doctree.TextRange, bool) {
	for start < stop {
		r, size := utf8.DecodeRuneInString(s[start:])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for stop > start {
		r, size := utf8.DecodeLastRuneInString(s[:stop])
		if !unicode.IsSpace(r) {
			break
		}
		stop -= size
	}
	return doctree.TextRange{Start: start, Stop: stop}, start < stop
}
