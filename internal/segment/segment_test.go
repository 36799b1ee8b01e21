package segment

import (
	"testing"

	"github.com/dgallion1/bookcore/internal/doctree"
)

func texts(text string, rs []doctree.TextRange) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Slice(text)
	}
	return out
}

func equal(t *testing.T, want, got []string) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %d pieces %q, got %d %q", len(want), want, len(got), got)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Errorf("piece[%d]: expected %q, got %q", i, want[i], got[i])
		}
	}
}

const sample = "Hello there. How are you?\n\n  Fine!  \nOk"

func TestParagraphs(t *testing.T) {
	rs := Paragraphs(sample)
	equal(t, []string{"Hello there. How are you?", "Fine!", "Ok"}, texts(sample, rs))
	if rs[1] != (doctree.TextRange{Start: 29, Stop: 34}) {
		t.Errorf("expected trimmed offsets [29, 34), got %v", rs[1])
	}
}

func TestSentences(t *testing.T) {
	all := doctree.TextRange{Start: 0, Stop: len(sample)}
	equal(t, []string{"Hello there.", "How are you?", "Fine!", "Ok"}, texts(sample, Sentences(sample, all)))

	first := doctree.TextRange{Start: 0, Stop: 25}
	equal(t, []string{"Hello there.", "How are you?"}, texts(sample, Sentences(sample, first)))
}

func TestSentencesKeepClosingQuotes(t *testing.T) {
	text := `He said "Stop." Then left… Done`
	got := texts(text, Sentences(text, doctree.TextRange{Start: 0, Stop: len(text)}))
	equal(t, []string{`He said "Stop."`, "Then left…", "Done"}, got)
}

func TestSentencesNoSplitInsideNumbers(t *testing.T) {
	text := "Pi is 3.14 roughly. Yes."
	got := texts(text, Sentences(text, doctree.TextRange{Start: 0, Stop: len(text)}))
	equal(t, []string{"Pi is 3.14 roughly.", "Yes."}, got)
}

func TestSentencesEmptyRange(t *testing.T) {
	if got := Sentences(sample, doctree.TextRange{Start: 5, Stop: 5}); len(got) != 0 {
		t.Errorf("expected no sentences, got %v", got)
	}
	if got := Sentences("", doctree.TextRange{Start: 0, Stop: 10}); len(got) != 0 {
		t.Errorf("expected no sentences for empty text, got %v", got)
	}
}

func TestChunks(t *testing.T) {
	text := "One two three. Four five six. Seven."
	got := Chunks(text, doctree.TextRange{Start: 0, Stop: len(text)}, Config{ChunkSize: 4, MinChunk: 1})
	equal(t, []string{"One two three.", "Four five six. Seven."}, texts(text, got))
}

func TestChunksMergeSmallParagraphs(t *testing.T) {
	text := "Tiny.\nAlso tiny.\nThis paragraph has a few more words in it."
	got := Chunks(text, doctree.TextRange{Start: 0, Stop: len(text)}, Config{ChunkSize: 100, MinChunk: 5})
	if len(got) != 1 {
		t.Fatalf("expected a single chunk, got %q", texts(text, got))
	}
	if got[0].Start != 0 || got[0].Stop != len(text) {
		t.Errorf("expected chunk to cover the whole text, got %v", got[0])
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"hello", 1},
		{"one two three", 3},
		{"a b c d e f g h i j", 13},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.input); got != tt.want {
			t.Errorf("EstimateTokens(%q): expected %d, got %d", tt.input, tt.want, got)
		}
	}
}
