package documents

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the maximum fragment length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is how many characters consecutive fragments
	// share.
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraphs, lines, words, then
// single characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts text into overlapping fragments, preferring to break at the
// coarsest separator that keeps fragments under ChunkSize.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

// NewSplitter returns a Splitter with the default settings.
func NewSplitter() Splitter {
	return Splitter{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		Separators:   DefaultSeparators,
	}
}

// Split returns the fragments of text.
func (s Splitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s Splitter) split(text string, seps []string) []string {
	sep := seps[len(seps)-1]
	var rest []string
	for i, candidate := range seps {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	for _, p := range splitOn(text, sep) {
		if p != "" {
			pieces = append(pieces, p)
		}
	}

	var out, fits []string
	for _, p := range pieces {
		if runeLen(p) < s.ChunkSize {
			fits = append(fits, p)
			continue
		}
		if len(fits) > 0 {
			out = append(out, s.merge(fits, sep)...)
			fits = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(fits) > 0 {
		out = append(out, s.merge(fits, sep)...)
	}
	return out
}

// merge joins small pieces back into fragments of at most ChunkSize,
// carrying up to ChunkOverlap characters into the next fragment.
func (s Splitter) merge(pieces []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	joined := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range pieces {
		l := runeLen(p)
		if total+l+joined(len(current)) > s.ChunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				out = append(out, doc)
			}
			for total > s.ChunkOverlap ||
				(total > 0 && total+l+joined(len(current)) > s.ChunkSize) {
				total -= runeLen(current[0]) + joined(len(current)-1)
				current = current[1:]
			}
		}
		current = append(current, p)
		total += l + joined(len(current)-1)
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		out = append(out, doc)
	}
	return out
}

func splitOn(text, sep string) []string {
	if sep != "" {
		return strings.Split(text, sep)
	}
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
