package documents

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	require.Equal(t, []string{"hello world"}, NewSplitter().Split("hello world"))
}

func TestSplit_EmptyText(t *testing.T) {
	require.Empty(t, NewSplitter().Split(""))
	require.Empty(t, NewSplitter().Split("   "))
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	s := Splitter{ChunkSize: 12, ChunkOverlap: 0, Separators: DefaultSeparators}
	require.Equal(t, []string{"para one.", "para two."}, s.Split("para one.\n\npara two."))
}

func TestSplit_ChunksOverlap(t *testing.T) {
	words := make([]string, 400)
	for i := range words {
		words[i] = fmt.Sprintf("w%05d", i)
	}
	chunks := NewSplitter().Split(strings.Join(words, " "))
	require.GreaterOrEqual(t, len(chunks), 3)

	for i, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), DefaultChunkSize)
		if i == 0 {
			continue
		}
		first := strings.Fields(c)[0]
		require.Contains(t, chunks[i-1], first, "chunk %d should start inside the previous one", i)
	}
	require.True(t, strings.HasPrefix(chunks[0], "w00000"))
	require.True(t, strings.HasSuffix(chunks[len(chunks)-1], "w00399"))
}

func TestSplit_FallsBackToCharacters(t *testing.T) {
	chunks := NewSplitter().Split(strings.Repeat("é", 2500))
	require.GreaterOrEqual(t, len(chunks), 3)
	for _, c := range chunks {
		require.LessOrEqual(t, utf8.RuneCountInString(c), DefaultChunkSize)
		require.True(t, utf8.ValidString(c))
	}
}
