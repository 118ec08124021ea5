package pipeline

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerBlankPagesYieldNothing(t *testing.T) {
	c := NewChunker(100, 10)
	assert.Empty(t, c.Split(nil))
	assert.Empty(t, c.Split([]string{"", "  \n\t ", ""}))
}

func TestChunkerSkipsBlankPagesButKeepsNumbering(t *testing.T) {
	c := NewChunker(100, 10)
	chunks := c.Split([]string{"", "   ", "Pool hours are 8am to 10pm."})

	require.Len(t, chunks, 1)
	assert.Equal(t, 3, chunks[0].PageNumber)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, "Pool hours are 8am to 10pm.", chunks[0].Text)
}

func TestChunkerWindowsWithOverlap(t *testing.T) {
	c := NewChunker(1000, 100)
	chunks := c.Split([]string{strings.Repeat("x", 2500)})

	require.Len(t, chunks, 3)
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[0].Text))
	assert.Equal(t, 1000, utf8.RuneCountInString(chunks[1].Text))
	assert.Equal(t, 700, utf8.RuneCountInString(chunks[2].Text))
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
	}
}

func TestChunkerRecordsStartingPage(t *testing.T) {
	c := NewChunker(1000, 0)
	chunks := c.Split([]string{strings.Repeat("a", 600), strings.Repeat("b", 600)})

	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].PageNumber)
	assert.Contains(t, chunks[0].Text, "b", "first window crosses into page 2 but starts on page 1")
	assert.Equal(t, 2, chunks[1].PageNumber)
	assert.Equal(t, strings.Repeat("b", 201), chunks[1].Text)
}

func TestChunkerSoftensAtWhitespace(t *testing.T) {
	words := strings.Repeat("assessment ", 30) // 330 runes
	c := NewChunker(100, 0)
	chunks := c.Split([]string{words})

	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.False(t, strings.HasPrefix(ch.Text, "ssessment"), "window cut a word: %q", ch.Text)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 100)
	}
}

func TestChunkerOverlapNotSmallerThanSize(t *testing.T) {
	c := NewChunker(10, 10)
	chunks := c.Split([]string{strings.Repeat("z", 25)})

	require.Len(t, chunks, 3)
	assert.Equal(t, strings.Repeat("z", 5), chunks[2].Text)
}

func TestChunkerMultibyteRunes(t *testing.T) {
	c := NewChunker(4, 0)
	chunks := c.Split([]string{"日本語のテキスト"})

	require.Len(t, chunks, 2)
	assert.Equal(t, "日本語の", chunks[0].Text)
	assert.Equal(t, "テキスト", chunks[1].Text)
}
