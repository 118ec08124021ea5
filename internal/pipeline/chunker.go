package pipeline

import (
	"sort"
	"strings"
	"unicode"
)

// ChunkText is a chunk before embedding.
type ChunkText struct {
	PageNumber int
	ChunkIndex int
	Text       string
}

// Chunker cuts page text into overlapping rune windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a chunker with the given window size and overlap, in runes.
// An overlap that would stop the window from advancing is dropped.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split chunks pages (pages[0] is page 1). Each chunk reports the page where it
// starts. Blank pages contribute nothing; a document of blank pages yields nil.
func (c *Chunker) Split(pages []string) []ChunkText {
	var (
		text       []rune
		pageStarts []int // rune offset where each kept page begins
		pageNums   []int
	)
	for i, p := range pages {
		norm := normalizeWhitespace(p)
		if norm == "" {
			continue
		}
		if len(text) > 0 {
			text = append(text, '\n')
		}
		pageStarts = append(pageStarts, len(text))
		pageNums = append(pageNums, i+1)
		text = append(text, []rune(norm)...)
	}
	if len(text) == 0 {
		return nil
	}

	pageAt := func(offset int) int {
		idx := sort.Search(len(pageStarts), func(i int) bool { return pageStarts[i] > offset }) - 1
		if idx < 0 {
			idx = 0
		}
		return pageNums[idx]
	}

	var chunks []ChunkText
	n := len(text)
	start := 0
	for start < n {
		for start < n && unicode.IsSpace(text[start]) {
			start++
		}
		if start >= n {
			break
		}
		end := start + c.size
		if end > n {
			end = n
		}
		if end < n {
			end = c.softEnd(text, start, end)
		}

		chunk := strings.TrimSpace(string(text[start:end]))
		if chunk != "" {
			chunks = append(chunks, ChunkText{
				PageNumber: pageAt(start),
				ChunkIndex: len(chunks),
				Text:       chunk,
			})
		}
		if end >= n {
			break
		}
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// softEnd pulls end back to a whitespace boundary if one lies in the last fifth
// of the window, so words are not cut in half.
func (c *Chunker) softEnd(text []rune, start, end int) int {
	limit := end - c.size/5
	if limit <= start {
		limit = start + 1
	}
	for i := end; i > limit; i-- {
		if unicode.IsSpace(text[i]) {
			return i
		}
	}
	return end
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
