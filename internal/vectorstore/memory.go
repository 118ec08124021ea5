package vectorstore

import (
	"context"
	"sync"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/pkg/apperr"
)

// MemoryStore keeps chunks in process. Used in development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byFile map[string][]model.Chunk
	dims   int
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byFile: make(map[string][]model.Chunk)}
}

// ReplaceChunks swaps the file's chunk set under the write lock. An empty set deletes the file.
func (s *MemoryStore) ReplaceChunks(_ context.Context, fileID string, chunks []model.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dims := s.dims
	fresh := make([]model.Chunk, len(chunks))
	for i, c := range chunks {
		if dims == 0 {
			dims = len(c.Embedding)
		}
		if len(c.Embedding) != dims {
			return apperr.Validationf("replace chunks", "chunk %d has %d dimensions, store holds %d", i, len(c.Embedding), dims)
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		fresh[i] = c
	}

	if len(fresh) == 0 {
		delete(s.byFile, fileID)
		return nil
	}
	s.dims = dims
	s.byFile[fileID] = fresh
	return nil
}

// Search scores every chunk in scope by cosine similarity and returns the best k.
func (s *MemoryStore) Search(_ context.Context, vector []float32, scope model.Scope, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []model.ScoredChunk
	for _, chunks := range s.byFile {
		for i := range chunks {
			c := &chunks[i]
			if !matchesScope(c, scope) {
				continue
			}
			score, err := cosineSimilarity(vector, c.Embedding)
			if err != nil {
				return nil, apperr.NewStorage("search", err)
			}
			hit := *c
			hit.Embedding = nil
			hits = append(hits, model.ScoredChunk{Chunk: hit, Score: score})
		}
	}
	SortScored(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteChunks drops every chunk of the file.
func (s *MemoryStore) DeleteChunks(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byFile, fileID)
	return nil
}

// Stats counts files and chunks held in memory.
func (s *MemoryStore) Stats(_ context.Context) (*model.VectorStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.VectorStats{Backend: "memory", Dimensions: s.dims}
	for _, chunks := range s.byFile {
		stats.IndexedFiles++
		for _, c := range chunks {
			stats.TotalChunks++
			stats.StorageBytes += int64(len(c.Text) + 4*len(c.Embedding))
		}
	}
	return stats, nil
}
