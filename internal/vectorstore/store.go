// Package vectorstore persists embedded chunks and answers scoped similarity queries.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"

	"hoa-nexus-rag/internal/model"
)

// Store is the chunk index. ReplaceChunks is atomic per file: a reader sees either
// the previous chunk set or the new one, never a mix and never an empty gap.
type Store interface {
	ReplaceChunks(ctx context.Context, fileID string, chunks []model.Chunk) error
	Search(ctx context.Context, vector []float32, scope model.Scope, k int) ([]model.ScoredChunk, error)
	DeleteChunks(ctx context.Context, fileID string) error
	Stats(ctx context.Context) (*model.VectorStats, error)
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector length mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// matchesScope applies the community and folder type filters.
func matchesScope(c *model.Chunk, scope model.Scope) bool {
	if scope.CommunityID != nil {
		if c.CommunityID == nil || *c.CommunityID != *scope.CommunityID {
			return false
		}
	}
	if scope.FolderType != "" && c.FolderType != scope.FolderType {
		return false
	}
	return true
}

// SortScored orders hits by score, then by the more recently indexed file,
// then by position for a stable result.
func SortScored(hits []model.ScoredChunk) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Chunk.IndexedAt.Equal(b.Chunk.IndexedAt) {
			return a.Chunk.IndexedAt.After(b.Chunk.IndexedAt)
		}
		if a.Chunk.FileID != b.Chunk.FileID {
			return a.Chunk.FileID < b.Chunk.FileID
		}
		return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
	})
}
