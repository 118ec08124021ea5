package vectorstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/pkg/database"
)

// Runs against a real PostgreSQL with pgvector when PGVECTOR_TEST_DSN is set.
func TestPgvectorStore(t *testing.T) {
	dsn := os.Getenv("PGVECTOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PGVECTOR_TEST_DSN not set")
	}
	ctx := context.Background()
	db, err := database.OpenPostgres(dsn)
	require.NoError(t, err)
	require.NoError(t, db.Exec("DROP TABLE IF EXISTS document_chunks").Error)

	s := NewPgvectorStore(db, 2)
	require.NoError(t, s.EnsureSchema(ctx))

	x := strPtr("community-x")
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.ReplaceChunks(ctx, "f1", []model.Chunk{
		chunk("f1", 0, x, "governing", []float32{1, 0}, now),
		chunk("f1", 1, x, "governing", []float32{0, 1}, now),
	}))
	require.NoError(t, s.ReplaceChunks(ctx, "f2", []model.Chunk{
		chunk("f2", 0, nil, "policies", []float32{1, 0}, now),
	}))
	require.NoError(t, s.ReplaceChunks(ctx, "f1", []model.Chunk{
		chunk("f1", 0, x, "governing", []float32{1, 0}, now),
	}))

	hits, err := s.Search(ctx, []float32{1, 0}, model.Scope{CommunityID: x}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "f1", hits[0].Chunk.FileID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.TotalChunks)
	assert.EqualValues(t, 2, stats.IndexedFiles)

	require.NoError(t, s.DeleteChunks(ctx, "f2"))
	hits, err = s.Search(ctx, []float32{1, 0}, model.Scope{}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
