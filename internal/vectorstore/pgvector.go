package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/pkg/apperr"
)

// pgChunk is the row layout of document_chunks.
type pgChunk struct {
	ChunkID         string          `gorm:"column:chunk_id;primaryKey"`
	FileID          string          `gorm:"column:file_id;index"`
	FileName        string          `gorm:"column:file_name"`
	CommunityID     *string         `gorm:"column:community_id;index"`
	FolderType      string          `gorm:"column:folder_type;index"`
	PageNumber      int             `gorm:"column:page_number"`
	ChunkIndex      int             `gorm:"column:chunk_index"`
	Text            string          `gorm:"column:text"`
	Embedding       pgvector.Vector `gorm:"column:embedding"`
	IndexingVersion int             `gorm:"column:indexing_version"`
	IndexedAt       time.Time       `gorm:"column:indexed_at"`
}

func (pgChunk) TableName() string {
	return "document_chunks"
}

// PgvectorStore keeps chunks in PostgreSQL with the pgvector extension.
// Replacement is a single transaction, so readers see the old or the new set.
type PgvectorStore struct {
	db   *gorm.DB
	dims int
}

// NewPgvectorStore stores chunks in the document_chunks table. Call EnsureSchema first.
func NewPgvectorStore(db *gorm.DB, dims int) *PgvectorStore {
	return &PgvectorStore{db: db, dims: dims}
}

// EnsureSchema creates the extension, table and HNSW index.
func (s *PgvectorStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			chunk_id varchar(64) PRIMARY KEY,
			file_id varchar(36) NOT NULL,
			file_name text NOT NULL DEFAULT '',
			community_id varchar(36),
			folder_type varchar(64) NOT NULL DEFAULT '',
			page_number integer NOT NULL,
			chunk_index integer NOT NULL,
			text text NOT NULL,
			embedding vector(%d) NOT NULL,
			indexing_version integer NOT NULL,
			indexed_at timestamptz NOT NULL
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_file ON document_chunks (file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_scope ON document_chunks (community_id, folder_type)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

// ReplaceChunks deletes and inserts the file's chunks in one transaction.
func (s *PgvectorStore) ReplaceChunks(ctx context.Context, fileID string, chunks []model.Chunk) error {
	rows := make([]pgChunk, len(chunks))
	for i, c := range chunks {
		if s.dims > 0 && len(c.Embedding) != s.dims {
			return apperr.Validationf("replace chunks", "chunk %d has %d dimensions, table expects %d", c.ChunkIndex, len(c.Embedding), s.dims)
		}
		rows[i] = pgChunk{
			ChunkID:         c.ChunkID,
			FileID:          fileID,
			FileName:        c.FileName,
			CommunityID:     c.CommunityID,
			FolderType:      c.FolderType,
			PageNumber:      c.PageNumber,
			ChunkIndex:      c.ChunkIndex,
			Text:            c.Text,
			Embedding:       pgvector.NewVector(c.Embedding),
			IndexingVersion: c.IndexingVersion,
			IndexedAt:       c.IndexedAt,
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("file_id = ?", fileID).Delete(&pgChunk{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return apperr.NewStorage("replace chunks", err)
	}
	return nil
}

type pgHit struct {
	pgChunk
	Score float64 `gorm:"column:score"`
}

// Search orders chunks in scope by cosine distance.
func (s *PgvectorStore) Search(ctx context.Context, vector []float32, scope model.Scope, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(vector)

	q := s.db.WithContext(ctx).Model(&pgChunk{}).
		Select("chunk_id, file_id, file_name, community_id, folder_type, page_number, chunk_index, text, indexing_version, indexed_at, 1 - (embedding <=> ?) AS score", vec)
	if scope.CommunityID != nil {
		q = q.Where("community_id = ?", *scope.CommunityID)
	}
	if scope.FolderType != "" {
		q = q.Where("folder_type = ?", scope.FolderType)
	}
	q = q.Clauses(clause.OrderBy{Expression: clause.Expr{SQL: "embedding <=> ?, indexed_at DESC", Vars: []interface{}{vec}}}).
		Limit(k)

	var rows []pgHit
	if err := q.Scan(&rows).Error; err != nil {
		return nil, apperr.NewStorage("search", err)
	}

	hits := make([]model.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		hits = append(hits, model.ScoredChunk{
			Chunk: model.Chunk{
				ChunkID:         r.ChunkID,
				FileID:          r.FileID,
				FileName:        r.FileName,
				CommunityID:     r.CommunityID,
				FolderType:      r.FolderType,
				PageNumber:      r.PageNumber,
				ChunkIndex:      r.ChunkIndex,
				Text:            r.Text,
				IndexingVersion: r.IndexingVersion,
				IndexedAt:       r.IndexedAt,
			},
			Score: r.Score,
		})
	}
	SortScored(hits)
	return hits, nil
}

// DeleteChunks removes every row of the file.
func (s *PgvectorStore) DeleteChunks(ctx context.Context, fileID string) error {
	if err := s.db.WithContext(ctx).Where("file_id = ?", fileID).Delete(&pgChunk{}).Error; err != nil {
		return apperr.NewStorage("delete chunks", err)
	}
	return nil
}

// Stats reports row, file and table size totals.
func (s *PgvectorStore) Stats(ctx context.Context) (*model.VectorStats, error) {
	var row struct {
		TotalChunks  int64
		IndexedFiles int64
		StorageBytes int64
	}
	err := s.db.WithContext(ctx).Raw(`SELECT count(*) AS total_chunks,
		count(DISTINCT file_id) AS indexed_files,
		pg_total_relation_size('document_chunks') AS storage_bytes
		FROM document_chunks`).Scan(&row).Error
	if err != nil {
		return nil, apperr.NewStorage("stats", err)
	}
	return &model.VectorStats{
		Backend:      "pgvector",
		TotalChunks:  row.TotalChunks,
		IndexedFiles: row.IndexedFiles,
		StorageBytes: row.StorageBytes,
		Dimensions:   s.dims,
		Details:      map[string]interface{}{"table": "document_chunks"},
	}, nil
}
