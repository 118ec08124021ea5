// Package repository holds the persistence adapters of the indexing service.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"hoa-nexus-rag/internal/model"
)

// ErrFileNotFound is returned when a file id has no row.
var ErrFileNotFound = errors.New("file not found")

// IndexedResult is written after a successful pass.
type IndexedResult struct {
	FileHash        string
	ChunkCount      int
	IndexedAt       time.Time
	IndexingVersion int
}

// IndexSummary counts PDF files by indexing state.
type IndexSummary struct {
	Total   int64 `json:"total"`
	Indexed int64 `json:"indexed"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
	Forced  int64 `json:"forced"`
}

// FileRepository reads file records and owns writes to their indexing columns.
type FileRepository interface {
	// ListIndexCandidates returns active PDF files within scope.
	ListIndexCandidates(ctx context.Context, scope model.Scope) ([]model.FileRecord, error)
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.FileRecord, error)
	MarkIndexed(ctx context.Context, id string, res IndexedResult) error
	// MarkFailed records a failed attempt. attemptHash is the digest seen by the
	// attempt, nil when the content could not be read.
	MarkFailed(ctx context.Context, id, message string, attemptHash *string) error
	// ResetFailed clears errors on active PDF files in scope and flags them for a
	// forced pass. It returns the number of rows changed.
	ResetFailed(ctx context.Context, scope model.Scope) (int64, error)
	// ClearIndex forgets every indexing result of a file after its chunks were dropped.
	ClearIndex(ctx context.Context, id string) error
	Summary(ctx context.Context, scope model.Scope) (*IndexSummary, error)
}

type fileRepository struct {
	db *gorm.DB
}

// NewFileRepository returns a gorm-backed FileRepository.
func NewFileRepository(db *gorm.DB) FileRepository {
	return &fileRepository{db: db}
}

// withFolder selects file columns plus the folder type of the owning folder.
func (r *fileRepository) withFolder(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.FileRecord{}).
		Select("files.*, folders.folder_type AS folder_type").
		Joins("LEFT JOIN folders ON folders.id = files.folder_id")
}

func applyScope(q *gorm.DB, scope model.Scope) *gorm.DB {
	if scope.CommunityID != nil {
		q = q.Where("files.community_id = ?", *scope.CommunityID)
	}
	if scope.FolderType != "" {
		q = q.Where("files.folder_id IN (?)", q.Session(&gorm.Session{NewDB: true}).
			Table("folders").Select("id").Where("folder_type = ?", scope.FolderType))
	}
	return q
}

func (r *fileRepository) ListIndexCandidates(ctx context.Context, scope model.Scope) ([]model.FileRecord, error) {
	var files []model.FileRecord
	q := r.withFolder(ctx).Where("files.mime_type = ? AND files.is_active = ?", model.MimeTypePDF, true)
	err := applyScope(q, scope).Order("files.created_at ASC").Find(&files).Error
	return files, err
}

func (r *fileRepository) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	var file model.FileRecord
	err := r.withFolder(ctx).Where("files.id = ?", id).Take(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *fileRepository) FindByIDs(ctx context.Context, ids []string) ([]model.FileRecord, error) {
	var files []model.FileRecord
	if len(ids) == 0 {
		return files, nil
	}
	err := r.withFolder(ctx).Where("files.id IN ?", ids).Find(&files).Error
	return files, err
}

func (r *fileRepository) MarkIndexed(ctx context.Context, id string, res IndexedResult) error {
	return r.db.WithContext(ctx).Model(&model.FileRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_indexed":        true,
		"file_hash":         res.FileHash,
		"last_attempt_hash": res.FileHash,
		"chunk_count":       res.ChunkCount,
		"last_indexed_date": res.IndexedAt,
		"indexing_version":  res.IndexingVersion,
		"indexing_error":    nil,
		"force_reindex":     false,
	}).Error
}

func (r *fileRepository) MarkFailed(ctx context.Context, id, message string, attemptHash *string) error {
	return r.db.WithContext(ctx).Model(&model.FileRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_indexed":        false,
		"indexing_error":    message,
		"last_attempt_hash": attemptHash,
		"force_reindex":     false,
	}).Error
}

func (r *fileRepository) ResetFailed(ctx context.Context, scope model.Scope) (int64, error) {
	q := r.db.WithContext(ctx).Model(&model.FileRecord{}).
		Where("files.mime_type = ? AND files.is_active = ? AND files.indexing_error IS NOT NULL", model.MimeTypePDF, true)
	res := applyScope(q, scope).Updates(map[string]interface{}{
		"indexing_error": nil,
		"force_reindex":  true,
		"is_indexed":     false,
	})
	return res.RowsAffected, res.Error
}

func (r *fileRepository) ClearIndex(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.FileRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_indexed":        false,
		"file_hash":         nil,
		"last_attempt_hash": nil,
		"chunk_count":       nil,
		"last_indexed_date": nil,
		"indexing_error":    nil,
		"force_reindex":     false,
	}).Error
}

func (r *fileRepository) Summary(ctx context.Context, scope model.Scope) (*IndexSummary, error) {
	var s IndexSummary
	q := r.db.WithContext(ctx).Model(&model.FileRecord{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN files.is_indexed THEN 1 ELSE 0 END), 0) AS indexed,
			COALESCE(SUM(CASE WHEN files.indexing_error IS NOT NULL THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN NOT files.is_indexed AND files.indexing_error IS NULL THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN files.force_reindex THEN 1 ELSE 0 END), 0) AS forced`).
		Where("files.mime_type = ? AND files.is_active = ?", model.MimeTypePDF, true)
	if err := applyScope(q, scope).Scan(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
