package service

import (
	"context"
	"fmt"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/repository"
	"hoa-nexus-rag/pkg/log"
)

// ResetResult is returned by ResetFailedIndexes.
type ResetResult struct {
	AffectedRows int64  `json:"affectedRows"`
	RunID        string `json:"runId,omitempty"`
}

// RecoveryService clears failed indexing state so files are retried.
type RecoveryService interface {
	// ResetFailedIndexes flags failed PDFs in scope for a forced pass. With
	// trigger set and rows affected, it also queues a batch run for the scope.
	ResetFailedIndexes(ctx context.Context, scope model.Scope, trigger bool) (*ResetResult, error)
}

type recoveryService struct {
	files    repository.FileRepository
	indexing IndexingService
}

// NewRecoveryService re-queues failed files through indexing.
func NewRecoveryService(files repository.FileRepository, indexing IndexingService) RecoveryService {
	return &recoveryService{files: files, indexing: indexing}
}

func (s *recoveryService) ResetFailedIndexes(ctx context.Context, scope model.Scope, trigger bool) (*ResetResult, error) {
	n, err := s.files.ResetFailed(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("reset failed indexes: %w", err)
	}
	log.Infow("[RecoveryService] failed indexes reset", "affectedRows", n, "communityId", scope.CommunityID, "folderType", scope.FolderType)

	res := &ResetResult{AffectedRows: n}
	if trigger && n > 0 && s.indexing != nil {
		run, err := s.indexing.EnqueueDocuments(ctx, scope)
		if err != nil {
			// the reset stands; the next scheduled run picks the files up
			log.Warnf("[RecoveryService] could not queue follow-up run: %v", err)
			return res, nil
		}
		res.RunID = run.RunID
	}
	return res, nil
}
