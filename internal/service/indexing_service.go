package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/repository"
	"hoa-nexus-rag/internal/vectorstore"
	"hoa-nexus-rag/pkg/apperr"
	"hoa-nexus-rag/pkg/log"
	"hoa-nexus-rag/pkg/tasks"
)

// ErrAsyncUnavailable is returned when no run repository is configured.
var ErrAsyncUnavailable = errors.New("asynchronous indexing is not configured")

// Indexer is the per-file pipeline, implemented by *pipeline.Orchestrator.
type Indexer interface {
	RunBatch(ctx context.Context, runID string, scope model.Scope) (*model.IndexingRunReport, error)
	IndexFile(ctx context.Context, runID, fileID string, force bool) (*model.IndexingRunReport, error)
}

// TaskPublisher hands a task to the queue, implemented by *kafka.Producer.
type TaskPublisher interface {
	Publish(ctx context.Context, task tasks.IndexTask) error
}

// IndexStats combines vector store statistics with file indexing counts.
type IndexStats struct {
	Vector *model.VectorStats       `json:"vector"`
	Files  *repository.IndexSummary `json:"files"`
}

// IndexingService runs indexing synchronously or through the task queue.
type IndexingService interface {
	IndexDocuments(ctx context.Context, scope model.Scope) (*model.IndexingRunReport, error)
	IndexFile(ctx context.Context, fileID string, force bool) (*model.IndexingRunReport, error)
	EnqueueDocuments(ctx context.Context, scope model.Scope) (*model.IndexingRun, error)
	EnqueueFile(ctx context.Context, fileID string, force bool) (*model.IndexingRun, error)
	GetRun(ctx context.Context, runID string) (*model.IndexingRun, error)
	HandleTask(ctx context.Context, task tasks.IndexTask) error
	DeleteFile(ctx context.Context, fileID string) error
	Stats(ctx context.Context) (*IndexStats, error)
}

type indexingService struct {
	indexer   Indexer
	files     repository.FileRepository
	store     vectorstore.Store
	runs      repository.RunRepository
	publisher TaskPublisher
	// bg bounds fallback runs started without a queue
	bg context.Context
}

// NewIndexingService wires the service. runs may be nil, which disables the
// async operations. Without a publisher, async tasks run in a goroutine bound to bg.
func NewIndexingService(bg context.Context, indexer Indexer, files repository.FileRepository, store vectorstore.Store,
	runs repository.RunRepository, publisher TaskPublisher) IndexingService {
	if bg == nil {
		bg = context.Background()
	}
	return &indexingService{
		indexer:   indexer,
		files:     files,
		store:     store,
		runs:      runs,
		publisher: publisher,
		bg:        bg,
	}
}

func (s *indexingService) IndexDocuments(ctx context.Context, scope model.Scope) (*model.IndexingRunReport, error) {
	return s.indexer.RunBatch(ctx, uuid.NewString(), scope)
}

func (s *indexingService) IndexFile(ctx context.Context, fileID string, force bool) (*model.IndexingRunReport, error) {
	return s.indexer.IndexFile(ctx, uuid.NewString(), fileID, force)
}

func (s *indexingService) EnqueueDocuments(ctx context.Context, scope model.Scope) (*model.IndexingRun, error) {
	return s.enqueue(ctx, tasks.IndexTask{
		Type:        tasks.TypeIndexBatch,
		RunID:       uuid.NewString(),
		CommunityID: scope.CommunityID,
		FolderType:  scope.FolderType,
	})
}

func (s *indexingService) EnqueueFile(ctx context.Context, fileID string, force bool) (*model.IndexingRun, error) {
	if _, err := s.files.GetByID(ctx, fileID); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, tasks.IndexTask{
		Type:   tasks.TypeIndexFile,
		RunID:  uuid.NewString(),
		FileID: fileID,
		Force:  force,
	})
}

func (s *indexingService) enqueue(ctx context.Context, task tasks.IndexTask) (*model.IndexingRun, error) {
	if s.runs == nil {
		return nil, ErrAsyncUnavailable
	}
	run := &model.IndexingRun{
		RunID:     task.RunID,
		Status:    model.RunQueued,
		Scope:     model.Scope{CommunityID: task.CommunityID, FolderType: task.FolderType},
		FileID:    task.FileID,
		UpdatedAt: time.Now(),
	}
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save queued run: %w", err)
	}

	if s.publisher == nil {
		go func() {
			if err := s.HandleTask(s.bg, task); err != nil {
				log.Errorf("[IndexingService] background run %s failed: %v", task.RunID, err)
			}
		}()
		return run, nil
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		run.Status = model.RunFailed
		run.Error = err.Error()
		run.UpdatedAt = time.Now()
		_ = s.runs.Save(context.WithoutCancel(ctx), run)
		return nil, fmt.Errorf("publish index task: %w", err)
	}
	log.Infow("[IndexingService] task queued", "type", task.Type, "runId", task.RunID, "fileId", task.FileID)
	return run, nil
}

func (s *indexingService) GetRun(ctx context.Context, runID string) (*model.IndexingRun, error) {
	if s.runs == nil {
		return nil, ErrAsyncUnavailable
	}
	return s.runs.Get(ctx, runID)
}

// HandleTask executes a queued task and records its run state. Per-file
// failures live in the report; only run-level errors are returned.
func (s *indexingService) HandleTask(ctx context.Context, task tasks.IndexTask) error {
	if task.Type == tasks.TypeDeleteFile {
		return s.DeleteFile(ctx, task.FileID)
	}

	run := &model.IndexingRun{
		RunID:  task.RunID,
		Status: model.RunRunning,
		Scope:  model.Scope{CommunityID: task.CommunityID, FolderType: task.FolderType},
		FileID: task.FileID,
	}
	s.saveRun(ctx, run)

	var (
		report *model.IndexingRunReport
		err    error
	)
	switch task.Type {
	case tasks.TypeIndexBatch:
		report, err = s.indexer.RunBatch(ctx, task.RunID, run.Scope)
	case tasks.TypeIndexFile:
		report, err = s.indexer.IndexFile(ctx, task.RunID, task.FileID, task.Force)
	default:
		err = apperr.Validationf("handle task", "unknown task type %q", task.Type)
	}

	run.Report = report
	if err != nil {
		run.Status = model.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = model.RunCompleted
	}
	s.saveRun(ctx, run)

	// a missing file or bad task will never succeed on redelivery
	if errors.Is(err, repository.ErrFileNotFound) || errors.Is(err, apperr.Validation) {
		log.Warnf("[IndexingService] dropping task %s: %v", task.RunID, err)
		return nil
	}
	return err
}

func (s *indexingService) saveRun(ctx context.Context, run *model.IndexingRun) {
	if s.runs == nil {
		return
	}
	run.UpdatedAt = time.Now()
	if err := s.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		log.Warnf("[IndexingService] save run %s: %v", run.RunID, err)
	}
}

// DeleteFile drops the file's chunks and clears its indexing columns, so an
// active file is picked up again by the next run.
func (s *indexingService) DeleteFile(ctx context.Context, fileID string) error {
	if err := s.store.DeleteChunks(ctx, fileID); err != nil {
		return apperr.NewStorage("delete chunks", err)
	}
	if err := s.files.ClearIndex(ctx, fileID); err != nil {
		return fmt.Errorf("clear index state: %w", err)
	}
	log.Infow("[IndexingService] chunks deleted", "fileId", fileID)
	return nil
}

func (s *indexingService) Stats(ctx context.Context) (*IndexStats, error) {
	vs, err := s.store.Stats(ctx)
	if err != nil {
		return nil, apperr.NewStorage("vector stats", err)
	}
	summary, err := s.files.Summary(ctx, model.Scope{})
	if err != nil {
		return nil, fmt.Errorf("file summary: %w", err)
	}
	return &IndexStats{Vector: vs, Files: summary}, nil
}
