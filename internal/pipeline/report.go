package pipeline

import (
	"sync"
	"time"

	"hoa-nexus-rag/internal/model"
)

// reportBuilder collects outcomes from concurrent workers.
type reportBuilder struct {
	mu     sync.Mutex
	report model.IndexingRunReport
}

func newReportBuilder(runID string, startedAt time.Time) *reportBuilder {
	return &reportBuilder{report: model.IndexingRunReport{
		RunID:          runID,
		Errors:         []model.IndexingError{},
		ProcessedFiles: []model.ProcessedFile{},
		StartedAt:      startedAt,
	}}
}

func (b *reportBuilder) setTotal(n int) {
	b.mu.Lock()
	b.report.Total = n
	b.mu.Unlock()
}

func (b *reportBuilder) cancelled() {
	b.mu.Lock()
	b.report.Cancelled = true
	b.mu.Unlock()
}

func (b *reportBuilder) add(o outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch o.status {
	case model.StatusSuccess:
		b.report.Successful++
	case model.StatusSkipped:
		b.report.Skipped++
	case model.StatusFailed:
		b.report.Failed++
		b.report.Errors = append(b.report.Errors, model.IndexingError{
			FileID:   o.fileID,
			FileName: o.fileName,
			Error:    o.details,
			Kind:     o.kind,
		})
	}
	b.report.ProcessedFiles = append(b.report.ProcessedFiles, model.ProcessedFile{
		FileID:     o.fileID,
		FileName:   o.fileName,
		Status:     o.status,
		Timestamp:  o.at,
		Details:    o.details,
		ChunkCount: o.chunkCount,
	})
}

func (b *reportBuilder) finish(at time.Time) *model.IndexingRunReport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.report.FinishedAt = at
	b.report.NotStarted = b.report.Total - b.report.Successful - b.report.Failed - b.report.Skipped
	out := b.report
	return &out
}
