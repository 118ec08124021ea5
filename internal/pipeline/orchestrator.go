// Package pipeline drives per-file indexing: change detection, extraction,
// chunking, embedding and the atomic swap into the vector store.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/repository"
	"hoa-nexus-rag/internal/vectorstore"
	"hoa-nexus-rag/pkg/apperr"
	"hoa-nexus-rag/pkg/log"
)

// ErrNoExtractableText marks a document that produced no chunks.
var ErrNoExtractableText = errors.New("no extractable text")

// BlobStore returns the stored bytes of a file.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Extractor returns the text of each page of a document.
type Extractor interface {
	ExtractPages(ctx context.Context, r io.Reader, fileName string) ([]string, error)
}

// Embedder turns chunk texts into vectors, in order.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Orchestrator runs the indexing state machine over file records.
type Orchestrator struct {
	cfg       config.IndexingConfig
	files     repository.FileRepository
	blobs     BlobStore
	extractor Extractor
	chunker   *Chunker
	hasher    *Hasher
	embedder  Embedder
	store     vectorstore.Store
	leases    repository.LeaseRepository
	now       func() time.Time
}

// NewOrchestrator wires the pipeline. leases may be nil for single-instance deployments.
func NewOrchestrator(
	cfg config.IndexingConfig,
	files repository.FileRepository,
	blobs BlobStore,
	extractor Extractor,
	chunker *Chunker,
	hasher *Hasher,
	embedder Embedder,
	store vectorstore.Store,
	leases repository.LeaseRepository,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxErrorLength <= 0 {
		cfg.MaxErrorLength = 1000
	}
	return &Orchestrator{
		cfg:       cfg,
		files:     files,
		blobs:     blobs,
		extractor: extractor,
		chunker:   chunker,
		hasher:    hasher,
		embedder:  embedder,
		store:     store,
		leases:    leases,
		now:       time.Now,
	}
}

type outcome struct {
	fileID     string
	fileName   string
	status     model.FileStatus
	details    string
	kind       string
	chunkCount int
	at         time.Time
}

// RunBatch indexes every active PDF within scope. Per-file failures are
// reported, not returned; the error is only set when candidates cannot be
// listed. Cancelling ctx stops dispatch of further files; files already
// started run to completion.
func (o *Orchestrator) RunBatch(ctx context.Context, runID string, scope model.Scope) (*model.IndexingRunReport, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	rb := newReportBuilder(runID, o.now())

	candidates, err := o.files.ListIndexCandidates(ctx, scope)
	if err != nil {
		runsTotal.WithLabelValues("batch", "error").Inc()
		return nil, fmt.Errorf("list index candidates: %w", err)
	}
	candidates = dedupe(candidates)
	rb.setTotal(len(candidates))
	log.Infow("[Orchestrator] batch run started", "runId", runID, "candidates", len(candidates))

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i := range candidates {
		if ctx.Err() != nil {
			rb.cancelled()
			break
		}
		rec := candidates[i]
		g.Go(func() error {
			if ctx.Err() != nil {
				rb.cancelled()
				return nil
			}
			rb.add(o.indexWithLease(ctx, runID, &rec, false))
			return nil
		})
	}
	_ = g.Wait()

	report := rb.finish(o.now())
	result := "completed"
	if report.Cancelled {
		result = "cancelled"
	}
	runsTotal.WithLabelValues("batch", result).Inc()
	log.Infow("[Orchestrator] batch run finished", "runId", runID, "total", report.Total,
		"successful", report.Successful, "failed", report.Failed, "skipped", report.Skipped, "cancelled", report.Cancelled)
	return report, nil
}

// IndexFile runs the state machine for one file. force overrides change
// detection. A non-PDF or inactive file is reported as a ValidationError and
// its record is left alone. repository.ErrFileNotFound is returned as is.
func (o *Orchestrator) IndexFile(ctx context.Context, runID, fileID string, force bool) (*model.IndexingRunReport, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	rb := newReportBuilder(runID, o.now())

	rec, err := o.files.GetByID(ctx, fileID)
	if err != nil {
		runsTotal.WithLabelValues("file", "error").Inc()
		return nil, err
	}
	rb.setTotal(1)

	if !rec.IsPDF() || !rec.IsActive {
		verr := apperr.Validationf("index file", "file %s is not an active PDF (mimeType=%s, active=%t)", rec.ID, rec.MimeType, rec.IsActive)
		rb.add(o.failedOutcome(rec, verr))
	} else {
		rb.add(o.indexWithLease(ctx, runID, rec, force))
	}

	runsTotal.WithLabelValues("file", "completed").Inc()
	return rb.finish(o.now()), nil
}

// indexWithLease guards indexFile with the cross-run lease and a detached,
// time-bounded context.
func (o *Orchestrator) indexWithLease(ctx context.Context, runID string, rec *model.FileRecord, force bool) outcome {
	fileCtx := context.WithoutCancel(ctx)
	if timeout := o.cfg.FileTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(fileCtx, timeout)
		defer cancel()
	}

	if o.leases != nil {
		ok, err := o.leases.Acquire(fileCtx, rec.ID, runID, o.cfg.LeaseTTL())
		switch {
		case err != nil:
			log.Warnf("[Orchestrator] lease for file %s unavailable, continuing without it: %v", rec.ID, err)
		case !ok:
			return o.skippedOutcome(rec, "indexing in progress in another run")
		default:
			defer func() {
				if err := o.leases.Release(context.WithoutCancel(fileCtx), rec.ID, runID); err != nil {
					log.Warnf("[Orchestrator] release lease for file %s: %v", rec.ID, err)
				}
			}()
		}
	}

	inFlight.Inc()
	start := time.Now()
	out := o.indexFile(fileCtx, rec, force)
	inFlight.Dec()
	filesProcessed.WithLabelValues(string(out.status)).Inc()
	fileDuration.WithLabelValues(string(out.status)).Observe(time.Since(start).Seconds())
	return out
}

// decision is the verdict of the state machine for one file.
type decision struct {
	process bool
	reason  string
}

// decide applies the per-file rules in order of precedence.
func (o *Orchestrator) decide(rec *model.FileRecord, hash string, force bool) decision {
	switch {
	case force || rec.ForceReindex:
		return decision{true, "forced re-index"}
	case rec.IndexingError != nil:
		if rec.LastAttemptHash == nil {
			// the failed attempt never read the content
			return decision{true, "retrying after unreadable content"}
		}
		if *rec.LastAttemptHash == hash {
			return decision{false, "previous attempt failed and content is unchanged"}
		}
		return decision{true, "content changed since failed attempt"}
	case !rec.IsIndexed:
		return decision{true, "never indexed"}
	case rec.FileHash == nil || *rec.FileHash != hash:
		return decision{true, "content changed"}
	case o.cfg.ReindexOnVersionChange && rec.IndexingVersion < o.cfg.Version:
		return decision{true, fmt.Sprintf("indexing version %d is older than %d", rec.IndexingVersion, o.cfg.Version)}
	default:
		return decision{false, "unchanged"}
	}
}

func (o *Orchestrator) indexFile(ctx context.Context, rec *model.FileRecord, force bool) outcome {
	force = force || rec.ForceReindex

	content, err := o.blobs.Get(ctx, rec.ObjectKey)
	if err != nil {
		return o.fail(ctx, rec, nil, err)
	}
	hash, err := o.hasher.Sum(bytes.NewReader(content))
	if err != nil {
		return o.fail(ctx, rec, nil, err)
	}

	d := o.decide(rec, hash, force)
	if !d.process {
		return o.skippedOutcome(rec, d.reason)
	}
	log.Infow("[Orchestrator] processing file", "fileId", rec.ID, "fileName", rec.FileName, "reason", d.reason)

	pages, err := o.extractor.ExtractPages(ctx, bytes.NewReader(content), rec.FileName)
	if err != nil {
		return o.fail(ctx, rec, &hash, apperr.NewExtraction("extract pages", err))
	}

	texts := o.chunker.Split(pages)
	if len(texts) == 0 {
		return o.fail(ctx, rec, &hash, apperr.NewExtraction("chunk", ErrNoExtractableText))
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = t.Text
	}
	vectors, err := o.embedder.EmbedTexts(ctx, inputs)
	if err != nil {
		return o.fail(ctx, rec, &hash, apperr.NewEmbedding("embed chunks", err))
	}
	if len(vectors) != len(texts) {
		return o.fail(ctx, rec, &hash, apperr.NewEmbedding("embed chunks",
			fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(texts))))
	}

	indexedAt := o.now().UTC()
	chunks := make([]model.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = model.Chunk{
			ChunkID:         fmt.Sprintf("%s_%d", rec.ID, t.ChunkIndex),
			FileID:          rec.ID,
			FileName:        rec.FileName,
			CommunityID:     rec.CommunityID,
			FolderType:      rec.FolderType,
			PageNumber:      t.PageNumber,
			ChunkIndex:      t.ChunkIndex,
			Text:            t.Text,
			Embedding:       vectors[i],
			IndexingVersion: o.cfg.Version,
			IndexedAt:       indexedAt,
		}
	}
	if err := o.store.ReplaceChunks(ctx, rec.ID, chunks); err != nil {
		return o.fail(ctx, rec, &hash, apperr.NewStorage("replace chunks", err))
	}
	chunksWritten.Add(float64(len(chunks)))

	err = o.files.MarkIndexed(ctx, rec.ID, repository.IndexedResult{
		FileHash:        hash,
		ChunkCount:      len(chunks),
		IndexedAt:       indexedAt,
		IndexingVersion: o.cfg.Version,
	})
	if err != nil {
		return o.fail(ctx, rec, &hash, apperr.NewStorage("mark indexed", err))
	}

	return outcome{
		fileID:     rec.ID,
		fileName:   rec.FileName,
		status:     model.StatusSuccess,
		details:    fmt.Sprintf("indexed %d chunks (%s)", len(chunks), d.reason),
		chunkCount: len(chunks),
		at:         o.now(),
	}
}

// fail persists the error on the record and turns it into a failed outcome.
func (o *Orchestrator) fail(ctx context.Context, rec *model.FileRecord, attemptHash *string, err error) outcome {
	out := o.failedOutcome(rec, err)
	log.Errorw("[Orchestrator] file failed", "fileId", rec.ID, "fileName", rec.FileName, "kind", out.kind, "error", err)
	if merr := o.files.MarkFailed(ctx, rec.ID, out.details, attemptHash); merr != nil {
		log.Errorf("[Orchestrator] could not record failure for file %s: %v", rec.ID, merr)
	}
	return out
}

func (o *Orchestrator) failedOutcome(rec *model.FileRecord, err error) outcome {
	msg := err.Error()
	if r := []rune(msg); len(r) > o.cfg.MaxErrorLength {
		msg = string(r[:o.cfg.MaxErrorLength])
	}
	return outcome{
		fileID:   rec.ID,
		fileName: rec.FileName,
		status:   model.StatusFailed,
		details:  msg,
		kind:     string(apperr.KindOf(err)),
		at:       o.now(),
	}
}

func (o *Orchestrator) skippedOutcome(rec *model.FileRecord, reason string) outcome {
	return outcome{
		fileID:   rec.ID,
		fileName: rec.FileName,
		status:   model.StatusSkipped,
		details:  reason,
		at:       o.now(),
	}
}

// dedupe keeps the first occurrence of each file id.
func dedupe(files []model.FileRecord) []model.FileRecord {
	seen := make(map[string]struct{}, len(files))
	out := files[:0:0]
	for _, f := range files {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}
