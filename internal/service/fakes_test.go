package service

import (
	"context"
	"errors"
	"sync"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/repository"
	"hoa-nexus-rag/pkg/llm"
	"hoa-nexus-rag/pkg/tasks"
)

func strPtr(s string) *string { return &s }

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, f.err
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector for query")
	}
	return v, nil
}

type fakeRetrieval struct {
	results []model.SearchResult
	err     error
	calls   int
	scope   model.Scope
}

func (f *fakeRetrieval) Retrieve(_ context.Context, _ string, scope model.Scope, _ int) ([]model.SearchResult, error) {
	f.calls++
	f.scope = scope
	return f.results, f.err
}

type fakeLLM struct {
	answer   string
	deltas   []string
	err      error
	messages []llm.Message
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.messages = messages
	return f.answer, f.err
}

func (f *fakeLLM) StreamChatMessages(_ context.Context, messages []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	f.messages = messages
	if f.err != nil {
		return f.err
	}
	for _, d := range f.deltas {
		if err := w.WriteMessage(1, []byte(d)); err != nil {
			return err
		}
	}
	return nil
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []string
}

func (r *frameRecorder) WriteMessage(_ int, data []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, string(data))
	r.mu.Unlock()
	return nil
}

// fakeFiles implements the FileRepository methods the services call.
type fakeFiles struct {
	repository.FileRepository
	mu       sync.Mutex
	known    map[string]bool
	cleared  []string
	resetN   int64
	resetErr error
	scopes   []model.Scope
}

func (f *fakeFiles) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	if !f.known[id] {
		return nil, repository.ErrFileNotFound
	}
	return &model.FileRecord{ID: id, MimeType: model.MimeTypePDF, IsActive: true}, nil
}

func (f *fakeFiles) ClearIndex(_ context.Context, id string) error {
	f.mu.Lock()
	f.cleared = append(f.cleared, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeFiles) ResetFailed(_ context.Context, scope model.Scope) (int64, error) {
	f.scopes = append(f.scopes, scope)
	return f.resetN, f.resetErr
}

func (f *fakeFiles) Summary(context.Context, model.Scope) (*repository.IndexSummary, error) {
	return &repository.IndexSummary{Total: 3, Indexed: 2, Failed: 1}, nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	batches []string
	files   []string
	err     error
}

func (f *fakeIndexer) RunBatch(_ context.Context, runID string, _ model.Scope) (*model.IndexingRunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, runID)
	if f.err != nil {
		return nil, f.err
	}
	return &model.IndexingRunReport{RunID: runID, Total: 2, Successful: 2}, nil
}

func (f *fakeIndexer) IndexFile(_ context.Context, runID, fileID string, _ bool) (*model.IndexingRunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, fileID)
	if fileID == "missing" {
		return nil, repository.ErrFileNotFound
	}
	return &model.IndexingRunReport{RunID: runID, Total: 1, Successful: 1}, nil
}

type fakePublisher struct {
	published []tasks.IndexTask
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, task tasks.IndexTask) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, task)
	return nil
}
