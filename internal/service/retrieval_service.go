// Package service holds the business logic behind the AI routes.
package service

import (
	"context"
	"strings"
	"time"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/vectorstore"
	"hoa-nexus-rag/pkg/apperr"
	"hoa-nexus-rag/pkg/embedding"
	"hoa-nexus-rag/pkg/log"
)

// RetrievalService answers similarity queries over indexed chunks.
type RetrievalService interface {
	// Retrieve returns up to k chunks in scope, best first. k <= 0 selects the default.
	Retrieve(ctx context.Context, query string, scope model.Scope, k int) ([]model.SearchResult, error)
}

type retrievalService struct {
	cfg      config.RetrievalConfig
	embedder embedding.Client
	store    vectorstore.Store
}

// NewRetrievalService embeds queries and searches store.
func NewRetrievalService(cfg config.RetrievalConfig, embedder embedding.Client, store vectorstore.Store) RetrievalService {
	return &retrievalService{cfg: cfg, embedder: embedder, store: store}
}

func (s *retrievalService) Retrieve(ctx context.Context, query string, scope model.Scope, k int) ([]model.SearchResult, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Validationf("retrieve", "query is empty")
	}
	k = s.clampK(k)

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		retrievalDuration.WithLabelValues("embed_error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	hits, err := s.store.Search(ctx, vector, scope, k)
	if err != nil {
		retrievalDuration.WithLabelValues("search_error").Observe(time.Since(start).Seconds())
		return nil, apperr.NewStorage("search chunks", err)
	}

	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= s.cfg.MinScore {
			kept = append(kept, h)
		}
	}
	vectorstore.SortScored(kept)

	results := make([]model.SearchResult, 0, len(kept))
	for _, h := range kept {
		results = append(results, model.SearchResult{
			FileID:      h.Chunk.FileID,
			FileName:    h.Chunk.FileName,
			CommunityID: h.Chunk.CommunityID,
			FolderType:  h.Chunk.FolderType,
			PageNumber:  h.Chunk.PageNumber,
			ChunkIndex:  h.Chunk.ChunkIndex,
			Text:        h.Chunk.Text,
			Score:       h.Score,
		})
	}

	retrievalDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	retrievalHits.Observe(float64(len(results)))
	log.Debugf("[RetrievalService] query=%q k=%d hits=%d kept=%d", query, k, len(hits), len(results))
	return results, nil
}

func (s *retrievalService) clampK(k int) int {
	if k <= 0 {
		k = s.cfg.DefaultK
	}
	if s.cfg.MaxK > 0 && k > s.cfg.MaxK {
		k = s.cfg.MaxK
	}
	if k <= 0 {
		k = 5
	}
	return k
}
