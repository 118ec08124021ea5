package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/pkg/apperr"
	"hoa-nexus-rag/pkg/es"
	"hoa-nexus-rag/pkg/log"
)

// ElasticsearchStore keeps chunks in a dense_vector index.
//
// Every ReplaceChunks writes a new generation of chunk documents and then flips
// a per-file pointer document in the generations index. Search drops hits whose
// generation is not the active one, so a half-written or half-deleted
// generation is never visible.
type ElasticsearchStore struct {
	client     *elasticsearch.Client
	index      string
	genIndex   string
	dims       int
	oversample int
}

// NewElasticsearchStore uses index for chunks and index+"_generations" for the
// per-file pointers. oversample multiplies k when querying.
func NewElasticsearchStore(client *elasticsearch.Client, index string, dims, oversample int) *ElasticsearchStore {
	if oversample < 1 {
		oversample = 1
	}
	return &ElasticsearchStore{
		client:     client,
		index:      index,
		genIndex:   index + "_generations",
		dims:       dims,
		oversample: oversample,
	}
}

const chunkMapping = `{
	"mappings": {
		"properties": {
			"chunk_id": { "type": "keyword" },
			"file_id": { "type": "keyword" },
			"file_name": { "type": "keyword" },
			"community_id": { "type": "keyword" },
			"folder_type": { "type": "keyword" },
			"page_number": { "type": "integer" },
			"chunk_index": { "type": "integer" },
			"text": { "type": "text" },
			"embedding": { "type": "dense_vector", "dims": %d, "index": true, "similarity": "cosine" },
			"indexing_version": { "type": "integer" },
			"indexed_at": { "type": "date" },
			"generation": { "type": "keyword" }
		}
	}
}`

const generationMapping = `{
	"mappings": {
		"properties": {
			"file_id": { "type": "keyword" },
			"generation": { "type": "keyword" },
			"chunk_count": { "type": "integer" },
			"indexed_at": { "type": "date" }
		}
	}
}`

// EnsureIndices creates the chunk and generation indices.
func (s *ElasticsearchStore) EnsureIndices(ctx context.Context) error {
	if err := es.EnsureIndex(ctx, s.client, s.index, fmt.Sprintf(chunkMapping, s.dims)); err != nil {
		return err
	}
	return es.EnsureIndex(ctx, s.client, s.genIndex, generationMapping)
}

type esChunk struct {
	ChunkID         string    `json:"chunk_id"`
	FileID          string    `json:"file_id"`
	FileName        string    `json:"file_name"`
	CommunityID     *string   `json:"community_id,omitempty"`
	FolderType      string    `json:"folder_type,omitempty"`
	PageNumber      int       `json:"page_number"`
	ChunkIndex      int       `json:"chunk_index"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"embedding,omitempty"`
	IndexingVersion int       `json:"indexing_version"`
	IndexedAt       time.Time `json:"indexed_at"`
	Generation      string    `json:"generation"`
}

type esGeneration struct {
	FileID     string    `json:"file_id"`
	Generation string    `json:"generation"`
	ChunkCount int       `json:"chunk_count"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// ReplaceChunks bulk-writes a new generation, activates it and removes older ones.
func (s *ElasticsearchStore) ReplaceChunks(ctx context.Context, fileID string, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return s.DeleteChunks(ctx, fileID)
	}
	generation := uuid.NewString()

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, c := range chunks {
		if s.dims > 0 && len(c.Embedding) != s.dims {
			return apperr.Validationf("replace chunks", "chunk %d has %d dimensions, index expects %d", c.ChunkIndex, len(c.Embedding), s.dims)
		}
		meta := map[string]interface{}{"index": map[string]interface{}{"_id": fmt.Sprintf("%s_%d", generation, c.ChunkIndex)}}
		if err := enc.Encode(meta); err != nil {
			return apperr.NewStorage("encode bulk", err)
		}
		if err := enc.Encode(toESChunk(c, generation)); err != nil {
			return apperr.NewStorage("encode bulk", err)
		}
	}

	res, err := esapi.BulkRequest{Index: s.index, Body: &body, Refresh: "wait_for"}.Do(ctx, s.client)
	if err != nil {
		return apperr.NewStorage("bulk index chunks", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return apperr.NewStorage("bulk index chunks", es.ResponseError("bulk", res))
	}
	var bulk struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulk); err != nil {
		return apperr.NewStorage("decode bulk response", err)
	}
	if bulk.Errors {
		reason := "unknown"
		for _, item := range bulk.Items {
			for _, r := range item {
				if r.Error != nil {
					reason = r.Error.Type + ": " + r.Error.Reason
				}
			}
		}
		s.dropGeneration(ctx, fileID, generation)
		return apperr.NewStorage("bulk index chunks", fmt.Errorf("bulk rejected: %s", reason))
	}

	// flip the active generation
	pointer, _ := json.Marshal(esGeneration{
		FileID:     fileID,
		Generation: generation,
		ChunkCount: len(chunks),
		IndexedAt:  chunks[0].IndexedAt,
	})
	gres, err := esapi.IndexRequest{
		Index:      s.genIndex,
		DocumentID: fileID,
		Body:       bytes.NewReader(pointer),
		Refresh:    "true",
	}.Do(ctx, s.client)
	if err != nil {
		s.dropGeneration(ctx, fileID, generation)
		return apperr.NewStorage("activate generation", err)
	}
	defer gres.Body.Close()
	if gres.IsError() {
		s.dropGeneration(ctx, fileID, generation)
		return apperr.NewStorage("activate generation", es.ResponseError("index generation", gres))
	}

	// older generations are invisible from here on. The query also catches
	// generations left behind by an earlier failed cleanup of this file.
	if err := s.deleteByQuery(ctx, map[string]interface{}{
		"bool": map[string]interface{}{
			"filter":   []interface{}{term("file_id", fileID)},
			"must_not": []interface{}{term("generation", generation)},
		},
	}); err != nil {
		log.Warnf("[VectorStore] cleanup of old generations for file %s failed: %v", fileID, err)
	}
	return nil
}

// dropGeneration removes an unactivated generation after a failed replace.
func (s *ElasticsearchStore) dropGeneration(ctx context.Context, fileID, generation string) {
	err := s.deleteByQuery(ctx, map[string]interface{}{
		"bool": map[string]interface{}{
			"filter": []interface{}{term("file_id", fileID), term("generation", generation)},
		},
	})
	if err != nil {
		log.Warnf("[VectorStore] dropping generation %s of file %s failed: %v", generation, fileID, err)
	}
}

func (s *ElasticsearchStore) deleteByQuery(ctx context.Context, query map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"query": query})
	if err != nil {
		return err
	}
	refresh := true
	res, err := esapi.DeleteByQueryRequest{
		Index:     []string{s.index},
		Body:      bytes.NewReader(body),
		Conflicts: "proceed",
		Refresh:   &refresh,
	}.Do(ctx, s.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return es.ResponseError("delete by query", res)
	}
	return nil
}

// Search returns the k best live chunks. Chunks of stale generations left
// behind by a failed cleanup still occupy kNN slots, so when they crowd out
// live hits the query is repeated once with a wider window.
func (s *ElasticsearchStore) Search(ctx context.Context, vector []float32, scope model.Scope, k int) ([]model.ScoredChunk, error) {
	if k <= 0 {
		return nil, nil
	}
	fetch := k * s.oversample
	hits, raw, err := s.search(ctx, vector, scope, fetch)
	if err != nil {
		return nil, err
	}
	if len(hits) < k && raw == fetch && raw > len(hits) {
		log.Debugf("[VectorStore] %d of %d hits were stale, widening search", raw-len(hits), raw)
		if hits, _, err = s.search(ctx, vector, scope, fetch*staleWidening); err != nil {
			return nil, err
		}
	}
	SortScored(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

const staleWidening = 4

// search runs one kNN query for fetch candidates and keeps those of active
// generations. raw is the number of hits Elasticsearch returned.
func (s *ElasticsearchStore) search(ctx context.Context, vector []float32, scope model.Scope, fetch int) (hits []model.ScoredChunk, raw int, err error) {
	numCandidates := fetch * 10
	if numCandidates < 100 {
		numCandidates = 100
	}

	knn := map[string]interface{}{
		"field":          "embedding",
		"query_vector":   vector,
		"k":              fetch,
		"num_candidates": numCandidates,
	}
	if filters := scopeFilters(scope); len(filters) > 0 {
		knn["filter"] = map[string]interface{}{"bool": map[string]interface{}{"filter": filters}}
	}
	query := map[string]interface{}{
		"knn":     knn,
		"size":    fetch,
		"_source": map[string]interface{}{"excludes": []string{"embedding"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, 0, apperr.NewStorage("encode search", err)
	}
	res, err := esapi.SearchRequest{Index: []string{s.index}, Body: &buf}.Do(ctx, s.client)
	if err != nil {
		return nil, 0, apperr.NewStorage("search", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, 0, apperr.NewStorage("search", es.ResponseError("search", res))
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source esChunk `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, 0, apperr.NewStorage("decode search", err)
	}
	raw = len(parsed.Hits.Hits)
	if raw == 0 {
		return nil, 0, nil
	}

	fileIDs := make([]string, 0, raw)
	seen := make(map[string]bool)
	for _, h := range parsed.Hits.Hits {
		if !seen[h.Source.FileID] {
			seen[h.Source.FileID] = true
			fileIDs = append(fileIDs, h.Source.FileID)
		}
	}
	active, err := s.activeGenerations(ctx, fileIDs)
	if err != nil {
		return nil, 0, err
	}

	hits = make([]model.ScoredChunk, 0, raw)
	for _, h := range parsed.Hits.Hits {
		if active[h.Source.FileID] != h.Source.Generation {
			continue
		}
		// cosine similarity is exposed by ES as (1 + cos) / 2
		hits = append(hits, model.ScoredChunk{Chunk: fromESChunk(h.Source), Score: 2*h.Score - 1})
	}
	return hits, raw, nil
}

func (s *ElasticsearchStore) activeGenerations(ctx context.Context, fileIDs []string) (map[string]string, error) {
	body, _ := json.Marshal(map[string]interface{}{"ids": fileIDs})
	res, err := esapi.MgetRequest{Index: s.genIndex, Body: bytes.NewReader(body)}.Do(ctx, s.client)
	if err != nil {
		return nil, apperr.NewStorage("load generations", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, apperr.NewStorage("load generations", es.ResponseError("mget", res))
	}
	var parsed struct {
		Docs []struct {
			ID     string       `json:"_id"`
			Found  bool         `json:"found"`
			Source esGeneration `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, apperr.NewStorage("decode generations", err)
	}
	active := make(map[string]string, len(parsed.Docs))
	for _, d := range parsed.Docs {
		if d.Found {
			active[d.ID] = d.Source.Generation
		}
	}
	return active, nil
}

// DeleteChunks removes the pointer first, which hides the chunks, then the chunks.
func (s *ElasticsearchStore) DeleteChunks(ctx context.Context, fileID string) error {
	res, err := esapi.DeleteRequest{Index: s.genIndex, DocumentID: fileID, Refresh: "true"}.Do(ctx, s.client)
	if err != nil {
		return apperr.NewStorage("delete generation", err)
	}
	res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return apperr.NewStorage("delete generation", fmt.Errorf("elasticsearch returned %s", res.Status()))
	}
	if err := s.deleteByQuery(ctx, term("file_id", fileID)); err != nil {
		return apperr.NewStorage("delete chunks", err)
	}
	return nil
}

// Stats counts chunks of active generations only. Documents of stale
// generations are reported separately as orphanedChunks.
func (s *ElasticsearchStore) Stats(ctx context.Context) (*model.VectorStats, error) {
	stored, err := s.count(ctx, s.index)
	if err != nil {
		return nil, err
	}
	files, active, err := s.activeTotals(ctx)
	if err != nil {
		return nil, err
	}
	orphaned := stored - active
	if orphaned < 0 {
		// a replace or delete is in flight
		orphaned = 0
	}

	stats := &model.VectorStats{
		Backend:      "elasticsearch",
		TotalChunks:  active,
		IndexedFiles: files,
		Dimensions:   s.dims,
		Details: map[string]interface{}{
			"index":           s.index,
			"generationIndex": s.genIndex,
			"orphanedChunks":  orphaned,
		},
	}

	res, err := esapi.IndicesStatsRequest{Index: []string{s.index}, Metric: []string{"store"}}.Do(ctx, s.client)
	if err != nil {
		return nil, apperr.NewStorage("index stats", err)
	}
	defer res.Body.Close()
	if !res.IsError() {
		var parsed struct {
			All struct {
				Total struct {
					Store struct {
						SizeInBytes int64 `json:"size_in_bytes"`
					} `json:"store"`
				} `json:"total"`
			} `json:"_all"`
		}
		if err := json.NewDecoder(res.Body).Decode(&parsed); err == nil {
			stats.StorageBytes = parsed.All.Total.Store.SizeInBytes
		}
	}
	return stats, nil
}

// activeTotals sums chunk_count over the generation pointers.
func (s *ElasticsearchStore) activeTotals(ctx context.Context) (files, chunks int64, err error) {
	body, _ := json.Marshal(map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"aggs": map[string]interface{}{
			"active_chunks": map[string]interface{}{"sum": map[string]interface{}{"field": "chunk_count"}},
		},
	})
	res, err := esapi.SearchRequest{Index: []string{s.genIndex}, Body: bytes.NewReader(body)}.Do(ctx, s.client)
	if err != nil {
		return 0, 0, apperr.NewStorage("active totals", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, 0, apperr.NewStorage("active totals", es.ResponseError("search "+s.genIndex, res))
	}
	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			ActiveChunks struct {
				Value float64 `json:"value"`
			} `json:"active_chunks"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, 0, apperr.NewStorage("decode active totals", err)
	}
	return parsed.Hits.Total.Value, int64(parsed.Aggregations.ActiveChunks.Value), nil
}

func (s *ElasticsearchStore) count(ctx context.Context, index string) (int64, error) {
	res, err := esapi.CountRequest{Index: []string{index}}.Do(ctx, s.client)
	if err != nil {
		return 0, apperr.NewStorage("count", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, apperr.NewStorage("count", es.ResponseError("count "+index, res))
	}
	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, apperr.NewStorage("decode count", err)
	}
	return parsed.Count, nil
}

func scopeFilters(scope model.Scope) []interface{} {
	var filters []interface{}
	if scope.CommunityID != nil {
		filters = append(filters, term("community_id", *scope.CommunityID))
	}
	if scope.FolderType != "" {
		filters = append(filters, term("folder_type", scope.FolderType))
	}
	return filters
}

func term(field, value string) map[string]interface{} {
	return map[string]interface{}{"term": map[string]interface{}{field: value}}
}

func toESChunk(c model.Chunk, generation string) esChunk {
	return esChunk{
		ChunkID:         c.ChunkID,
		FileID:          c.FileID,
		FileName:        c.FileName,
		CommunityID:     c.CommunityID,
		FolderType:      strings.TrimSpace(c.FolderType),
		PageNumber:      c.PageNumber,
		ChunkIndex:      c.ChunkIndex,
		Text:            c.Text,
		Embedding:       c.Embedding,
		IndexingVersion: c.IndexingVersion,
		IndexedAt:       c.IndexedAt,
		Generation:      generation,
	}
}

func fromESChunk(d esChunk) model.Chunk {
	return model.Chunk{
		ChunkID:         d.ChunkID,
		FileID:          d.FileID,
		FileName:        d.FileName,
		CommunityID:     d.CommunityID,
		FolderType:      d.FolderType,
		PageNumber:      d.PageNumber,
		ChunkIndex:      d.ChunkIndex,
		Text:            d.Text,
		IndexingVersion: d.IndexingVersion,
		IndexedAt:       d.IndexedAt,
	}
}
