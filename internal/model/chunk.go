package model

import "time"

// Chunk is one embedded slice of a file's text, as held by the vector store.
type Chunk struct {
	ChunkID         string    `json:"chunkId"`
	FileID          string    `json:"fileId"`
	FileName        string    `json:"fileName"`
	CommunityID     *string   `json:"communityId"`
	FolderType      string    `json:"folderType"`
	PageNumber      int       `json:"pageNumber"`
	ChunkIndex      int       `json:"chunkIndex"`
	Text            string    `json:"text"`
	Embedding       []float32 `json:"-"`
	IndexingVersion int       `json:"indexingVersion"`
	// IndexedAt is the lastIndexedDate of the pass that produced the chunk.
	IndexedAt time.Time `json:"indexedAt"`
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// VectorStats is the operational summary returned by the vector store.
type VectorStats struct {
	Backend      string                 `json:"backend"`
	TotalChunks  int64                  `json:"totalChunks"`
	IndexedFiles int64                  `json:"indexedFiles"`
	StorageBytes int64                  `json:"storageBytes"`
	Dimensions   int                    `json:"dimensions"`
	Details      map[string]interface{} `json:"details,omitempty"`
}
