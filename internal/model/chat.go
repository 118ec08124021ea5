package model

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message             string        `json:"message" binding:"required"`
	ConversationHistory []ChatMessage `json:"conversationHistory"`
	CommunityID         *string       `json:"communityId"`
	FolderType          string        `json:"folderType"`
	UseRAG              *bool         `json:"useRAG"`
}

// ChatSource is a retrieved chunk cited by an answer.
type ChatSource struct {
	Index      int     `json:"index"`
	FileID     string  `json:"fileId"`
	FileName   string  `json:"fileName"`
	PageNumber int     `json:"pageNumber"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Response string       `json:"response"`
	Sources  []ChatSource `json:"sources"`
	UsedRAG  bool         `json:"usedRAG"`
}

// SearchResult is one ranked chunk returned by the retrieval service.
type SearchResult struct {
	FileID      string  `json:"fileId"`
	FileName    string  `json:"fileName"`
	CommunityID *string `json:"communityId"`
	FolderType  string  `json:"folderType"`
	PageNumber  int     `json:"pageNumber"`
	ChunkIndex  int     `json:"chunkIndex"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}
