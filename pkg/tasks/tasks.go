// Package tasks defines the messages exchanged over the indexing Kafka topic.
package tasks

// Task types.
const (
	TypeIndexBatch = "index_batch"
	TypeIndexFile  = "index_file"
	TypeDeleteFile = "delete_file"
)

// IndexTask is one unit of asynchronous indexing work.
type IndexTask struct {
	Type        string  `json:"type"`
	RunID       string  `json:"run_id"`
	FileID      string  `json:"file_id,omitempty"`
	CommunityID *string `json:"community_id,omitempty"`
	FolderType  string  `json:"folder_type,omitempty"`
	Force       bool    `json:"force,omitempty"`
}

// Key returns the Kafka message key. File tasks are keyed by file so that every
// task for one file lands on the same partition and is consumed in order.
func (t IndexTask) Key() string {
	if t.FileID != "" {
		return "file:" + t.FileID
	}
	return "run:" + t.RunID
}
