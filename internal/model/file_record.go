// Package model holds the persistent and wire-level types of the indexing service.
package model

import "time"

// MimeTypePDF is the only mime type the indexing pipeline accepts.
const MimeTypePDF = "application/pdf"

// FileRecord is a stored file and its indexing state. The file row is owned by the
// file-management side of the app; this service only mutates the indexing columns.
// JSON names of the indexing fields are read by the UI and must stay stable.
type FileRecord struct {
	ID          string  `gorm:"column:id;primaryKey;type:varchar(36)" json:"fileId"`
	FileName    string  `gorm:"column:file_name;type:varchar(255)" json:"fileName"`
	CommunityID *string `gorm:"column:community_id;type:varchar(36);index" json:"communityId"`
	FolderID    string  `gorm:"column:folder_id;type:varchar(36);index" json:"folderId"`
	// FolderType is read through the folders join and never written.
	FolderType string `gorm:"->;-:migration;column:folder_type" json:"folderType,omitempty"`
	MimeType   string `gorm:"column:mime_type;type:varchar(100)" json:"mimeType"`
	ObjectKey  string `gorm:"column:object_key;type:varchar(512)" json:"objectKey"`
	FileSize   int64  `gorm:"column:file_size" json:"fileSize"`
	IsActive   bool   `gorm:"column:is_active" json:"isActive"`

	IsIndexed       bool       `gorm:"column:is_indexed;default:false" json:"isIndexed"`
	LastIndexedDate *time.Time `gorm:"column:last_indexed_date" json:"lastIndexedDate"`
	IndexingVersion int        `gorm:"column:indexing_version;default:0" json:"indexingVersion"`
	FileHash        *string    `gorm:"column:file_hash;type:varchar(128)" json:"fileHash"`
	IndexingError   *string    `gorm:"column:indexing_error;type:text" json:"indexingError"`
	ChunkCount      *int       `gorm:"column:chunk_count" json:"chunkCount"`
	ForceReindex    bool       `gorm:"column:force_reindex;default:false" json:"forceReindex"`
	LastAttemptHash *string    `gorm:"column:last_attempt_hash;type:varchar(128)" json:"lastAttemptHash,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updatedAt"`
}

func (FileRecord) TableName() string {
	return "files"
}

// IsPDF reports whether the record carries a PDF mime type.
func (f *FileRecord) IsPDF() bool {
	return f.MimeType == MimeTypePDF
}

// Folder is the folder a file lives in. Only the type is used, as a retrieval scope.
type Folder struct {
	ID          string  `gorm:"column:id;primaryKey;type:varchar(36)" json:"id"`
	Name        string  `gorm:"column:name;type:varchar(255)" json:"name"`
	FolderType  string  `gorm:"column:folder_type;type:varchar(64);index" json:"folderType"`
	CommunityID *string `gorm:"column:community_id;type:varchar(36)" json:"communityId"`
}

func (Folder) TableName() string {
	return "folders"
}

// Scope narrows a batch run, a reset or a search.
// A nil CommunityID matches every community, corporate files included.
type Scope struct {
	CommunityID *string `json:"communityId,omitempty"`
	FolderType  string  `json:"folderType,omitempty"`
}

// IsZero reports whether the scope matches everything.
func (s Scope) IsZero() bool {
	return s.CommunityID == nil && s.FolderType == ""
}
