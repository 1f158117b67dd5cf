package domain

import (
	"io"
	"path/filepath"
	"strings"
	"time"
)

type AssetStatus string

const (
	AssetStatusQueued     AssetStatus = "queued"
	AssetStatusProcessing AssetStatus = "processing"
	AssetStatusProcessed  AssetStatus = "processed"
	AssetStatusFailed     AssetStatus = "failed"
	AssetStatusArchived   AssetStatus = "archived"
)

type AssetType string

const (
	AssetTypeVideo AssetType = "video"
	AssetTypeImage AssetType = "image"
	AssetTypeAudio AssetType = "audio"
	AssetTypeText  AssetType = "text"
)

type SourceSystem string

const (
	SourceUserUpload    SourceSystem = "user_upload"
	SourceAPISubmission SourceSystem = "api_submission"
	SourceLocalIngress  SourceSystem = "local_ingress"
)

// Asset is the canonical record for one ingested piece of content.
// CurrentVersion and CurrentVersionID always change together.
type Asset struct {
	ID                    string       `json:"id"`
	ContentHash           string       `json:"content_hash"`
	Filename              string       `json:"filename"`
	AssetType             AssetType    `json:"asset_type"`
	MimeType              string       `json:"mime_type"`
	SizeBytes             int64        `json:"size_bytes"`
	StorageKey            string       `json:"storage_key"`
	SourceSystem          SourceSystem `json:"source_system"`
	Status                AssetStatus  `json:"status"`
	CurrentVersion        int          `json:"current_version"`
	CurrentVersionID      string       `json:"current_version_id"`
	Metadata              Metadata     `json:"metadata"`
	OperationalTags       Metadata     `json:"operational_tags,omitempty"`
	UploadedBy            string       `json:"uploaded_by,omitempty"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
	ProcessingCompletedAt *time.Time   `json:"processing_completed_at,omitempty"`
}

// VersionSnapshot is an immutable copy of an asset's metadata as it was at
// Version. Snapshots are append-only.
type VersionSnapshot struct {
	AssetID          string    `json:"asset_id"`
	Version          int       `json:"version"`
	VersionID        string    `json:"version_id"`
	Metadata         Metadata  `json:"metadata"`
	CreatedAt        time.Time `json:"created_at"`
	CreatedBy        string    `json:"created_by"`
	ConflictResolved bool      `json:"conflict_resolved"`
}

// VersionRef identifies the authoritative version after a mutation.
type VersionRef struct {
	AssetID   string `json:"asset_id"`
	Version   int    `json:"version"`
	VersionID string `json:"version_id"`
}

// MetadataView is the read model returned by the metadata boundary.
type MetadataView struct {
	AssetID   string    `json:"asset_id"`
	Metadata  Metadata  `json:"metadata"`
	Version   int       `json:"version"`
	VersionID string    `json:"version_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IngestRequest carries one piece of content into the deduplication gate.
type IngestRequest struct {
	Filename        string
	Body            io.Reader
	Metadata        Metadata
	OperationalTags Metadata
	SourceSystem    SourceSystem
}

// IngestResult reports the asset the content resolved to. JobID is empty for
// duplicates.
type IngestResult struct {
	AssetID   string `json:"asset_id"`
	JobID     string `json:"job_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// MetadataChange is one versioned write against an asset. An empty
// ExpectedVersionID skips the token check.
type MetadataChange struct {
	AssetID           string
	ExpectedVersionID string
	Patch             Metadata
	Replace           bool
	NewVersionID      string
	Actor             string
	ConflictResolved  bool
	At                time.Time
}

// InferAssetType maps a filename extension and sniffed MIME type onto an
// asset type. Unknown content falls back to text.
func InferAssetType(filename, mimeType string) AssetType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")) {
	case "mp4", "avi", "mov", "mkv", "webm":
		return AssetTypeVideo
	case "mp3", "wav", "m4a", "flac", "ogg":
		return AssetTypeAudio
	case "png", "jpg", "jpeg", "gif", "webp":
		return AssetTypeImage
	case "pdf", "txt", "doc", "docx", "html", "json", "md", "csv", "xlsx":
		return AssetTypeText
	}
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return AssetTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return AssetTypeAudio
	case strings.HasPrefix(mimeType, "image/"):
		return AssetTypeImage
	default:
		return AssetTypeText
	}
}
