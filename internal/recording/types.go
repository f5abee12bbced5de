package recording

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a recording.
type Status string

const (
	StatusRecording Status = "recording"
	StatusFinished  Status = "finished"
	StatusCrashed   Status = "crashed"
)

// UploadStatus tracks what the uploader last wrote about a recording.
type UploadStatus string

const (
	UploadStarted  UploadStatus = "started"
	UploadFinished UploadStatus = "finished"
	UploadFailed   UploadStatus = "failed"
)

// Kind identifies a log line.
type Kind string

const (
	KindCreateRecording     Kind = "createRecording"
	KindAddMetadata         Kind = "addMetadata"
	KindWriteStarted        Kind = "writeStarted"
	KindWriteFinished       Kind = "writeFinished"
	KindSourcemapAdded      Kind = "sourcemapAdded"
	KindOriginalSourceAdded Kind = "originalSourceAdded"
	KindCrashed             Kind = "crashed"
	KindCrashData           Kind = "crashData"
	KindRecordingUnusable   Kind = "recordingUnusable"
	KindUploadStarted       Kind = "uploadStarted"
	KindUploadFinished      Kind = "uploadFinished"
	KindUploadFailed        Kind = "uploadFailed"
)

// Entry is one line of the recordings log. Which fields are set depends on Kind.
type Entry struct {
	Kind      Kind   `json:"kind"`
	ID        string `json:"id,omitempty"`
	Timestamp int64  `json:"timestamp"`

	// createRecording
	BuildID       string `json:"buildId,omitempty"`
	DriverVersion string `json:"driverVersion,omitempty"`

	// addMetadata
	Metadata map[string]any `json:"metadata,omitempty"`

	// writeStarted, sourcemapAdded, originalSourceAdded
	Path string `json:"path,omitempty"`

	// sourcemapAdded, originalSourceAdded
	RecordingID       string `json:"recordingId,omitempty"`
	URL               string `json:"url,omitempty"`
	BaseURL           string `json:"baseURL,omitempty"`
	TargetContentHash string `json:"targetContentHash,omitempty"`
	TargetURLHash     string `json:"targetURLHash,omitempty"`
	TargetMapURLHash  string `json:"targetMapURLHash,omitempty"`
	ParentID          string `json:"parentId,omitempty"`
	ParentOffset      int    `json:"parentOffset,omitempty"`

	// recordingUnusable, uploadFailed
	Reason string `json:"reason,omitempty"`

	// upload*
	Server   string `json:"server,omitempty"`
	RemoteID string `json:"remoteId,omitempty"`
}

// owner returns the id of the recording an entry belongs to.
func (e *Entry) owner() string {
	switch e.Kind {
	case KindSourcemapAdded, KindOriginalSourceAdded:
		if e.RecordingID != "" {
			return e.RecordingID
		}
	}
	return e.ID
}

// Recording is the state of one capture session as reconstructed from the log.
type Recording struct {
	ID             string         `json:"id"`
	Status         Status         `json:"status"`
	BuildID        string         `json:"buildId"`
	DriverVersion  string         `json:"driverVersion"`
	Path           string         `json:"path,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	SourceMaps     []SourceMap    `json:"sourcemaps"`
	CreatedAt      time.Time      `json:"createdAt"`
	UnusableReason string         `json:"unusableReason,omitempty"`
	Upload         *UploadState   `json:"upload,omitempty"`
}

// Uploaded reports whether the log records a completed upload.
func (r *Recording) Uploaded() bool {
	return r.Upload != nil && r.Upload.Status == UploadFinished
}

// Title returns the metadata title if one was recorded.
func (r *Recording) Title() string {
	if s, ok := r.Metadata["title"].(string); ok {
		return s
	}
	return ""
}

// UploadState is the uploader's last word on a recording.
type UploadState struct {
	Status    UploadStatus `json:"status"`
	Server    string       `json:"server,omitempty"`
	RemoteID  string       `json:"remoteId,omitempty"`
	Error     string       `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// SourceMap is a source map artifact referenced by a recording.
type SourceMap struct {
	ID                string           `json:"id"`
	RecordingID       string           `json:"recordingId"`
	Path              string           `json:"path"`
	URL               string           `json:"url"`
	BaseURL           string           `json:"baseURL"`
	TargetContentHash string           `json:"targetContentHash,omitempty"`
	TargetURLHash     string           `json:"targetURLHash,omitempty"`
	TargetMapURLHash  string           `json:"targetMapURLHash"`
	Timestamp         int64            `json:"timestamp"`
	OriginalSources   []OriginalSource `json:"originalSources,omitempty"`
}

// OriginalSource is an original file a source map points back to.
type OriginalSource struct {
	Path         string `json:"path"`
	ParentID     string `json:"parentId"`
	ParentOffset int    `json:"parentOffset"`
}

// NewID returns a fresh recording id.
func NewID() string {
	return uuid.New().String()
}

func millis(ts int64) time.Time {
	return time.UnixMilli(ts).UTC()
}
