package model

import "time"

// DocumentStatus represents the processing status of a document.
type DocumentStatus string

const (
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusReady      DocumentStatus = "ready"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// Document represents an uploaded document in the system.
type Document struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Size        int64          `json:"size"`
	ContentType string         `json:"contentType"`
	Content     string         `json:"-"`
	Status      DocumentStatus `json:"status"`
	JobID       string         `json:"jobId,omitempty"`
	PreviewLine string         `json:"previewLine,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Ready reports whether the document body is available for fetching.
func (d *Document) Ready() bool {
	return d.Status == DocumentStatusReady
}

// UpdateContentRequest represents a request to rewrite a document body.
type UpdateContentRequest struct {
	Content string `json:"content"`
}
