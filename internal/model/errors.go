package model

import "errors"

var (
	// ErrDocumentNotFound is returned when a document is not found.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrContentNotReady is returned when a document body is requested before
	// processing finished.
	ErrContentNotReady = errors.New("document content not ready")

	// ErrEmptyUpload is returned when an upload carries no file.
	ErrEmptyUpload = errors.New("upload file is required")

	// ErrUnauthorized is returned when the realtime credential is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
)
