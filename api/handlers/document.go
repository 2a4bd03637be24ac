// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/docvault/backend/internal/job"
	"github.com/docvault/backend/internal/model"
	"github.com/docvault/backend/internal/repository"
	"github.com/docvault/backend/internal/ws"
	"github.com/docvault/backend/pkg/event"
)

// maxUploadBytes bounds a single upload body.
const maxUploadBytes = 32 << 20

// DocumentHandler handles HTTP requests for document management.
type DocumentHandler struct {
	repo       *repository.DocumentRepository
	jobManager *job.Manager
	events     *ws.Service
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(repo *repository.DocumentRepository, jobManager *job.Manager, events *ws.Service) *DocumentHandler {
	return &DocumentHandler{
		repo:       repo,
		jobManager: jobManager,
		events:     events,
	}
}

// DocumentResponse represents a document in API responses.
type DocumentResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType"`
	Status      string `json:"status"`
	JobID       string `json:"jobId,omitempty"`
	PreviewLine string `json:"previewLine,omitempty"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// toDocumentResponse converts a model.Document to DocumentResponse.
func toDocumentResponse(d *model.Document) *DocumentResponse {
	return &DocumentResponse{
		ID:          d.ID,
		Name:        d.Name,
		Size:        d.Size,
		ContentType: d.ContentType,
		Status:      string(d.Status),
		JobID:       d.JobID,
		PreviewLine: d.PreviewLine,
		Error:       d.Error,
		CreatedAt:   d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   d.UpdatedAt.Format(time.RFC3339),
	}
}

// Upload handles POST /api/documents - accepts a multipart file, creates the
// document row, and hands the body to the asynchronous processing job. The
// response returns immediately with the ids the client correlates events by.
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", model.ErrEmptyUpload.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to open upload: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Failed to read upload: "+err.Error())
		return
	}

	contentType := c.PostForm("content_type")
	if contentType == "" {
		contentType = fileHeader.Header.Get("Content-Type")
	}

	now := time.Now()
	doc := &model.Document{
		ID:          uuid.New().String(),
		Name:        fileHeader.Filename,
		Size:        int64(len(data)),
		ContentType: contentType,
		Status:      model.DocumentStatusProcessing,
		JobID:       uuid.New().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.repo.Create(c.Request.Context(), doc); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create document: "+err.Error())
		return
	}

	h.jobManager.Submit(doc, data)

	c.JSON(http.StatusAccepted, gin.H{
		"document_id": doc.ID,
		"job_id":      doc.JobID,
	})
}

// List handles GET /api/documents.
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.repo.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list documents: "+err.Error())
		return
	}

	out := make([]*DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDocumentResponse(doc))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

// Get handles GET /api/documents/:id.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, ok := h.getDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// GetContent handles GET /api/documents/:id/content.
func (h *DocumentHandler) GetContent(c *gin.Context) {
	doc, ok := h.getDocument(c)
	if !ok {
		return
	}

	if !doc.Ready() {
		sendError(c, http.StatusConflict, "CONTENT_NOT_READY", model.ErrContentNotReady.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"content": doc.Content})
}

// UpdateContent handles PUT /api/documents/:id/content - rewrites the body
// and announces the change so client caches invalidate.
func (h *DocumentHandler) UpdateContent(c *gin.Context) {
	id := c.Param("id")

	var req model.UpdateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if err := h.repo.UpdateContent(c.Request.Context(), id, req.Content); err != nil {
		if errors.Is(err, model.ErrDocumentNotFound) {
			sendError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update content: "+err.Error())
		return
	}

	h.events.Publish(event.DocumentUpdated, event.DocumentUpdatedPayload{DocumentID: id})

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Delete handles DELETE /api/documents/:id.
func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, model.ErrDocumentNotFound) {
			sendError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete document: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DocumentHandler) getDocument(c *gin.Context) (*model.Document, bool) {
	id := c.Param("id")
	doc, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrDocumentNotFound) {
			sendError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "Document "+id+" not found")
			return nil, false
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get document: "+err.Error())
		return nil, false
	}
	return doc, true
}

// RegisterRoutes registers the document routes on a Gin router group.
func (h *DocumentHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/documents", h.Upload)
	rg.GET("/documents", h.List)
	rg.GET("/documents/:id", h.Get)
	rg.GET("/documents/:id/content", h.GetContent)
	rg.PUT("/documents/:id/content", h.UpdateContent)
	rg.DELETE("/documents/:id", h.Delete)
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}
