// Package repository provides data access for documents.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/docvault/backend/internal/model"
)

// DocumentRepository provides data access for documents.
type DocumentRepository struct {
	db *sql.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document into the database.
func (r *DocumentRepository) Create(ctx context.Context, doc *model.Document) error {
	query := `
		INSERT INTO documents (id, name, size, content_type, content, status, job_id, preview_line, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Name,
		doc.Size,
		doc.ContentType,
		doc.Content,
		doc.Status,
		nullString(doc.JobID),
		nullString(doc.PreviewLine),
		nullString(doc.Error),
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// GetByID retrieves a document by its ID, content included.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*model.Document, error) {
	query := `
		SELECT id, name, size, content_type, content, status, job_id, preview_line, error, created_at, updated_at
		FROM documents
		WHERE id = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetByJobID retrieves the document correlated to a processing job.
func (r *DocumentRepository) GetByJobID(ctx context.Context, jobID string) (*model.Document, error) {
	query := `
		SELECT id, name, size, content_type, content, status, job_id, preview_line, error, created_at, updated_at
		FROM documents
		WHERE job_id = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, jobID))
}

// List retrieves all documents, newest first, without bodies.
func (r *DocumentRepository) List(ctx context.Context) ([]*model.Document, error) {
	query := `
		SELECT id, name, size, content_type, '', status, job_id, preview_line, error, created_at, updated_at
		FROM documents
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateContent rewrites a document body and bumps updated_at.
func (r *DocumentRepository) UpdateContent(ctx context.Context, id, content string) error {
	query := `UPDATE documents SET content = ?, size = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, content, int64(len(content)), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	return requireRow(res)
}

// UpdateStatus flips a document's processing status. previewLine and errMsg
// may be empty.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status model.DocumentStatus, previewLine, errMsg string) error {
	query := `UPDATE documents SET status = ?, preview_line = ?, error = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, status, nullString(previewLine), nullString(errMsg), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return requireRow(res)
}

// SetProcessed stores the converted body together with the ready status.
func (r *DocumentRepository) SetProcessed(ctx context.Context, id, content, previewLine string) error {
	query := `UPDATE documents SET content = ?, size = ?, status = ?, preview_line = ?, error = NULL, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, content, int64(len(content)), model.DocumentStatusReady, nullString(previewLine), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to store processed content: %w", err)
	}
	return requireRow(res)
}

// Delete removes a document.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *DocumentRepository) scanOne(row *sql.Row) (*model.Document, error) {
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

func scanDocument(row rowScanner) (*model.Document, error) {
	doc := &model.Document{}
	var jobID, previewLine, errMsg sql.NullString

	err := row.Scan(
		&doc.ID,
		&doc.Name,
		&doc.Size,
		&doc.ContentType,
		&doc.Content,
		&doc.Status,
		&jobID,
		&previewLine,
		&errMsg,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.JobID = jobID.String
	doc.PreviewLine = previewLine.String
	doc.Error = errMsg.String
	return doc, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
