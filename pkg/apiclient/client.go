// Package apiclient is the HTTP collaborator consumed by the upload queue and
// the content cache: document upload, body fetch, and write-through update.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/docvault/backend/pkg/uploadqueue"
)

const defaultTimeout = 30 * time.Second

// Client talks to the document API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the server at baseURL. token may be empty when the
// server runs without authentication.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Document mirrors the server's document resource.
type Document struct {
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

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// UploadDocument uploads one file as multipart form data. The response carries
// the new document id and the correlated processing job id.
func (c *Client) UploadDocument(ctx context.Context, name, contentType string, size int64, body io.Reader) (uploadqueue.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return uploadqueue.UploadResult{}, err
	}
	if body != nil {
		if _, err := io.Copy(part, body); err != nil {
			return uploadqueue.UploadResult{}, fmt.Errorf("read upload body: %w", err)
		}
	}
	if contentType != "" {
		if err := mw.WriteField("content_type", contentType); err != nil {
			return uploadqueue.UploadResult{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return uploadqueue.UploadResult{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/documents", &buf)
	if err != nil {
		return uploadqueue.UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		DocumentID string `json:"document_id"`
		JobID      string `json:"job_id"`
	}
	if err := c.do(req, http.StatusAccepted, &out); err != nil {
		return uploadqueue.UploadResult{}, err
	}
	return uploadqueue.UploadResult{DocumentID: out.DocumentID, JobID: out.JobID}, nil
}

// FetchContent retrieves the body of a document.
func (c *Client) FetchContent(ctx context.Context, id string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(id)+"/content", nil)
	if err != nil {
		return "", err
	}
	var out struct {
		Content string `json:"content"`
	}
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// UpdateContent rewrites the body of a document.
func (c *Client) UpdateContent(ctx context.Context, id, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/api/documents/"+url.PathEscape(id)+"/content", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, http.StatusOK, nil)
}

// ListDocuments returns all documents, newest first.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/documents", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Documents []Document `json:"documents"`
	}
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Documents, nil
}

// GetDocument returns a single document's metadata.
func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out Document
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDocument removes a document.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/documents/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, http.StatusNoContent, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr errorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", req.Method, req.URL.Path, apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
