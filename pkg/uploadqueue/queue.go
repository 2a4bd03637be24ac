// Package uploadqueue tracks in-flight document uploads as a per-item state
// machine driven by realtime job events and upload responses.
package uploadqueue

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docvault/backend/pkg/event"
	"github.com/docvault/backend/pkg/realtime"
)

// Status is the state of one upload item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further automatic transition can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// DefaultStagger is the pause between sequential upload starts, so each item's
// pending phase is independently observable.
const DefaultStagger = 300 * time.Millisecond

// Item is one queued upload.
type Item struct {
	ID         string    `json:"id"`
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	FileType   string    `json:"fileType"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	JobID      string    `json:"jobId,omitempty"`
	DocumentID string    `json:"documentId,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartTime  time.Time `json:"startTime"`
}

// File describes a file handed to the queue.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// UploadResult is the upload collaborator's response.
type UploadResult struct {
	DocumentID string
	JobID      string
}

// Uploader is the HTTP collaborator performing the actual upload.
type Uploader interface {
	UploadDocument(ctx context.Context, name, contentType string, size int64, body io.Reader) (UploadResult, error)
}

// Controller owns the upload queue. Items are inserted synchronously at
// enqueue time and advanced by upload responses and by job events delivered
// through the registry.
type Controller struct {
	uploader Uploader
	stagger  time.Duration

	mu    sync.Mutex
	items []*Item
	byJob map[string]*Item

	unsubs []func()
}

// New creates a controller over uploader. A non-positive stagger falls back to
// DefaultStagger.
func New(uploader Uploader, stagger time.Duration) *Controller {
	if stagger <= 0 {
		stagger = DefaultStagger
	}
	return &Controller{
		uploader: uploader,
		stagger:  stagger,
		byJob:    make(map[string]*Item),
	}
}

// Bind subscribes the controller to job events on the registry. Call Unbind
// to remove the subscriptions.
func (c *Controller) Bind(registry *realtime.Registry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubs = append(c.unsubs,
		registry.On(event.JobProgress, c.onProgress),
		registry.On(event.JobCompleted, c.onCompleted),
		registry.On(event.JobFailed, c.onFailed),
	)
}

// Unbind removes the controller's registry subscriptions.
func (c *Controller) Unbind() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Create synchronously allocates an id and inserts a pending item with
// progress 0, before any network activity. The UI can render the queued file
// instantly.
func (c *Controller) Create(f File) *Item {
	item := &Item{
		ID:        uuid.New().String(),
		FileName:  f.Name,
		FileSize:  f.Size,
		FileType:  f.ContentType,
		Status:    StatusPending,
		StartTime: time.Now(),
	}
	c.mu.Lock()
	c.items = append(c.items, item)
	c.mu.Unlock()
	return c.snapshot(item)
}

// Enqueue inserts all files as pending immediately, then starts them
// sequentially in drop order with a stagger between starts. Upload failures
// are recorded on the affected item only; Enqueue never returns an error.
func (c *Controller) Enqueue(ctx context.Context, files ...File) []string {
	ids := make([]string, 0, len(files))
	queued := make([]*Item, 0, len(files))
	for _, f := range files {
		item := c.Create(f)
		ids = append(ids, item.ID)
		queued = append(queued, item)
	}

	go func() {
		for i, f := range files {
			if i > 0 {
				select {
				case <-time.After(c.stagger):
				case <-ctx.Done():
					return
				}
			}
			c.start(ctx, queued[i].ID, f)
		}
	}()

	return ids
}

// start performs the HTTP upload for one item: pending -> uploading when the
// request begins, uploading -> processing once the response carries a job id.
func (c *Controller) start(ctx context.Context, id string, f File) {
	if !c.transition(id, func(item *Item) {
		item.Status = StatusUploading
		item.Progress = 0
	}) {
		return
	}

	var body io.Reader
	var closer io.Closer
	if f.Open != nil {
		rc, err := f.Open()
		if err != nil {
			c.fail(id, err.Error())
			return
		}
		body = rc
		closer = rc
	}

	result, err := c.uploader.UploadDocument(ctx, f.Name, f.ContentType, f.Size, body)
	if closer != nil {
		closer.Close()
	}
	if err != nil {
		log.Printf("uploadqueue: upload %q failed: %v", f.Name, err)
		c.fail(id, err.Error())
		return
	}

	c.mu.Lock()
	item := c.findLocked(id)
	if item != nil && !item.Status.Terminal() {
		item.Status = StatusProcessing
		item.JobID = result.JobID
		item.DocumentID = result.DocumentID
		c.byJob[result.JobID] = item
	}
	c.mu.Unlock()
}

// Get returns a copy of the item, or nil when unknown.
func (c *Controller) Get(id string) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item := c.findLocked(id); item != nil {
		copied := *item
		return &copied
	}
	return nil
}

// Items returns a copy of the queue in insertion order.
func (c *Controller) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, *item)
	}
	return out
}

// Remove deletes the item with the given id. It reports whether an item was
// removed.
func (c *Controller) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, item := range c.items {
		if item.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			if item.JobID != "" {
				delete(c.byJob, item.JobID)
			}
			return true
		}
	}
	return false
}

// ClearCompleted removes exactly the items currently completed, leaving error
// and in-flight items and their relative order untouched. It returns the
// number of removed items.
func (c *Controller) ClearCompleted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.items[:0]
	removed := 0
	for _, item := range c.items {
		if item.Status == StatusCompleted {
			if item.JobID != "" {
				delete(c.byJob, item.JobID)
			}
			removed++
			continue
		}
		kept = append(kept, item)
	}
	c.items = kept
	return removed
}

func (c *Controller) onProgress(env event.Envelope) {
	var p event.JobProgressPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("uploadqueue: bad job_progress payload: %v", err)
		return
	}
	c.byJobTransition(p.JobID, func(item *Item) {
		item.Progress = clampProgress(p.Progress)
	})
}

func (c *Controller) onCompleted(env event.Envelope) {
	var p event.JobCompletedPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("uploadqueue: bad job_completed payload: %v", err)
		return
	}
	c.byJobTransition(p.JobID, func(item *Item) {
		item.Status = StatusCompleted
		// Forced regardless of the last reported value.
		item.Progress = 100
		if p.DocumentID != "" {
			item.DocumentID = p.DocumentID
		}
	})
}

func (c *Controller) onFailed(env event.Envelope) {
	var p event.JobFailedPayload
	if err := env.Decode(&p); err != nil {
		log.Printf("uploadqueue: bad job_failed payload: %v", err)
		return
	}
	c.byJobTransition(p.JobID, func(item *Item) {
		item.Status = StatusError
		item.Error = p.ErrorMessage
	})
}

// byJobTransition applies fn to the item matching jobID unless it is already
// terminal. Events for unknown or terminal items are silent no-ops.
func (c *Controller) byJobTransition(jobID string, fn func(*Item)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.byJob[jobID]
	if !ok || item.Status.Terminal() {
		return
	}
	fn(item)
}

// transition applies fn to the item with the given id unless it is terminal.
// It reports whether fn ran.
func (c *Controller) transition(id string, fn func(*Item)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.findLocked(id)
	if item == nil || item.Status.Terminal() {
		return false
	}
	fn(item)
	return true
}

func (c *Controller) fail(id, message string) {
	c.transition(id, func(item *Item) {
		item.Status = StatusError
		item.Error = message
	})
}

func (c *Controller) findLocked(id string) *Item {
	for _, item := range c.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (c *Controller) snapshot(item *Item) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := *item
	return &copied
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
