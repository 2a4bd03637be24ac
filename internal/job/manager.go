// Package job runs asynchronous document-processing jobs and publishes their
// progress as realtime events.
package job

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docvault/backend/internal/convert"
	"github.com/docvault/backend/internal/model"
	"github.com/docvault/backend/internal/repository"
	"github.com/docvault/backend/pkg/event"
)

// Publisher fans a named event out to connected clients.
type Publisher interface {
	Publish(name event.Name, payload any)
}

// Job is the runtime state of one processing job.
type Job struct {
	ID         string
	DocumentID string
	Progress   int
	Done       bool
	Err        string
}

// Config holds configuration for the job manager.
type Config struct {
	// StepDelay is the pause between progress steps, making progression
	// observable by clients. Zero disables the pause.
	StepDelay time.Duration
}

// Manager tracks in-flight processing jobs.
type Manager struct {
	repo      *repository.DocumentRepository
	publisher Publisher
	stepDelay time.Duration

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewManager creates a new job manager.
func NewManager(repo *repository.DocumentRepository, publisher Publisher, config Config) *Manager {
	return &Manager{
		repo:      repo,
		publisher: publisher,
		stepDelay: config.StepDelay,
		jobs:      make(map[string]*Job),
	}
}

// Submit starts processing the uploaded bytes for doc asynchronously. The
// job id must already be recorded on the document. Submit returns immediately;
// outcome is delivered through published events and the document row.
func (m *Manager) Submit(doc *model.Document, data []byte) {
	job := &Job{ID: doc.JobID, DocumentID: doc.ID}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(job, doc, data)
	}()
}

// Get returns a copy of the job state, or false when unknown.
func (m *Manager) Get(jobID string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ActiveCount returns the number of jobs still running.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, job := range m.jobs {
		if !job.Done {
			n++
		}
	}
	return n
}

// Wait blocks until all submitted jobs have finished. Used on shutdown and in
// tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) run(job *Job, doc *model.Document, data []byte) {
	ctx := context.Background()

	m.step(job, 10)

	converter := convert.ForContentType(doc.ContentType)
	result, err := converter.Convert(doc.Name, data)
	if err != nil {
		m.fail(ctx, job, fmt.Errorf("%s converter: %w", converter.Name(), err))
		return
	}

	m.step(job, 60)

	if err := m.repo.SetProcessed(ctx, doc.ID, result.Content, result.PreviewLine); err != nil {
		m.fail(ctx, job, err)
		return
	}

	m.step(job, 90)

	m.mu.Lock()
	job.Progress = 100
	job.Done = true
	m.mu.Unlock()

	m.publisher.Publish(event.JobCompleted, event.JobCompletedPayload{
		JobID:      job.ID,
		DocumentID: job.DocumentID,
	})
}

// step advances the job's progress, publishes it, and pauses so the
// progression stays observable.
func (m *Manager) step(job *Job, progress int) {
	m.mu.Lock()
	job.Progress = progress
	m.mu.Unlock()

	m.publisher.Publish(event.JobProgress, event.JobProgressPayload{
		JobID:    job.ID,
		Progress: progress,
	})

	if m.stepDelay > 0 {
		time.Sleep(m.stepDelay)
	}
}

func (m *Manager) fail(ctx context.Context, job *Job, err error) {
	log.Printf("Job %s failed: %v", job.ID, err)

	m.mu.Lock()
	job.Done = true
	job.Err = err.Error()
	m.mu.Unlock()

	if updateErr := m.repo.UpdateStatus(ctx, job.DocumentID, model.DocumentStatusFailed, "", err.Error()); updateErr != nil {
		log.Printf("Failed to update document status: %v", updateErr)
	}

	m.publisher.Publish(event.JobFailed, event.JobFailedPayload{
		JobID:        job.ID,
		ErrorMessage: err.Error(),
	})
}
