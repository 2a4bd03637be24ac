package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/docvault/backend/internal/db"
	"github.com/docvault/backend/internal/model"
)

func newTestRepo(t *testing.T) *DocumentRepository {
	t.Helper()
	testDB, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { testDB.Close() })
	return NewDocumentRepository(testDB)
}

func newDocument(name string) *model.Document {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Document{
		ID:          uuid.New().String(),
		Name:        name,
		Size:        0,
		ContentType: "text/plain",
		Status:      model.DocumentStatusProcessing,
		JobID:       uuid.New().String(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestDocumentRepositoryCreate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDocument("notes.txt")
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "notes.txt" || got.Status != model.DocumentStatusProcessing {
		t.Errorf("unexpected document: %+v", got)
	}
	if got.JobID != doc.JobID {
		t.Errorf("job id mismatch: %q vs %q", got.JobID, doc.JobID)
	}

	t.Run("duplicate id is rejected", func(t *testing.T) {
		if err := repo.Create(ctx, doc); err == nil {
			t.Error("expected primary key violation")
		}
	})
}

func TestDocumentRepositoryGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("unknown id yields not found", func(t *testing.T) {
		if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, model.ErrDocumentNotFound) {
			t.Errorf("expected ErrDocumentNotFound, got %v", err)
		}
	})

	t.Run("lookup by job id", func(t *testing.T) {
		doc := newDocument("report.md")
		if err := repo.Create(ctx, doc); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		got, err := repo.GetByJobID(ctx, doc.JobID)
		if err != nil {
			t.Fatalf("get by job failed: %v", err)
		}
		if got.ID != doc.ID {
			t.Errorf("expected %s, got %s", doc.ID, got.ID)
		}

		if _, err := repo.GetByJobID(ctx, "no-such-job"); !errors.Is(err, model.ErrDocumentNotFound) {
			t.Errorf("expected ErrDocumentNotFound, got %v", err)
		}
	})
}

func TestDocumentRepositoryList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	names := []string{"oldest.txt", "middle.txt", "newest.txt"}
	for i, name := range names {
		doc := newDocument(name)
		doc.Content = "body that must not leak into listings"
		doc.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		doc.UpdatedAt = doc.CreatedAt
		if err := repo.Create(ctx, doc); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	docs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	if docs[0].Name != "newest.txt" || docs[2].Name != "oldest.txt" {
		t.Errorf("expected newest first, got %s .. %s", docs[0].Name, docs[2].Name)
	}
	for _, doc := range docs {
		if doc.Content != "" {
			t.Errorf("listing leaked a document body for %s", doc.Name)
		}
	}
}

func TestDocumentRepositoryUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDocument("draft.md")
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	t.Run("set processed stores body, preview and ready status", func(t *testing.T) {
		if err := repo.SetProcessed(ctx, doc.ID, "# Title\n\nbody", "Title"); err != nil {
			t.Fatalf("set processed failed: %v", err)
		}
		got, err := repo.GetByID(ctx, doc.ID)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Status != model.DocumentStatusReady || got.PreviewLine != "Title" {
			t.Errorf("unexpected state: %+v", got)
		}
		if got.Content != "# Title\n\nbody" {
			t.Errorf("unexpected body: %q", got.Content)
		}
		if got.Size != int64(len("# Title\n\nbody")) {
			t.Errorf("size not synced to body: %d", got.Size)
		}
	})

	t.Run("update content rewrites body and size", func(t *testing.T) {
		if err := repo.UpdateContent(ctx, doc.ID, "replaced"); err != nil {
			t.Fatalf("update content failed: %v", err)
		}
		got, _ := repo.GetByID(ctx, doc.ID)
		if got.Content != "replaced" || got.Size != int64(len("replaced")) {
			t.Errorf("unexpected state: %+v", got)
		}
	})

	t.Run("update status records an error message", func(t *testing.T) {
		if err := repo.UpdateStatus(ctx, doc.ID, model.DocumentStatusFailed, "", "conversion failed"); err != nil {
			t.Fatalf("update status failed: %v", err)
		}
		got, _ := repo.GetByID(ctx, doc.ID)
		if got.Status != model.DocumentStatusFailed || got.Error != "conversion failed" {
			t.Errorf("unexpected state: %+v", got)
		}
	})

	t.Run("updates against unknown ids report not found", func(t *testing.T) {
		if err := repo.UpdateContent(ctx, "missing", "x"); !errors.Is(err, model.ErrDocumentNotFound) {
			t.Errorf("expected ErrDocumentNotFound, got %v", err)
		}
		if err := repo.UpdateStatus(ctx, "missing", model.DocumentStatusReady, "", ""); !errors.Is(err, model.ErrDocumentNotFound) {
			t.Errorf("expected ErrDocumentNotFound, got %v", err)
		}
		if err := repo.SetProcessed(ctx, "missing", "x", ""); !errors.Is(err, model.ErrDocumentNotFound) {
			t.Errorf("expected ErrDocumentNotFound, got %v", err)
		}
	})
}

func TestDocumentRepositoryDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	doc := newDocument("ephemeral.txt")
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := repo.Delete(ctx, doc.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.GetByID(ctx, doc.ID); !errors.Is(err, model.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound after delete, got %v", err)
	}
	if err := repo.Delete(ctx, doc.ID); !errors.Is(err, model.ErrDocumentNotFound) {
		t.Errorf("expected ErrDocumentNotFound on second delete, got %v", err)
	}
}

// TestDocumentRepositoryRoundTrip verifies that optional columns survive the
// NullString mapping across a spread of values.
func TestDocumentRepositoryRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		jobID   string
		preview string
		errMsg  string
	}{
		{"all empty", "", "", ""},
		{"job only", "job-1", "", ""},
		{"preview only", "", "First line", ""},
		{"error only", "", "", "boom"},
		{"everything", "job-2", "Second line", "late failure"},
	}

	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := newDocument(fmt.Sprintf("doc-%d.txt", i))
			doc.JobID = tc.jobID
			doc.PreviewLine = tc.preview
			doc.Error = tc.errMsg

			if err := repo.Create(ctx, doc); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			got, err := repo.GetByID(ctx, doc.ID)
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if got.JobID != tc.jobID || got.PreviewLine != tc.preview || got.Error != tc.errMsg {
				t.Errorf("optional columns mangled: %+v", got)
			}
		})
	}
}
