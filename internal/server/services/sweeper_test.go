package services

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/verifai/verifai/internal/server/models"
)

func TestSweep(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("error creating mock db: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	manager := newFakeManager()
	blobs := newFakeBlobStore()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	manager.jobRepo.jobs["old"] = &models.Job{
		ID: "old", Status: models.StatusDone, ObjectKey: "uploads/old",
		ExpiresAt: now.Add(-time.Hour),
	}
	manager.jobRepo.jobs["fresh"] = &models.Job{
		ID: "fresh", Status: models.StatusProcessing, ObjectKey: "uploads/fresh",
		ExpiresAt: now.Add(time.Hour),
	}
	blobs.objects["uploads/old"] = []byte("stale")
	blobs.objects["uploads/fresh"] = []byte("live")

	sweeper := NewSweeper(db, manager, blobs, testConfig(), nopLogger{})
	sweeper.now = func() time.Time { return now }

	if err := sweeper.Sweep(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := blobs.objects["uploads/old"]; ok {
		t.Error("expired blob should be deleted")
	}
	if _, ok := blobs.objects["uploads/fresh"]; !ok {
		t.Error("live blob must survive the sweep")
	}
	if _, ok := manager.jobRepo.jobs["old"]; ok {
		t.Error("expired job row should be deleted")
	}
	if _, ok := manager.jobRepo.jobs["fresh"]; !ok {
		t.Error("live job row must survive the sweep")
	}
	if manager.rateRepo.deleted != "2026-03-08" {
		t.Errorf("unexpected rate-limit cutoff: %q", manager.rateRepo.deleted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
