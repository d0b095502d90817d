package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sschuhmann/Helium/internal/db"
	"github.com/sschuhmann/Helium/internal/model"
)

func setupTestRepo(t *testing.T) (*KernelSessionRepository, func()) {
	t.Helper()

	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	repo := NewKernelSessionRepository(database)
	cleanup := func() {
		database.Close()
	}
	return repo, cleanup
}

func newSession(id string) *model.KernelSession {
	now := time.Now()
	return &model.KernelSession{
		ID:         id,
		KernelName: "python3",
		GatewayURL: "http://localhost:8888",
		Status:     model.SessionStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestKernelSessionRepository_CreateAndGet(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	sess := newSession("kernel-1")
	sess.Name = "scratch"
	if err := repo.Create(ctx, sess); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	got, err := repo.GetByID(ctx, "kernel-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.ID != sess.ID || got.Name != sess.Name || got.KernelName != sess.KernelName {
		t.Errorf("retrieved session does not match: %+v", got)
	}
	if got.Status != model.SessionStatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
}

func TestKernelSessionRepository_GetNotFound(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestKernelSessionRepository_List(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	first := newSession("kernel-1")
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := newSession("kernel-2")

	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("failed to create first session: %v", err)
	}
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("failed to create second session: %v", err)
	}

	sessions, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	// Newest first
	if sessions[0].ID != "kernel-2" {
		t.Errorf("expected kernel-2 first, got %s", sessions[0].ID)
	}
}

func TestKernelSessionRepository_Rename(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	if err := repo.Create(ctx, newSession("kernel-1")); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if err := repo.Rename(ctx, "kernel-1", "analysis"); err != nil {
		t.Fatalf("failed to rename: %v", err)
	}
	got, err := repo.GetByID(ctx, "kernel-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Name != "analysis" {
		t.Errorf("expected renamed session, got %q", got.Name)
	}

	// Clearing the name is allowed.
	if err := repo.Rename(ctx, "kernel-1", ""); err != nil {
		t.Fatalf("failed to clear name: %v", err)
	}
	got, _ = repo.GetByID(ctx, "kernel-1")
	if got.Name != "" {
		t.Errorf("expected cleared name, got %q", got.Name)
	}

	if err := repo.Rename(ctx, "missing", "x"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestKernelSessionRepository_UpdateStatus(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	if err := repo.Create(ctx, newSession("kernel-1")); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if err := repo.UpdateStatus(ctx, "kernel-1", model.SessionStatusDead); err != nil {
		t.Fatalf("failed to update status: %v", err)
	}
	got, err := repo.GetByID(ctx, "kernel-1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Status != model.SessionStatusDead {
		t.Errorf("expected status dead, got %s", got.Status)
	}

	if err := repo.UpdateStatus(ctx, "missing", model.SessionStatusDead); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestKernelSessionRepository_Delete(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	if err := repo.Create(ctx, newSession("kernel-1")); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if err := repo.Delete(ctx, "kernel-1"); err != nil {
		t.Fatalf("failed to delete session: %v", err)
	}
	if _, err := repo.GetByID(ctx, "kernel-1"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}

	if err := repo.Delete(ctx, "kernel-1"); !errors.Is(err, model.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on repeated delete, got %v", err)
	}
}

func TestKernelSessionRepository_CountActive(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	running := newSession("kernel-1")
	dead := newSession("kernel-2")
	dead.Status = model.SessionStatusDead

	if err := repo.Create(ctx, running); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if err := repo.Create(ctx, dead); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	count, err := repo.CountActive(ctx)
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 active session, got %d", count)
	}
}

func TestKernelSessionRepository_Exists(t *testing.T) {
	repo, cleanup := setupTestRepo(t)
	defer cleanup()
	ctx := context.Background()

	if err := repo.Create(ctx, newSession("kernel-1")); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	exists, err := repo.Exists(ctx, "kernel-1")
	if err != nil {
		t.Fatalf("failed to check existence: %v", err)
	}
	if !exists {
		t.Error("expected session to exist")
	}

	exists, err = repo.Exists(ctx, "missing")
	if err != nil {
		t.Fatalf("failed to check existence: %v", err)
	}
	if exists {
		t.Error("expected session to not exist")
	}
}
