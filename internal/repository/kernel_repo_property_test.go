package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sschuhmann/Helium/internal/db"
	"github.com/sschuhmann/Helium/internal/model"
)

// generateID generates a unique ID for testing.
func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// For any kernelspec and display name, a created session record can be read
// back intact, renamed, and deleted, leaving no trace.
func TestKernelSessionPersistenceProperty(t *testing.T) {
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	defer database.Close()

	repo := NewKernelSessionRepository(database)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	nonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})

	properties.Property("session creation persists and round-trips", prop.ForAll(
		func(kernelName, name string) bool {
			sessionID := generateID()

			now := time.Now()
			sess := &model.KernelSession{
				ID:         sessionID,
				Name:       name,
				KernelName: kernelName,
				GatewayURL: "http://localhost:8888",
				Status:     model.SessionStatusRunning,
				CreatedAt:  now,
				UpdatedAt:  now,
			}

			if err := repo.Create(ctx, sess); err != nil {
				t.Logf("failed to create session: %v", err)
				return false
			}

			retrieved, err := repo.GetByID(ctx, sessionID)
			if err != nil {
				t.Logf("failed to retrieve session: %v", err)
				return false
			}
			if retrieved.KernelName != kernelName || retrieved.Name != name {
				t.Logf("retrieved session does not match: %+v", retrieved)
				return false
			}
			if retrieved.Status != model.SessionStatusRunning {
				t.Logf("unexpected status %s", retrieved.Status)
				return false
			}

			exists, err := repo.Exists(ctx, sessionID)
			if err != nil || !exists {
				return false
			}

			if err := repo.Delete(ctx, sessionID); err != nil {
				t.Logf("failed to delete session: %v", err)
				return false
			}

			exists, err = repo.Exists(ctx, sessionID)
			return err == nil && !exists
		},
		nonEmptyString,
		nonEmptyString,
	))

	properties.Property("rename round-trips for any name", prop.ForAll(
		func(kernelName, newName string) bool {
			sessionID := generateID()

			now := time.Now()
			sess := &model.KernelSession{
				ID:         sessionID,
				KernelName: kernelName,
				GatewayURL: "http://localhost:8888",
				Status:     model.SessionStatusRunning,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := repo.Create(ctx, sess); err != nil {
				return false
			}
			defer repo.Delete(ctx, sessionID)

			if err := repo.Rename(ctx, sessionID, newName); err != nil {
				return false
			}
			retrieved, err := repo.GetByID(ctx, sessionID)
			return err == nil && retrieved.Name == newName
		},
		nonEmptyString,
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
