// Package repository provides data access for kernel session records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sschuhmann/Helium/internal/model"
)

// KernelSessionRepository provides data access for kernel sessions.
type KernelSessionRepository struct {
	db *sql.DB
}

// NewKernelSessionRepository creates a new KernelSessionRepository.
func NewKernelSessionRepository(db *sql.DB) *KernelSessionRepository {
	return &KernelSessionRepository{db: db}
}

// Create inserts a new kernel session.
func (r *KernelSessionRepository) Create(ctx context.Context, s *model.KernelSession) error {
	query := `
		INSERT INTO kernel_sessions (id, name, kernel_name, gateway_url, status, transcript_path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.Name,
		s.KernelName,
		s.GatewayURL,
		s.Status,
		s.TranscriptPath,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create kernel session: %w", err)
	}
	return nil
}

const sessionColumns = `id, name, kernel_name, gateway_url, status, transcript_path, created_at, updated_at`

func scanSession(scan func(dest ...interface{}) error) (*model.KernelSession, error) {
	s := &model.KernelSession{}
	err := scan(
		&s.ID,
		&s.Name,
		&s.KernelName,
		&s.GatewayURL,
		&s.Status,
		&s.TranscriptPath,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a kernel session by its id.
func (r *KernelSessionRepository) GetByID(ctx context.Context, id string) (*model.KernelSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM kernel_sessions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	s, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, model.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kernel session: %w", err)
	}
	return s, nil
}

// List retrieves all kernel sessions, newest first.
func (r *KernelSessionRepository) List(ctx context.Context) ([]*model.KernelSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM kernel_sessions ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list kernel sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.KernelSession
	for rows.Next() {
		s, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kernel session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kernel sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a kernel session.
func (r *KernelSessionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM kernel_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete kernel session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// UpdateStatus updates the lifecycle status of a kernel session.
func (r *KernelSessionRepository) UpdateStatus(ctx context.Context, id string, status model.SessionStatus) error {
	query := `UPDATE kernel_sessions SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update kernel session status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// Rename updates the connection display name. An empty name clears it.
func (r *KernelSessionRepository) Rename(ctx context.Context, id, name string) error {
	query := `UPDATE kernel_sessions SET name = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, name, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to rename kernel session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}

// CountActive returns the number of running kernel sessions.
func (r *KernelSessionRepository) CountActive(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM kernel_sessions WHERE status = ?`

	var count int
	err := r.db.QueryRowContext(ctx, query, model.SessionStatusRunning).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active kernel sessions: %w", err)
	}
	return count, nil
}

// Exists checks whether a kernel session exists.
func (r *KernelSessionRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM kernel_sessions WHERE id = ? LIMIT 1`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check kernel session existence: %w", err)
	}
	return true, nil
}
