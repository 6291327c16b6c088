package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/mailfiles/internal/models"
	"go.uber.org/zap"
)

// DefaultListLimit caps ListRecent when the caller passes no limit
const DefaultListLimit = 50

// MaxListLimit is the largest page ListRecent returns
const MaxListLimit = 500

// TransferRepository handles transfer log database operations
type TransferRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTransferRepository creates a new transfer repository
func NewTransferRepository(db *sql.DB, logger *zap.Logger) *TransferRepository {
	return &TransferRepository{
		db:     db,
		logger: logger,
	}
}

// Record inserts a finished transfer and sets its ID and CreatedAt
func (r *TransferRepository) Record(ctx context.Context, rec *models.TransferRecord) error {
	query := `
		INSERT INTO transfer_log (
			direction, url, local_path, status_code, bytes, status,
			error_message, started_at, finished_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.CreatedAt
	}

	result, err := r.db.ExecContext(ctx, query,
		rec.Direction,
		rec.URL,
		rec.LocalPath,
		rec.StatusCode,
		rec.Bytes,
		rec.Status,
		rec.ErrorMessage,
		rec.StartedAt,
		rec.FinishedAt,
		rec.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record transfer",
			zap.String("direction", rec.Direction),
			zap.Error(err))
		return fmt.Errorf("failed to record transfer: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get transfer ID: %w", err)
	}
	rec.ID = id

	r.logger.Debug("Transfer recorded",
		zap.Int64("id", id),
		zap.String("direction", rec.Direction),
		zap.String("status", rec.Status))

	return nil
}

// GetByID retrieves a transfer record, or nil when none exists
func (r *TransferRepository) GetByID(ctx context.Context, id int64) (*models.TransferRecord, error) {
	query := `
		SELECT id, direction, url, local_path, status_code, bytes, status,
			error_message, started_at, finished_at, created_at
		FROM transfer_log
		WHERE id = ?
	`

	rec, err := scanTransfer(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get transfer", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return rec, nil
}

// ListRecent returns the newest transfers first. An empty direction matches
// both directions.
func (r *TransferRepository) ListRecent(ctx context.Context, direction string, limit int) ([]*models.TransferRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT id, direction, url, local_path, status_code, bytes, status,
			error_message, started_at, finished_at, created_at
		FROM transfer_log
		WHERE (? = '' OR direction = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, direction, direction, limit)
	if err != nil {
		r.logger.Error("Failed to list transfers", zap.Error(err))
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var records []*models.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*models.TransferRecord, error) {
	var rec models.TransferRecord
	var finishedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.Direction,
		&rec.URL,
		&rec.LocalPath,
		&rec.StatusCode,
		&rec.Bytes,
		&rec.Status,
		&rec.ErrorMessage,
		&rec.StartedAt,
		&finishedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	return &rec, nil
}
