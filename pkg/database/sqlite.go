package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// MemoryPath opens a private in-memory transfer log.
const MemoryPath = ":memory:"

// DefaultBusyTimeout is how long a writer waits on a locked log.
const DefaultBusyTimeout = 5 * time.Second

// Config describes the transfer log database.
type Config struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DB is the transfer log handle.
type DB struct {
	*sql.DB
	path   string
	logger *zap.Logger
}

// New opens (creating if needed) the transfer log at cfg.Path. The file holds
// transfer URLs, so it and its directory are private to the owner.
func New(cfg Config, logger *zap.Logger) (*DB, error) {
	memory := cfg.Path == MemoryPath
	if !memory {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create transfer log directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open transfer log: %w", err)
	}

	// Each in-memory connection is a separate database.
	if memory {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping transfer log: %w", err)
	}

	if !memory {
		if err := os.Chmod(cfg.Path, 0o600); err != nil {
			logger.Warn("Failed to restrict transfer log permissions",
				zap.String("path", cfg.Path),
				zap.Error(err))
		}
	}

	logger.Info("Transfer log opened", zap.String("path", cfg.Path))
	return &DB{DB: sqlDB, path: cfg.Path, logger: logger}, nil
}

// dsn renders the go-sqlite3 connection string. The log is append-mostly and
// each write is a single insert, so WAL with NORMAL sync is durable enough and
// immediate transactions avoid lock upgrades between concurrent recorders.
func dsn(cfg Config) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	params := url.Values{}
	params.Set("_busy_timeout", strconv.FormatInt(busy.Milliseconds(), 10))
	params.Set("_txlock", "immediate")

	if cfg.Path == MemoryPath {
		return "file::memory:?" + params.Encode()
	}

	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "NORMAL")
	return "file:" + cfg.Path + "?" + params.Encode()
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// WithTransaction runs fn in a transaction, committing only if fn succeeds.
func (db *DB) WithTransaction(fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(context.Background())
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// JournalMode reports the journal mode the connection ended up with.
func (db *DB) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return "", fmt.Errorf("failed to read journal mode: %w", err)
	}
	return mode, nil
}

// Close folds the write-ahead log back into the main file and closes the log.
func (db *DB) Close() error {
	if db.path != MemoryPath {
		if _, err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			db.logger.Warn("Transfer log checkpoint failed", zap.Error(err))
		}
	}
	db.logger.Info("Closing transfer log")
	return db.DB.Close()
}
