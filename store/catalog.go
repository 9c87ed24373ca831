package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Checkpoint is one saved set of primary network weights.
type Checkpoint struct {
	Tick       int64
	Path       string
	Epsilon    float64
	TrainSteps int64
	CreatedAt  time.Time
}

// Catalog indexes checkpoints in SQLite so a restart can resume from the
// newest one without listing the checkpoint directory.
type Catalog struct {
	mu sync.RWMutex
	db *sql.DB
}

func OpenCatalog(ctx context.Context, path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog: %w", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS checkpoints (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			epsilon REAL NOT NULL,
			train_steps INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Catalog{db: db}, nil
}

// Record inserts or replaces the entry for cp.Tick.
func (c *Catalog) Record(ctx context.Context, cp Checkpoint) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO checkpoints (tick, path, epsilon, train_steps, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tick) DO UPDATE SET
			path = excluded.path,
			epsilon = excluded.epsilon,
			train_steps = excluded.train_steps,
			created_at = excluded.created_at
	`, cp.Tick, cp.Path, cp.Epsilon, cp.TrainSteps, cp.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record checkpoint %d: %w", cp.Tick, err)
	}
	return nil
}

// Latest returns the checkpoint with the highest tick.
func (c *Catalog) Latest(ctx context.Context) (Checkpoint, bool, error) {
	list, err := c.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return Checkpoint{}, false, err
	}
	return list[0], true, nil
}

// List returns up to limit checkpoints, newest first.
func (c *Catalog) List(ctx context.Context, limit int) ([]Checkpoint, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT tick, path, epsilon, train_steps, created_at
		FROM checkpoints ORDER BY tick DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var created int64
		if err := rows.Scan(&cp.Tick, &cp.Path, &cp.Epsilon, &cp.TrainSteps, &created); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.CreatedAt = time.Unix(0, created)
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *Catalog) getDB() (*sql.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil, errors.New("catalog is closed")
	}
	return c.db, nil
}
