package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS requests (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT    NOT NULL UNIQUE,
	payload     BLOB    NOT NULL,
	enqueued_at INTEGER NOT NULL,
	claim_token TEXT,
	claimed_at  INTEGER,
	generation  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS results (
	name       TEXT    PRIMARY KEY,
	payload    BLOB    NOT NULL,
	written_at INTEGER NOT NULL
);
`

// SQLiteQueue is an embedded queue: one table per topic in a single
// database file.
type SQLiteQueue struct {
	db   *sql.DB
	mode ClaimMode
}

// NewSQLiteQueue opens or creates the database at path.
func NewSQLiteQueue(path string, mode ClaimMode) (*SQLiteQueue, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteQueue{db: db, mode: mode}, nil
}

func (q *SQLiteQueue) List(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT name FROM requests WHERE claim_token IS NULL ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to list pending requests: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (q *SQLiteQueue) Claim(ctx context.Context, name string) (*Claim, error) {
	c := &Claim{Name: name, ref: name}

	if q.mode == ClaimRename {
		c.Token = uuid.NewString()
		res, err := q.db.ExecContext(ctx,
			`UPDATE requests SET claim_token = ?, claimed_at = ? WHERE name = ? AND claim_token IS NULL`,
			c.Token, time.Now().UnixNano(), name)
		if err != nil {
			return nil, fmt.Errorf("failed to claim request: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return nil, ErrAlreadyClaimed
		}
	}

	var row *sql.Row
	if q.mode == ClaimRename {
		row = q.db.QueryRowContext(ctx,
			`SELECT payload, generation FROM requests WHERE name = ? AND claim_token = ?`, name, c.Token)
	} else {
		row = q.db.QueryRowContext(ctx,
			`SELECT payload, generation FROM requests WHERE name = ?`, name)
	}
	err := row.Scan(&c.Payload, &c.gen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Gone in scan mode, or enqueued again right after the rename
			// claim, which cleared our token.
			return nil, ErrAlreadyClaimed
		}
		return c, fmt.Errorf("failed to read request: %w", err)
	}
	return c, nil
}

func (q *SQLiteQueue) Publish(ctx context.Context, wavFile string, res Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	name := ResultName(wavFile)
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO results (name, payload, written_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, written_at = excluded.written_at`,
		name, data, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, c *Claim) error {
	if c == nil {
		return nil
	}
	if _, err := q.db.ExecContext(ctx, `DELETE FROM requests WHERE name = ? AND generation = ?`, c.ref, c.gen); err != nil {
		return fmt.Errorf("failed to remove request: %w", err)
	}
	return nil
}

func (q *SQLiteQueue) Close() error { return q.db.Close() }

func (q *SQLiteQueue) Enqueue(ctx context.Context, req Request) (string, error) {
	if !ValidWavFile(req.WavFile) {
		return "", fmt.Errorf("invalid wav file name %q", req.WavFile)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}
	name := RequestName(req.WavFile)
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO requests (name, payload, enqueued_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET payload = excluded.payload,
		   enqueued_at = excluded.enqueued_at, claim_token = NULL, claimed_at = NULL,
		   generation = generation + 1`,
		name, data, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", name, err)
	}
	return name, nil
}

func (q *SQLiteQueue) TakeResult(ctx context.Context, wavFile string) (Result, bool, error) {
	name := ResultName(wavFile)
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to read result: %w", err)
	}
	defer tx.Rollback()

	var data []byte
	err = tx.QueryRowContext(ctx, `SELECT payload FROM results WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("failed to read result: %w", err)
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return Result{}, false, fmt.Errorf("failed to decode result: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE name = ?`, name); err != nil {
		return Result{}, false, fmt.Errorf("failed to remove result: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Result{}, false, fmt.Errorf("failed to remove result: %w", err)
	}
	return res, true, nil
}

// Reclaim clears claims older than olderThan so the requests list again.
func (q *SQLiteQueue) Reclaim(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE requests SET claim_token = NULL, claimed_at = NULL
		 WHERE claim_token IS NOT NULL AND claimed_at <= ?`,
		time.Now().Add(-olderThan).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim requests: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
