package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStorage keeps the queue in a local database file so a kiosk survives
// restarts without network access.
type SQLiteStorage struct {
	db  *sql.DB
	key string
}

// OpenSQLite opens (and creates) the queue database at path.
func OpenSQLite(path, key string) (*SQLiteStorage, error) {
	if key == "" {
		key = "offline_queue"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "queue: create data dir")
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "queue: open sqlite")
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "queue: ping sqlite")
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "queue: migrate sqlite")
	}
	return &SQLiteStorage{db: db, key: key}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id    TEXT NOT NULL,
		body       TEXT NOT NULL,
		reason     TEXT NOT NULL,
		dropped_at DATETIME NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStorage) Load(ctx context.Context) ([]Item, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "queue: sqlite load")
	}
	return decodeItems([]byte(value))
}

func (s *SQLiteStorage) Save(ctx context.Context, items []Item) error {
	b, err := encodeItems(items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, s.key, string(b), time.Now().UTC())
	return errors.Wrap(err, "queue: sqlite save")
}

func (s *SQLiteStorage) AppendDeadLetter(ctx context.Context, dl DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return errors.Wrap(err, "queue: encode dead letter")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letters (item_id, body, reason, dropped_at) VALUES (?, ?, ?, ?)`,
		dl.Item.ID, string(b), dl.Reason, dl.DroppedAt,
	)
	return errors.Wrap(err, "queue: sqlite dead letter")
}

func (s *SQLiteStorage) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM dead_letters ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "queue: sqlite dead letters")
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var dl DeadLetter
		if err := json.Unmarshal([]byte(body), &dl); err != nil {
			return nil, errors.Wrapf(ErrCorruptQueue, "dead letter: %v", err)
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }
