package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteExporter persists metric events to a local SQLite database so
// sessions can be inspected after the fact. Rows store the full export
// record as JSON next to the columns used for filtering.
type SQLiteExporter struct {
	db *sql.DB
}

func NewSQLiteExporter(path string) (*SQLiteExporter, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping metrics database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS metric_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			correlation_id TEXT,
			collected_at REAL NOT NULL,
			record TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create metric_events table: %w", err)
	}

	return &SQLiteExporter{db: db}, nil
}

func (e *SQLiteExporter) Export(ctx context.Context, event Event) error {
	record, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize metric event: %w", err)
	}

	collectedAt := float64(time.Now().UnixNano()) / float64(time.Second)
	if _, err := e.db.ExecContext(ctx, `
		INSERT INTO metric_events (type, correlation_id, collected_at, record)
		VALUES (?, ?, ?, ?)
	`, event.MetricType(), event.Correlation(), collectedAt, string(record)); err != nil {
		return fmt.Errorf("failed to insert metric event: %w", err)
	}
	return nil
}

func (e *SQLiteExporter) Close() error {
	return e.db.Close()
}
