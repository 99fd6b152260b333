package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"orchard-platform/pkg/database"
	"orchard-platform/pkg/logging"
	"orchard-platform/pkg/metrics"
)

// StateRepository is the narrow persistence contract the services depend on:
// named JSON documents for replaceable state (evolution modifiers, cached
// climate, regression models, flags) and append-only streams for history
// (simulation runs, validator outcomes, feedback, alerts).
type StateRepository interface {
	// Document operations
	GetDocument(ctx context.Context, key string) (json.RawMessage, error)
	PutDocument(ctx context.Context, key string, body interface{}) error
	DeleteDocument(ctx context.Context, key string) error

	// Stream operations
	AppendRecord(ctx context.Context, stream string, body interface{}) error
	RecentRecords(ctx context.Context, stream string, limit int) ([]json.RawMessage, error)
	CountRecords(ctx context.Context, stream string) (int, error)
	Replay(ctx context.Context, stream string, fn func(json.RawMessage) error) error

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// stateRepository implements StateRepository on the SQL store
type stateRepository struct {
	db      *database.Store
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *database.Store, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) StateRepository {
	return &stateRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetDocument retrieves a named document's body
func (r *stateRepository) GetDocument(ctx context.Context, key string) (json.RawMessage, error) {
	query := `
		SELECT body
		FROM state_documents
		WHERE doc_key = ?
	`

	var body []byte
	err := r.db.GetContext(ctx, "get_document", &body, query, key)

	if err == sql.ErrNoRows {
		return nil, &NotFoundError{
			Resource: "state_document",
			ID:       key,
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return json.RawMessage(body), nil
}

// PutDocument atomically replaces a named document
func (r *stateRepository) PutDocument(ctx context.Context, key string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal document %s: %w", key, err)
	}

	query := `
		INSERT INTO state_documents (doc_key, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (doc_key) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, "put_document", query, key, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to put document: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_PUT_DOCUMENT] Document stored", logging.Fields{
		"doc_key": key,
		"bytes":   len(data),
	})

	return nil
}

// DeleteDocument removes a named document. Deleting a missing document is
// not an error.
func (r *stateRepository) DeleteDocument(ctx context.Context, key string) error {
	query := `DELETE FROM state_documents WHERE doc_key = ?`

	_, err := r.db.ExecContext(ctx, "delete_document", query, key)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	return nil
}

// AppendRecord appends one record to a stream
func (r *stateRepository) AppendRecord(ctx context.Context, stream string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal record for stream %s: %w", stream, err)
	}

	query := `
		INSERT INTO state_records (stream, body, created_at)
		VALUES (?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, "append_record", query, stream, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}

	return nil
}

// RecentRecords returns the newest records of a stream in chronological
// order, oldest of the window first.
func (r *stateRepository) RecentRecords(ctx context.Context, stream string, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT body
		FROM state_records
		WHERE stream = ?
		ORDER BY id DESC
		LIMIT ?
	`

	var bodies [][]byte
	err := r.db.SelectContext(ctx, "recent_records", &bodies, query, stream, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent records: %w", err)
	}

	// Reverse into chronological order
	records := make([]json.RawMessage, len(bodies))
	for i, b := range bodies {
		records[len(bodies)-1-i] = json.RawMessage(b)
	}

	return records, nil
}

// CountRecords returns the total number of records in a stream
func (r *stateRepository) CountRecords(ctx context.Context, stream string) (int, error) {
	query := `SELECT COUNT(*) FROM state_records WHERE stream = ?`

	var count int
	err := r.db.GetContext(ctx, "count_records", &count, query, stream)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}

	return count, nil
}

// Replay streams every record of a stream in insertion order through fn.
// fn returning an error stops the replay.
func (r *stateRepository) Replay(ctx context.Context, stream string, fn func(json.RawMessage) error) error {
	timer := time.Now()

	query := `
		SELECT body
		FROM state_records
		WHERE stream = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, "replay_records", query, stream)
	if err != nil {
		return fmt.Errorf("failed to replay stream %s: %w", stream, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		if err := fn(json.RawMessage(body)); err != nil {
			return err
		}
		count++
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed during stream replay: %w", err)
	}

	r.logger.Debug(ctx, "[REPO_REPLAY] Stream replayed", logging.Fields{
		"stream":      stream,
		"records":     count,
		"duration_ms": time.Since(timer).Milliseconds(),
	})

	return nil
}

// HealthCheck performs a repository health check
func (r *stateRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) IsTransient() bool {
	return false
}
