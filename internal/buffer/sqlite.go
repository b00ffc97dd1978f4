package buffer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when updating a record id the buffer has
// never seen.
var ErrNotFound = errors.New("buffer: record not found")

const schema = `
CREATE TABLE IF NOT EXISTS action_records (
	id                TEXT PRIMARY KEY,
	platform          TEXT NOT NULL,
	action_type       TEXT NOT NULL,
	entity_type       TEXT NOT NULL,
	entity_id         TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	github_id         TEXT NOT NULL DEFAULT '',
	linear_id         TEXT NOT NULL DEFAULT '',
	notion_id         TEXT NOT NULL DEFAULT '',
	observed_at       TEXT NOT NULL,
	sync_status       TEXT NOT NULL DEFAULT 'Pending',
	validated         INTEGER NOT NULL DEFAULT 0,
	error_log         TEXT NOT NULL DEFAULT '',
	last_validated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_action_records_unresolved
	ON action_records(sync_status, validated);
CREATE INDEX IF NOT EXISTS idx_action_records_last_validated
	ON action_records(last_validated_at);
`

// SQLiteStore is the default durable buffer, an embedded SQLite
// database in WAL mode so webhook handlers can append concurrently
// while the reconciler reads.
type SQLiteStore struct {
	conn *sql.DB
	now  func() time.Time
}

// OpenSQLite opens (creating if necessary) the buffer database at path.
// The caller must Close the store when done.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating buffer directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening buffer database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging buffer database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating buffer schema: %w", err)
	}

	return &SQLiteStore{conn: conn, now: time.Now}, nil
}

// Append implements Store.
func (s *SQLiteStore) Append(ctx context.Context, in Input) (string, error) {
	id := uuid.NewString()
	observed := in.ObservedAt
	if observed.IsZero() {
		observed = s.now()
	}

	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO action_records
			(id, platform, action_type, entity_type, entity_id, description,
			 github_id, linear_id, notion_id, observed_at, sync_status, validated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		id, string(in.Platform), string(in.ActionType), string(in.EntityType),
		in.EntityID, in.Description,
		in.Correlations.GitHub, in.Correlations.Linear, in.Correlations.Notion,
		observed.UTC().Format(time.RFC3339Nano), string(StatusPending),
	)
	if err != nil {
		return "", fmt.Errorf("appending action record: %w", err)
	}
	return id, nil
}

// UpdateStatus implements Store.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status SyncStatus, validated bool, errorLog string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE action_records
		SET sync_status = ?, validated = ?, error_log = ?, last_validated_at = ?
		WHERE id = ?`,
		string(status), boolToInt(validated), errorLog,
		s.now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("updating action record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating action record %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]ActionRecord, error) {
	query := `
		SELECT id, platform, action_type, entity_type, entity_id, description,
		       github_id, linear_id, notion_id, observed_at, sync_status,
		       validated, error_log, last_validated_at
		FROM action_records WHERE 1=1`
	var args []any

	if f.Unresolved {
		query += ` AND (validated = 0 OR sync_status = ?)`
		args = append(args, string(StatusPending))
	}
	if f.ValidatedAfter != nil {
		query += ` AND last_validated_at > ?`
		args = append(args, f.ValidatedAfter.UTC().Format(time.RFC3339Nano))
	}
	if f.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, string(f.Platform))
	}
	if f.SyncStatus != "" {
		query += ` AND sync_status = ?`
		args = append(args, string(f.SyncStatus))
	}
	query += ` ORDER BY observed_at ASC, id ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying action records: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading action records: %w", err)
	}
	return records, nil
}

// Stats implements Store.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var lastValidated sql.NullString
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(sync_status = 'Pending'), 0),
		       COALESCE(SUM(sync_status = 'Synced'), 0),
		       COALESCE(SUM(sync_status = 'Failed'), 0),
		       COALESCE(SUM(sync_status = 'Conflict'), 0),
		       COALESCE(SUM(validated), 0),
		       MAX(last_validated_at)
		FROM action_records`).Scan(
		&st.Total, &st.Pending, &st.Synced, &st.Failed,
		&st.Conflicts, &st.Validated, &lastValidated,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("computing buffer stats: %w", err)
	}
	if lastValidated.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastValidated.String)
		if err != nil {
			return Stats{}, fmt.Errorf("parsing last validation time: %w", err)
		}
		st.LastValidation = &t
	}
	return st, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func scanRecord(rows *sql.Rows) (ActionRecord, error) {
	var rec ActionRecord
	var platform, actionType, entityType, status, observedAt string
	var validated int
	var lastValidated sql.NullString

	err := rows.Scan(&rec.ID, &platform, &actionType, &entityType,
		&rec.EntityID, &rec.Description,
		&rec.Correlations.GitHub, &rec.Correlations.Linear, &rec.Correlations.Notion,
		&observedAt, &status, &validated, &rec.ErrorLog, &lastValidated)
	if err != nil {
		return ActionRecord{}, fmt.Errorf("scanning action record: %w", err)
	}

	rec.Platform = Platform(platform)
	rec.ActionType = ActionType(actionType)
	rec.EntityType = EntityType(entityType)
	rec.SyncStatus = SyncStatus(status)
	rec.Validated = validated != 0

	rec.ObservedAt, err = time.Parse(time.RFC3339Nano, observedAt)
	if err != nil {
		return ActionRecord{}, fmt.Errorf("parsing observed_at: %w", err)
	}
	if lastValidated.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastValidated.String)
		if err != nil {
			return ActionRecord{}, fmt.Errorf("parsing last_validated_at: %w", err)
		}
		rec.LastValidatedAt = &t
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
