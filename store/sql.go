package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"callpipe/logger"
	"callpipe/models"
)

// timeLayout sorts lexicographically, so routed_at ordering works on TEXT.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQL stores routed calls in a call_records table on Postgres or SQLite.
type SQL struct {
	DB     *sql.DB
	driver string
}

// NewSQL opens the database and runs the migration. driver is "postgres" or "sqlite".
func NewSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", driver, err)
	}
	if driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY under concurrent routes
		db.SetMaxOpenConns(1)
	}
	s := &SQL{DB: db, driver: driver}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s migrate: %w", driver, err)
	}
	logger.Info("sql sink initialized", logger.FieldKV("driver", driver))
	return s, nil
}

func (s *SQL) Close(ctx context.Context) error { return s.DB.Close() }

func (s *SQL) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *SQL) Migrate(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS call_records (
  source TEXT NOT NULL,
  call_id TEXT NOT NULL,
  start_time TEXT,
  end_time TEXT,
  duration_minutes INTEGER,
  participants TEXT NOT NULL,
  participant_count INTEGER NOT NULL,
  recording BOOLEAN NOT NULL,
  ingest_id TEXT,
  received_at TEXT,
  transformed_at TEXT,
  routed_at TEXT NOT NULL,
  PRIMARY KEY (source, call_id)
);
`)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_call_records_routed_at ON call_records (routed_at)`)
	return err
}

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQL) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save inserts call unless one with the same source and id exists.
func (s *SQL) Save(ctx context.Context, call models.NormalizedCall) error {
	participants, err := json.Marshal(call.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	var duration sql.NullInt64
	if call.DurationMinutes != nil {
		duration = sql.NullInt64{Int64: int64(*call.DurationMinutes), Valid: true}
	}
	_, err = s.DB.ExecContext(ctx, s.rebind(`
INSERT INTO call_records (source, call_id, start_time, end_time, duration_minutes, participants,
  participant_count, recording, ingest_id, received_at, transformed_at, routed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (source, call_id) DO NOTHING`),
		call.Source, call.CallID, call.StartTime, call.EndTime, duration, string(participants),
		call.ParticipantCount, call.Recording, call.IngestID,
		formatTime(call.ReceivedAt), formatTime(call.TransformedAt), formatTime(call.RoutedAt))
	return err
}

const selectColumns = `SELECT source, call_id, start_time, end_time, duration_minutes, participants,
  participant_count, recording, ingest_id, received_at, transformed_at, routed_at FROM call_records`

func (s *SQL) Get(ctx context.Context, source, callID string) (models.NormalizedCall, error) {
	row := s.DB.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE source = ? AND call_id = ?`), source, callID)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return call, fmt.Errorf("%s/%s: %w", source, callID, ErrNotFound)
	}
	return call, err
}

// List returns stored calls, newest-routed first.
func (s *SQL) List(ctx context.Context, source string, limit int) ([]models.NormalizedCall, error) {
	query := selectColumns
	var args []any
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY routed_at DESC, call_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.NormalizedCall{}
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, call)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(sc scanner) (models.NormalizedCall, error) {
	var (
		call                  models.NormalizedCall
		start, end, ingestID  sql.NullString
		received, transformed sql.NullString
		routed, participants  string
		duration              sql.NullInt64
	)
	err := sc.Scan(&call.Source, &call.CallID, &start, &end, &duration, &participants,
		&call.ParticipantCount, &call.Recording, &ingestID, &received, &transformed, &routed)
	if err != nil {
		return call, err
	}
	call.StartTime, call.EndTime, call.IngestID = start.String, end.String, ingestID.String
	if duration.Valid {
		d := int(duration.Int64)
		call.DurationMinutes = &d
	}
	if err := json.Unmarshal([]byte(participants), &call.Participants); err != nil {
		return call, fmt.Errorf("decode participants: %w", err)
	}
	call.ReceivedAt = parseTime(received.String)
	call.TransformedAt = parseTime(transformed.String)
	call.RoutedAt = parseTime(routed)
	return call, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
