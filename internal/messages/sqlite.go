package messages

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*SQLite)(nil)

// SQLite is the Store implementation backing the service. It also owns the
// message_vectors table used by the local vector index backend, so both
// share one database file.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "semsearch.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Wait briefly on concurrent access instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// DB exposes the underlying handle so the local vector index backend can
// share the database file.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *SQLite) Close() error { return s.db.Close() }

// migrate applies embedded SQL migrations that haven't run yet, each in its
// own transaction, recorded in schema_version.
func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) applyMigration(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(content); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	return tx.Commit()
}

func (s *SQLite) SaveMessage(ctx context.Context, m MessageRecord) error {
	status := m.IndexStatus
	if status == "" {
		status = StatusPending
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation, sender, text, created_at, index_status, status_changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation      = excluded.conversation,
			sender            = excluded.sender,
			text              = excluded.text,
			created_at        = excluded.created_at,
			index_status      = excluded.index_status,
			status_changed_at = excluded.status_changed_at`,
		m.ID, m.Conversation, m.Sender, m.Text,
		m.CreatedAt.UTC().Format(time.RFC3339), string(status), now)
	if err != nil {
		return fmt.Errorf("saving message %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (MessageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, conversation, sender, text, created_at, index_status
		FROM messages WHERE id = ?`, id)

	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return MessageRecord{}, ErrNotFound
	}
	return m, err
}

func (s *SQLite) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}
	return nil
}

func (s *SQLite) SetIndexStatus(ctx context.Context, id string, status IndexStatus) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET index_status = ?, status_changed_at = ? WHERE id = ?`,
		string(status), now, id)
	if err != nil {
		return fmt.Errorf("updating status for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListByIDs(ctx context.Context, ids []string) ([]MessageRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, conversation, sender, text, created_at, index_status
		FROM messages WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]MessageRecord, len(ids))
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Return in caller order, skipping IDs that were not found.
	results := make([]MessageRecord, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			results = append(results, m)
		}
	}
	return results, nil
}

func (s *SQLite) ListWithStatus(ctx context.Context, status IndexStatus, olderThan time.Time, limit int) ([]MessageRecord, error) {
	query := `SELECT id, conversation, sender, text, created_at, index_status
		FROM messages WHERE index_status = ?`
	args := []any{string(status)}
	if !olderThan.IsZero() {
		query += ` AND status_changed_at <= ?`
		args = append(args, olderThan.UTC().Format(time.RFC3339))
	}
	query += ` ORDER BY status_changed_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing %s messages: %w", status, err)
	}
	defer rows.Close()

	var results []MessageRecord
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

func (s *SQLite) Participants(ctx context.Context, conversation string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT sender FROM messages WHERE conversation = ? ORDER BY sender ASC`,
		conversation)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, err
		}
		senders = append(senders, sender)
	}
	return senders, rows.Err()
}

func (s *SQLite) CountByStatus(ctx context.Context) (map[IndexStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT index_status, COUNT(*) FROM messages GROUP BY index_status`)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[IndexStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[IndexStatus(status)] = n
	}
	return counts, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (MessageRecord, error) {
	var m MessageRecord
	var createdAt, status string
	if err := row.Scan(&m.ID, &m.Conversation, &m.Sender, &m.Text, &createdAt, &status); err != nil {
		return MessageRecord{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("parsing created_at for %s: %w", m.ID, err)
	}
	m.CreatedAt = t
	m.IndexStatus = IndexStatus(status)
	return m, nil
}
