package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/zhouzirui/z-tavern/support/internal/model/chat"
	"github.com/zhouzirui/z-tavern/support/internal/model/prompt"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and ensures the schema exists.
// Parent directories are created if needed.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", zap.String("path", path))
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			language         TEXT NOT NULL,
			status           TEXT NOT NULL,
			created_at       INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL,
			account_id       TEXT,
			rating           INTEGER,
			rating_note      TEXT,
			ended_at         INTEGER,
			warned_at        INTEGER,
			version          INTEGER NOT NULL DEFAULT 0,

			CHECK (status IN ('active', 'handed_over', 'ended')),
			CHECK (rating IS NULL OR rating BETWEEN 1 AND 5)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status_activity
			ON sessions(status, last_activity_at);

		CREATE TABLE IF NOT EXISTS messages (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			id           TEXT NOT NULL UNIQUE,
			session_id   TEXT NOT NULL,
			sender       TEXT NOT NULL,
			display_name TEXT NOT NULL,
			content      TEXT NOT NULL,
			raw_content  TEXT NOT NULL,
			created_at   INTEGER NOT NULL,

			CHECK (sender IN ('user', 'bot', 'agent')),
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_session
			ON messages(session_id, seq);

		CREATE TABLE IF NOT EXISTS prompt_templates (
			id                 TEXT PRIMARY KEY,
			language           TEXT NOT NULL,
			system_prompt      TEXT NOT NULL,
			user_examples      TEXT NOT NULL DEFAULT '[]',
			assistant_examples TEXT NOT NULL DEFAULT '[]',
			active             INTEGER NOT NULL DEFAULT 1,
			priority           INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_prompt_templates_language
			ON prompt_templates(language, active, priority);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

const sessionColumns = `id, language, status, created_at, last_activity_at, account_id,
	rating, rating_note, ended_at, warned_at, version`

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *chat.Session) error {
	query := `INSERT INTO sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		session.ID,
		session.Language,
		string(session.Status),
		toMillis(session.CreatedAt),
		toMillis(session.LastActivityAt),
		nullString(session.AccountID),
		nullRating(session.Rating),
		nullString(session.RatingNote),
		nullMillis(session.EndedAt),
		nullMillis(session.WarnedAt),
		session.Version,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", zap.String("id", session.ID), zap.String("language", session.Language))
	return nil
}

// GetSession retrieves a session by ID. Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*chat.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return session, nil
}

// UpdateSession performs a version-checked update.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *chat.Session) error {
	query := `
		UPDATE sessions
		SET language = ?, status = ?, last_activity_at = ?, account_id = ?, rating = ?,
			rating_note = ?, ended_at = ?, warned_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		session.Language,
		string(session.Status),
		toMillis(session.LastActivityAt),
		nullString(session.AccountID),
		nullRating(session.Rating),
		nullString(session.RatingNote),
		nullMillis(session.EndedAt),
		nullMillis(session.WarnedAt),
		session.ID,
		session.Version,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := s.GetSession(ctx, session.ID); err != nil {
			return err
		}
		return ErrConflict
	}

	session.Version++
	s.logger.Debug("updated session",
		zap.String("id", session.ID),
		zap.String("status", string(session.Status)),
		zap.Int64("version", session.Version))
	return nil
}

// ListSessions returns sessions ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, status chat.Status, limit int) ([]*chat.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions ORDER BY last_activity_at DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY last_activity_at DESC LIMIT ?`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	return collectSessions(rows)
}

// ListIdleSessions returns non-ended sessions idle since cutoff, oldest activity first.
func (s *SQLiteStore) ListIdleSessions(ctx context.Context, cutoff time.Time) ([]*chat.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status != 'ended' AND last_activity_at <= ?
		ORDER BY last_activity_at ASC`

	rows, err := s.db.QueryContext(ctx, query, toMillis(cutoff))
	if err != nil {
		return nil, fmt.Errorf("querying idle sessions: %w", err)
	}
	return collectSessions(rows)
}

// AppendMessage saves a message to the log.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *chat.Message) error {
	query := `
		INSERT INTO messages (id, session_id, sender, display_name, content, raw_content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SessionID,
		string(msg.Sender),
		msg.DisplayName,
		msg.Content,
		msg.RawContent,
		toMillis(msg.CreatedAt),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("saved message",
		zap.String("id", msg.ID),
		zap.String("session_id", msg.SessionID),
		zap.String("sender", string(msg.Sender)))
	return nil
}

// ListMessages returns the most recent limit messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*chat.Message, error) {
	query := `
		SELECT id, session_id, sender, display_name, content, raw_content, created_at FROM (
			SELECT seq, id, session_id, sender, display_name, content, raw_content, created_at
			FROM messages
			WHERE session_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			sender    string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &sender, &msg.DisplayName,
			&msg.Content, &msg.RawContent, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if err := msg.Sender.UnmarshalText([]byte(sender)); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMillis(createdAt)
		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}

// UpsertTemplates seeds or refreshes catalog rows by id.
func (s *SQLiteStore) UpsertTemplates(ctx context.Context, templates []prompt.Template) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO prompt_templates (id, language, system_prompt, user_examples, assistant_examples, active, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			language = excluded.language,
			system_prompt = excluded.system_prompt,
			user_examples = excluded.user_examples,
			assistant_examples = excluded.assistant_examples,
			active = excluded.active,
			priority = excluded.priority
	`

	for _, tpl := range templates {
		userExamples, err := json.Marshal(nonNil(tpl.UserExamples))
		if err != nil {
			return fmt.Errorf("encoding user examples: %w", err)
		}
		assistantExamples, err := json.Marshal(nonNil(tpl.AssistantExamples))
		if err != nil {
			return fmt.Errorf("encoding assistant examples: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, tpl.ID, tpl.Language, tpl.SystemPrompt,
			string(userExamples), string(assistantExamples), tpl.Active, tpl.Priority); err != nil {
			return fmt.Errorf("upserting template %s: %w", tpl.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing templates: %w", err)
	}

	s.logger.Info("prompt templates upserted", zap.Int("count", len(templates)))
	return nil
}

// ActiveTemplates implements prompt.Source.
func (s *SQLiteStore) ActiveTemplates(ctx context.Context, language string) ([]prompt.Template, error) {
	return s.queryTemplates(ctx, `WHERE language = ? AND active = 1`, language)
}

// ListTemplates returns the whole catalog, or one language when language is non-empty.
func (s *SQLiteStore) ListTemplates(ctx context.Context, language string) ([]prompt.Template, error) {
	if language == "" {
		return s.queryTemplates(ctx, "")
	}
	return s.queryTemplates(ctx, `WHERE language = ?`, language)
}

func (s *SQLiteStore) queryTemplates(ctx context.Context, where string, args ...any) ([]prompt.Template, error) {
	query := `SELECT id, language, system_prompt, user_examples, assistant_examples, active, priority
		FROM prompt_templates ` + where + ` ORDER BY priority ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []prompt.Template
	for rows.Next() {
		var (
			tpl                             prompt.Template
			userExamples, assistantExamples string
		)
		if err := rows.Scan(&tpl.ID, &tpl.Language, &tpl.SystemPrompt,
			&userExamples, &assistantExamples, &tpl.Active, &tpl.Priority); err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		if err := json.Unmarshal([]byte(userExamples), &tpl.UserExamples); err != nil {
			return nil, fmt.Errorf("decoding user examples: %w", err)
		}
		if err := json.Unmarshal([]byte(assistantExamples), &tpl.AssistantExamples); err != nil {
			return nil, fmt.Errorf("decoding assistant examples: %w", err)
		}
		templates = append(templates, tpl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template rows: %w", err)
	}
	return templates, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*chat.Session, error) {
	var (
		session                   chat.Session
		status                    string
		createdAt, lastActivityAt int64
		accountID, ratingNote     sql.NullString
		rating, endedAt, warnedAt sql.NullInt64
	)

	if err := row.Scan(
		&session.ID,
		&session.Language,
		&status,
		&createdAt,
		&lastActivityAt,
		&accountID,
		&rating,
		&ratingNote,
		&endedAt,
		&warnedAt,
		&session.Version,
	); err != nil {
		return nil, err
	}

	if err := session.Status.UnmarshalText([]byte(status)); err != nil {
		return nil, err
	}
	session.CreatedAt = fromMillis(createdAt)
	session.LastActivityAt = fromMillis(lastActivityAt)
	session.AccountID = accountID.String
	session.RatingNote = ratingNote.String
	if rating.Valid {
		session.Rating = int(rating.Int64)
	}
	if endedAt.Valid {
		t := fromMillis(endedAt.Int64)
		session.EndedAt = &t
	}
	if warnedAt.Valid {
		t := fromMillis(warnedAt.Int64)
		session.WarnedAt = &t
	}
	return &session, nil
}

func collectSessions(rows *sql.Rows) ([]*chat.Session, error) {
	defer rows.Close()

	var sessions []*chat.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY constraint violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// nullString returns nil for empty strings so optional columns stay NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRating(rating int) any {
	if rating == 0 {
		return nil
	}
	return rating
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
