package session

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // database/sql driver

	"incubator/pkg/logx"
)

// ErrNotFound is returned when a requested conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id       TEXT PRIMARY KEY,
	mode                  TEXT NOT NULL,
	origin_mode           TEXT NOT NULL DEFAULT '',
	switch_count          INTEGER NOT NULL DEFAULT 0,
	ready_to_pay          INTEGER NOT NULL DEFAULT 0,
	awaiting_payment      INTEGER NOT NULL DEFAULT 0,
	captured_fields_json  TEXT NOT NULL DEFAULT '{}',
	completion_flags_json TEXT NOT NULL DEFAULT '{}',
	verification_json     TEXT NOT NULL DEFAULT '{}',
	payment_json          TEXT,
	transcript_json       TEXT NOT NULL DEFAULT '[]',
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
`

// Store persists conversation records in SQLite. A whole record is written per
// save; WAL mode makes each save atomic, so a failed save leaves the previous
// durable state intact.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if needed) the conversation database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		logger: logx.NewLogger("session"),
	}
	s.logger.Info("📦 Conversation database initialized: %s", dbPath)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// NewConversationID returns a fresh conversation identifier.
func (s *Store) NewConversationID() string {
	return uuid.NewString()
}

// Save upserts the full record. UpdatedAt is bumped as part of the write.
func (s *Store) Save(r *Record) error {
	fieldsJSON, err := json.Marshal(r.CapturedFields)
	if err != nil {
		return fmt.Errorf("failed to marshal captured fields: %w", err)
	}
	flagsJSON, err := json.Marshal(r.CompletionFlags)
	if err != nil {
		return fmt.Errorf("failed to marshal completion flags: %w", err)
	}
	verJSON, err := json.Marshal(r.Verification)
	if err != nil {
		return fmt.Errorf("failed to marshal verification: %w", err)
	}
	transcriptJSON, err := json.Marshal(r.Transcript)
	if err != nil {
		return fmt.Errorf("failed to marshal transcript: %w", err)
	}

	var paymentJSON sql.NullString
	if r.Payment != nil {
		b, err := json.Marshal(r.Payment)
		if err != nil {
			return fmt.Errorf("failed to marshal payment: %w", err)
		}
		paymentJSON = sql.NullString{String: string(b), Valid: true}
	}

	r.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(`
		INSERT INTO conversations (
			conversation_id, mode, origin_mode, switch_count,
			ready_to_pay, awaiting_payment,
			captured_fields_json, completion_flags_json, verification_json,
			payment_json, transcript_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			mode = excluded.mode,
			origin_mode = excluded.origin_mode,
			switch_count = excluded.switch_count,
			ready_to_pay = excluded.ready_to_pay,
			awaiting_payment = excluded.awaiting_payment,
			captured_fields_json = excluded.captured_fields_json,
			completion_flags_json = excluded.completion_flags_json,
			verification_json = excluded.verification_json,
			payment_json = excluded.payment_json,
			transcript_json = excluded.transcript_json,
			updated_at = excluded.updated_at
	`, r.ConversationID, string(r.Mode), string(r.OriginMode), r.SwitchCount,
		boolToInt(r.ReadyToPay), boolToInt(r.AwaitingPayment),
		string(fieldsJSON), string(flagsJSON), string(verJSON),
		paymentJSON, string(transcriptJSON),
		r.CreatedAt.Format(time.RFC3339Nano), r.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", r.ConversationID, err)
	}
	return nil
}

// Load returns the record for conversationID, or ErrNotFound.
func (s *Store) Load(conversationID string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT conversation_id, mode, origin_mode, switch_count,
		       ready_to_pay, awaiting_payment,
		       captured_fields_json, completion_flags_json, verification_json,
		       payment_json, transcript_json, created_at, updated_at
		FROM conversations WHERE conversation_id = ?
	`, conversationID)
	return scanRecord(row)
}

// List returns all conversation IDs, most recently updated first.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query(`
		SELECT conversation_id FROM conversations ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return ids, nil
}

// Delete removes a conversation record. Missing rows are not an error.
func (s *Store) Delete(conversationID string) error {
	if _, err := s.db.Exec(`DELETE FROM conversations WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// scanRecord scans a conversation row into a Record.
func scanRecord(row *sql.Row) (*Record, error) {
	var (
		r              Record
		mode, origin   string
		ready, waiting int
		fieldsJSON     string
		flagsJSON      string
		verJSON        string
		paymentJSON    sql.NullString
		transcriptJSON string
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(&r.ConversationID, &mode, &origin, &r.SwitchCount,
		&ready, &waiting,
		&fieldsJSON, &flagsJSON, &verJSON,
		&paymentJSON, &transcriptJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}

	r.Mode = Mode(mode)
	r.OriginMode = Mode(origin)
	r.ReadyToPay = ready != 0
	r.AwaitingPayment = waiting != 0

	if err := json.Unmarshal([]byte(fieldsJSON), &r.CapturedFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal captured fields: %w", err)
	}
	if err := json.Unmarshal([]byte(flagsJSON), &r.CompletionFlags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal completion flags: %w", err)
	}
	if err := json.Unmarshal([]byte(verJSON), &r.Verification); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification: %w", err)
	}
	if paymentJSON.Valid {
		r.Payment = &Payment{}
		if err := json.Unmarshal([]byte(paymentJSON.String), r.Payment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &r.Transcript); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}

	if r.CapturedFields == nil {
		r.CapturedFields = make(map[string]string)
	}
	if r.CompletionFlags == nil {
		r.CompletionFlags = make(map[string]bool)
	}

	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
