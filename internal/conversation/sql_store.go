package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reviewmate/internal/database"
)

const schema = `CREATE TABLE IF NOT EXISTS conversation_messages (
	conv_key   TEXT    NOT NULL,
	seq        INTEGER NOT NULL,
	role       TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	display    TEXT    NOT NULL DEFAULT '',
	created_at BIGINT  NOT NULL,
	PRIMARY KEY (conv_key, seq)
)`

// SQLStore keeps conversations in a sqlite or postgres table. Each key's rows
// are numbered by seq; Save rewrites them in one transaction.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
	limit   int
}

// OpenSQLStore opens dsn and creates the table if needed.
func OpenSQLStore(dsn string, limit int) (*SQLStore, error) {
	db, dialect, err := database.Open(dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLStore(db, dialect, limit)
	if err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("dialect", string(dialect)).Msg("Conversation store ready")
	return s, nil
}

// NewSQLStore uses an open database.
func NewSQLStore(db *sql.DB, dialect database.Dialect, limit int) (*SQLStore, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create conversation table: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect, limit: limit}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) q(query string) string {
	return database.Rebind(s.dialect, query)
}

func (s *SQLStore) Load(ctx context.Context, key string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT role, content, display, created_at
		FROM conversation_messages WHERE conv_key = ? ORDER BY seq`), key)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m    Message
			role string
			ts   int64
		)
		if err := rows.Scan(&role, &m.Content, &m.Display, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = Role(role)
		m.Timestamp = time.UnixMilli(ts).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return msgs, nil
}

func (s *SQLStore) Save(ctx context.Context, key string, msgs []Message) error {
	return s.replace(ctx, key, Cap(msgs, s.limit))
}

func (s *SQLStore) Append(ctx context.Context, key string, msgs ...Message) error {
	current, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	return s.replace(ctx, key, Cap(append(current, msgs...), s.limit))
}

func (s *SQLStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM conversation_messages WHERE conv_key = ?`), key); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

func (s *SQLStore) replace(ctx context.Context, key string, msgs []Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM conversation_messages WHERE conv_key = ?`), key); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	insert := s.q(`INSERT INTO conversation_messages (conv_key, seq, role, content, display, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	for i, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := tx.ExecContext(ctx, insert, key, i, string(m.Role), m.Content, m.Display, ts.UnixMilli()); err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	return nil
}
