// Package conversation persists chat history in PostgreSQL so follow-up
// questions ("what about the torque for that?") can be resolved against
// prior turns. History reads return a bounded window; storage keeps the full
// transcript.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mecanio/mecanio/internal/log"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound indicates an unknown conversation ID.
var ErrNotFound = errors.New("conversation: not found")

// ErrInvalidID indicates a conversation ID that is not a UUID.
var ErrInvalidID = errors.New("conversation: invalid id")

// Message is one stored turn.
type Message struct {
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}

// DB is the database surface the store needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages conversations and their messages. Appends to the same
// conversation are serialized in process so sequence numbers never collide.
type Store struct {
	db     DB
	window int
	logger log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a Store. window is the number of recent messages History
// returns.
func NewStore(db DB, window int, logger log.Logger) *Store {
	return &Store{
		db:     db,
		window: window,
		logger: log.NopIfNil(logger),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Store) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// GetOrCreate resolves a conversation ID. An empty ID mints a fresh
// conversation; a known ID is returned as-is; an unknown but well-formed ID
// is registered, which lets clients pre-generate their IDs. Malformed IDs
// fail with ErrInvalidID.
func (s *Store) GetOrCreate(ctx context.Context, id string) (string, bool, error) {
	if id == "" {
		id = uuid.NewString()
	} else if _, err := uuid.Parse(id); err != nil {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO conversations (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return "", false, fmt.Errorf("create conversation: %w", err)
	}
	created := tag.RowsAffected() == 1
	if created {
		s.logger.Debug("created conversation", "conversation_id", id)
	}
	return id, created, nil
}

// Append stores one turn at the end of the conversation.
func (s *Store) Append(ctx context.Context, id, role, content string) error {
	if role != RoleUser && role != RoleAssistant {
		return fmt.Errorf("conversation: unknown role %q", role)
	}

	l := s.lockFor(id)
	l.Lock()
	defer l.Unlock()

	tag, err := s.db.Exec(ctx, `
		INSERT INTO messages (conversation_id, seq, role, content)
		SELECT $1, COALESCE(MAX(seq) + 1, 0), $2, $3
		FROM messages WHERE conversation_id = $1`,
		id, role, content)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append message: no row inserted")
	}
	return nil
}

// History returns the most recent window of messages in chronological order.
// An unknown conversation returns ErrNotFound.
func (s *Store) History(ctx context.Context, id string) ([]Message, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT seq, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq DESC
		LIMIT $2`, id, s.window)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Clear deletes a conversation's messages but keeps the conversation row, so
// the client's ID stays valid.
func (s *Store) Clear(ctx context.Context, id string) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx,
		`DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// Delete removes a conversation and its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	return nil
}

// MessageCount returns the stored message count for a conversation.
func (s *Store) MessageCount(ctx context.Context, id string) (int, error) {
	if err := s.exists(ctx, id); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRow(ctx,
		`SELECT 1 FROM conversations WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	return nil
}
