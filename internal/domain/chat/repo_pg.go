package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscribe/medscribe/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Session Repository ===========

type sessionRepoPG struct{ pool *pgxpool.Pool }

func NewSessionRepoPG(pool *pgxpool.Pool) SessionRepository {
	return &sessionRepoPG{pool: pool}
}

const sessionCols = `id, title, message_count, last_message_at, user_id, user_type, patient_id, created_at`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.Title, &s.MessageCount, &s.LastMessageAt,
		&s.UserID, &s.UserType, &s.PatientID, &s.CreatedAt)
	return &s, err
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	s.ID = uuid.New()
	return conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO chat_session (id, title, user_id, user_type, patient_id)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		s.ID, s.Title, s.UserID, s.UserType, s.PatientID).Scan(&s.CreatedAt)
}

func (r *sessionRepoPG) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+sessionCols+` FROM chat_session
		WHERE user_id = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+sessionCols+` FROM chat_session WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Delete removes the session; its messages go with it via ON DELETE CASCADE.
func (r *sessionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM chat_session WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Message Repository ===========

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

const messageCols = `id, session_id, sender, content, context_used, relevant_documents,
	relevant_documents_count, processing_time, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.SessionID, &m.Sender, &m.Content, &m.ContextUsed,
		&m.RelevantDocuments, &m.RelevantDocumentsCount, &m.ProcessingTime, &m.CreatedAt)
	return &m, err
}

func (r *messageRepoPG) Append(ctx context.Context, m *Message) error {
	m.ID = uuid.New()
	var docs interface{}
	if len(m.RelevantDocuments) > 0 {
		docs = m.RelevantDocuments
	}
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := conn(ctx, r.pool)
		err := q.QueryRow(ctx, `
			INSERT INTO chat_message (id, session_id, sender, content, context_used,
				relevant_documents, relevant_documents_count, processing_time)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			RETURNING created_at`,
			m.ID, m.SessionID, m.Sender, m.Content, m.ContextUsed,
			docs, m.RelevantDocumentsCount, m.ProcessingTime).Scan(&m.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
		tag, err := q.Exec(ctx, `
			UPDATE chat_session
			SET message_count = message_count + 1, last_message_at = $2
			WHERE id = $1`, m.SessionID, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("update chat session: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *messageRepoPG) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*Message, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+messageCols+` FROM chat_message
		WHERE session_id = $1
		ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}
