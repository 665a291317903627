package assistant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medscribe/medscribe/internal/platform/db"
)

// Retriever finds the patient documents most relevant to a question.
type Retriever interface {
	Search(ctx context.Context, patientID uuid.UUID, query string, limit int) ([]RelevantDocument, error)
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PGRetriever ranks patient_document rows with Postgres full-text search,
// normalising ts_rank_cd into a 0..1 similarity.
type PGRetriever struct{ pool *pgxpool.Pool }

func NewPGRetriever(pool *pgxpool.Pool) *PGRetriever {
	return &PGRetriever{pool: pool}
}

func (r *PGRetriever) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *PGRetriever) Search(ctx context.Context, patientID uuid.UUID, query string, limit int) ([]RelevantDocument, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, event_type, left(content, 240), created_at, metadata,
			ts_rank_cd(search, q, 32) AS rank
		FROM patient_document, websearch_to_tsquery('english', $2) q
		WHERE patient_id = $1 AND search @@ q
		ORDER BY rank DESC, created_at DESC
		LIMIT $3`, patientID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search patient documents: %w", err)
	}
	defer rows.Close()

	var docs []RelevantDocument
	for rows.Next() {
		var d RelevantDocument
		var id uuid.UUID
		var rank float32
		if err := rows.Scan(&id, &d.EventType, &d.ContentPreview, &d.CreatedAt, &d.Metadata, &rank); err != nil {
			return nil, err
		}
		d.ID = id.String()
		// rank/(rank+1) with normalisation 32 is already in [0,1).
		d.Similarity = float64(rank)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
