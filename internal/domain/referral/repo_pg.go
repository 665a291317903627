package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

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

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const selectReferral = `
	SELECT r.id, r.patient_id, r.from_doctor_id, r.to_doctor_id, r.soap_note_id,
		r.reason_for_referral, r.clinical_question, r.urgency, r.status,
		r.specialty_required, r.response_message, r.created_at, r.updated_at,
		p.first_name, p.last_name,
		fd.first_name, fd.last_name, fd.user_id,
		td.first_name, td.last_name, td.user_id
	FROM referral r
	JOIN patient p ON p.id = r.patient_id
	JOIN doctor fd ON fd.id = r.from_doctor_id
	LEFT JOIN doctor td ON td.id = r.to_doctor_id`

func scanReferral(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(&ref.ID, &ref.PatientID, &ref.FromDoctorID, &ref.ToDoctorID, &ref.SOAPNoteID,
		&ref.ReasonForReferral, &ref.ClinicalQuestion, &ref.Urgency, &ref.Status,
		&ref.SpecialtyRequired, &ref.ResponseMessage, &ref.CreatedAt, &ref.UpdatedAt,
		&ref.PatientFirstName, &ref.PatientLastName,
		&ref.FromDoctorFirstName, &ref.FromDoctorLastName, &ref.FromDoctorUserID,
		&ref.ToDoctorFirstName, &ref.ToDoctorLastName, &ref.ToDoctorUserID)
	return &ref, err
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Referral, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, ref)
	}
	return items, rows.Err()
}

// ListReceived includes pending pool referrals for the doctor's specialty.
func (r *repoPG) ListReceived(ctx context.Context, doctorID uuid.UUID) ([]*Referral, error) {
	return r.list(ctx, selectReferral+`
		WHERE r.to_doctor_id = $1
		   OR (r.to_doctor_id IS NULL AND r.status = 'pending'
		       AND lower(r.specialty_required) = (SELECT lower(specialty) FROM doctor WHERE id = $1))
		ORDER BY r.created_at DESC`, doctorID)
}

func (r *repoPG) ListSent(ctx context.Context, doctorID uuid.UUID) ([]*Referral, error) {
	return r.list(ctx, selectReferral+`
		WHERE r.from_doctor_id = $1
		ORDER BY r.created_at DESC`, doctorID)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := scanReferral(r.conn(ctx).QueryRow(ctx, selectReferral+` WHERE r.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ref, err
}

func (r *repoPG) Create(ctx context.Context, ref *Referral) (*Referral, error) {
	ref.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO referral (id, patient_id, from_doctor_id, to_doctor_id, soap_note_id,
			reason_for_referral, clinical_question, urgency, status, specialty_required)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9)`,
		ref.ID, ref.PatientID, ref.FromDoctorID, ref.ToDoctorID, ref.SOAPNoteID,
		ref.ReasonForReferral, ref.ClinicalQuestion, ref.Urgency, ref.SpecialtyRequired)
	if err != nil {
		return nil, fmt.Errorf("insert referral: %w", err)
	}
	return r.GetByID(ctx, ref.ID)
}

// addressedTo matches referrals sent to $2 directly or through their
// specialty pool.
const addressedTo = `(to_doctor_id = $2 OR (to_doctor_id IS NULL
	AND lower(specialty_required) = (SELECT lower(specialty) FROM doctor WHERE id = $2)))`

// Accept claims pool referrals for the accepting doctor.
func (r *repoPG) Accept(ctx context.Context, id, doctorID uuid.UUID, responseMessage *string) (*Referral, error) {
	return r.transition(ctx, id, doctorID, actorRecipient, `
		UPDATE referral
		SET status = 'accepted', to_doctor_id = $2, response_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND `+addressedTo,
		id, doctorID, responseMessage)
}

func (r *repoPG) Decline(ctx context.Context, id, doctorID uuid.UUID, responseMessage string) (*Referral, error) {
	return r.transition(ctx, id, doctorID, actorRecipient, `
		UPDATE referral
		SET status = 'declined', to_doctor_id = $2, response_message = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND `+addressedTo,
		id, doctorID, responseMessage)
}

func (r *repoPG) Complete(ctx context.Context, id, doctorID uuid.UUID) (*Referral, error) {
	return r.transition(ctx, id, doctorID, actorAssignee, `
		UPDATE referral SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status = 'accepted' AND to_doctor_id = $2`,
		id, doctorID)
}

func (r *repoPG) Cancel(ctx context.Context, id, doctorID uuid.UUID) (*Referral, error) {
	return r.transition(ctx, id, doctorID, actorSender, `
		UPDATE referral SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'pending' AND from_doctor_id = $2`,
		id, doctorID)
}

// transition runs a conditional update. When no row changed it tells apart a
// missing referral, one the doctor may not act on, and a lost race.
func (r *repoPG) transition(ctx context.Context, id, doctorID uuid.UUID, who actor, update string, args ...interface{}) (*Referral, error) {
	tag, err := r.conn(ctx).Exec(ctx, update, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 1 {
		return r.GetByID(ctx, id)
	}

	cur, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	var specialty string
	if who == actorRecipient && cur.IsOpen() {
		if specialty, err = r.DoctorSpecialty(ctx, doctorID); err != nil {
			return nil, err
		}
	}
	if !mayAct(cur, doctorID, who, specialty) {
		return nil, ErrForbidden
	}
	return nil, ErrConflict
}

func (r *repoPG) DoctorSpecialty(ctx context.Context, doctorID uuid.UUID) (string, error) {
	var specialty string
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COALESCE(specialty, '') FROM doctor WHERE id = $1`, doctorID).Scan(&specialty)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("doctor specialty: %w", err)
	}
	return specialty, nil
}

func (r *repoPG) ExpirePending(ctx context.Context, createdBefore time.Time) ([]*Referral, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		UPDATE referral SET status = 'expired', updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1
		RETURNING id`, createdBefore)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.list(ctx, selectReferral+` WHERE r.id = ANY($1) ORDER BY r.created_at`, ids)
}
