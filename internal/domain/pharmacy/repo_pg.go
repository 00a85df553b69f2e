package pharmacy

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echannel/echannel/internal/platform/db"
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
	return pool
}

type prescriptionRepoPG struct{ pool *pgxpool.Pool }

func NewPrescriptionRepoPG(pool *pgxpool.Pool) PrescriptionRepository {
	return &prescriptionRepoPG{pool: pool}
}

func (r *prescriptionRepoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO prescription (id, patient_id, title, image)
		VALUES ($1,$2,$3,$4)`,
		p.ID, p.PatientID, p.Title, p.Image)
	return err
}

func (r *prescriptionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	var p Prescription
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, patient_id, title, image, created_at FROM prescription WHERE id = $1`, id).
		Scan(&p.ID, &p.PatientID, &p.Title, &p.Image, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

const orderCols = `id, prescription_id, patient_id, status, created_at, updated_at`

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO pharmacy_order (id, prescription_id, patient_id, status)
		VALUES ($1,$2,$3,$4)`,
		o.ID, o.PrescriptionID, o.PatientID, o.Status)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	var o Order
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderCols+` FROM pharmacy_order WHERE id = $1`, id).
		Scan(&o.ID, &o.PrescriptionID, &o.PatientID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status OrderStatus) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE pharmacy_order SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

const orderViewSelect = `
	SELECT o.id, o.prescription_id, o.patient_id, o.status, o.created_at, o.updated_at,
	       pr.title, p.name
	FROM pharmacy_order o
	JOIN prescription pr ON pr.id = o.prescription_id
	JOIN patient p ON p.id = o.patient_id`

func scanOrderView(row pgx.Row) (*OrderView, error) {
	var v OrderView
	err := row.Scan(&v.ID, &v.PrescriptionID, &v.PatientID, &v.Status, &v.CreatedAt, &v.UpdatedAt,
		&v.PrescriptionTitle, &v.PatientName)
	return &v, err
}

func (r *orderRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*OrderView, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_order WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, orderViewSelect+` WHERE o.patient_id = $1 ORDER BY o.created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectOrderViews(rows, total)
}

func (r *orderRepoPG) ListByStatus(ctx context.Context, status OrderStatus, limit, offset int) ([]*OrderView, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_order WHERE status = $1`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, orderViewSelect+` WHERE o.status = $1 ORDER BY o.created_at ASC LIMIT $2 OFFSET $3`,
		status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectOrderViews(rows, total)
}

func collectOrderViews(rows pgx.Rows, total int) ([]*OrderView, int, error) {
	var items []*OrderView
	for rows.Next() {
		v, err := scanOrderView(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, nil
}
