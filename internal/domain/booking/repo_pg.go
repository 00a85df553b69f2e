package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echannel/echannel/internal/platform/db"
)

// Constraint names declared in the migrations. The booking service uses
// them to translate unique violations raised by racing inserts.
const (
	ConstraintPatientSchedule = "appointment_patient_schedule_key"
	ConstraintQueueNumber     = "queue_entry_schedule_number_key"
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

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, doctor_id, schedule_id, status, created_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.ScheduleID, &a.Status, &a.CreatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, schedule_id, status)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.PatientID, a.DoctorID, a.ScheduleID, a.Status)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	return a, err
}

func (r *appointmentRepoPG) ExistsForPatientSchedule(ctx context.Context, patientID, scheduleID uuid.UUID) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointment WHERE patient_id = $1 AND schedule_id = $2)`,
		patientID, scheduleID).Scan(&exists)
	return exists, err
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	q := conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+apptCols+` FROM appointment WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

func (r *appointmentRepoPG) DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM appointment WHERE schedule_id = $1`, scheduleID)
	return err
}

type queueRepoPG struct{ pool *pgxpool.Pool }

func NewQueueRepoPG(pool *pgxpool.Pool) QueueRepository {
	return &queueRepoPG{pool: pool}
}

const queueCols = `id, appointment_id, schedule_id, queue_number, status, created_at, updated_at`

func scanQueueEntry(row pgx.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(&e.ID, &e.AppointmentID, &e.ScheduleID, &e.QueueNumber, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	return &e, err
}

const queueViewSelect = `
	SELECT q.id, q.appointment_id, q.schedule_id, q.queue_number, q.status,
	       p.name, p.email,
	       s.doctor_id, s.date, s.start_time, s.end_time
	FROM queue_entry q
	JOIN appointment a ON a.id = q.appointment_id
	JOIN patient p ON p.id = a.patient_id
	JOIN schedule s ON s.id = q.schedule_id`

func scanQueueView(row pgx.Row) (*QueueEntryView, error) {
	var v QueueEntryView
	err := row.Scan(&v.ID, &v.AppointmentID, &v.ScheduleID, &v.QueueNumber, &v.Status,
		&v.PatientName, &v.PatientEmail,
		&v.DoctorID, &v.ScheduleDate, &v.StartTime, &v.EndTime)
	return &v, err
}

func (r *queueRepoPG) Create(ctx context.Context, e *QueueEntry) error {
	e.ID = uuid.New()
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO queue_entry (id, appointment_id, schedule_id, queue_number, status)
		VALUES ($1,$2,$3,$4,$5)`,
		e.ID, e.AppointmentID, e.ScheduleID, e.QueueNumber, e.Status)
	return err
}

func (r *queueRepoPG) CountBySchedule(ctx context.Context, scheduleID uuid.UUID) (int, error) {
	var n int
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM queue_entry WHERE schedule_id = $1`, scheduleID).Scan(&n)
	return n, err
}

func (r *queueRepoPG) SmallestQueued(ctx context.Context, scheduleID uuid.UUID) (*QueueEntry, error) {
	e, err := scanQueueEntry(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+queueCols+` FROM queue_entry
		WHERE schedule_id = $1 AND status = $2
		ORDER BY queue_number ASC LIMIT 1`,
		scheduleID, QueueQueued))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueEmpty
	}
	return e, err
}

func (r *queueRepoPG) MarkDone(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE queue_entry SET status = $2, updated_at = NOW() WHERE id = $1`, id, QueueDone)
	return err
}

func (r *queueRepoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*QueueEntryView, error) {
	v, err := scanQueueView(conn(ctx, r.pool).QueryRow(ctx, queueViewSelect+` WHERE q.appointment_id = $1`, appointmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQueueEntryNotFound
	}
	return v, err
}

func (r *queueRepoPG) ListBySchedule(ctx context.Context, scheduleID uuid.UUID, status QueueStatus) ([]*QueueEntryView, error) {
	query := queueViewSelect + ` WHERE q.schedule_id = $1`
	args := []interface{}{scheduleID}
	if status != "" {
		query += ` AND q.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY q.queue_number ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*QueueEntryView
	for rows.Next() {
		v, err := scanQueueView(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (r *queueRepoPG) DeleteBySchedule(ctx context.Context, scheduleID uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM queue_entry WHERE schedule_id = $1`, scheduleID)
	return err
}

type scheduleStorePG struct{ pool *pgxpool.Pool }

func NewScheduleStorePG(pool *pgxpool.Pool) ScheduleStore {
	return &scheduleStorePG{pool: pool}
}

const storeCols = `id, doctor_id, date, start_time, end_time, capacity, available`

func scanStoreSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.Date, &s.StartTime, &s.EndTime, &s.Capacity, &s.Available)
	return &s, err
}

func (r *scheduleStorePG) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := scanStoreSchedule(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+storeCols+` FROM schedule WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return s, err
}

func (r *scheduleStorePG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := scanStoreSchedule(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+storeCols+` FROM schedule WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	return s, err
}

func (r *scheduleStorePG) SetUnavailable(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `UPDATE schedule SET available = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}
