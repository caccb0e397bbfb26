package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebook/carebook/internal/platform/db"
)

// SQLSTATE for exclusion_violation, raised by the appointments no-overlap
// constraint.
const pgExclusionViolation = "23P01"

type pgPool interface {
	db.Querier
	db.TxBeginner
}

// PGStore is the Postgres Store.
type PGStore struct {
	pool pgPool
}

func NewPGStore(pool pgPool) *PGStore { return &PGStore{pool: pool} }

func (r *PGStore) conn(ctx context.Context) db.Querier {
	return db.ConnFromContext(ctx, r.pool)
}

func (r *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// LockPractitioner takes a transaction-scoped advisory lock so that booking
// writers on other replicas wait for this transaction to finish.
func (r *PGStore) LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return errors.New("lock practitioner: no transaction on context")
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, practitionerID.String()); err != nil {
		return fmt.Errorf("lock practitioner: %w", err)
	}
	return nil
}

// =========== Directory ===========

func (r *PGStore) GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error) {
	var p Practitioner
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, user_id, name, email FROM practitioners WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &p.Email)
	if err != nil {
		return nil, notFound(err, ErrPractitionerNotFound)
	}
	return &p, nil
}

func (r *PGStore) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	var s Service
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, practitioner_id, name, duration_minutes, price, remote
		FROM services WHERE id = $1`, id).
		Scan(&s.ID, &s.PractitionerID, &s.Name, &s.DurationMinutes, &s.Price, &s.Remote)
	if err != nil {
		return nil, notFound(err, ErrServiceNotFound)
	}
	return &s, nil
}

func (r *PGStore) GetSubjectProfile(ctx context.Context, id uuid.UUID) (*SubjectProfile, error) {
	var p SubjectProfile
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, user_id, name, email FROM subject_profiles WHERE id = $1`, id).
		Scan(&p.ID, &p.UserID, &p.Name, &p.Email)
	if err != nil {
		return nil, notFound(err, ErrSubjectNotFound)
	}
	return &p, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return sentinel
	}
	return err
}

// =========== Availability ===========

func (r *PGStore) GetWeeklyAvailability(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyAvailability, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT practitioner_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM weekly_availability WHERE practitioner_id = $1 ORDER BY day_of_week`, practitionerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WeeklyAvailability
	for rows.Next() {
		var w WeeklyAvailability
		if err := rows.Scan(&w.PractitionerID, &w.DayOfWeek, &w.StartTime, &w.EndTime); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *PGStore) ReplaceWeeklyAvailability(ctx context.Context, practitionerID uuid.UUID, rows []WeeklyAvailability) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		c := r.conn(ctx)
		if _, err := c.Exec(ctx, `DELETE FROM weekly_availability WHERE practitioner_id = $1`, practitionerID); err != nil {
			return err
		}
		for _, w := range rows {
			_, err := c.Exec(ctx, `
				INSERT INTO weekly_availability (practitioner_id, day_of_week, start_time, end_time)
				VALUES ($1, $2, $3::time, $4::time)`,
				practitionerID, w.DayOfWeek, w.StartTime, w.EndTime)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

const overrideCols = `practitioner_id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')`

func scanOverride(row pgx.Row) (*AvailabilityOverride, error) {
	var o AvailabilityOverride
	var date time.Time
	if err := row.Scan(&o.PractitionerID, &date, &o.StartTime, &o.EndTime); err != nil {
		return nil, err
	}
	o.Date = civil.DateOf(date)
	return &o, nil
}

func (r *PGStore) GetOverride(ctx context.Context, practitionerID uuid.UUID, date civil.Date) (*AvailabilityOverride, error) {
	o, err := scanOverride(r.conn(ctx).QueryRow(ctx, `
		SELECT `+overrideCols+` FROM availability_overrides
		WHERE practitioner_id = $1 AND date = $2::date`, practitionerID, date.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

func (r *PGStore) ListOverrides(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]AvailabilityOverride, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+overrideCols+` FROM availability_overrides
		WHERE practitioner_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date`, practitionerID, from.String(), to.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AvailabilityOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PGStore) UpsertOverride(ctx context.Context, o *AvailabilityOverride) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO availability_overrides (practitioner_id, date, start_time, end_time)
		VALUES ($1, $2::date, $3::time, $4::time)
		ON CONFLICT (practitioner_id, date)
		DO UPDATE SET start_time = EXCLUDED.start_time, end_time = EXCLUDED.end_time`,
		o.PractitionerID, o.Date.String(), o.StartTime, o.EndTime)
	return err
}

func (r *PGStore) DeleteOverride(ctx context.Context, practitionerID uuid.UUID, date civil.Date) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_overrides WHERE practitioner_id = $1 AND date = $2::date`,
		practitionerID, date.String())
	return err
}

// =========== Appointments ===========

const apptCols = `id, practitioner_id, service_id, subject_profile_id, start_at, end_at,
	status, join_url, host_url, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PractitionerID, &a.ServiceID, &a.SubjectProfileID, &a.Start, &a.End,
		&a.Status, &a.JoinURL, &a.HostURL, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, ErrAppointmentNotFound)
	}
	return &a, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PGStore) ListBookedIntervals(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, statuses []Status) ([]BookedInterval, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id, a.start_at, a.end_at, a.status, COALESCE(sp.name, ''), COALESCE(s.name, '')
		FROM appointments a
		LEFT JOIN subject_profiles sp ON sp.id = a.subject_profile_id
		LEFT JOIN services s ON s.id = a.service_id
		WHERE a.practitioner_id = $1 AND a.start_at < $3 AND a.end_at > $2 AND a.status = ANY($4)
		ORDER BY a.start_at`, practitionerID, from, to, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BookedInterval
	for rows.Next() {
		var b BookedInterval
		if err := rows.Scan(&b.AppointmentID, &b.Start, &b.End, &b.Status, &b.SubjectName, &b.ServiceName); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *PGStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointments (id, practitioner_id, service_id, subject_profile_id, start_at, end_at,
			status, join_url, host_url)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		a.ID, a.PractitionerID, a.ServiceID, a.SubjectProfileID, a.Start, a.End,
		a.Status, a.JoinURL, a.HostURL).Scan(&a.CreatedAt, &a.UpdatedAt)
	return mapOverlap(err)
}

// mapOverlap turns the no-overlap constraint violation into the same error a
// validator conflict produces.
func mapOverlap(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return ErrTimeSlotAlreadyBooked
	}
	return err
}

func (r *PGStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
}

func (r *PGStore) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
}

func (r *PGStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointments SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PGStore) UpdateAppointmentTime(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE appointments SET start_at = $2, end_at = $3, updated_at = NOW() WHERE id = $1`,
		id, start, end)
	if err != nil {
		return mapOverlap(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PGStore) InsertBillingRecord(ctx context.Context, b *BillingRecord) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO billing_records (id, appointment_id, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		b.ID, b.AppointmentID, b.Amount, b.Status).Scan(&b.CreatedAt)
}
