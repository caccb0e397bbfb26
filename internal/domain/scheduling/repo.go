package scheduling

import (
	"context"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

// AvailabilityRepository stores weekly patterns and date overrides.
type AvailabilityRepository interface {
	GetWeeklyAvailability(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyAvailability, error)
	ReplaceWeeklyAvailability(ctx context.Context, practitionerID uuid.UUID, rows []WeeklyAvailability) error
	// GetOverride returns nil and no error when the date has no override.
	GetOverride(ctx context.Context, practitionerID uuid.UUID, date civil.Date) (*AvailabilityOverride, error)
	ListOverrides(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]AvailabilityOverride, error)
	UpsertOverride(ctx context.Context, o *AvailabilityOverride) error
	DeleteOverride(ctx context.Context, practitionerID uuid.UUID, date civil.Date) error
}

// AppointmentRepository stores appointments and their billing records.
type AppointmentRepository interface {
	// ListBookedIntervals returns appointments in statuses that overlap
	// [from, to), ordered by start.
	ListBookedIntervals(ctx context.Context, practitionerID uuid.UUID, from, to time.Time, statuses []Status) ([]BookedInterval, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetAppointmentForUpdate reads the row fresh and, inside a transaction,
	// holds it until commit.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateAppointmentTime(ctx context.Context, id uuid.UUID, start, end time.Time) error
	InsertBillingRecord(ctx context.Context, b *BillingRecord) error
}

// DirectoryRepository reads the entities a booking refers to.
type DirectoryRepository interface {
	GetPractitioner(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetService(ctx context.Context, id uuid.UUID) (*Service, error)
	GetSubjectProfile(ctx context.Context, id uuid.UUID) (*SubjectProfile, error)
}

// Store is the full persistence collaborator of the scheduling engine.
type Store interface {
	AvailabilityRepository
	AppointmentRepository
	DirectoryRepository

	// WithTx runs fn atomically. Repository calls made with the ctx passed
	// to fn take part in the transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	// LockPractitioner serializes booking writes for one practitioner until
	// the surrounding transaction ends.
	LockPractitioner(ctx context.Context, practitionerID uuid.UUID) error
}
