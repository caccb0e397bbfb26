package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carebook/carebook/internal/platform/apperr"
	"github.com/carebook/carebook/internal/platform/calendar"
	"github.com/carebook/carebook/internal/platform/lock"
	"github.com/carebook/carebook/internal/platform/meeting"
	"github.com/carebook/carebook/internal/platform/notification"
	"github.com/carebook/carebook/internal/platform/telemetry"
)

var bookingTracer = otel.Tracer("carebook.internal.domain.scheduling")

const (
	DefaultTxTimeout = 5 * time.Second
	DefaultLeadTime  = 4 * time.Hour
)

// Authorizer decides whether the caller on ctx may act for any of the given
// owner user ids. *auth.OwnershipAuthorizer satisfies it.
type Authorizer interface {
	Authorize(ctx context.Context, ownerUserIDs ...string) error
}

// Notifier delivers booking notices without blocking the caller.
// *notification.Dispatcher satisfies it.
type Notifier interface {
	NotifyBooking(ctx context.Context, n notification.BookingNotice)
}

// CoordinatorDeps wires a BookingCoordinator. Store, Calendar and Authorizer
// are required; the rest have working defaults.
type CoordinatorDeps struct {
	Store      Store
	Calendar   *calendar.Calendar
	Authorizer Authorizer
	Locker     lock.Locker
	Meetings   meeting.Provisioner
	Notifier   Notifier
	Clock      calendar.Clock
	Metrics    *telemetry.Metrics
	Logger     zerolog.Logger
	// TxTimeout bounds lock wait plus the write transaction.
	TxTimeout time.Duration
	// LeadTime is the minimum time before start at which a booking may
	// still be moved or cancelled.
	LeadTime time.Duration
}

// BookingCoordinator is the only writer of appointments.
type BookingCoordinator struct {
	store     Store
	validator *ConflictValidator
	cal       *calendar.Calendar
	authz     Authorizer
	locker    lock.Locker
	meetings  meeting.Provisioner
	notifier  Notifier
	clock     calendar.Clock
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	txTimeout time.Duration
	leadTime  time.Duration
}

func NewBookingCoordinator(d CoordinatorDeps) *BookingCoordinator {
	if d.Store == nil || d.Calendar == nil || d.Authorizer == nil {
		panic("scheduling: store, calendar and authorizer are required")
	}
	c := &BookingCoordinator{
		store:     d.Store,
		validator: NewConflictValidator(NewAvailabilityResolver(d.Store), d.Store, d.Calendar),
		cal:       d.Calendar,
		authz:     d.Authorizer,
		locker:    d.Locker,
		meetings:  d.Meetings,
		notifier:  d.Notifier,
		clock:     d.Clock,
		metrics:   d.Metrics,
		logger:    d.Logger,
		txTimeout: d.TxTimeout,
		leadTime:  d.LeadTime,
	}
	if c.locker == nil {
		c.locker = lock.NewKeyedMutex()
	}
	if c.clock == nil {
		c.clock = calendar.SystemClock{}
	}
	if c.txTimeout <= 0 {
		c.txTimeout = DefaultTxTimeout
	}
	if c.leadTime < 0 {
		c.leadTime = 0
	}
	return c
}

// BookRequest asks for a new appointment. DurationMinutes of zero means the
// service's default duration.
type BookRequest struct {
	PractitionerID   uuid.UUID `json:"practitioner_id"`
	ServiceID        uuid.UUID `json:"service_id"`
	SubjectProfileID uuid.UUID `json:"subject_profile_id"`
	Start            time.Time `json:"start"`
	DurationMinutes  int       `json:"duration_minutes,omitempty"`
}

// party holds the directory entities referenced by one appointment.
type party struct {
	practitioner *Practitioner
	service      *Service
	subject      *SubjectProfile
}

func (c *BookingCoordinator) loadParty(ctx context.Context, practitionerID, serviceID, subjectID uuid.UUID) (*party, error) {
	p, err := c.store.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return nil, err
	}
	s, err := c.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	sub, err := c.store.GetSubjectProfile(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return &party{practitioner: p, service: s, subject: sub}, nil
}

// Book validates and creates an appointment with its PENDING billing record.
// Remote services get their meeting links before the write; notifications
// go out after commit.
func (c *BookingCoordinator) Book(ctx context.Context, req BookRequest) (appt *Appointment, err error) {
	ctx, span := bookingTracer.Start(ctx, "scheduling.book", trace.WithAttributes(
		attribute.String("carebook.practitioner_id", req.PractitionerID.String()),
	))
	began := time.Now()
	defer func() { c.finish(span, "book", began, err) }()

	pt, err := c.loadParty(ctx, req.PractitionerID, req.ServiceID, req.SubjectProfileID)
	if err != nil {
		return nil, err
	}
	if pt.service.PractitionerID != uuid.Nil && pt.service.PractitionerID != pt.practitioner.ID {
		return nil, apperr.New(apperr.KindFormat, "service is not offered by this practitioner")
	}
	if err := c.authz.Authorize(ctx, pt.subject.UserID, pt.practitioner.UserID); err != nil {
		return nil, err
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = pt.service.DurationMinutes
	}
	if duration <= 0 {
		return nil, apperr.New(apperr.KindFormat, "duration must be a positive number of minutes")
	}
	if !req.Start.After(c.clock.Now()) {
		return nil, ErrStartInPast
	}
	end := req.Start.Add(time.Duration(duration) * time.Minute)

	var m meeting.Meeting
	if pt.service.Remote {
		m, err = c.provisionMeeting(ctx, pt, req.Start, duration)
		if err != nil {
			return nil, err
		}
	}

	appt = &Appointment{
		ID:               uuid.New(),
		PractitionerID:   pt.practitioner.ID,
		ServiceID:        pt.service.ID,
		SubjectProfileID: pt.subject.ID,
		Start:            req.Start,
		End:              end,
		Status:           StatusUpcoming,
		JoinURL:          m.JoinURL,
		HostURL:          m.HostURL,
	}
	err = c.underLock(ctx, pt.practitioner.ID, func(ctx context.Context) error {
		if err := c.validator.Validate(ctx, pt.practitioner.ID, req.Start, duration, uuid.Nil); err != nil {
			return err
		}
		if err := c.store.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		return c.store.InsertBillingRecord(ctx, &BillingRecord{
			AppointmentID: appt.ID,
			Amount:        pt.service.Price,
			Status:        BillingPending,
		})
	})
	if err != nil {
		if m.JoinURL != "" {
			c.logger.Warn().Str("practitioner_id", pt.practitioner.ID.String()).
				Str("join_url", m.JoinURL).Err(err).Msg("booking rejected after meeting was provisioned")
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("carebook.appointment_id", appt.ID.String()))
	c.logger.Info().Str("appointment_id", appt.ID.String()).
		Str("practitioner_id", appt.PractitionerID.String()).
		Time("start", appt.Start).Msg("appointment booked")
	c.notify(ctx, notification.EventBookingCreated, appt, pt)
	return appt, nil
}

// provisionMeeting runs an advisory conflict check first so that requests
// that would obviously be rejected never create a meeting.
func (c *BookingCoordinator) provisionMeeting(ctx context.Context, pt *party, start time.Time, duration int) (meeting.Meeting, error) {
	if err := c.validator.Validate(ctx, pt.practitioner.ID, start, duration, uuid.Nil); err != nil {
		return meeting.Meeting{}, err
	}
	if c.meetings == nil {
		return meeting.Meeting{}, apperr.Wrap(apperr.KindRetryable, ErrMeetingUnavailable.Message, errors.New("no meeting provider configured"))
	}
	topic := fmt.Sprintf("%s with %s", pt.service.Name, pt.practitioner.Name)
	m, err := c.meetings.CreateMeeting(ctx, topic, start)
	if err != nil {
		return meeting.Meeting{}, apperr.Wrap(apperr.KindRetryable, ErrMeetingUnavailable.Message, err)
	}
	return m, nil
}

// RescheduleRequest moves an appointment. DurationMinutes of zero keeps the
// current length.
type RescheduleRequest struct {
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

// Reschedule moves an UPCOMING appointment to a new start, re-validating
// against everything except the appointment itself.
func (c *BookingCoordinator) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (appt *Appointment, err error) {
	ctx, span := bookingTracer.Start(ctx, "scheduling.reschedule", trace.WithAttributes(
		attribute.String("carebook.appointment_id", id.String()),
	))
	began := time.Now()
	defer func() { c.finish(span, "reschedule", began, err) }()

	current, pt, err := c.authorizedAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.Start.After(c.clock.Now()) {
		return nil, ErrStartInPast
	}

	err = c.underLock(ctx, current.PractitionerID, func(ctx context.Context) error {
		a, err := c.store.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusUpcoming {
			return ErrInvalidTransition
		}
		if err := c.checkLeadTime(a); err != nil {
			return err
		}
		duration := req.DurationMinutes
		if duration == 0 {
			duration = int(a.End.Sub(a.Start) / time.Minute)
		}
		end := req.Start.Add(time.Duration(duration) * time.Minute)
		if req.Start.Equal(a.Start) && end.Equal(a.End) {
			appt = a
			return nil
		}
		if err := c.validator.Validate(ctx, a.PractitionerID, req.Start, duration, a.ID); err != nil {
			return err
		}
		if err := c.store.UpdateAppointmentTime(ctx, a.ID, req.Start, end); err != nil {
			return err
		}
		a.Start, a.End = req.Start, end
		a.UpdatedAt = c.clock.Now()
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("appointment_id", appt.ID.String()).Time("start", appt.Start).Msg("appointment rescheduled")
	c.notify(ctx, notification.EventBookingUpdated, appt, pt)
	return appt, nil
}

// Cancel cancels an UPCOMING appointment that is still outside the lead-time
// window.
func (c *BookingCoordinator) Cancel(ctx context.Context, id uuid.UUID) (appt *Appointment, err error) {
	ctx, span := bookingTracer.Start(ctx, "scheduling.cancel", trace.WithAttributes(
		attribute.String("carebook.appointment_id", id.String()),
	))
	began := time.Now()
	defer func() { c.finish(span, "cancel", began, err) }()

	current, pt, err := c.authorizedAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	err = c.underLock(ctx, current.PractitionerID, func(ctx context.Context) error {
		a, err := c.store.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusUpcoming {
			return ErrInvalidTransition
		}
		if err := c.checkLeadTime(a); err != nil {
			return err
		}
		if err := c.store.UpdateAppointmentStatus(ctx, a.ID, StatusCancelled); err != nil {
			return err
		}
		a.Status = StatusCancelled
		a.UpdatedAt = c.clock.Now()
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("appointment_id", appt.ID.String()).Msg("appointment cancelled")
	c.notify(ctx, notification.EventBookingCancelled, appt, pt)
	return appt, nil
}

// UpdateStatus advances an appointment along UPCOMING -> ON_GOING ->
// COMPLETED. Cancellation goes through Cancel so the lead-time rule applies.
// Only the practitioner or staff may advance a status.
func (c *BookingCoordinator) UpdateStatus(ctx context.Context, id uuid.UUID, next Status) (appt *Appointment, err error) {
	if !next.Valid() {
		return nil, apperr.New(apperr.KindFormat, fmt.Sprintf("unknown status %q", next))
	}
	if next == StatusCancelled {
		return c.Cancel(ctx, id)
	}

	ctx, span := bookingTracer.Start(ctx, "scheduling.update_status", trace.WithAttributes(
		attribute.String("carebook.appointment_id", id.String()),
		attribute.String("carebook.status", string(next)),
	))
	began := time.Now()
	defer func() { c.finish(span, "update_status", began, err) }()

	current, err := c.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := c.store.GetPractitioner(ctx, current.PractitionerID)
	if err != nil {
		return nil, err
	}
	if err := c.authz.Authorize(ctx, p.UserID); err != nil {
		return nil, err
	}

	err = c.withTimeout(ctx, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(ctx context.Context) error {
			a, err := c.store.GetAppointmentForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if !a.Status.CanTransition(next) {
				return apperr.Wrap(apperr.KindInvalidState,
					fmt.Sprintf("cannot move appointment from %s to %s", a.Status, next), ErrInvalidTransition)
			}
			if err := c.store.UpdateAppointmentStatus(ctx, a.ID, next); err != nil {
				return err
			}
			a.Status = next
			a.UpdatedAt = c.clock.Now()
			appt = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("appointment_id", appt.ID.String()).Str("status", string(next)).Msg("appointment status changed")
	return appt, nil
}

// Get returns an appointment visible to the caller.
func (c *BookingCoordinator) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, _, err := c.authorizedAppointment(ctx, id)
	return a, err
}

func (c *BookingCoordinator) authorizedAppointment(ctx context.Context, id uuid.UUID) (*Appointment, *party, error) {
	a, err := c.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	pt, err := c.loadParty(ctx, a.PractitionerID, a.ServiceID, a.SubjectProfileID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.authz.Authorize(ctx, pt.subject.UserID, pt.practitioner.UserID); err != nil {
		return nil, nil, err
	}
	return a, pt, nil
}

func (c *BookingCoordinator) checkLeadTime(a *Appointment) error {
	if a.Start.Sub(c.clock.Now()) < c.leadTime {
		return ErrModificationWindowClosed
	}
	return nil
}

// underLock runs fn in a transaction while holding the practitioner's lock,
// all bounded by the transaction timeout.
func (c *BookingCoordinator) underLock(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context) error) error {
	return c.withTimeout(ctx, func(ctx context.Context) error {
		waitStart := time.Now()
		release, err := c.locker.Acquire(ctx, "practitioner:"+practitionerID.String())
		if err != nil {
			return fmt.Errorf("acquire practitioner lock: %w", err)
		}
		defer release()
		c.metrics.ObserveLockWait(time.Since(waitStart))

		return c.store.WithTx(ctx, func(ctx context.Context) error {
			if err := c.store.LockPractitioner(ctx, practitionerID); err != nil {
				return err
			}
			return fn(ctx)
		})
	})
}

// withTimeout reports infrastructure failures caused by the transaction
// deadline as ErrBookingTimeout. Business rejections pass through.
func (c *BookingCoordinator) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()
	err := fn(txCtx)
	if err != nil && apperr.KindOf(err) == apperr.KindInternal && txCtx.Err() != nil && ctx.Err() == nil {
		return apperr.Wrap(apperr.KindRetryable, ErrBookingTimeout.Message, err)
	}
	return err
}

func (c *BookingCoordinator) notify(ctx context.Context, event notification.Event, a *Appointment, pt *party) {
	if c.notifier == nil {
		return
	}
	c.notifier.NotifyBooking(context.WithoutCancel(ctx), notification.BookingNotice{
		Event:             event,
		AppointmentID:     a.ID.String(),
		SubjectName:       pt.subject.Name,
		SubjectEmail:      pt.subject.Email,
		PractitionerName:  pt.practitioner.Name,
		PractitionerEmail: pt.practitioner.Email,
		ServiceName:       pt.service.Name,
		When:              c.describe(a),
		JoinURL:           a.JoinURL,
		HostURL:           a.HostURL,
	})
}

func (c *BookingCoordinator) describe(a *Appointment) string {
	start := a.Start.In(c.cal.Location())
	end := a.End.In(c.cal.Location())
	return fmt.Sprintf("%s %s-%s (%s)", start.Format("Mon 2 Jan 2006"), start.Format("15:04"), end.Format("15:04"), c.cal.Location())
}

func (c *BookingCoordinator) finish(span trace.Span, op string, began time.Time, err error) {
	outcome := outcomeOf(err)
	c.metrics.ObserveBooking(op, outcome, time.Since(began))
	if err != nil {
		span.RecordError(err)
		if outcome == telemetry.OutcomeError || outcome == telemetry.OutcomeTimeout {
			span.SetStatus(codes.Error, err.Error())
		}
		if outcome == telemetry.OutcomeError {
			c.logger.Error().Err(err).Str("operation", op).Msg("booking operation failed")
		}
	}
	span.End()
}

func outcomeOf(err error) string {
	if err == nil {
		return telemetry.OutcomeSuccess
	}
	switch apperr.KindOf(err) {
	case apperr.KindTimeSlotAlreadyBooked:
		return telemetry.OutcomeConflict
	case apperr.KindRetryable:
		return telemetry.OutcomeTimeout
	case apperr.KindInternal:
		return telemetry.OutcomeError
	default:
		return telemetry.OutcomeRejected
	}
}
