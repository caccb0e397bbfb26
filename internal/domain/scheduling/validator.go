package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/apperr"
	"github.com/carebook/carebook/internal/platform/calendar"
)

// ConflictValidator checks a requested booking against working hours and
// existing occupying bookings. Its verdict is authoritative only when run
// inside the transaction that performs the write.
type ConflictValidator struct {
	resolver *AvailabilityResolver
	appts    AppointmentRepository
	cal      *calendar.Calendar
}

func NewConflictValidator(resolver *AvailabilityResolver, appts AppointmentRepository, cal *calendar.Calendar) *ConflictValidator {
	return &ConflictValidator{resolver: resolver, appts: appts, cal: cal}
}

// Validate returns nil, ErrOutsideWorkingHours or ErrTimeSlotAlreadyBooked,
// checked in that order. exclude names an appointment whose own time must be
// ignored, as when it is being moved.
func (v *ConflictValidator) Validate(ctx context.Context, practitionerID uuid.UUID, start time.Time, durationMinutes int, exclude uuid.UUID) error {
	req, err := v.requestedInterval(start, durationMinutes)
	if err != nil {
		return err
	}
	date := v.cal.DateOf(start)

	sched, err := v.resolver.Resolve(ctx, practitionerID, date)
	if err != nil {
		return err
	}
	working, ok := sched.WorkingInterval()
	if !ok || !working.Contains(req) {
		return ErrOutsideWorkingHours
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	booked, err := v.appts.ListBookedIntervals(ctx, practitionerID, start, end, OccupyingStatuses)
	if err != nil {
		return fmt.Errorf("list booked intervals: %w", err)
	}
	kept := booked[:0:0]
	for _, b := range booked {
		if exclude != uuid.Nil && b.AppointmentID == exclude {
			continue
		}
		kept = append(kept, b)
	}
	if overlapsAny(req, DayIntervals(v.cal, date, kept)) {
		return ErrTimeSlotAlreadyBooked
	}
	return nil
}

func (v *ConflictValidator) requestedInterval(start time.Time, durationMinutes int) (Interval, error) {
	if durationMinutes <= 0 {
		return Interval{}, apperr.New(apperr.KindFormat, "duration must be a positive number of minutes")
	}
	if start.IsZero() {
		return Interval{}, apperr.New(apperr.KindFormat, "start is required")
	}
	if start.Second() != 0 || start.Nanosecond() != 0 {
		return Interval{}, apperr.New(apperr.KindFormat, "start must be on a whole minute")
	}
	m := v.cal.MinuteOf(start)
	return Interval{Start: m, End: m + durationMinutes}, nil
}
