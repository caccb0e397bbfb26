package scheduling

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/apperr"
	"github.com/carebook/carebook/internal/platform/calendar"
	"github.com/carebook/carebook/internal/platform/telemetry"
)

// MaxQueryDays bounds the date range of a single availability query.
const MaxQueryDays = 92

// Query is the read side used by presentation layers. It takes no locks
// and has no side effects.
type Query struct {
	store    Store
	resolver *AvailabilityResolver
	cal      *calendar.Calendar
	clock    calendar.Clock
	metrics  *telemetry.Metrics
}

func NewQuery(store Store, cal *calendar.Calendar, clock calendar.Clock, metrics *telemetry.Metrics) *Query {
	if clock == nil {
		clock = calendar.SystemClock{}
	}
	return &Query{
		store:    store,
		resolver: NewAvailabilityResolver(store),
		cal:      cal,
		clock:    clock,
		metrics:  metrics,
	}
}

// Resolver exposes the resolver shared by the query surface.
func (q *Query) Resolver() *AvailabilityResolver { return q.resolver }

func (q *Query) today() civil.Date {
	return q.cal.DateOf(q.clock.Now())
}

func checkRange(from, to civil.Date) error {
	if to.Before(from) {
		return apperr.New(apperr.KindFormat, "range end is before range start")
	}
	if to.DaysSince(from) >= MaxQueryDays {
		return apperr.New(apperr.KindFormat, fmt.Sprintf("range may span at most %d days", MaxQueryDays))
	}
	return nil
}

// AvailableDates lists the dates in [from, to] whose weekday is covered by
// the weekly pattern. Overrides are not consulted at this granularity, so an
// overridden day off can still be listed. Dates before today are dropped.
func (q *Query) AvailableDates(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]civil.Date, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	if _, err := q.store.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	weekly, err := q.store.GetWeeklyAvailability(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("get weekly availability: %w", err)
	}
	days := WorkingWeekdays(weekly)
	today := q.today()

	out := []civil.Date{}
	for _, d := range calendar.DatesBetween(from, to) {
		if d.Before(today) {
			continue
		}
		if days[calendar.DayOfWeek(d)] {
			out = append(out, d)
		}
	}
	return out, nil
}

// AvailableSlots returns the bookable slots of durationMinutes on date,
// honouring overrides and occupying bookings. For today only slots that
// start after now are returned; past dates have none.
func (q *Query) AvailableSlots(ctx context.Context, practitionerID uuid.UUID, date civil.Date, durationMinutes int) ([]CandidateSlot, error) {
	if durationMinutes <= 0 {
		return nil, apperr.New(apperr.KindFormat, "duration must be a positive number of minutes")
	}
	if _, err := q.store.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	today := q.today()
	if date.Before(today) {
		return []CandidateSlot{}, nil
	}

	sched, err := q.resolver.Resolve(ctx, practitionerID, date)
	if err != nil {
		return nil, err
	}
	if sched.IsOff() {
		return []CandidateSlot{}, nil
	}
	booked, err := q.store.ListBookedIntervals(ctx, practitionerID, q.cal.StartOfDay(date), q.cal.EndOfDay(date), OccupyingStatuses)
	if err != nil {
		return nil, fmt.Errorf("list booked intervals: %w", err)
	}

	now := q.clock.Now()
	out := []CandidateSlot{}
	for _, s := range SlotsFor(sched, durationMinutes, DayIntervals(q.cal, date, booked)) {
		s.StartsAt = q.cal.At(date, s.Start)
		s.EndsAt = q.cal.At(date, s.End)
		if date == today && !s.StartsAt.After(now) {
			continue
		}
		out = append(out, s)
	}
	q.metrics.ObserveSlots(len(out))
	return out, nil
}

// AvailableSlotsForService uses the service's default duration.
func (q *Query) AvailableSlotsForService(ctx context.Context, practitionerID uuid.UUID, date civil.Date, serviceID uuid.UUID) ([]CandidateSlot, error) {
	svc, err := q.store.GetService(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	return q.AvailableSlots(ctx, practitionerID, date, svc.DurationMinutes)
}

// Bookings lists appointments of the given statuses that overlap the dates
// from through to.
func (q *Query) Bookings(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date, statuses []Status) ([]BookedInterval, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		statuses = AllStatuses
	}
	booked, err := q.store.ListBookedIntervals(ctx, practitionerID, q.cal.StartOfDay(from), q.cal.EndOfDay(to), statuses)
	if err != nil {
		return nil, fmt.Errorf("list booked intervals: %w", err)
	}
	if booked == nil {
		booked = []BookedInterval{}
	}
	return booked, nil
}
