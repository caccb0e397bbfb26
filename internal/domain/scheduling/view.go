package scheduling

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// WeekView returns the seven days starting at weekStart.
func (q *Query) WeekView(ctx context.Context, practitionerID uuid.UUID, weekStart civil.Date) ([]DaySchedule, error) {
	days, err := q.view(ctx, practitionerID, weekStart, weekStart.AddDays(6))
	if err != nil {
		return nil, err
	}
	for i := range days {
		days[i].InMonth = true
	}
	return days, nil
}

// MonthView returns a Sunday-first grid of whole weeks covering the month
// that contains month. Days outside the month are included with InMonth
// false.
func (q *Query) MonthView(ctx context.Context, practitionerID uuid.UUID, month civil.Date) ([]DaySchedule, error) {
	first, last := MonthGrid(month)
	days, err := q.view(ctx, practitionerID, first, last)
	if err != nil {
		return nil, err
	}
	for i := range days {
		d := days[i].Schedule.Date
		days[i].InMonth = d.Year == month.Year && d.Month == month.Month
	}
	return days, nil
}

// MonthGrid returns the first Sunday on or before the 1st and the last
// Saturday on or after the final day of month.
func MonthGrid(month civil.Date) (civil.Date, civil.Date) {
	first := civil.Date{Year: month.Year, Month: month.Month, Day: 1}
	next := first.AddDays(31)
	last := civil.Date{Year: next.Year, Month: next.Month, Day: 1}.AddDays(-1)
	start := first.AddDays(-int(first.Weekday()))
	end := last.AddDays(6 - int(last.Weekday()))
	return start, end
}

// view loads schedules and bookings for [from, to] in parallel and buckets
// bookings by the date they start on. Every status is shown.
func (q *Query) view(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]DaySchedule, error) {
	if _, err := q.store.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}

	var (
		schedules []EffectiveSchedule
		booked    []BookedInterval
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		schedules, err = q.resolver.ResolveRange(gctx, practitionerID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		booked, err = q.store.ListBookedIntervals(gctx, practitionerID, q.cal.StartOfDay(from), q.cal.EndOfDay(to), AllStatuses)
		if err != nil {
			return fmt.Errorf("list booked intervals: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byDate := make(map[civil.Date][]BookedInterval)
	for _, b := range booked {
		d := q.cal.DateOf(b.Start)
		byDate[d] = append(byDate[d], b)
	}

	out := make([]DaySchedule, len(schedules))
	for i, s := range schedules {
		bookings := byDate[s.Date]
		if bookings == nil {
			bookings = []BookedInterval{}
		}
		out[i] = DaySchedule{Schedule: s, Bookings: bookings}
	}
	return out, nil
}
