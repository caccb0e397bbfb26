package scheduling

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/calendar"
)

// AvailabilityResolver merges the weekly pattern and date overrides into an
// EffectiveSchedule.
type AvailabilityResolver struct {
	repo AvailabilityRepository
}

func NewAvailabilityResolver(repo AvailabilityRepository) *AvailabilityResolver {
	return &AvailabilityResolver{repo: repo}
}

// Resolve returns the effective schedule of one practitioner on one date.
// An override always wins over the weekly pattern, and override hours
// replace the pattern rather than intersecting it.
func (r *AvailabilityResolver) Resolve(ctx context.Context, practitionerID uuid.UUID, date civil.Date) (EffectiveSchedule, error) {
	o, err := r.repo.GetOverride(ctx, practitionerID, date)
	if err != nil {
		return EffectiveSchedule{}, fmt.Errorf("get override: %w", err)
	}
	weekly, err := r.repo.GetWeeklyAvailability(ctx, practitionerID)
	if err != nil {
		return EffectiveSchedule{}, fmt.Errorf("get weekly availability: %w", err)
	}
	return resolveDate(date, o, weekly)
}

// ResolveRange resolves every date in [from, to] with two repository reads.
func (r *AvailabilityResolver) ResolveRange(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]EffectiveSchedule, error) {
	overrides, err := r.repo.ListOverrides(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	weekly, err := r.repo.GetWeeklyAvailability(ctx, practitionerID)
	if err != nil {
		return nil, fmt.Errorf("get weekly availability: %w", err)
	}

	byDate := make(map[civil.Date]*AvailabilityOverride, len(overrides))
	for i := range overrides {
		byDate[overrides[i].Date] = &overrides[i]
	}

	dates := calendar.DatesBetween(from, to)
	out := make([]EffectiveSchedule, 0, len(dates))
	for _, d := range dates {
		s, err := resolveDate(d, byDate[d], weekly)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func resolveDate(date civil.Date, o *AvailabilityOverride, weekly []WeeklyAvailability) (EffectiveSchedule, error) {
	if o != nil {
		o.Date = date
		return o.Schedule()
	}
	dow := calendar.DayOfWeek(date)
	for _, w := range weekly {
		if w.DayOfWeek != dow {
			continue
		}
		iv, err := w.Interval()
		if err != nil {
			return EffectiveSchedule{}, err
		}
		return Working(date, iv), nil
	}
	return Off(date), nil
}

// WorkingWeekdays returns the set of weekdays covered by the weekly pattern.
func WorkingWeekdays(weekly []WeeklyAvailability) map[int]bool {
	days := make(map[int]bool, len(weekly))
	for _, w := range weekly {
		days[w.DayOfWeek] = true
	}
	return days
}
