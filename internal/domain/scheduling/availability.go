package scheduling

import (
	"context"
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/apperr"
)

// AvailabilityManager edits a practitioner's weekly pattern and overrides.
// Only the practitioner themself or staff may edit.
type AvailabilityManager struct {
	store Store
	authz Authorizer
}

func NewAvailabilityManager(store Store, authz Authorizer) *AvailabilityManager {
	return &AvailabilityManager{store: store, authz: authz}
}

// AuthorizePractitioner checks that the caller may manage the practitioner's calendar.
func (m *AvailabilityManager) AuthorizePractitioner(ctx context.Context, practitionerID uuid.UUID) error {
	p, err := m.store.GetPractitioner(ctx, practitionerID)
	if err != nil {
		return err
	}
	return m.authz.Authorize(ctx, p.UserID)
}

// ReplaceWeekly swaps the whole weekly pattern. Each weekday may appear once
// and every row needs valid bounds with start before end.
func (m *AvailabilityManager) ReplaceWeekly(ctx context.Context, practitionerID uuid.UUID, rows []WeeklyAvailability) ([]WeeklyAvailability, error) {
	seen := make(map[int]bool, len(rows))
	for i := range rows {
		w := &rows[i]
		if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
			return nil, apperr.New(apperr.KindFormat, fmt.Sprintf("day_of_week %d out of range 0..6", w.DayOfWeek))
		}
		if seen[w.DayOfWeek] {
			return nil, apperr.New(apperr.KindFormat, fmt.Sprintf("day_of_week %d listed twice", w.DayOfWeek))
		}
		seen[w.DayOfWeek] = true
		if _, err := w.Interval(); err != nil {
			return nil, err
		}
		w.PractitionerID = practitionerID
	}
	if err := m.AuthorizePractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	if err := m.store.ReplaceWeeklyAvailability(ctx, practitionerID, rows); err != nil {
		return nil, fmt.Errorf("replace weekly availability: %w", err)
	}
	return m.store.GetWeeklyAvailability(ctx, practitionerID)
}

func (m *AvailabilityManager) Weekly(ctx context.Context, practitionerID uuid.UUID) ([]WeeklyAvailability, error) {
	if _, err := m.store.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	return m.store.GetWeeklyAvailability(ctx, practitionerID)
}

// SetOverride stores the override for its date. Both bounds nil means a day
// off; exactly one bound is rejected.
func (m *AvailabilityManager) SetOverride(ctx context.Context, o *AvailabilityOverride) error {
	if _, err := o.Schedule(); err != nil {
		return err
	}
	if err := m.AuthorizePractitioner(ctx, o.PractitionerID); err != nil {
		return err
	}
	if err := m.store.UpsertOverride(ctx, o); err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

func (m *AvailabilityManager) DeleteOverride(ctx context.Context, practitionerID uuid.UUID, date civil.Date) error {
	if err := m.AuthorizePractitioner(ctx, practitionerID); err != nil {
		return err
	}
	if err := m.store.DeleteOverride(ctx, practitionerID, date); err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	return nil
}

func (m *AvailabilityManager) Overrides(ctx context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]AvailabilityOverride, error) {
	if to.Before(from) {
		return nil, apperr.New(apperr.KindFormat, "range end is before range start")
	}
	if _, err := m.store.GetPractitioner(ctx, practitionerID); err != nil {
		return nil, err
	}
	out, err := m.store.ListOverrides(ctx, practitionerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	if out == nil {
		out = []AvailabilityOverride{}
	}
	return out, nil
}
