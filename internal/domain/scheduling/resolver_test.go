package scheduling

import (
	"context"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/apperr"
)

func resolverWith(t *testing.T, weekly []WeeklyAvailability, overrides ...AvailabilityOverride) (*AvailabilityResolver, uuid.UUID) {
	t.Helper()
	store := NewMemoryStore()
	pid := uuid.New()
	ctx := context.Background()
	if err := store.ReplaceWeeklyAvailability(ctx, pid, weekly); err != nil {
		t.Fatalf("seed weekly: %v", err)
	}
	for i := range overrides {
		overrides[i].PractitionerID = pid
		if err := store.UpsertOverride(ctx, &overrides[i]); err != nil {
			t.Fatalf("seed override: %v", err)
		}
	}
	return NewAvailabilityResolver(store), pid
}

var mondayNineToFive = []WeeklyAvailability{{DayOfWeek: 1, StartTime: "08:00", EndTime: "17:00"}}

func TestResolve_OverrideOffWinsOverPattern(t *testing.T) {
	r, pid := resolverWith(t, mondayNineToFive, AvailabilityOverride{Date: monday})

	s, err := r.Resolve(context.Background(), pid, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsOff() {
		t.Error("expected day off from override")
	}
}

func TestResolve_OverrideReplacesPattern(t *testing.T) {
	r, pid := resolverWith(t, mondayNineToFive,
		AvailabilityOverride{Date: monday, StartTime: strPtr("09:00"), EndTime: strPtr("12:00")})

	s, err := r.Resolve(context.Background(), pid, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	iv, ok := s.WorkingInterval()
	if !ok {
		t.Fatal("expected a working day")
	}
	if iv != (Interval{Start: 540, End: 720}) {
		t.Errorf("expected exactly 09:00-12:00, got %s-%s", iv.StartTime(), iv.EndTime())
	}
}

func TestResolve_OverrideCanExtendPattern(t *testing.T) {
	r, pid := resolverWith(t, mondayNineToFive,
		AvailabilityOverride{Date: monday, StartTime: strPtr("07:00"), EndTime: strPtr("19:00")})

	s, _ := r.Resolve(context.Background(), pid, monday)
	iv, _ := s.WorkingInterval()
	if iv != (Interval{Start: 420, End: 1140}) {
		t.Errorf("override hours must not be intersected with the pattern, got %v", iv)
	}
}

func TestResolve_WeeklyPattern(t *testing.T) {
	r, pid := resolverWith(t, mondayNineToFive)

	s, err := r.Resolve(context.Background(), pid, monday.AddDays(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	iv, ok := s.WorkingInterval()
	if !ok || iv != (Interval{Start: 480, End: 1020}) {
		t.Errorf("expected weekly 08:00-17:00, got %v ok=%v", iv, ok)
	}
}

func TestResolve_NoPatternIsOff(t *testing.T) {
	r, pid := resolverWith(t, mondayNineToFive)

	s, err := r.Resolve(context.Background(), pid, tuesday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsOff() {
		t.Error("weekday without pattern should be off")
	}
}

func TestResolve_IsPure(t *testing.T) {
	r, pid := resolverWith(t, mondayNineToFive,
		AvailabilityOverride{Date: monday, StartTime: strPtr("10:00"), EndTime: strPtr("11:00")})

	ctx := context.Background()
	for _, d := range []civil.Date{monday, tuesday, monday.AddDays(7)} {
		a, err := r.Resolve(ctx, pid, d)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		b, err := r.Resolve(ctx, pid, d)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if a != b {
			t.Errorf("%s: results differ: %+v vs %+v", d, a, b)
		}
	}
}

func TestResolve_MalformedPatternIsFormatError(t *testing.T) {
	r, pid := resolverWith(t, []WeeklyAvailability{{DayOfWeek: 1, StartTime: "8am", EndTime: "17:00"}})

	_, err := r.Resolve(context.Background(), pid, monday)
	if apperr.KindOf(err) != apperr.KindFormat {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestResolveRange(t *testing.T) {
	r, pid := resolverWith(t, mondayNineToFive,
		AvailabilityOverride{Date: monday.AddDays(7)},
		AvailabilityOverride{Date: tuesday, StartTime: strPtr("13:00"), EndTime: strPtr("15:00")})

	days, err := r.ResolveRange(context.Background(), pid, monday, monday.AddDays(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(days) != 8 {
		t.Fatalf("expected 8 days, got %d", len(days))
	}
	if days[0].IsOff() {
		t.Error("first Monday should follow the pattern")
	}
	if iv, ok := days[1].WorkingInterval(); !ok || iv.StartTime() != "13:00" {
		t.Errorf("Tuesday should use its override, got %v", iv)
	}
	if !days[2].IsOff() {
		t.Error("Wednesday has no pattern")
	}
	if !days[7].IsOff() {
		t.Error("second Monday is overridden off")
	}
	for i, d := range days {
		if d.Date != monday.AddDays(i) {
			t.Errorf("day %d has date %s", i, d.Date)
		}
	}
}
