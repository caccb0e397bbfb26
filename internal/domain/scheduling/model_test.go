package scheduling

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/carebook/carebook/internal/platform/apperr"
)

func TestOverlaps_HalfOpen(t *testing.T) {
	tests := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", Interval{540, 570}, Interval{540, 570}, true},
		{"partial", Interval{540, 600}, Interval{570, 630}, true},
		{"contained", Interval{480, 1020}, Interval{600, 630}, true},
		{"touching end", Interval{510, 540}, Interval{540, 570}, false},
		{"touching start", Interval{570, 600}, Interval{540, 570}, false},
		{"disjoint", Interval{480, 510}, Interval{600, 630}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.a, tt.b); got != tt.want {
				t.Errorf("Overlaps(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
			if got := Overlaps(tt.b, tt.a); got != tt.want {
				t.Errorf("Overlaps is not symmetric for %v, %v", tt.a, tt.b)
			}
		})
	}
}

func TestNewInterval(t *testing.T) {
	iv, err := NewInterval("08:00", "17:30")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iv.Start != 480 || iv.End != 1050 {
		t.Errorf("expected [480,1050), got %v", iv)
	}
	if iv.StartTime() != "08:00" || iv.EndTime() != "17:30" {
		t.Errorf("unexpected formatting %s-%s", iv.StartTime(), iv.EndTime())
	}

	for _, bad := range [][2]string{{"17:00", "08:00"}, {"08:00", "08:00"}, {"8:00", "17:00"}, {"08:00", "25:00"}} {
		_, err := NewInterval(bad[0], bad[1])
		if apperr.KindOf(err) != apperr.KindFormat {
			t.Errorf("NewInterval(%q, %q): expected format error, got %v", bad[0], bad[1], err)
		}
	}
}

func TestOverrideSchedule(t *testing.T) {
	off, err := AvailabilityOverride{Date: monday}.Schedule()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !off.IsOff() {
		t.Error("both bounds absent should be a day off")
	}

	working, err := AvailabilityOverride{Date: monday, StartTime: strPtr("09:00"), EndTime: strPtr("12:00")}.Schedule()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	iv, ok := working.WorkingInterval()
	if !ok || iv != (Interval{540, 720}) {
		t.Errorf("expected working 09:00-12:00, got %v ok=%v", iv, ok)
	}

	_, err = AvailabilityOverride{Date: monday, StartTime: strPtr("09:00")}.Schedule()
	if apperr.KindOf(err) != apperr.KindFormat {
		t.Errorf("half-specified override should be a format error, got %v", err)
	}
}

func TestEffectiveSchedule_JSON(t *testing.T) {
	b, err := json.Marshal(Off(monday))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"date":"2025-03-03","is_off":true,"working_interval":null}` {
		t.Errorf("unexpected off JSON: %s", b)
	}

	b, err = json.Marshal(Working(monday, Interval{480, 1020}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"working_interval":{"start_time":"08:00","end_time":"17:00"}`) {
		t.Errorf("unexpected working JSON: %s", b)
	}
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusUpcoming, StatusOnGoing}:   true,
		{StatusUpcoming, StatusCancelled}: true,
		{StatusOnGoing, StatusCompleted}:  true,
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			if got := from.CanTransition(to); got != allowed[[2]Status{from, to}] {
				t.Errorf("%s -> %s: got %v", from, to, got)
			}
		}
	}
	if !StatusUpcoming.Occupies() || !StatusOnGoing.Occupies() {
		t.Error("UPCOMING and ON_GOING must occupy time")
	}
	if StatusCancelled.Occupies() || StatusCompleted.Occupies() {
		t.Error("CANCELLED and COMPLETED must not occupy time")
	}
}

func TestPeriodOf(t *testing.T) {
	if PeriodOf(690) != PeriodMorning {
		t.Error("11:30 should be morning")
	}
	if PeriodOf(720) != PeriodAfternoon {
		t.Error("12:00 should be afternoon")
	}
}

func TestSentinelKinds(t *testing.T) {
	if !errors.Is(ErrStartInPast, ErrOutsideWorkingHours) {
		t.Error("a past start is reported as outside working hours")
	}
	if errors.Is(ErrTimeSlotAlreadyBooked, ErrOutsideWorkingHours) {
		t.Error("conflict and outside-hours must be distinct")
	}
	if apperr.HTTPStatus(apperr.KindOf(ErrBookingTimeout)) != 503 {
		t.Error("booking timeout should map to 503")
	}
}
