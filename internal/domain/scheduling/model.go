package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/platform/apperr"
	"github.com/carebook/carebook/internal/platform/calendar"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusUpcoming  Status = "UPCOMING"
	StatusOnGoing   Status = "ON_GOING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// OccupyingStatuses are the statuses that block a time range for conflict
// checks and slot generation.
var OccupyingStatuses = []Status{StatusUpcoming, StatusOnGoing}

// AllStatuses is used by the schedule views, which show every booking.
var AllStatuses = []Status{StatusUpcoming, StatusOnGoing, StatusCompleted, StatusCancelled}

// Occupies reports whether an appointment in this status holds its time.
func (s Status) Occupies() bool {
	return s == StatusUpcoming || s == StatusOnGoing
}

func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusOnGoing, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether a status change from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusUpcoming:
		return next == StatusOnGoing || next == StatusCancelled
	case StatusOnGoing:
		return next == StatusCompleted
	}
	return false
}

// Period is a display-only label for a slot.
type Period string

const (
	PeriodMorning   Period = "morning"
	PeriodAfternoon Period = "afternoon"
)

const noon = 12 * 60

// PeriodOf labels a slot starting at minute start.
func PeriodOf(start int) Period {
	if start < noon {
		return PeriodMorning
	}
	return PeriodAfternoon
}

// Interval is a half-open wall-clock range [Start, End) in minutes since
// midnight.
type Interval struct {
	Start int
	End   int
}

// NewInterval parses "HH:MM" bounds and requires start < end.
func NewInterval(start, end string) (Interval, error) {
	s, err := calendar.MinutesSinceMidnight(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := calendar.MinutesSinceMidnight(end)
	if err != nil {
		return Interval{}, err
	}
	if s >= e {
		return Interval{}, apperr.New(apperr.KindFormat, fmt.Sprintf("start time %s must be before end time %s", start, end))
	}
	return Interval{Start: s, End: e}, nil
}

// Overlaps is the half-open overlap test shared by slot generation and
// conflict validation. Intervals that only touch do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start < b.End && a.End > b.Start
}

// Contains reports whether o lies fully inside i.
func (i Interval) Contains(o Interval) bool {
	return o.Start >= i.Start && o.End <= i.End
}

func (i Interval) Minutes() int { return i.End - i.Start }

func (i Interval) StartTime() string { return calendar.TimeFromMinutes(i.Start) }

func (i Interval) EndTime() string { return calendar.TimeFromMinutes(i.End) }

func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
	}{i.StartTime(), i.EndTime()})
}

// WeeklyAvailability is a recurring working interval for one weekday.
type WeeklyAvailability struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
	DayOfWeek      int       `json:"day_of_week"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
}

// Interval parses the stored bounds.
func (w WeeklyAvailability) Interval() (Interval, error) {
	return NewInterval(w.StartTime, w.EndTime)
}

// AvailabilityOverride replaces the weekly pattern on one date. Both bounds
// nil marks a day off; both set gives replacement hours.
type AvailabilityOverride struct {
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	Date           civil.Date `json:"date"`
	StartTime      *string    `json:"start_time"`
	EndTime        *string    `json:"end_time"`
}

// Schedule converts the override into an EffectiveSchedule, rejecting the
// half-specified form.
func (o AvailabilityOverride) Schedule() (EffectiveSchedule, error) {
	switch {
	case o.StartTime == nil && o.EndTime == nil:
		return Off(o.Date), nil
	case o.StartTime != nil && o.EndTime != nil:
		iv, err := NewInterval(*o.StartTime, *o.EndTime)
		if err != nil {
			return EffectiveSchedule{}, err
		}
		return Working(o.Date, iv), nil
	default:
		return EffectiveSchedule{}, apperr.New(apperr.KindFormat, "override needs both start_time and end_time, or neither")
	}
}

// EffectiveSchedule is the resolved outcome for one date: either Off or
// Working with an interval. It is derived per request and never stored.
type EffectiveSchedule struct {
	Date    civil.Date
	working bool
	hours   Interval
}

// Off is a day without working hours.
func Off(d civil.Date) EffectiveSchedule {
	return EffectiveSchedule{Date: d}
}

// Working is a day with the given working interval.
func Working(d civil.Date, iv Interval) EffectiveSchedule {
	return EffectiveSchedule{Date: d, working: true, hours: iv}
}

func (s EffectiveSchedule) IsOff() bool { return !s.working }

// WorkingInterval returns the interval and true for a working day.
func (s EffectiveSchedule) WorkingInterval() (Interval, bool) {
	return s.hours, s.working
}

func (s EffectiveSchedule) MarshalJSON() ([]byte, error) {
	out := struct {
		Date            civil.Date `json:"date"`
		IsOff           bool       `json:"is_off"`
		WorkingInterval *Interval  `json:"working_interval"`
	}{Date: s.Date, IsOff: !s.working}
	if s.working {
		iv := s.hours
		out.WorkingInterval = &iv
	}
	return json.Marshal(out)
}

// CandidateSlot is a bookable interval that overlaps no occupying booking.
// StartsAt and EndsAt are filled in by the query surface.
type CandidateSlot struct {
	Start     int       `json:"-"`
	End       int       `json:"-"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Period    Period    `json:"period"`
	StartsAt  time.Time `json:"starts_at,omitempty"`
	EndsAt    time.Time `json:"ends_at,omitempty"`
}

// BookedInterval is an appointment's time range plus display labels.
type BookedInterval struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        Status    `json:"status"`
	SubjectName   string    `json:"subject_name,omitempty"`
	ServiceName   string    `json:"service_name,omitempty"`
}

// DaySchedule is one cell of the week or month view.
type DaySchedule struct {
	Schedule EffectiveSchedule `json:"schedule"`
	Bookings []BookedInterval  `json:"bookings"`
	// InMonth is false for the leading and trailing fill days of a month grid.
	InMonth bool `json:"in_month"`
}

// Practitioner is a provider with a bookable calendar.
type Practitioner struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"user_id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
}

// Service is something a practitioner offers.
type Service struct {
	ID              uuid.UUID `json:"id"`
	PractitionerID  uuid.UUID `json:"practitioner_id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	// Price in minor currency units.
	Price  int64 `json:"price"`
	Remote bool  `json:"remote"`
}

// SubjectProfile is the person an appointment is booked for.
type SubjectProfile struct {
	ID     uuid.UUID `json:"id"`
	UserID string    `json:"user_id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
}

type Appointment struct {
	ID               uuid.UUID `json:"id"`
	PractitionerID   uuid.UUID `json:"practitioner_id"`
	ServiceID        uuid.UUID `json:"service_id"`
	SubjectProfileID uuid.UUID `json:"subject_profile_id"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	Status           Status    `json:"status"`
	JoinURL          string    `json:"join_url,omitempty"`
	HostURL          string    `json:"host_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const BillingPending = "PENDING"

// BillingRecord is created alongside each booking.
type BillingRecord struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        int64     `json:"amount"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}
