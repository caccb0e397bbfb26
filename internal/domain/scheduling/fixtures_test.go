package scheduling

import (
	"context"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/internal/platform/calendar"
	"github.com/carebook/carebook/internal/platform/meeting"
	"github.com/carebook/carebook/internal/platform/notification"
)

var (
	monday  = civil.Date{Year: 2025, Month: time.March, Day: 3}
	tuesday = civil.Date{Year: 2025, Month: time.March, Day: 4}
)

func strPtr(s string) *string { return &s }

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.BookingNotice
}

func (n *recordingNotifier) NotifyBooking(_ context.Context, b notification.BookingNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, b)
}

func (n *recordingNotifier) events() []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notification.Event, len(n.notices))
	for i, b := range n.notices {
		out[i] = b.Event
	}
	return out
}

// env is a practitioner working Monday and Tuesday 08:00-17:00 with one
// in-person and one remote service, seen from a fixed clock.
type env struct {
	store        *MemoryStore
	cal          *calendar.Calendar
	clock        *calendar.FixedClock
	notifier     *recordingNotifier
	meetings     *meeting.MockProvisioner
	coordinator  *BookingCoordinator
	query        *Query
	practitioner Practitioner
	service      Service
	remote       Service
	subject      SubjectProfile
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cal := calendar.UTC()
	store := NewMemoryStore()

	e := &env{
		store:    store,
		cal:      cal,
		clock:    calendar.NewFixedClock(cal.At(monday, 6*60)),
		notifier: &recordingNotifier{},
		meetings: &meeting.MockProvisioner{},
		practitioner: Practitioner{
			ID: uuid.New(), UserID: "doc-1", Name: "Dr. Lan", Email: "lan@clinic.test",
		},
		subject: SubjectProfile{
			ID: uuid.New(), UserID: "user-1", Name: "Minh", Email: "minh@example.test",
		},
	}
	e.service = Service{ID: uuid.New(), PractitionerID: e.practitioner.ID, Name: "Consultation", DurationMinutes: 30, Price: 250000}
	e.remote = Service{ID: uuid.New(), PractitionerID: e.practitioner.ID, Name: "Video consultation", DurationMinutes: 30, Price: 200000, Remote: true}

	store.AddPractitioner(e.practitioner)
	store.AddService(e.service)
	store.AddService(e.remote)
	store.AddSubjectProfile(e.subject)
	err := store.ReplaceWeeklyAvailability(context.Background(), e.practitioner.ID, []WeeklyAvailability{
		{DayOfWeek: 1, StartTime: "08:00", EndTime: "17:00"},
		{DayOfWeek: 2, StartTime: "08:00", EndTime: "17:00"},
	})
	if err != nil {
		t.Fatalf("seed weekly availability: %v", err)
	}

	e.coordinator = NewBookingCoordinator(CoordinatorDeps{
		Store:      store,
		Calendar:   cal,
		Authorizer: auth.OwnershipAuthorizer{},
		Meetings:   e.meetings,
		Notifier:   e.notifier,
		Clock:      e.clock,
		Logger:     zerolog.Nop(),
		TxTimeout:  2 * time.Second,
		LeadTime:   DefaultLeadTime,
	})
	e.query = NewQuery(store, cal, e.clock, nil)
	return e
}

// asSubject returns a context for the booking subject.
func (e *env) asSubject() context.Context {
	return auth.WithPrincipal(context.Background(), e.subject.UserID, auth.RoleSubject)
}

func (e *env) asPractitioner() context.Context {
	return auth.WithPrincipal(context.Background(), e.practitioner.UserID, auth.RolePractitioner)
}

func (e *env) at(d civil.Date, hhmm string) time.Time {
	m, err := calendar.MinutesSinceMidnight(hhmm)
	if err != nil {
		panic(err)
	}
	return e.cal.At(d, m)
}

func (e *env) book(t *testing.T, start time.Time) *Appointment {
	t.Helper()
	a, err := e.coordinator.Book(e.asSubject(), BookRequest{
		PractitionerID:   e.practitioner.ID,
		ServiceID:        e.service.ID,
		SubjectProfileID: e.subject.ID,
		Start:            start,
	})
	if err != nil {
		t.Fatalf("Book(%s): %v", start, err)
	}
	return a
}
