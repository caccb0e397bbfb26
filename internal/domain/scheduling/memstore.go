package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
)

type memTxKey struct{}

type memTx struct {
	pending []func()
}

// MemoryStore is an in-process Store for development and tests.
// Transactions are serialized and their writes are applied on commit.
type MemoryStore struct {
	txSem chan struct{}

	mu            sync.RWMutex
	weekly        map[uuid.UUID]map[int]WeeklyAvailability
	overrides     map[uuid.UUID]map[civil.Date]AvailabilityOverride
	appointments  map[uuid.UUID]*Appointment
	billing       map[uuid.UUID]*BillingRecord
	practitioners map[uuid.UUID]*Practitioner
	services      map[uuid.UUID]*Service
	subjects      map[uuid.UUID]*SubjectProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txSem:         make(chan struct{}, 1),
		weekly:        make(map[uuid.UUID]map[int]WeeklyAvailability),
		overrides:     make(map[uuid.UUID]map[civil.Date]AvailabilityOverride),
		appointments:  make(map[uuid.UUID]*Appointment),
		billing:       make(map[uuid.UUID]*BillingRecord),
		practitioners: make(map[uuid.UUID]*Practitioner),
		services:      make(map[uuid.UUID]*Service),
		subjects:      make(map[uuid.UUID]*SubjectProfile),
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	select {
	case s.txSem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("begin transaction: %w", ctx.Err())
	}
	defer func() { <-s.txSem }()

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.mu.Lock()
	for _, apply := range tx.pending {
		apply()
	}
	s.mu.Unlock()
	return nil
}

// LockPractitioner is a no-op: memory transactions are already serialized.
func (s *MemoryStore) LockPractitioner(context.Context, uuid.UUID) error {
	return nil
}

// write applies fn now, or on commit when ctx carries a transaction.
func (s *MemoryStore) write(ctx context.Context, fn func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.pending = append(tx.pending, fn)
		return
	}
	s.mu.Lock()
	fn()
	s.mu.Unlock()
}

// -- Directory --

func (s *MemoryStore) AddPractitioner(p Practitioner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.practitioners[p.ID] = &p
}

func (s *MemoryStore) AddService(sv Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[sv.ID] = &sv
}

func (s *MemoryStore) AddSubjectProfile(p SubjectProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[p.ID] = &p
}

// Fixtures is the JSON document accepted by LoadFixtures.
type Fixtures struct {
	Practitioners []Practitioner         `json:"practitioners"`
	Services      []Service              `json:"services"`
	Subjects      []SubjectProfile       `json:"subjects"`
	Weekly        []WeeklyAvailability   `json:"weekly_availability"`
	Overrides     []AvailabilityOverride `json:"overrides"`
}

// LoadFixtures seeds the store from a JSON Fixtures document.
func (s *MemoryStore) LoadFixtures(data []byte) error {
	var f Fixtures
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode fixtures: %w", err)
	}
	for _, p := range f.Practitioners {
		s.AddPractitioner(p)
	}
	for _, sv := range f.Services {
		s.AddService(sv)
	}
	for _, p := range f.Subjects {
		s.AddSubjectProfile(p)
	}
	byPractitioner := make(map[uuid.UUID][]WeeklyAvailability)
	for _, w := range f.Weekly {
		byPractitioner[w.PractitionerID] = append(byPractitioner[w.PractitionerID], w)
	}
	ctx := context.Background()
	for id, rows := range byPractitioner {
		if err := s.ReplaceWeeklyAvailability(ctx, id, rows); err != nil {
			return err
		}
	}
	for i := range f.Overrides {
		if err := s.UpsertOverride(ctx, &f.Overrides[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetPractitioner(_ context.Context, id uuid.UUID) (*Practitioner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.practitioners[id]
	if !ok {
		return nil, ErrPractitionerNotFound
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) GetService(_ context.Context, id uuid.UUID) (*Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sv, ok := s.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	out := *sv
	return &out, nil
}

func (s *MemoryStore) GetSubjectProfile(_ context.Context, id uuid.UUID) (*SubjectProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.subjects[id]
	if !ok {
		return nil, ErrSubjectNotFound
	}
	out := *p
	return &out, nil
}

// -- Availability --

func (s *MemoryStore) GetWeeklyAvailability(_ context.Context, practitionerID uuid.UUID) ([]WeeklyAvailability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]WeeklyAvailability, 0, len(s.weekly[practitionerID]))
	for _, w := range s.weekly[practitionerID] {
		rows = append(rows, w)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DayOfWeek < rows[j].DayOfWeek })
	return rows, nil
}

func (s *MemoryStore) ReplaceWeeklyAvailability(ctx context.Context, practitionerID uuid.UUID, rows []WeeklyAvailability) error {
	byDay := make(map[int]WeeklyAvailability, len(rows))
	for _, w := range rows {
		w.PractitionerID = practitionerID
		byDay[w.DayOfWeek] = w
	}
	s.write(ctx, func() { s.weekly[practitionerID] = byDay })
	return nil
}

func (s *MemoryStore) GetOverride(_ context.Context, practitionerID uuid.UUID, date civil.Date) (*AvailabilityOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[practitionerID][date]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *MemoryStore) ListOverrides(_ context.Context, practitionerID uuid.UUID, from, to civil.Date) ([]AvailabilityOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AvailabilityOverride
	for d, o := range s.overrides[practitionerID] {
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) UpsertOverride(ctx context.Context, o *AvailabilityOverride) error {
	v := *o
	s.write(ctx, func() {
		m, ok := s.overrides[v.PractitionerID]
		if !ok {
			m = make(map[civil.Date]AvailabilityOverride)
			s.overrides[v.PractitionerID] = m
		}
		m[v.Date] = v
	})
	return nil
}

func (s *MemoryStore) DeleteOverride(ctx context.Context, practitionerID uuid.UUID, date civil.Date) error {
	s.write(ctx, func() { delete(s.overrides[practitionerID], date) })
	return nil
}

// -- Appointments --

func (s *MemoryStore) ListBookedIntervals(_ context.Context, practitionerID uuid.UUID, from, to time.Time, statuses []Status) ([]BookedInterval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var out []BookedInterval
	for _, a := range s.appointments {
		if a.PractitionerID != practitionerID || !want[a.Status] {
			continue
		}
		if !(a.Start.Before(to) && a.End.After(from)) {
			continue
		}
		b := BookedInterval{AppointmentID: a.ID, Start: a.Start, End: a.End, Status: a.Status}
		if p, ok := s.subjects[a.SubjectProfileID]; ok {
			b.SubjectName = p.Name
		}
		if sv, ok := s.services[a.ServiceID]; ok {
			b.ServiceName = sv.Name
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (s *MemoryStore) InsertAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	v := *a
	s.write(ctx, func() { s.appointments[v.ID] = &v })
	return nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	out := *a
	return &out, nil
}

func (s *MemoryStore) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.GetAppointment(ctx, id)
}

func (s *MemoryStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if _, err := s.GetAppointment(ctx, id); err != nil {
		return err
	}
	s.write(ctx, func() {
		if a, ok := s.appointments[id]; ok {
			a.Status = status
			a.UpdatedAt = time.Now().UTC()
		}
	})
	return nil
}

func (s *MemoryStore) UpdateAppointmentTime(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	if _, err := s.GetAppointment(ctx, id); err != nil {
		return err
	}
	s.write(ctx, func() {
		if a, ok := s.appointments[id]; ok {
			a.Start, a.End = start, end
			a.UpdatedAt = time.Now().UTC()
		}
	})
	return nil
}

func (s *MemoryStore) InsertBillingRecord(ctx context.Context, b *BillingRecord) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()
	v := *b
	s.write(ctx, func() { s.billing[v.ID] = &v })
	return nil
}

// BillingFor returns the billing records of an appointment.
func (s *MemoryStore) BillingFor(appointmentID uuid.UUID) []BillingRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BillingRecord
	for _, b := range s.billing {
		if b.AppointmentID == appointmentID {
			out = append(out, *b)
		}
	}
	return out
}

// AppointmentCount returns the number of stored appointments.
func (s *MemoryStore) AppointmentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.appointments)
}
