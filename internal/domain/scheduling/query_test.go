package scheduling

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebook/carebook/internal/platform/apperr"
)

func startTimes(slots []CandidateSlot) []string {
	out := make([]string, len(slots))
	for i, s := range slots {
		out[i] = s.StartTime
	}
	return out
}

func TestAvailableSlots_ExcludesBooking(t *testing.T) {
	e := newEnv(t)
	e.book(t, e.at(tuesday, "10:00"))

	slots, err := e.query.AvailableSlots(context.Background(), e.practitioner.ID, tuesday, 30)
	require.NoError(t, err)

	got := startTimes(slots)
	assert.Len(t, got, 17)
	assert.NotContains(t, got, "10:00")
	assert.Contains(t, got, "09:30")
	assert.Contains(t, got, "10:30")
	assert.Equal(t, "08:00", got[0])
	assert.Equal(t, "16:30", got[len(got)-1])

	for _, s := range slots {
		assert.Equal(t, e.at(tuesday, s.StartTime), s.StartsAt)
		assert.Equal(t, s.StartsAt.Add(30*time.Minute), s.EndsAt)
	}
}

func TestAvailableSlots_BookThenQueryRoundTrip(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	slots, err := e.query.AvailableSlots(ctx, e.practitioner.ID, tuesday, 30)
	require.NoError(t, err)
	require.NotEmpty(t, slots)

	e.book(t, slots[3].StartsAt)

	after, err := e.query.AvailableSlots(ctx, e.practitioner.ID, tuesday, 30)
	require.NoError(t, err)
	assert.Len(t, after, len(slots)-1)
	assert.NotContains(t, startTimes(after), slots[3].StartTime)
}

func TestAvailableSlots_CancelledBookingFreesSlot(t *testing.T) {
	e := newEnv(t)
	a := e.book(t, e.at(tuesday, "10:00"))
	_, err := e.coordinator.Cancel(e.asSubject(), a.ID)
	require.NoError(t, err)

	slots, err := e.query.AvailableSlots(context.Background(), e.practitioner.ID, tuesday, 30)
	require.NoError(t, err)
	assert.Len(t, slots, 18)
	assert.Contains(t, startTimes(slots), "10:00")
}

func TestAvailableSlots_LongerDuration(t *testing.T) {
	e := newEnv(t)
	slots, err := e.query.AvailableSlots(context.Background(), e.practitioner.ID, tuesday, 60)
	require.NoError(t, err)
	got := startTimes(slots)
	assert.Len(t, got, 17)
	assert.Equal(t, "16:00", got[len(got)-1])
}

func TestAvailableSlots_Override(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.UpsertOverride(ctx, &AvailabilityOverride{
		PractitionerID: e.practitioner.ID, Date: tuesday, StartTime: strPtr("09:00"), EndTime: strPtr("12:00"),
	}))

	slots, err := e.query.AvailableSlots(ctx, e.practitioner.ID, tuesday, 30)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30"}, startTimes(slots))

	require.NoError(t, e.store.UpsertOverride(ctx, &AvailabilityOverride{PractitionerID: e.practitioner.ID, Date: tuesday}))
	slots, err = e.query.AvailableSlots(ctx, e.practitioner.ID, tuesday, 30)
	require.NoError(t, err)
	assert.Empty(t, slots)
	assert.NotNil(t, slots)
}

func TestAvailableSlots_Today(t *testing.T) {
	e := newEnv(t)
	e.clock.Set(e.at(monday, "10:10"))

	slots, err := e.query.AvailableSlots(context.Background(), e.practitioner.ID, monday, 30)
	require.NoError(t, err)
	got := startTimes(slots)
	assert.Len(t, got, 13)
	assert.Equal(t, "10:30", got[0])

	e.clock.Set(e.at(monday, "10:30"))
	slots, err = e.query.AvailableSlots(context.Background(), e.practitioner.ID, monday, 30)
	require.NoError(t, err)
	assert.Equal(t, "11:00", slots[0].StartTime, "a slot starting now is no longer offered")
}

func TestAvailableSlots_PastDateAndOffDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	slots, err := e.query.AvailableSlots(ctx, e.practitioner.ID, monday.AddDays(-7), 30)
	require.NoError(t, err)
	assert.Empty(t, slots)

	slots, err = e.query.AvailableSlots(ctx, e.practitioner.ID, tuesday.AddDays(1), 30)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestAvailableSlots_Errors(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.query.AvailableSlots(ctx, e.practitioner.ID, tuesday, 0)
	assert.Equal(t, apperr.KindFormat, apperr.KindOf(err))

	_, err = e.query.AvailableSlots(ctx, uuid.New(), tuesday, 30)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)

	_, err = e.query.AvailableSlotsForService(ctx, e.practitioner.ID, tuesday, uuid.New())
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestAvailableSlotsForService(t *testing.T) {
	e := newEnv(t)
	slots, err := e.query.AvailableSlotsForService(context.Background(), e.practitioner.ID, tuesday, e.service.ID)
	require.NoError(t, err)
	assert.Len(t, slots, 18)
}

func TestAvailableDates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	// A day off on the second Monday is still listed at this granularity.
	require.NoError(t, e.store.UpsertOverride(ctx, &AvailabilityOverride{PractitionerID: e.practitioner.ID, Date: monday.AddDays(7)}))

	dates, err := e.query.AvailableDates(ctx, e.practitioner.ID, monday, monday.AddDays(13))
	require.NoError(t, err)
	assert.Equal(t, []civil.Date{monday, tuesday, monday.AddDays(7), tuesday.AddDays(7)}, dates)
}

func TestAvailableDates_DropsPast(t *testing.T) {
	e := newEnv(t)
	dates, err := e.query.AvailableDates(context.Background(), e.practitioner.ID, monday.AddDays(-7), tuesday)
	require.NoError(t, err)
	assert.Equal(t, []civil.Date{monday, tuesday}, dates)

	dates, err = e.query.AvailableDates(context.Background(), e.practitioner.ID, monday.AddDays(-7), monday.AddDays(-1))
	require.NoError(t, err)
	assert.NotNil(t, dates)
	assert.Empty(t, dates)
}

func TestAvailableDates_RangeChecks(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.query.AvailableDates(ctx, e.practitioner.ID, tuesday, monday)
	assert.Equal(t, apperr.KindFormat, apperr.KindOf(err))

	_, err = e.query.AvailableDates(ctx, e.practitioner.ID, monday, monday.AddDays(MaxQueryDays))
	assert.Equal(t, apperr.KindFormat, apperr.KindOf(err))

	_, err = e.query.AvailableDates(ctx, e.practitioner.ID, monday, monday.AddDays(MaxQueryDays-1))
	assert.NoError(t, err)
}

func TestBookings_FilterByStatus(t *testing.T) {
	e := newEnv(t)
	a := e.book(t, e.at(tuesday, "10:00"))
	e.book(t, e.at(tuesday, "11:00"))
	_, err := e.coordinator.Cancel(e.asSubject(), a.ID)
	require.NoError(t, err)
	ctx := context.Background()

	all, err := e.query.Bookings(ctx, e.practitioner.ID, monday, tuesday, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, e.subject.Name, all[0].SubjectName)
	assert.Equal(t, e.service.Name, all[0].ServiceName)

	active, err := e.query.Bookings(ctx, e.practitioner.ID, monday, tuesday, OccupyingStatuses)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, e.at(tuesday, "11:00"), active[0].Start)

	none, err := e.query.Bookings(ctx, e.practitioner.ID, monday, monday, nil)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestWeekView(t *testing.T) {
	e := newEnv(t)
	a := e.book(t, e.at(tuesday, "10:00"))
	e.book(t, e.at(tuesday, "09:00"))
	_, err := e.coordinator.Cancel(e.asSubject(), a.ID)
	require.NoError(t, err)

	days, err := e.query.WeekView(context.Background(), e.practitioner.ID, monday)
	require.NoError(t, err)
	require.Len(t, days, 7)

	for i, d := range days {
		assert.Equal(t, monday.AddDays(i), d.Schedule.Date)
		assert.True(t, d.InMonth)
		assert.NotNil(t, d.Bookings)
	}
	assert.False(t, days[0].Schedule.IsOff())
	assert.True(t, days[2].Schedule.IsOff())

	require.Len(t, days[1].Bookings, 2, "cancelled bookings are shown in the calendar")
	assert.Equal(t, StatusUpcoming, days[1].Bookings[0].Status)
	assert.Equal(t, StatusCancelled, days[1].Bookings[1].Status)
	assert.Empty(t, days[0].Bookings)
}

func TestMonthGrid(t *testing.T) {
	tests := []struct {
		month      civil.Date
		start, end civil.Date
		days       int
	}{
		{
			month: civil.Date{Year: 2025, Month: time.March, Day: 17},
			start: civil.Date{Year: 2025, Month: time.February, Day: 23},
			end:   civil.Date{Year: 2025, Month: time.April, Day: 5},
			days:  42,
		},
		{
			month: civil.Date{Year: 2026, Month: time.February, Day: 1},
			start: civil.Date{Year: 2026, Month: time.February, Day: 1},
			end:   civil.Date{Year: 2026, Month: time.February, Day: 28},
			days:  28,
		},
		{
			month: civil.Date{Year: 2024, Month: time.December, Day: 31},
			start: civil.Date{Year: 2024, Month: time.December, Day: 1},
			end:   civil.Date{Year: 2025, Month: time.January, Day: 4},
			days:  35,
		},
	}
	for _, tt := range tests {
		start, end := MonthGrid(tt.month)
		assert.Equal(t, tt.start, start, "start of %s", tt.month)
		assert.Equal(t, tt.end, end, "end of %s", tt.month)
		assert.Equal(t, time.Sunday, start.Weekday())
		assert.Equal(t, time.Saturday, end.Weekday())
		assert.Equal(t, tt.days, end.DaysSince(start)+1)
	}
}

func TestMonthView(t *testing.T) {
	e := newEnv(t)
	e.book(t, e.at(tuesday, "10:00"))

	days, err := e.query.MonthView(context.Background(), e.practitioner.ID, monday)
	require.NoError(t, err)
	require.Len(t, days, 42)

	in := 0
	for _, d := range days {
		if d.InMonth {
			in++
			assert.Equal(t, time.March, d.Schedule.Date.Month)
		}
	}
	assert.Equal(t, 31, in)
	assert.False(t, days[0].InMonth)

	// Grid starts on Sunday 23 Feb, so Tuesday 4 Mar is index 9.
	assert.Equal(t, tuesday, days[9].Schedule.Date)
	assert.Len(t, days[9].Bookings, 1)
}

func TestViews_UnknownPractitioner(t *testing.T) {
	e := newEnv(t)
	_, err := e.query.WeekView(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
	_, err = e.query.MonthView(context.Background(), uuid.New(), monday)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}
