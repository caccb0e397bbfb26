package scheduling

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/carebook/carebook/internal/platform/calendar"
)

// SlotStep is the spacing between candidate slot starts. It does not depend
// on the service duration.
const SlotStep = 30

// GenerateSlots enumerates candidate slots of durationMinutes inside working,
// skipping any that overlap a booked interval. A nil working interval (day
// off) yields no slots.
func GenerateSlots(working *Interval, durationMinutes int, booked []Interval) []CandidateSlot {
	if working == nil || durationMinutes <= 0 {
		return nil
	}
	var slots []CandidateSlot
	for t := working.Start; t+durationMinutes <= working.End; t += SlotStep {
		c := Interval{Start: t, End: t + durationMinutes}
		if overlapsAny(c, booked) {
			continue
		}
		slots = append(slots, CandidateSlot{
			Start:     c.Start,
			End:       c.End,
			StartTime: c.StartTime(),
			EndTime:   c.EndTime(),
			Period:    PeriodOf(c.Start),
		})
	}
	return slots
}

// SlotsFor generates slots for an effective schedule.
func SlotsFor(s EffectiveSchedule, durationMinutes int, booked []Interval) []CandidateSlot {
	iv, ok := s.WorkingInterval()
	if !ok {
		return nil
	}
	return GenerateSlots(&iv, durationMinutes, booked)
}

func overlapsAny(c Interval, booked []Interval) bool {
	for _, b := range booked {
		if Overlaps(c, b) {
			return true
		}
	}
	return false
}

// DayIntervals projects booked instants onto the wall-clock minutes of date,
// clipping bookings that cross midnight.
func DayIntervals(cal *calendar.Calendar, date civil.Date, booked []BookedInterval) []Interval {
	dayStart := cal.StartOfDay(date)
	out := make([]Interval, 0, len(booked))
	for _, b := range booked {
		s := clampMinutes(b.Start.Sub(dayStart), false)
		e := clampMinutes(b.End.Sub(dayStart), true)
		if s >= e {
			continue
		}
		out = append(out, Interval{Start: s, End: e})
	}
	return out
}

func clampMinutes(d time.Duration, roundUp bool) int {
	m := int(d / time.Minute)
	if roundUp && d%time.Minute > 0 {
		m++
	}
	switch {
	case m < 0:
		return 0
	case m > calendar.MinutesPerDay:
		return calendar.MinutesPerDay
	}
	return m
}
