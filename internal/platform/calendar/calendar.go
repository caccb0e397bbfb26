// Package calendar holds the date and time-of-day arithmetic used by the
// scheduling engine. All wall-clock values are interpreted in one fixed UTC
// offset configured for the application; request locale never changes it.
package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"

	"github.com/carebook/carebook/internal/platform/apperr"
)

// MinutesPerDay is the number of minutes in a wall-clock day.
const MinutesPerDay = 24 * 60

var (
	timeOfDayPattern = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)
	offsetPattern    = regexp.MustCompile(`^([+-])(\d{2}):(\d{2})$`)
)

// Calendar converts between absolute instants and wall-clock dates/minutes
// in a fixed offset.
type Calendar struct {
	loc *time.Location
}

// New builds a Calendar for an offset such as "+07:00", "-05:30" or "Z".
func New(offset string) (*Calendar, error) {
	offset = strings.TrimSpace(offset)
	if offset == "" || offset == "Z" || offset == "UTC" {
		return UTC(), nil
	}
	m := offsetPattern.FindStringSubmatch(offset)
	if m == nil {
		return nil, apperr.New(apperr.KindFormat, fmt.Sprintf("invalid utc offset %q", offset))
	}
	hours, _ := strconv.Atoi(m[2])
	mins, _ := strconv.Atoi(m[3])
	if hours > 14 || mins > 59 {
		return nil, apperr.New(apperr.KindFormat, fmt.Sprintf("utc offset out of range %q", offset))
	}
	secs := hours*3600 + mins*60
	if m[1] == "-" {
		secs = -secs
	}
	return &Calendar{loc: time.FixedZone("UTC"+offset, secs)}, nil
}

// UTC returns a Calendar with a zero offset.
func UTC() *Calendar {
	return &Calendar{loc: time.UTC}
}

// Location returns the fixed zone of the calendar.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// StartOfDay returns the first instant of d.
func (c *Calendar) StartOfDay(d civil.Date) time.Time {
	return d.In(c.loc)
}

// EndOfDay returns the exclusive upper bound of d: the first instant of the
// following day.
func (c *Calendar) EndOfDay(d civil.Date) time.Time {
	return d.AddDays(1).In(c.loc)
}

// DateOf returns the wall-clock date of t.
func (c *Calendar) DateOf(t time.Time) civil.Date {
	return civil.DateOf(t.In(c.loc))
}

// MinuteOf returns the minutes since wall-clock midnight of t.
func (c *Calendar) MinuteOf(t time.Time) int {
	local := t.In(c.loc)
	return local.Hour()*60 + local.Minute()
}

// At returns the instant minutes after midnight on d.
func (c *Calendar) At(d civil.Date, minutes int) time.Time {
	return c.StartOfDay(d).Add(time.Duration(minutes) * time.Minute)
}

// DayOfWeek returns 0 (Sunday) through 6 (Saturday).
func DayOfWeek(d civil.Date) int {
	return int(d.Weekday())
}

// MinutesSinceMidnight parses a 24-hour "HH:MM" string.
func MinutesSinceMidnight(s string) (int, error) {
	m := timeOfDayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, apperr.New(apperr.KindFormat, fmt.Sprintf("invalid time of day %q: expected HH:MM", s))
	}
	h, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	return h*60 + mm, nil
}

// TimeFromMinutes formats minutes since midnight as "HH:MM". 1440 renders
// as "24:00".
func TimeFromMinutes(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// ParseDate parses a "YYYY-MM-DD" calendar date.
func ParseDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return civil.Date{}, apperr.Wrap(apperr.KindFormat, fmt.Sprintf("invalid date %q: expected YYYY-MM-DD", s), err)
	}
	return d, nil
}

// ParseMonth parses "YYYY-MM" into the first day of that month.
func ParseMonth(s string) (civil.Date, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return civil.Date{}, apperr.Wrap(apperr.KindFormat, fmt.Sprintf("invalid month %q: expected YYYY-MM", s), err)
	}
	return civil.Date{Year: t.Year(), Month: t.Month(), Day: 1}, nil
}

// DatesBetween returns every date from start through end inclusive.
func DatesBetween(start, end civil.Date) []civil.Date {
	if end.Before(start) {
		return nil
	}
	dates := make([]civil.Date, 0, end.DaysSince(start)+1)
	for d := start; !d.After(end); d = d.AddDays(1) {
		dates = append(dates, d)
	}
	return dates
}
