// Package calendar decides whether a date is a trading day so scheduled
// scans skip weekends and exchange holidays.
package calendar

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar is a weekday calendar with a holiday list, evaluated in one
// location.
type Calendar struct {
	loc      *time.Location
	holidays map[string]bool
}

// New creates a calendar. A nil loc means UTC. Holidays are matched by
// their year, month and day.
func New(loc *time.Location, holidays []time.Time) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	c := &Calendar{loc: loc, holidays: make(map[string]bool, len(holidays))}
	for _, h := range holidays {
		c.holidays[dayKey(h.Year(), h.Month(), h.Day())] = true
	}
	return c
}

// Location returns the calendar's location.
func (c *Calendar) Location() *time.Location { return c.loc }

// IsHoliday returns true if t, in the calendar's location, is a holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	lt := t.In(c.loc)
	return c.holidays[dayKey(lt.Year(), lt.Month(), lt.Day())]
}

// IsWeekday returns true if t is Mon–Fri.
func (c *Calendar) IsWeekday(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func (c *Calendar) IsTradingDay(t time.Time) bool {
	return c.IsWeekday(t) && !c.IsHoliday(t)
}

// SkipReason returns "weekend", "holiday" or "" for a trading day.
func (c *Calendar) SkipReason(t time.Time) string {
	switch {
	case !c.IsWeekday(t):
		return "weekend"
	case c.IsHoliday(t):
		return "holiday"
	default:
		return ""
	}
}

// PreviousTradingDay returns midnight of the latest trading day strictly
// before t, looking back at most 30 days.
func (c *Calendar) PreviousTradingDay(t time.Time) (time.Time, error) {
	lt := t.In(c.loc)
	d := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
	for i := 0; i < 30; i++ {
		d = d.AddDate(0, 0, -1)
		if c.IsTradingDay(d) {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("no trading day in the 30 days before %s", lt.Format(dateLayout))
}

func dayKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(dateLayout)
}
