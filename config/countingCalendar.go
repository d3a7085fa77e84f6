package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CountingCalendar is the working calendar of an annual counting plan.
// A plan for year Y starts in StartMonth of Y+StartYearOffset and has one period
// per entry of MonthOffsets, each offset counted in months from the start.
type CountingCalendar struct {
	StartMonth      time.Month
	StartYearOffset int
	MonthOffsets    []int
}

// DefaultCountingCalendar runs September of the previous year through June.
var DefaultCountingCalendar = CountingCalendar{
	StartMonth:      time.September,
	StartYearOffset: -1,
	MonthOffsets:    []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
}

// GetCountingCalendar returns the default calendar, with the start month
// overridable through COUNTING_CYCLE_START_MONTH (1-12).
func GetCountingCalendar() CountingCalendar {
	cal := DefaultCountingCalendar
	v := strings.TrimSpace(os.Getenv("COUNTING_CYCLE_START_MONTH"))
	if v == "" {
		return cal
	}
	m, err := strconv.Atoi(v)
	if err != nil || m < 1 || m > 12 {
		return cal
	}
	cal.StartMonth = time.Month(m)
	return cal
}

func (c CountingCalendar) PeriodCount() int {
	return len(c.MonthOffsets)
}

// PeriodWindow returns the first instant and the last second of the calendar month of period seq (1-based).
func (c CountingCalendar) PeriodWindow(year int, seq int) (time.Time, time.Time, error) {
	if seq < 1 || seq > len(c.MonthOffsets) {
		return time.Time{}, time.Time{}, fmt.Errorf("period sequence %d out of range 1..%d", seq, len(c.MonthOffsets))
	}
	start := time.Date(year+c.StartYearOffset, c.StartMonth+time.Month(c.MonthOffsets[seq-1]), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Second)
	return start, end, nil
}

// CycleWindow spans from the first period's start to the last period's deadline.
func (c CountingCalendar) CycleWindow(year int) (time.Time, time.Time, error) {
	start, _, err := c.PeriodWindow(year, 1)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	_, end, err := c.PeriodWindow(year, len(c.MonthOffsets))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
