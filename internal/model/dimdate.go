package model

import "time"

// DimDate is a calendar-day row of the date dimension. Every field is a pure
// function of FullDate.
type DimDate struct {
	ID          int64
	FullDate    time.Time
	Day         int
	Week        int
	Month       int
	Year        int
	Weekday     int // 0=Sunday
	MonthName   string
	WeekdayName string
	Quarter     int
	IsWeekend   bool
}

// NewDimDate derives the date-dimension attributes of d's calendar day (UTC).
func NewDimDate(d time.Time) DimDate {
	day := Day(d)
	_, week := day.ISOWeek()
	wd := day.Weekday()
	return DimDate{
		FullDate:    day,
		Day:         day.Day(),
		Week:        week,
		Month:       int(day.Month()),
		Year:        day.Year(),
		Weekday:     int(wd),
		MonthName:   day.Month().String(),
		WeekdayName: wd.String(),
		Quarter:     (int(day.Month())-1)/3 + 1,
		IsWeekend:   wd == time.Saturday || wd == time.Sunday,
	}
}

// DateRange returns every calendar day from first to last inclusive.
// It returns nil when last precedes first.
func DateRange(first, last time.Time) []time.Time {
	first, last = Day(first), Day(last)
	if last.Before(first) {
		return nil
	}
	n := int(last.Sub(first).Hours()/24) + 1
	out := make([]time.Time, 0, n)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}
