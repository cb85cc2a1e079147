package domain

import "fmt"

// Simulated calendar geometry. A year is twelve months of eight days each,
// so one in-world year passes in 96 ticks of the daily scheduler.
const (
	MonthsPerYear = 12
	DaysPerMonth  = 8
	DaysPerYear   = MonthsPerYear * DaysPerMonth
)

// SimDate is a date on the simulated calendar. Months and days are 1-based.
type SimDate struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

// DayNumber returns the absolute day index of the date, suitable for
// ordering and distance arithmetic.
func (d SimDate) DayNumber() int {
	return d.Year*DaysPerYear + (d.Month-1)*DaysPerMonth + (d.Day - 1)
}

// DateFromDayNumber converts an absolute day index back into a SimDate.
func DateFromDayNumber(n int) SimDate {
	year := n / DaysPerYear
	rem := n % DaysPerYear
	return SimDate{Year: year, Month: rem/DaysPerMonth + 1, Day: rem%DaysPerMonth + 1}
}

// AddDays returns the date n days later (earlier when n is negative).
func (d SimDate) AddDays(n int) SimDate {
	return DateFromDayNumber(d.DayNumber() + n)
}

// AddMonths returns the date n whole months later, preserving the day.
func (d SimDate) AddMonths(n int) SimDate {
	total := d.Year*MonthsPerYear + (d.Month - 1) + n
	return SimDate{Year: total / MonthsPerYear, Month: total%MonthsPerYear + 1, Day: d.Day}
}

// Before reports whether d is strictly earlier than other.
func (d SimDate) Before(other SimDate) bool {
	return d.DayNumber() < other.DayNumber()
}

// After reports whether d is strictly later than other.
func (d SimDate) After(other SimDate) bool {
	return d.DayNumber() > other.DayNumber()
}

// Equal reports whether two dates are the same day.
func (d SimDate) Equal(other SimDate) bool {
	return d == other
}

// MonthsUntil returns the number of whole months from d to other.
func (d SimDate) MonthsUntil(other SimDate) int {
	return (other.Year-d.Year)*MonthsPerYear + (other.Month - d.Month)
}

// YearsSince returns the age in whole years of something born on d as of
// the given date. A birthday not yet reached this year does not count.
func (d SimDate) YearsSince(at SimDate) int {
	years := at.Year - d.Year
	if at.Month < d.Month || (at.Month == d.Month && at.Day < d.Day) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// String renders the date as year-month-day.
func (d SimDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// Calendar is the clock contract consumed by the lifecycle engine. The
// engine only ever asks what day it is; advancing time is the concern of
// the calendar runner that schedules daily passes.
type Calendar interface {
	CurrentDate() SimDate
}
