package domain

import "testing"

func TestDayNumberRoundTrip(t *testing.T) {
	dates := []SimDate{
		{Year: 0, Month: 1, Day: 1},
		{Year: 1, Month: 1, Day: 1},
		{Year: 12, Month: 7, Day: 3},
		{Year: 300, Month: 12, Day: 8},
	}
	for _, d := range dates {
		if got := DateFromDayNumber(d.DayNumber()); got != d {
			t.Fatalf("round trip of %v produced %v", d, got)
		}
	}
}

func TestAddDaysCrossesMonthAndYear(t *testing.T) {
	d := SimDate{Year: 1, Month: 12, Day: 8}
	next := d.AddDays(1)
	want := SimDate{Year: 2, Month: 1, Day: 1}
	if next != want {
		t.Fatalf("AddDays(1) from year end = %v, want %v", next, want)
	}
	if back := next.AddDays(-1); back != d {
		t.Fatalf("AddDays(-1) = %v, want %v", back, d)
	}
}

func TestAddMonthsPreservesDay(t *testing.T) {
	d := SimDate{Year: 2, Month: 10, Day: 5}
	got := d.AddMonths(9)
	want := SimDate{Year: 3, Month: 7, Day: 5}
	if got != want {
		t.Fatalf("AddMonths(9) = %v, want %v", got, want)
	}
}

func TestYearsSinceCountsWholeYears(t *testing.T) {
	born := SimDate{Year: 10, Month: 6, Day: 4}
	cases := []struct {
		at   SimDate
		want int
	}{
		{SimDate{Year: 26, Month: 6, Day: 4}, 16},
		{SimDate{Year: 26, Month: 6, Day: 3}, 15},
		{SimDate{Year: 26, Month: 5, Day: 8}, 15},
		{SimDate{Year: 10, Month: 7, Day: 1}, 0},
		{SimDate{Year: 9, Month: 1, Day: 1}, 0},
	}
	for _, c := range cases {
		if got := born.YearsSince(c.at); got != c.want {
			t.Fatalf("YearsSince(%v) = %d, want %d", c.at, got, c.want)
		}
	}
}

func TestMonthsUntil(t *testing.T) {
	a := SimDate{Year: 1, Month: 11, Day: 2}
	b := SimDate{Year: 2, Month: 8, Day: 6}
	if got := a.MonthsUntil(b); got != 9 {
		t.Fatalf("MonthsUntil = %d, want 9", got)
	}
	if got := b.MonthsUntil(a); got != -9 {
		t.Fatalf("reverse MonthsUntil = %d, want -9", got)
	}
}

func TestOrdering(t *testing.T) {
	early := SimDate{Year: 5, Month: 3, Day: 2}
	late := SimDate{Year: 5, Month: 3, Day: 3}
	if !early.Before(late) || late.Before(early) {
		t.Fatalf("Before misordered %v and %v", early, late)
	}
	if !late.After(early) || early.After(late) {
		t.Fatalf("After misordered %v and %v", early, late)
	}
	if !early.Equal(early) || early.Equal(late) {
		t.Fatalf("Equal misbehaved for %v", early)
	}
}
