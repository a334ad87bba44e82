package calendar

import (
	"testing"
	"time"
)

func mondayFridayCalendar() Calendar {
	return NewCalendar([]time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
	})
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseISODate(s)
	if err != nil {
		t.Fatalf("ParseISODate(%q): %v", s, err)
	}
	return d
}

func TestIsWorkDay(t *testing.T) {
	cal := mondayFridayCalendar()

	tests := []struct {
		date string
		want bool
	}{
		{"2025-01-06", true},  // Monday
		{"2025-01-11", false}, // Saturday
		{"2025-01-12", false}, // Sunday
	}

	for _, tt := range tests {
		t.Run(tt.date, func(t *testing.T) {
			if got := cal.IsWorkDay(mustParse(t, tt.date)); got != tt.want {
				t.Errorf("IsWorkDay(%s) = %v, want %v", tt.date, got, tt.want)
			}
		})
	}
}

func TestIsWorkDay_Exceptions(t *testing.T) {
	cal := mondayFridayCalendar()
	cal.SetException("2025-01-06", Exception{Working: false, Description: "holiday"})
	cal.SetException("2025-01-11", Exception{Working: true, Description: "special Saturday"})

	if cal.IsWorkDay(mustParse(t, "2025-01-06")) {
		t.Error("expected 2025-01-06 to be a holiday")
	}
	if !cal.IsWorkDay(mustParse(t, "2025-01-11")) {
		t.Error("expected 2025-01-11 to be a working Saturday")
	}
}

func TestAddWorkDays_ZeroIdempotentOnWorkingDay(t *testing.T) {
	cal := mondayFridayCalendar()
	d := mustParse(t, "2025-01-06")
	got := cal.AddWorkDays(d, 0)
	if !got.Equal(d) {
		t.Errorf("AddWorkDays(%v, 0) = %v, want unchanged", d, got)
	}
}

func TestAddWorkDays_ZeroAdvancesFromWeekend(t *testing.T) {
	cal := mondayFridayCalendar()
	got := cal.AddWorkDays(mustParse(t, "2025-01-11"), 0) // Saturday
	want := mustParse(t, "2025-01-13")                     // Monday
	if !got.Equal(want) {
		t.Errorf("AddWorkDays(Saturday, 0) = %v, want %v", got, want)
	}
}

func TestAddWorkDays_WeekendSpanning(t *testing.T) {
	cal := mondayFridayCalendar()
	start := mustParse(t, "2025-01-03") // Friday
	end := cal.AddWorkDays(start, 4)    // 4 more working days after Friday
	want := mustParse(t, "2025-01-09")  // Thursday
	if !end.Equal(want) {
		t.Errorf("AddWorkDays(Friday, 4) = %v, want %v", end, want)
	}
	if got := cal.CalcWorkDays(start, end); got != 5 {
		t.Errorf("CalcWorkDays(Fri, Thu) = %d, want 5", got)
	}
}

func TestAddWorkDays_RoundTrip(t *testing.T) {
	cal := mondayFridayCalendar()
	d := mustParse(t, "2025-01-08")
	for _, n := range []int{1, 2, 5, 10, -1, -3} {
		forward := cal.AddWorkDays(d, n)
		back := cal.AddWorkDays(forward, -n)
		if !back.Equal(d) {
			t.Errorf("AddWorkDays round trip for n=%d: got %v, want %v", n, back, d)
		}
	}
}

func TestAddWorkDays_AllExceptionsInAWeek(t *testing.T) {
	cal := mondayFridayCalendar()
	// Blackout every day of the week of 2025-01-06..2025-01-10.
	for _, d := range []string{"2025-01-06", "2025-01-07", "2025-01-08", "2025-01-09", "2025-01-10"} {
		cal.SetException(d, Exception{Working: false, Description: "blackout"})
	}
	start := mustParse(t, "2025-01-03") // Friday before the blackout week
	got := cal.AddWorkDays(start, 1)
	want := mustParse(t, "2025-01-13") // the following Monday
	if !got.Equal(want) {
		t.Errorf("AddWorkDays across blackout week = %v, want %v", got, want)
	}
}

func TestCalcWorkDays_MinimumOne(t *testing.T) {
	cal := mondayFridayCalendar()
	d := mustParse(t, "2025-01-06")
	if got := cal.CalcWorkDays(d, d); got != 1 {
		t.Errorf("CalcWorkDays(d, d) = %d, want 1", got)
	}
}

func TestCalcWorkDaysDifference_FSLagZero(t *testing.T) {
	cal := mondayFridayCalendar()
	predEnd := mustParse(t, "2025-01-03")                // Friday
	succStart := cal.AddWorkDays(predEnd, 1)             // next working day
	if got := cal.CalcWorkDaysDifference(predEnd, succStart); got != 1 {
		t.Errorf("CalcWorkDaysDifference(pred.end, succ.start) = %d, want 1", got)
	}
}

func TestCalcWorkDaysDifference_ZeroWhenEqual(t *testing.T) {
	cal := mondayFridayCalendar()
	d := mustParse(t, "2025-01-06")
	if got := cal.CalcWorkDaysDifference(d, d); got != 0 {
		t.Errorf("CalcWorkDaysDifference(d, d) = %d, want 0", got)
	}
}

func TestCalcWorkDaysDifference_Negative(t *testing.T) {
	cal := mondayFridayCalendar()
	a := mustParse(t, "2025-01-08")
	b := mustParse(t, "2025-01-06")
	if got := cal.CalcWorkDaysDifference(a, b); got != -2 {
		t.Errorf("CalcWorkDaysDifference(Wed, Mon) = %d, want -2", got)
	}
}

func BenchmarkAddWorkDays(b *testing.B) {
	cal := mondayFridayCalendar()
	d := time.Date(2025, 1, 6, 12, 0, 0, 0, time.Local)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d = cal.AddWorkDays(d, 3)
	}
}
