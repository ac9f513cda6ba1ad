package schedule

import (
	"testing"
	"time"

	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/segment"
)

func testCalc(rate int) planner.Calculation {
	return planner.Calculation{
		RecommendedMessagesPerMinute: rate,
		RecommendedDelayMs:           60000 / rate,
	}
}

func TestEstimateBusinessHoursWindow(t *testing.T) {
	e := NewEstimator(DefaultWindow())
	audience := segment.Audience{EffectiveCount: 1000}

	est := e.EstimateFrom(time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC), audience, testCalc(10),
		AntiBanSettings{Enabled: true, BusinessHoursOnly: true})

	if est.DailyWindowMinutes != 540 {
		t.Errorf("DailyWindowMinutes = %d, want 540 (09:00-18:00)", est.DailyWindowMinutes)
	}
	if est.PerDayCapacity != 5400 {
		t.Errorf("PerDayCapacity = %d, want 5400", est.PerDayCapacity)
	}
	if est.EstimatedBusinessDays != 1 {
		t.Errorf("EstimatedBusinessDays = %d, want 1", est.EstimatedBusinessDays)
	}
}

func TestEstimateFullDayWindow(t *testing.T) {
	e := NewEstimator(DefaultWindow())
	audience := segment.Audience{EffectiveCount: 3000}

	est := e.EstimateFrom(time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC), audience, testCalc(1), AntiBanSettings{})

	if est.DailyWindowMinutes != 1440 {
		t.Errorf("DailyWindowMinutes = %d, want 1440", est.DailyWindowMinutes)
	}
	if est.PerDayCapacity != 1440 {
		t.Errorf("PerDayCapacity = %d, want 1440", est.PerDayCapacity)
	}
	// 3000 messages at 1440/day: 1440 + 1440 + 120
	if est.EstimatedBusinessDays != 3 {
		t.Errorf("EstimatedBusinessDays = %d, want 3", est.EstimatedBusinessDays)
	}
	if last := est.Days[len(est.Days)-1].Planned; last != 120 {
		t.Errorf("last day Planned = %d, want 120", last)
	}
}

func TestEstimateSkipsWeekends(t *testing.T) {
	e := NewEstimator(DefaultWindow())
	// 2024-06-07 is a Friday; 5 sending days must stretch over a weekend
	start := time.Date(2024, 6, 7, 9, 0, 0, 0, time.UTC)
	audience := segment.Audience{EffectiveCount: 27000}

	est := e.EstimateFrom(start, audience, testCalc(10),
		AntiBanSettings{Enabled: true, BusinessHoursOnly: true, RespectWeekends: true})

	if est.EstimatedBusinessDays != 5 {
		t.Fatalf("EstimatedBusinessDays = %d, want 5", est.EstimatedBusinessDays)
	}
	for _, day := range est.Days {
		if wd := day.Date.Weekday(); wd == time.Saturday || wd == time.Sunday {
			t.Errorf("day plan includes %s (%s)", day.Date.Format("2006-01-02"), wd)
		}
	}
	// Friday, then Monday through Thursday
	if est.Days[1].Date.Weekday() != time.Monday {
		t.Errorf("second sending day = %s, want Monday", est.Days[1].Date.Weekday())
	}
}

func TestEstimateWeekendsAllowedWithoutFlag(t *testing.T) {
	e := NewEstimator(DefaultWindow())
	start := time.Date(2024, 6, 7, 9, 0, 0, 0, time.UTC) // Friday

	est := e.EstimateFrom(start, segment.Audience{EffectiveCount: 3 * 14400}, testCalc(10),
		AntiBanSettings{Enabled: true, RespectWeekends: false})

	if est.EstimatedBusinessDays != 3 {
		t.Fatalf("EstimatedBusinessDays = %d, want 3", est.EstimatedBusinessDays)
	}
	if est.Days[1].Date.Weekday() != time.Saturday {
		t.Errorf("second day = %s, want Saturday when weekends are allowed", est.Days[1].Date.Weekday())
	}
}

func TestEstimateEmptyAudience(t *testing.T) {
	e := NewEstimator(DefaultWindow())

	est := e.Estimate(segment.Audience{}, testCalc(10), AntiBanSettings{Enabled: true, BusinessHoursOnly: true})

	if est.EstimatedBusinessDays != 0 {
		t.Errorf("EstimatedBusinessDays = %d, want 0", est.EstimatedBusinessDays)
	}
	if len(est.Days) != 0 {
		t.Errorf("len(Days) = %d, want 0", len(est.Days))
	}
}

func TestEffectiveRateUserDelayWins(t *testing.T) {
	calc := testCalc(30) // 2000ms recommended delay

	tests := []struct {
		name    string
		antiBan AntiBanSettings
		want    int
	}{
		{"disabled settings keep planned rate", AntiBanSettings{MinDelaySeconds: 10}, 30},
		{"longer user delay slows the rate", AntiBanSettings{Enabled: true, MinDelaySeconds: 10}, 6},
		{"shorter user delay never speeds up", AntiBanSettings{Enabled: true, MinDelaySeconds: 1}, 30},
		{"very long delay floors at 1/min", AntiBanSettings{Enabled: true, MinDelaySeconds: 90}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveRate(calc, tt.antiBan); got != tt.want {
				t.Errorf("EffectiveRate = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNewEstimatorRejectsBadWindow(t *testing.T) {
	e := NewEstimator(Window{StartHour: 18, EndHour: 9})

	est := e.EstimateFrom(time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		segment.Audience{EffectiveCount: 1}, testCalc(1),
		AntiBanSettings{Enabled: true, BusinessHoursOnly: true})

	if est.DailyWindowMinutes != 540 {
		t.Errorf("DailyWindowMinutes = %d, want default 540", est.DailyWindowMinutes)
	}
}
