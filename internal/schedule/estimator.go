package schedule

import (
	"time"

	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/segment"
)

// Mode selects how cautiously the anti-ban heuristics behave.
type Mode string

const (
	ModeConservative Mode = "conservative"
	ModeModerate     Mode = "moderate"
	ModeAggressive   Mode = "aggressive"
)

// AntiBanSettings are user-tunable pacing overrides layered on top of
// the planner's computed defaults. Explicit user values always take
// precedence over computed recommendations.
type AntiBanSettings struct {
	Enabled               bool `json:"enabled" yaml:"enabled"`
	Mode                  Mode `json:"mode" yaml:"mode"`
	BusinessHoursOnly     bool `json:"business_hours_only" yaml:"business_hours_only"`
	RespectWeekends       bool `json:"respect_weekends" yaml:"respect_weekends"`
	MinDelaySeconds       int  `json:"min_delay_seconds" yaml:"min_delay_seconds"`
	MaxDelaySeconds       int  `json:"max_delay_seconds" yaml:"max_delay_seconds"`
	AccountRotation       bool `json:"account_rotation" yaml:"account_rotation"`
	CooldownPeriodMinutes int  `json:"cooldown_period_minutes" yaml:"cooldown_period_minutes"`
	MessageVariation      bool `json:"message_variation" yaml:"message_variation"`
}

// Window is the daily business-hours sending window, in local hours.
// Real deployments tune this per customer/region, so it is config, not
// a literal.
type Window struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// Minutes returns the window span in minutes.
func (w Window) Minutes() int {
	return (w.EndHour - w.StartHour) * 60
}

// DefaultWindow is the 09:00-18:00 block used when config is silent.
func DefaultWindow() Window {
	return Window{StartHour: 9, EndHour: 18}
}

// DayPlan is one slice of the projected sending plan.
type DayPlan struct {
	Date    time.Time `json:"date"`
	Planned int       `json:"planned"`
}

// Estimate projects when a campaign completes. It is advisory: the
// dispatcher owns real-time pacing and may deviate.
type Estimate struct {
	DailyWindowMinutes         int       `json:"daily_window_minutes"`
	PerDayCapacity             int       `json:"per_day_capacity"`
	EstimatedBusinessDays      int       `json:"estimated_business_days"`
	EffectiveMessagesPerMinute int       `json:"effective_messages_per_minute"`
	Days                       []DayPlan `json:"days"`
}

// Estimator composes resolved audiences with rate plans and anti-ban
// constraints. Pure and safe for concurrent use.
type Estimator struct {
	window Window
}

// NewEstimator creates an estimator with the given business-hours
// window. An empty or inverted window falls back to the default.
func NewEstimator(window Window) *Estimator {
	if window.Minutes() <= 0 || window.StartHour < 0 || window.EndHour > 24 {
		window = DefaultWindow()
	}
	return &Estimator{window: window}
}

// Estimate projects the sending plan starting now.
func (e *Estimator) Estimate(audience segment.Audience, calc planner.Calculation, antiBan AntiBanSettings) Estimate {
	return e.EstimateFrom(time.Now(), audience, calc, antiBan)
}

// EstimateFrom projects the sending plan from an explicit start time,
// which keeps the computation deterministic for callers and tests.
func (e *Estimator) EstimateFrom(start time.Time, audience segment.Audience, calc planner.Calculation, antiBan AntiBanSettings) Estimate {
	rate := EffectiveRate(calc, antiBan)

	window := 24 * 60
	if antiBan.Enabled && antiBan.BusinessHoursOnly {
		window = e.window.Minutes()
	}

	est := Estimate{
		DailyWindowMinutes:         window,
		PerDayCapacity:             rate * window,
		EffectiveMessagesPerMinute: rate,
	}

	remaining := audience.EffectiveCount
	if remaining <= 0 || est.PerDayCapacity <= 0 {
		return est
	}

	skipWeekends := antiBan.Enabled && antiBan.RespectWeekends
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())

	for remaining > 0 {
		if skipWeekends && isWeekend(day) {
			day = day.AddDate(0, 0, 1)
			continue
		}
		planned := est.PerDayCapacity
		if planned > remaining {
			planned = remaining
		}
		est.Days = append(est.Days, DayPlan{Date: day, Planned: planned})
		remaining -= planned
		day = day.AddDate(0, 0, 1)
	}

	est.EstimatedBusinessDays = len(est.Days)
	return est
}

// EffectiveRate applies anti-ban delay overrides to the planned rate.
// A user minimum delay longer than the recommended delay slows the
// effective rate; the estimator never speeds a plan up.
func EffectiveRate(calc planner.Calculation, antiBan AntiBanSettings) int {
	rate := calc.RecommendedMessagesPerMinute
	if rate < 1 {
		rate = 1
	}
	if antiBan.Enabled && antiBan.MinDelaySeconds > 0 {
		userDelayMs := antiBan.MinDelaySeconds * 1000
		if userDelayMs > calc.RecommendedDelayMs {
			rate = 60 / antiBan.MinDelaySeconds
			if rate < 1 {
				rate = 1
			}
		}
	}
	return rate
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
