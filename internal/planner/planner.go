package planner

import (
	"fmt"
	"math"

	"github.com/crmkit/pacer/internal/channel"
)

// Priority is the caller's urgency hint. On high-risk channels it
// barely moves the needle: ban risk dominates urgency.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Request holds the inputs for one planning run.
type Request struct {
	ChannelType    channel.Type `json:"channel_type"`
	RecipientCount int          `json:"recipient_count"`
	AccountCount   int          `json:"account_count"`
	Priority       Priority     `json:"priority"`
}

// Calculation is the planning result. It is advisory: the dispatcher
// owns real-time pacing and may send slower, never faster.
type Calculation struct {
	RecommendedMessagesPerMinute int             `json:"recommended_messages_per_minute"`
	RecommendedDelayMs           int             `json:"recommended_delay_ms"`
	EstimatedCompletionMinutes   float64         `json:"estimated_completion_minutes"`
	SafetyFactor                 float64         `json:"safety_factor"`
	ChannelLimits                channel.Profile `json:"channel_limits"`
	Warnings                     []string        `json:"warnings"`
}

// Concentration risk threshold: one account on a high-risk channel
// should not carry a larger audience than this alone.
const singleAccountRiskThreshold = 500

// SafetyFactors maps ban risk and priority to the multiplier applied
// to the channel's raw per-minute ceiling. Tunable from config.
type SafetyFactors struct {
	LowRisk  map[Priority]float64 `yaml:"low_risk"`
	HighRisk map[Priority]float64 `yaml:"high_risk"`
}

// DefaultSafetyFactors returns the built-in factors: official channels
// may run near full throughput, unofficial channels stay at or below
// 0.3 regardless of priority.
func DefaultSafetyFactors() SafetyFactors {
	return SafetyFactors{
		LowRisk: map[Priority]float64{
			PriorityLow:    0.8,
			PriorityMedium: 0.9,
			PriorityHigh:   1.0,
		},
		HighRisk: map[Priority]float64{
			PriorityLow:    0.2,
			PriorityMedium: 0.25,
			PriorityHigh:   0.3,
		},
	}
}

// Planner computes conservative send-rate recommendations. It is pure
// and safe for concurrent use.
type Planner struct {
	registry *channel.Registry
	factors  SafetyFactors
}

// New creates a planner. Zero-valued factors fall back to the
// built-in defaults.
func New(registry *channel.Registry, factors SafetyFactors) *Planner {
	defaults := DefaultSafetyFactors()
	if len(factors.LowRisk) == 0 {
		factors.LowRisk = defaults.LowRisk
	}
	if len(factors.HighRisk) == 0 {
		factors.HighRisk = defaults.HighRisk
	}
	return &Planner{registry: registry, factors: factors}
}

// Plan computes the recommended rate for the request. It is a total
// function: malformed input degrades to conservative defaults, never
// to an error.
func (p *Planner) Plan(req Request) Calculation {
	profile := p.registry.Lookup(req.ChannelType)

	accounts := req.AccountCount
	if accounts < 1 {
		accounts = 1
	}
	recipients := req.RecipientCount
	if recipients < 0 {
		recipients = 0
	}

	safety := p.safetyFactor(profile.BanRisk, req.Priority)

	// Each account may run at the safety-scaled base rate; the pool as
	// a whole must stay under the platform-wide per-minute ceiling.
	base := float64(profile.MaxMessagesPerMinute) * safety
	rate := int(math.Floor(base * float64(accounts)))
	if rate > profile.MaxMessagesPerMinute {
		rate = profile.MaxMessagesPerMinute
	}
	if rate < 1 {
		rate = 1
	}

	calc := Calculation{
		RecommendedMessagesPerMinute: rate,
		RecommendedDelayMs:           int(math.Ceil(60000 / float64(rate))),
		SafetyFactor:                 safety,
		ChannelLimits:                profile,
		Warnings:                     []string{},
	}

	if recipients == 0 {
		return calc
	}

	calc.EstimatedCompletionMinutes = math.Ceil(float64(recipients) / float64(rate))

	if profile.BanRisk == channel.RiskHigh {
		if calc.EstimatedCompletionMinutes > 24*60 || recipients > profile.MaxMessagesPerDay {
			calc.Warnings = append(calc.Warnings,
				fmt.Sprintf("%d recipients cannot be reached within one day at %d msgs/min on a high-risk channel; the send will span multiple days", recipients, rate))
		}
		if req.AccountCount <= 1 && recipients > singleAccountRiskThreshold {
			calc.Warnings = append(calc.Warnings,
				fmt.Sprintf("sending %d messages from a single account concentrates ban risk; add more sending accounts", recipients))
		}
		if req.Priority == PriorityHigh {
			calc.Warnings = append(calc.Warnings,
				"high priority conflicts with safety on a high-risk channel; the rate stays conservative")
		}
	}

	return calc
}

func (p *Planner) safetyFactor(risk channel.RiskClass, priority Priority) float64 {
	table := p.factors.LowRisk
	if risk == channel.RiskHigh {
		table = p.factors.HighRisk
	}
	if f, ok := table[priority]; ok && f > 0 && f <= 1 {
		return f
	}
	// Unknown priority takes the medium row
	if f, ok := table[PriorityMedium]; ok && f > 0 && f <= 1 {
		return f
	}
	return 0.25
}

// Fingerprint identifies the material inputs of a calculation. A
// stored plan is stale once the fingerprint of fresh inputs differs;
// callers must recompute rather than reuse the cached plan.
func (r Request) Fingerprint() string {
	accounts := r.AccountCount
	if accounts < 1 {
		accounts = 1
	}
	return fmt.Sprintf("%s|%d|%d", r.ChannelType, r.RecipientCount, accounts)
}
