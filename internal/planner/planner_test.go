package planner

import (
	"math"
	"strings"
	"testing"

	"github.com/crmkit/pacer/internal/channel"
)

func newTestPlanner() *Planner {
	return New(channel.NewRegistry("test", nil), SafetyFactors{})
}

func TestPlanOfficialHighPriorityNearCeiling(t *testing.T) {
	p := newTestPlanner()

	calc := p.Plan(Request{
		ChannelType:    channel.TypeWhatsApp,
		RecipientCount: 10000,
		AccountCount:   5,
		Priority:       PriorityHigh,
	})

	ceiling := calc.ChannelLimits.MaxMessagesPerMinute
	if calc.RecommendedMessagesPerMinute != ceiling {
		t.Errorf("RecommendedMessagesPerMinute = %d, want ceiling %d", calc.RecommendedMessagesPerMinute, ceiling)
	}
	if calc.SafetyFactor != 1.0 {
		t.Errorf("SafetyFactor = %v, want 1.0", calc.SafetyFactor)
	}
	if len(calc.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none on a low-risk channel", calc.Warnings)
	}
}

func TestPlanUnofficialSingleAccountHighPriority(t *testing.T) {
	p := newTestPlanner()

	calc := p.Plan(Request{
		ChannelType:    channel.TypeWhatsAppWeb,
		RecipientCount: 10000,
		AccountCount:   1,
		Priority:       PriorityHigh,
	})

	if calc.SafetyFactor > 0.3 {
		t.Errorf("SafetyFactor = %v, want <= 0.3 on a high-risk channel", calc.SafetyFactor)
	}
	if calc.RecommendedMessagesPerMinute >= calc.ChannelLimits.MaxMessagesPerMinute {
		t.Errorf("RecommendedMessagesPerMinute = %d, want well below ceiling %d",
			calc.RecommendedMessagesPerMinute, calc.ChannelLimits.MaxMessagesPerMinute)
	}

	var hasMultiDay, hasConcentration, hasConflict bool
	for _, w := range calc.Warnings {
		switch {
		case strings.Contains(w, "span multiple days"):
			hasMultiDay = true
		case strings.Contains(w, "single account"):
			hasConcentration = true
		case strings.Contains(w, "conflicts with safety"):
			hasConflict = true
		}
	}
	if !hasConcentration {
		t.Errorf("Warnings = %v, want concentration risk flagged", calc.Warnings)
	}
	if !hasConflict {
		t.Errorf("Warnings = %v, want priority/safety conflict flagged", calc.Warnings)
	}
	if !hasMultiDay {
		t.Errorf("Warnings = %v, want multi-day send flagged", calc.Warnings)
	}
}

func TestPlanAccountScalingCappedAtCeiling(t *testing.T) {
	p := newTestPlanner()

	one := p.Plan(Request{ChannelType: channel.TypeWhatsAppWeb, RecipientCount: 100, AccountCount: 1, Priority: PriorityMedium})
	two := p.Plan(Request{ChannelType: channel.TypeWhatsAppWeb, RecipientCount: 100, AccountCount: 2, Priority: PriorityMedium})
	many := p.Plan(Request{ChannelType: channel.TypeWhatsAppWeb, RecipientCount: 100, AccountCount: 100, Priority: PriorityMedium})

	if two.RecommendedMessagesPerMinute <= one.RecommendedMessagesPerMinute {
		t.Errorf("rate with 2 accounts (%d) should exceed rate with 1 (%d)",
			two.RecommendedMessagesPerMinute, one.RecommendedMessagesPerMinute)
	}
	if many.RecommendedMessagesPerMinute > many.ChannelLimits.MaxMessagesPerMinute {
		t.Errorf("rate with 100 accounts = %d exceeds channel ceiling %d",
			many.RecommendedMessagesPerMinute, many.ChannelLimits.MaxMessagesPerMinute)
	}
}

func TestPlanZeroRecipients(t *testing.T) {
	p := newTestPlanner()

	calc := p.Plan(Request{ChannelType: channel.TypeWhatsAppWeb, RecipientCount: 0, AccountCount: 1, Priority: PriorityHigh})

	if calc.EstimatedCompletionMinutes != 0 {
		t.Errorf("EstimatedCompletionMinutes = %v, want 0", calc.EstimatedCompletionMinutes)
	}
	if len(calc.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none for an empty audience", calc.Warnings)
	}
}

func TestPlanDegradedInputs(t *testing.T) {
	p := newTestPlanner()

	// Unknown channel, zero accounts, negative recipients: everything
	// degrades to the conservative fallback, never to a panic or zero rate
	calc := p.Plan(Request{ChannelType: "smoke_signals", RecipientCount: -5, AccountCount: 0, Priority: "asap"})

	if calc.RecommendedMessagesPerMinute < 1 {
		t.Errorf("RecommendedMessagesPerMinute = %d, want >= 1", calc.RecommendedMessagesPerMinute)
	}
	if calc.ChannelLimits.BanRisk != channel.RiskHigh {
		t.Errorf("BanRisk = %q, want conservative fallback", calc.ChannelLimits.BanRisk)
	}
	if calc.EstimatedCompletionMinutes != 0 {
		t.Errorf("EstimatedCompletionMinutes = %v, want 0", calc.EstimatedCompletionMinutes)
	}
}

func TestPlanDelayRoundTrip(t *testing.T) {
	p := newTestPlanner()

	reqs := []Request{
		{ChannelType: channel.TypeWhatsApp, RecipientCount: 1000, AccountCount: 2, Priority: PriorityMedium},
		{ChannelType: channel.TypeWhatsAppWeb, RecipientCount: 1000, AccountCount: 1, Priority: PriorityLow},
		{ChannelType: channel.TypeSMS, RecipientCount: 50000, AccountCount: 3, Priority: PriorityHigh},
		{ChannelType: channel.TypeTelegram, RecipientCount: 10, AccountCount: 1, Priority: PriorityMedium},
	}

	for _, req := range reqs {
		calc := p.Plan(req)
		recovered := 60000 / float64(calc.RecommendedDelayMs)
		if math.Abs(recovered-float64(calc.RecommendedMessagesPerMinute)) > 1 {
			t.Errorf("%s: 60000/%dms = %.2f, want within 1 of %d msgs/min",
				req.ChannelType, calc.RecommendedDelayMs, recovered, calc.RecommendedMessagesPerMinute)
		}
	}
}

func TestPlanCompletionEstimate(t *testing.T) {
	p := newTestPlanner()

	calc := p.Plan(Request{ChannelType: channel.TypeWhatsApp, RecipientCount: 90, AccountCount: 5, Priority: PriorityHigh})

	// 90 recipients at 60/min rounds up to 2 minutes
	if calc.EstimatedCompletionMinutes != 2 {
		t.Errorf("EstimatedCompletionMinutes = %v, want 2", calc.EstimatedCompletionMinutes)
	}
}

func TestRequestFingerprint(t *testing.T) {
	a := Request{ChannelType: channel.TypeWhatsApp, RecipientCount: 100, AccountCount: 2, Priority: PriorityLow}
	b := a
	b.Priority = PriorityHigh

	// Priority is not a material input to staleness
	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("fingerprints differ on priority only: %q vs %q", a.Fingerprint(), b.Fingerprint())
	}

	c := a
	c.RecipientCount = 101
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("fingerprint must change when the audience size changes")
	}

	d := a
	d.AccountCount = 0
	e := a
	e.AccountCount = 1
	if d.Fingerprint() != e.Fingerprint() {
		t.Error("account count should be clamped before fingerprinting")
	}
}
