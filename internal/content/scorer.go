package content

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/crmkit/pacer/internal/channel"
)

// MessageType distinguishes pre-approved template messages from
// free-form text.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeTemplate MessageType = "template"
)

// Result is the outcome of scoring one piece of content. Issues are
// hard problems that make the content invalid; warnings are soft
// problems that only lower the score.
type Result struct {
	Score          int      `json:"score"`
	IsValid        bool     `json:"is_valid"`
	Issues         []string `json:"issues"`
	Warnings       []string `json:"warnings"`
	CharacterCount int      `json:"character_count"`
	EmojiCount     int      `json:"emoji_count"`
	URLCount       int      `json:"url_count"`
	VariableCount  int      `json:"variable_count"`
}

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	variablePattern = regexp.MustCompile(`\{\{\d+\}\}`)
)

// shortenerHosts are URL shortening services that platform spam
// filters treat as a red flag.
var shortenerHosts = []string{"bit.ly", "tinyurl", "t.co", "short.link"}

// spamPhrases is the marketing-spam trigger lexicon, matched
// case-insensitively as substrings.
var spamPhrases = []string{
	"free money",
	"click here",
	"limited time",
	"act now",
	"100% free",
	"winner",
	"congratulations",
	"urgent",
	"guaranteed",
	"no risk",
	"double your",
	"earn money fast",
	"claim your prize",
}

// Scorer scores message content against platform anti-spam heuristics.
// Scoring is deterministic and channel-type-aware; it never errors on
// arbitrary input.
type Scorer struct {
	registry *channel.Registry
	phrases  []string
}

// NewScorer creates a scorer backed by the given channel profile
// registry. Extra phrases extend the built-in spam lexicon; duplicates
// are dropped so a phrase is never penalized twice.
func NewScorer(registry *channel.Registry, extraPhrases []string) *Scorer {
	phrases := make([]string, 0, len(spamPhrases)+len(extraPhrases))
	seen := make(map[string]struct{}, len(spamPhrases)+len(extraPhrases))
	for _, p := range spamPhrases {
		phrases = append(phrases, p)
		seen[p] = struct{}{}
	}
	for _, p := range extraPhrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		phrases = append(phrases, p)
	}
	return &Scorer{registry: registry, phrases: phrases}
}

// Score rates the content from 100 down, subtracting penalties per
// finding and flooring at 0. Only the hard length limit produces an
// issue; everything else is a warning.
func (s *Scorer) Score(content string, channelType channel.Type, messageType MessageType) Result {
	profile := s.registry.Lookup(channelType)

	runes := []rune(content)
	urls := urlPattern.FindAllString(content, -1)

	r := Result{
		Score:          100,
		Issues:         []string{},
		Warnings:       []string{},
		CharacterCount: len(runes),
		EmojiCount:     countEmoji(runes),
		URLCount:       len(urls),
		VariableCount:  len(variablePattern.FindAllString(content, -1)),
	}

	maxLen := profile.MaxMessageLength
	if r.CharacterCount > maxLen {
		r.Issues = append(r.Issues, fmt.Sprintf("content exceeds the channel limit of %d characters", maxLen))
		r.Score -= 30
	} else if r.CharacterCount > maxLen*9/10 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("content is close to the channel limit of %d characters", maxLen))
		r.Score -= 5
	}

	if r.EmojiCount > 50 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("heavy emoji use (%d) looks like spam to platform filters", r.EmojiCount))
		r.Score -= 10
	}

	if r.URLCount > 3 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d links in one message is a spam signal", r.URLCount))
		r.Score -= 15
	}
	if hasShortener(urls) {
		r.Warnings = append(r.Warnings, "shortened URLs are frequently flagged by anti-spam systems")
		r.Score -= 10
	}

	if matched := s.matchPhrases(content); len(matched) > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("spam trigger phrases found: %s", strings.Join(matched, ", ")))
		r.Score -= 5 * len(matched)
	}

	// Unofficial channels get banned for patterns official APIs tolerate
	if profile.BanRisk == channel.RiskHigh {
		if r.CharacterCount > 1000 {
			r.Warnings = append(r.Warnings, "long messages increase ban risk on unofficial channels")
			r.Score -= 10
		}
		if r.URLCount > 1 {
			r.Warnings = append(r.Warnings, "multiple links increase ban risk on unofficial channels")
			r.Score -= 10
		}
	}

	// Only the official WhatsApp API has approved templates worth the
	// personalization nudge
	if messageType == MessageTypeTemplate && channelType == channel.TypeWhatsApp && r.VariableCount == 0 {
		r.Warnings = append(r.Warnings, "template message has no personalization variables")
		r.Score -= 5
	}

	if r.Score < 0 {
		r.Score = 0
	}
	r.IsValid = len(r.Issues) == 0

	return r
}

// Merge combines a locally computed result with one from a server-side
// validator. The more conservative score always wins (min of the two)
// and issue/warning lists are unioned, per the documented contract.
func Merge(local, server Result) Result {
	merged := local
	if server.Score < merged.Score {
		merged.Score = server.Score
	}
	merged.Issues = append(append([]string{}, local.Issues...), server.Issues...)
	merged.Warnings = append(append([]string{}, local.Warnings...), server.Warnings...)
	merged.IsValid = len(merged.Issues) == 0
	return merged
}

func (s *Scorer) matchPhrases(content string) []string {
	lower := strings.ToLower(content)
	var matched []string
	for _, phrase := range s.phrases {
		if strings.Contains(lower, phrase) {
			matched = append(matched, phrase)
		}
	}
	return matched
}

func hasShortener(urls []string) bool {
	for _, raw := range urls {
		host := raw
		if u, err := url.Parse(strings.TrimRight(raw, ".,;:!?)")); err == nil && u.Host != "" {
			host = u.Host
		}
		host = strings.ToLower(host)
		for _, shortener := range shortenerHosts {
			if strings.Contains(host, shortener) {
				return true
			}
		}
	}
	return false
}

// countEmoji counts runes in the Unicode blocks commonly used as emoji:
// symbols and pictographs, emoticons, transport, supplemental symbols,
// dingbats, misc symbols and regional indicators.
func countEmoji(runes []rune) int {
	count := 0
	for _, r := range runes {
		switch {
		case r >= 0x1F300 && r <= 0x1F5FF, // symbols & pictographs
			r >= 0x1F600 && r <= 0x1F64F, // emoticons
			r >= 0x1F680 && r <= 0x1F6FF, // transport & map
			r >= 0x1F900 && r <= 0x1F9FF, // supplemental symbols
			r >= 0x1FA70 && r <= 0x1FAFF, // extended-A
			r >= 0x2600 && r <= 0x26FF, // misc symbols
			r >= 0x2700 && r <= 0x27BF, // dingbats
			r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicators
			count++
		}
	}
	return count
}
