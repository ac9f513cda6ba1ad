package segment

import "strings"

// Phones longer than this many digits cannot be E.164 numbers.
const maxPhoneDigits = 14

// Resolve filters candidates against the criteria and computes the
// deliverable audience. It is a pure function: malformed phones degrade
// to "invalid" counts, never to an error, and an empty candidate list
// yields an all-zero audience.
func Resolve(criteria Criteria, candidates []Contact) Audience {
	audience, _, _ := resolve(criteria, candidates, 0)
	return audience
}

// Preview resolves the audience and additionally returns up to limit
// deliverable contacts in their original order, plus whether more
// deliverable contacts exist beyond the cap.
func Preview(criteria Criteria, candidates []Contact, limit int) (Audience, []Contact, bool) {
	if limit <= 0 {
		limit = 50
	}
	return resolve(criteria, candidates, limit)
}

func resolve(criteria Criteria, candidates []Contact, sampleLimit int) (Audience, []Contact, bool) {
	var audience Audience

	// Inactive criteria resolve to an empty audience by policy.
	if !criteria.Active() {
		return audience, nil, false
	}

	excluded := make(map[int]struct{}, len(criteria.ExcludedContactIDs))
	for _, id := range criteria.ExcludedContactIDs {
		excluded[id] = struct{}{}
	}

	// Deduplicate by normalized phone, first occurrence wins. Contacts
	// whose phone has no digits cannot collide, so each is kept as its
	// own (invalid) entry.
	seen := make(map[string]struct{})
	var sample []Contact
	hasMore := false

	for _, c := range candidates {
		if !matches(criteria, c) {
			continue
		}
		audience.TotalMatched++

		key := normalizePhone(c.Phone)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		audience.DeduplicatedCount++

		if _, ok := excluded[c.ID]; ok {
			audience.ExcludedCount++
			continue
		}
		if key == "" || len(key) > maxPhoneDigits {
			audience.InvalidPhoneCount++
			continue
		}

		if sampleLimit > 0 {
			if len(sample) < sampleLimit {
				sample = append(sample, c)
			} else {
				hasMore = true
			}
		}
	}

	audience.EffectiveCount = audience.DeduplicatedCount - audience.ExcludedCount - audience.InvalidPhoneCount
	if audience.EffectiveCount < 0 {
		audience.EffectiveCount = 0
	}

	return audience, sample, hasMore
}

// matches checks tag and date filters. An empty tag set means no tag
// filter; date bounds are open-ended when unset.
func matches(criteria Criteria, c Contact) bool {
	for _, want := range criteria.Tags {
		if !hasTag(c.Tags, want) {
			return false
		}
	}
	if criteria.CreatedAfter != nil && c.CreatedAt.Before(*criteria.CreatedAfter) {
		return false
	}
	if criteria.CreatedBefore != nil && c.CreatedAt.After(*criteria.CreatedBefore) {
		return false
	}
	return true
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// normalizePhone strips every non-digit character. The result is the
// deduplication key; an empty result marks the phone as undeliverable.
func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
