package segment

import "time"

// Contact is a read-only contact record owned by the external contact
// store. Candidates are passed in by the caller; this package never
// fetches them.
type Contact struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	Phone          string     `json:"phone"`
	Email          string     `json:"email,omitempty"`
	Tags           []string   `json:"tags"`
	CreatedAt      time.Time  `json:"created_at"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
}

// Criteria describes an audience filter. A criteria set with no tags
// and no date bounds is inactive and resolves to an empty audience by
// policy, never to "everyone".
type Criteria struct {
	Tags               []string   `json:"tags,omitempty"`
	CreatedAfter       *time.Time `json:"created_after,omitempty"`
	CreatedBefore      *time.Time `json:"created_before,omitempty"`
	ExcludedContactIDs []int      `json:"excluded_contact_ids,omitempty"`
}

// Active reports whether the criteria select anything at all.
func (c Criteria) Active() bool {
	return len(c.Tags) > 0 || c.CreatedAfter != nil || c.CreatedBefore != nil
}

// Audience holds the resolved segment counts.
// EffectiveCount = DeduplicatedCount - ExcludedCount - InvalidPhoneCount,
// floored at 0, and never exceeds TotalMatched.
type Audience struct {
	TotalMatched      int `json:"total_matched"`
	DeduplicatedCount int `json:"deduplicated_count"`
	InvalidPhoneCount int `json:"invalid_phone_count"`
	ExcludedCount     int `json:"excluded_count"`
	EffectiveCount    int `json:"effective_count"`
}
