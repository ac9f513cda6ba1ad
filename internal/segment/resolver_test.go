package segment

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testContacts() []Contact {
	return []Contact{
		{ID: 1, Name: "Ana", Phone: "+55 11 91234-5678", Tags: []string{"vip", "lead"}, CreatedAt: date(2024, 3, 1)},
		{ID: 2, Name: "Bruno", Phone: "5511912345678", Tags: []string{"vip"}, CreatedAt: date(2024, 3, 5)},
		{ID: 3, Name: "Carla", Phone: "+1 (202) 555-0147", Tags: []string{"vip", "lead"}, CreatedAt: date(2024, 4, 1)},
		{ID: 4, Name: "Dario", Phone: "not a phone", Tags: []string{"vip"}, CreatedAt: date(2024, 4, 2)},
		{ID: 5, Name: "Elisa", Phone: "123456789012345678", Tags: []string{"vip"}, CreatedAt: date(2024, 4, 3)},
		{ID: 6, Name: "Fabio", Phone: "+44 20 7946 0958", Tags: []string{"lead"}, CreatedAt: date(2024, 5, 1)},
	}
}

func TestResolveInactiveCriteriaIsEmpty(t *testing.T) {
	audience := Resolve(Criteria{}, testContacts())

	if audience.EffectiveCount != 0 {
		t.Errorf("EffectiveCount = %d, want 0", audience.EffectiveCount)
	}
	if audience.TotalMatched != 0 {
		t.Errorf("TotalMatched = %d, want 0", audience.TotalMatched)
	}

	// Exclusions alone do not activate a criteria set
	audience = Resolve(Criteria{ExcludedContactIDs: []int{1, 2}}, testContacts())
	if audience.EffectiveCount != 0 {
		t.Errorf("EffectiveCount with only exclusions = %d, want 0", audience.EffectiveCount)
	}
}

func TestResolveEmptyCandidates(t *testing.T) {
	audience := Resolve(Criteria{Tags: []string{"vip"}}, nil)

	if audience != (Audience{}) {
		t.Errorf("Resolve(nil candidates) = %+v, want all zeros", audience)
	}
}

func TestResolveTagAndDateFilter(t *testing.T) {
	after := date(2024, 3, 2)
	before := date(2024, 4, 30)

	tests := []struct {
		name        string
		criteria    Criteria
		wantMatched int
	}{
		{"all tags must match", Criteria{Tags: []string{"vip", "lead"}}, 2},
		{"single tag", Criteria{Tags: []string{"vip"}}, 5},
		{"date range", Criteria{CreatedAfter: &after, CreatedBefore: &before}, 4},
		{"tag plus open-ended after", Criteria{Tags: []string{"vip"}, CreatedAfter: &after}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audience := Resolve(tt.criteria, testContacts())
			if audience.TotalMatched != tt.wantMatched {
				t.Errorf("TotalMatched = %d, want %d", audience.TotalMatched, tt.wantMatched)
			}
		})
	}
}

func TestResolveDedupAndInvalidCounts(t *testing.T) {
	audience := Resolve(Criteria{Tags: []string{"vip"}}, testContacts())

	// Ana and Bruno share the normalized phone 5511912345678; Dario has
	// no digits, Elisa has 18 digits.
	if audience.TotalMatched != 5 {
		t.Errorf("TotalMatched = %d, want 5", audience.TotalMatched)
	}
	if audience.DeduplicatedCount != 4 {
		t.Errorf("DeduplicatedCount = %d, want 4", audience.DeduplicatedCount)
	}
	if audience.InvalidPhoneCount != 2 {
		t.Errorf("InvalidPhoneCount = %d, want 2", audience.InvalidPhoneCount)
	}
	if audience.EffectiveCount != 2 {
		t.Errorf("EffectiveCount = %d, want 2", audience.EffectiveCount)
	}
	if audience.EffectiveCount > audience.TotalMatched {
		t.Error("EffectiveCount exceeds TotalMatched")
	}
}

func TestResolveIdempotent(t *testing.T) {
	criteria := Criteria{Tags: []string{"vip"}, ExcludedContactIDs: []int{3}}
	contacts := testContacts()

	first := Resolve(criteria, contacts)
	second := Resolve(criteria, contacts)

	if first != second {
		t.Errorf("Resolve not idempotent: %+v vs %+v", first, second)
	}
}

func TestResolveExclusionsMonotonic(t *testing.T) {
	contacts := testContacts()
	prev := -1

	// Growing the exclusion set must never increase the deliverable count
	for i := 0; i <= len(contacts); i++ {
		ids := make([]int, 0, i)
		for id := 1; id <= i; id++ {
			ids = append(ids, id)
		}
		audience := Resolve(Criteria{Tags: []string{"vip"}, ExcludedContactIDs: ids}, contacts)
		if prev >= 0 && audience.EffectiveCount > prev {
			t.Errorf("EffectiveCount grew from %d to %d with %d exclusions", prev, audience.EffectiveCount, i)
		}
		prev = audience.EffectiveCount
	}
}

func TestResolveExcludedCount(t *testing.T) {
	audience := Resolve(Criteria{Tags: []string{"vip"}, ExcludedContactIDs: []int{1, 6, 99}}, testContacts())

	// Fabio (6) does not match the tag filter and 99 does not exist, so
	// only Ana counts as excluded.
	if audience.ExcludedCount != 1 {
		t.Errorf("ExcludedCount = %d, want 1", audience.ExcludedCount)
	}
	if audience.EffectiveCount != 1 {
		t.Errorf("EffectiveCount = %d, want 1", audience.EffectiveCount)
	}
}

func TestPreviewOrderAndCap(t *testing.T) {
	criteria := Criteria{Tags: []string{"vip"}}

	audience, sample, hasMore := Preview(criteria, testContacts(), 1)
	if audience.EffectiveCount != 2 {
		t.Fatalf("EffectiveCount = %d, want 2", audience.EffectiveCount)
	}
	if len(sample) != 1 {
		t.Fatalf("len(sample) = %d, want 1", len(sample))
	}
	// First occurrence wins: Ana was seen before Bruno
	if sample[0].ID != 1 {
		t.Errorf("sample[0].ID = %d, want 1", sample[0].ID)
	}
	if !hasMore {
		t.Error("hasMore = false, want true")
	}

	_, sample, hasMore = Preview(criteria, testContacts(), 10)
	if len(sample) != 2 {
		t.Errorf("len(sample) = %d, want 2", len(sample))
	}
	if hasMore {
		t.Error("hasMore = true, want false")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"+55 11 91234-5678", "5511912345678"},
		{"(202) 555-0147", "2025550147"},
		{"abc", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizePhone(tt.in); got != tt.want {
			t.Errorf("normalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
