package syncqueue

import "time"

// Eligible reports whether an item may be picked for execution right now:
// pending items always, retry items once their backoff deadline has passed.
func Eligible(item *Item, now time.Time) bool {
	switch item.Status {
	case StatusPending:
		return true
	case StatusRetry:
		return item.NextRetryAt != nil && !item.NextRetryAt.After(now)
	default:
		return false
	}
}

// Compare defines the total selection order over queue items:
// ascending priority ordinal, then pending before retry within a priority,
// then oldest first. It is deterministic so repeated sorts are stable.
func Compare(a, b *Item) int {
	if a.Priority != b.Priority {
		if a.Priority < b.Priority {
			return -1
		}
		return 1
	}
	if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
		return ra - rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	}
	return 0
}

// statusRank orders fresh pending items ahead of backed-off retry items so a
// new operation of equal priority is tried before one that already failed.
func statusRank(status Status) int {
	if status == StatusRetry {
		return 1
	}
	return 0
}

// nextEligible returns the highest-ranked eligible item, or nil. The scan is
// recomputed on every call so items enqueued mid-drain are considered.
func nextEligible(items []*Item, now time.Time) *Item {
	var best *Item
	for _, item := range items {
		if !Eligible(item, now) {
			continue
		}
		if best == nil || Compare(item, best) < 0 {
			best = item
		}
	}
	return best
}
