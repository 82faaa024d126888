package waitlist

import "slices"

// Rank orders entries by priority descending, then creation time ascending
// so earlier requests win ties. The sort is stable and deterministic; Rank
// copies its input and never mutates the snapshot it was given.
func Rank(entries []WaitlistEntry) []WaitlistEntry {
	ranked := slices.Clone(entries)
	slices.SortStableFunc(ranked, func(a, b WaitlistEntry) int {
		if a.Priority != b.Priority {
			return b.Priority - a.Priority
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return ranked
}

// AdjustDirection is a manual priority nudge from the operator UI.
type AdjustDirection string

const (
	AdjustUp   AdjustDirection = "up"
	AdjustDown AdjustDirection = "down"
)

// Delta maps a direction to its priority change: +1 for up, -1 for down.
// The floor at zero is enforced by the store.
func (d AdjustDirection) Delta() int {
	if d == AdjustDown {
		return -1
	}
	return 1
}

func (d AdjustDirection) Valid() bool {
	return d == AdjustUp || d == AdjustDown
}
