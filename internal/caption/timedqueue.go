package caption

import "time"

// TimedQueue holds values in insertion order together with the time they
// were pushed, so old entries can be pruned by age.
type TimedQueue[T any] struct {
	entries []timedEntry[T]
}

type timedEntry[T any] struct {
	value T
	at    time.Time
}

// Push appends v stamped with at.
func (q *TimedQueue[T]) Push(v T, at time.Time) {
	q.entries = append(q.entries, timedEntry[T]{value: v, at: at})
}

// PruneOlderThan drops every entry pushed more than ttl before now and
// returns how many were removed. Entries are not assumed to be sorted.
func (q *TimedQueue[T]) PruneOlderThan(now time.Time, ttl time.Duration) int {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if now.Sub(e.at) <= ttl {
			kept = append(kept, e)
		}
	}

	removed := len(q.entries) - len(kept)
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = timedEntry[T]{}
	}
	q.entries = kept
	return removed
}

// Values returns the live values, oldest first.
func (q *TimedQueue[T]) Values() []T {
	out := make([]T, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.value
	}
	return out
}

// Len returns the number of live entries.
func (q *TimedQueue[T]) Len() int {
	return len(q.entries)
}

// Clear removes all entries.
func (q *TimedQueue[T]) Clear() {
	q.entries = nil
}
