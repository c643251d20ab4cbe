package pagination

import "github.com/Sternrassler/scrollfeed/pkg/record"

// State is the paginator state.
type State int

const (
	// StateIdle accepts Advance. It is also the state before the record set arrives.
	StateIdle State = iota

	// StateLoading means a batch reveal is in flight.
	StateLoading

	// StateExhausted is terminal: every record has been revealed.
	StateExhausted

	// StateFailed is terminal: the record set could not be fetched.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent view of a paginator at one version.
// Revealed aliases the immutable full set and has its capacity clipped,
// so it is safe to keep and read but not to append to in place.
type Snapshot struct {
	State          State
	Revealed       []record.Record
	Cursor         int
	Total          int
	InitialLoading bool
	Err            error

	// Version increases with every change. Notifications from concurrent
	// changes may arrive out of order; consumers keep the highest version.
	Version uint64
}

// Loading reports whether a batch reveal is in flight.
func (s Snapshot) Loading() bool {
	return s.State == StateLoading
}

// Remaining is the number of records not yet revealed.
func (s Snapshot) Remaining() int {
	return s.Total - s.Cursor
}

// HasMore reports whether Advance could reveal another batch.
func (s Snapshot) HasMore() bool {
	return s.Cursor < s.Total
}
