// Package remotedata implements the tri-state lattice used everywhere a value
// may come from the blockchain: Unknown (never looked up), Absent (looked up,
// does not exist) or Cached (looked up, has a value).
package remotedata

// State tags a RemoteData value.
type State uint8

const (
	// Unknown means the value has never been requested from any tier of the
	// cache. Unknown must never be persisted as a "the value is absent" answer.
	Unknown State = iota
	// Absent means the value was requested and the blockchain reports it does
	// not exist.
	Absent
	// Cached means a concrete value is known.
	Cached
)

// RemoteData represents "Unknown / Absent / Cached(v)" for any remote value.
// The zero value is Unknown.
type RemoteData[V any] struct {
	state State
	value V
}

// Of builds a Cached(v).
func Of[V any](v V) RemoteData[V] {
	return RemoteData[V]{state: Cached, value: v}
}

// AbsentValue builds an Absent.
func AbsentValue[V any]() RemoteData[V] {
	return RemoteData[V]{state: Absent}
}

// UnknownValue builds an Unknown.
func UnknownValue[V any]() RemoteData[V] {
	return RemoteData[V]{state: Unknown}
}

// Loaded reports whether self != Unknown, i.e. some answer (positive or
// negative) has already been obtained.
func (r RemoteData[V]) Loaded() bool {
	return r.state != Unknown
}

// IsAbsent reports whether the blockchain answered that the value does not
// exist.
func (r RemoteData[V]) IsAbsent() bool {
	return r.state == Absent
}

// IsCached reports whether a concrete value is known.
func (r RemoteData[V]) IsCached() bool {
	return r.state == Cached
}

// Value returns the cached value and whether one is present. Calling it on an
// Unknown or Absent RemoteData returns the zero value of V and false.
func (r RemoteData[V]) Value() (V, bool) {
	if r.state != Cached {
		var zero V
		return zero, false
	}
	return r.value, true
}

// Or returns self unless self is Unknown, in which case it returns other.
// This is the lattice join used to fall through the cache tiers: hot.Or(persistent.Or(blockchain)).
func (r RemoteData[V]) Or(other RemoteData[V]) RemoteData[V] {
	if r.state == Unknown {
		return other
	}
	return r
}

// ToOption converts to the "does a value exist" view used by storage
// layers that never expose Unknown to their callers (get always resolves
// Unknown before returning).
func (r RemoteData[V]) ToOption() (V, bool) {
	if r.state == Cached {
		return r.value, true
	}
	var zero V
	return zero, false
}

// Equal compares two RemoteData values for the purposes of change detection
// in append/rollback. eq is the value-equality predicate for V (comparable
// types may pass a simple == wrapper; structs should compare fields that
// matter for tag-emission). Unknown on either side compares equal to any
// value, so a first load is never reported as a change.
func Equal[V any](a, b RemoteData[V], eq func(x, y V) bool) bool {
	if a.state == Unknown || b.state == Unknown {
		return true
	}
	if a.state != b.state {
		return false
	}
	if a.state != Cached {
		return true
	}
	return eq(a.value, b.value)
}
