package remotedata

import "testing"

func eqInt(a, b int) bool { return a == b }

func TestOrFallsThroughUnknownOnly(t *testing.T) {
	unknown := UnknownValue[int]()
	absent := AbsentValue[int]()
	cached := Of(42)

	if got := unknown.Or(cached); got != cached {
		t.Fatalf("unknown.Or(cached) = %v, want %v", got, cached)
	}
	if got := absent.Or(cached); got != absent {
		t.Fatalf("absent.Or(cached) = %v, want %v", got, absent)
	}
	if got := cached.Or(absent); got != cached {
		t.Fatalf("cached.Or(absent) = %v, want %v", got, cached)
	}
}

func TestLoadedAndValue(t *testing.T) {
	if UnknownValue[int]().Loaded() {
		t.Fatal("unknown should not be loaded")
	}
	if !AbsentValue[int]().Loaded() {
		t.Fatal("absent should be loaded")
	}
	if !Of(7).Loaded() {
		t.Fatal("cached should be loaded")
	}
	if v, ok := Of(7).Value(); !ok || v != 7 {
		t.Fatalf("Value() = %v, %v, want 7, true", v, ok)
	}
	if _, ok := AbsentValue[int]().Value(); ok {
		t.Fatal("absent value should not report ok")
	}
}

func TestEqualTreatsUnknownAsWildcard(t *testing.T) {
	unknown := UnknownValue[int]()
	cached := Of(1)
	if !Equal(unknown, cached, eqInt) {
		t.Fatal("unknown must compare equal to any value to suppress first-load tag emission")
	}
	if Equal(AbsentValue[int](), cached, eqInt) {
		t.Fatal("absent -> cached must be treated as a change")
	}
	if !Equal(Of(5), Of(5), eqInt) {
		t.Fatal("equal cached values must compare equal")
	}
	if Equal(Of(5), Of(6), eqInt) {
		t.Fatal("differing cached values must not compare equal")
	}
}
