package persistent

import (
	"encoding/binary"
	"testing"

	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
)

func intCodec() Codec[int64] {
	return Codec[int64]{
		Marshal: func(v int64) ([]byte, error) {
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, uint64(v))
			return buf, nil
		},
		Unmarshal: func(b []byte) (int64, error) {
			return int64(binary.BigEndian.Uint64(b)), nil
		},
	}
}

func stringKey(s string) []byte { return []byte(s) }

func newTestCache(t *testing.T) (*Store, *Cache[string, int64]) {
	t.Helper()
	store, err := OpenMem()
	if err != nil {
		t.Fatalf("OpenMem: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cache := NewCache[string, int64](store, TagAccountBalance, stringKey, intCodec())
	return store, cache
}

func TestGetUnknownWhenNothingStored(t *testing.T) {
	_, cache := newTestCache(t)
	got, err := cache.Get(100, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Loaded() {
		t.Fatalf("expected Unknown, got %v", got)
	}
}

func TestGetReturnsGreatestHeightLessOrEqual(t *testing.T) {
	store, cache := newTestCache(t)
	batch := store.NewBatch()
	if err := cache.Set(batch, 5, "alice", remotedata.Of(int64(10))); err != nil {
		t.Fatal(err)
	}
	if err := cache.Set(batch, 10, "alice", remotedata.Of(int64(20))); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatal(err)
	}

	got, err := cache.Get(7, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got.Value(); !ok || v != 10 {
		t.Fatalf("Get(7) = %v, want 10", got)
	}

	got, err = cache.Get(10, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got.Value(); !ok || v != 20 {
		t.Fatalf("Get(10) = %v, want 20", got)
	}

	got, err = cache.Get(4, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got.Loaded() {
		t.Fatalf("Get(4) = %v, want Unknown", got)
	}
}

func TestRemoveStripsHeightsAboveThreshold(t *testing.T) {
	store, cache := newTestCache(t)
	batch := store.NewBatch()
	cache.Set(batch, 5, "alice", remotedata.Of(int64(10)))
	cache.Set(batch, 10, "alice", remotedata.Of(int64(20)))
	cache.Set(batch, 15, "alice", remotedata.Of(int64(30)))
	if err := store.Commit(batch); err != nil {
		t.Fatal(err)
	}

	pre, err := cache.RemoveDirect(10, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := pre.Value(); !ok || v != 10 {
		t.Fatalf("pre-remove top = %v, want 10", pre)
	}

	got, err := cache.Get(100, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := got.Value(); !ok || v != 10 {
		t.Fatalf("after remove, Get(100) = %v, want 10 (heights >=10 stripped)", got)
	}
}

func TestAbsentRoundTrips(t *testing.T) {
	store, cache := newTestCache(t)
	batch := store.NewBatch()
	if err := cache.Set(batch, 1, "bob", remotedata.AbsentValue[int64]()); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatal(err)
	}
	got, err := cache.Get(5, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsAbsent() {
		t.Fatalf("expected Absent, got %v", got)
	}
}
