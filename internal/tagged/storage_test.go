package tagged

import (
	"encoding/binary"
	"testing"

	"github.com/wavesplatform/ride-evaluator/internal/persistent"
	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
)

func int64Codec() persistent.Codec[int64] {
	return persistent.Codec[int64]{
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

func newStorageUnderTest(t *testing.T) (*persistent.Store, *Storage[string, int64, string]) {
	t.Helper()
	store, err := persistent.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	pcache := persistent.NewCache[string, int64](store, persistent.TagAccountBalance, func(s string) []byte { return []byte(s) }, int64Codec())
	loader := func(k string) (remotedata.RemoteData[int64], error) {
		return remotedata.AbsentValue[int64](), nil
	}
	storage := New[string, int64, string]("test", pcache, loader, func(a, b int64) bool { return a == b })
	return store, storage
}

func TestGetTagsKeyAndFallsThroughToLoader(t *testing.T) {
	_, s := newStorageUnderTest(t)
	_, ok, err := s.Get(1, "alice", "req1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected absent from loader")
	}
	if _, has := s.tags["alice"]["req1"]; !has {
		t.Fatal("expected req1 tagged on alice after Get")
	}
}

func TestAppendReportsAffectedTagsOnlyOnChange(t *testing.T) {
	store, s := newStorageUnderTest(t)

	// First read establishes dependency (Unknown -> Absent, not a "change").
	if _, _, err := s.Get(1, "alice", "req1"); err != nil {
		t.Fatal(err)
	}

	batch := store.NewBatch()
	affected, err := s.Append(batch, 2, "alice", 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatal(err)
	}
	if _, ok := affected["req1"]; !ok {
		t.Fatalf("expected req1 in affected tags, got %v", affected)
	}

	// Re-appending the identical value must not re-emit the tag.
	batch = store.NewBatch()
	affected, err = s.Append(batch, 3, "alice", 100)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatal(err)
	}
	if len(affected) != 0 {
		t.Fatalf("expected no affected tags on identical re-append, got %v", affected)
	}
}

func TestUndoAppendRestoresPriorValue(t *testing.T) {
	store, s := newStorageUnderTest(t)
	if _, _, err := s.Get(1, "alice", "req1"); err != nil {
		t.Fatal(err)
	}

	batch := store.NewBatch()
	if _, err := s.Append(batch, 2, "alice", 100); err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatal(err)
	}

	batch = store.NewBatch()
	affected, err := s.UndoAppend(batch, 2, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Commit(batch); err != nil {
		t.Fatal(err)
	}
	if _, ok := affected["req1"]; !ok {
		t.Fatalf("expected req1 affected by undo, got %v", affected)
	}

	v, ok, err := s.GetUntagged(10, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected value gone after undo, got %v", v)
	}
}

func TestRollbackAppliesAuthoritativeValue(t *testing.T) {
	store, s := newStorageUnderTest(t)
	if _, _, err := s.Get(1, "alice", "req1"); err != nil {
		t.Fatal(err)
	}
	batch := store.NewBatch()
	s.Append(batch, 2, "alice", 100)
	s.Append(batch, 3, "alice", 200)
	store.Commit(batch)

	batch = store.NewBatch()
	affected, err := s.Rollback(batch, 2, "alice", remotedata.Of(int64(100)))
	if err != nil {
		t.Fatal(err)
	}
	store.Commit(batch)
	if _, ok := affected["req1"]; !ok {
		t.Fatalf("expected req1 affected by rollback, got %v", affected)
	}

	v, ok, err := s.GetUntagged(100, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != 100 {
		t.Fatalf("after rollback GetUntagged = %v, %v, want 100, true", v, ok)
	}
}
