// Package tagged implements the per-entity hot cache (C3): a map of key to
// RemoteData that additionally tracks, for every key, the set of request tags
// that have read it, so that a mutation can report exactly which requests
// must be re-evaluated.
package tagged

import (
	"sync"

	"github.com/ethereum/go-ethereum/metrics"

	"github.com/wavesplatform/ride-evaluator/internal/persistent"
	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
)

// TagSet is the set of request tags dependent on one key.
type TagSet[Tag comparable] map[Tag]struct{}

// AffectedTags is the delta of tags that must be re-evaluated after a
// mutation. A nil/empty set means the mutation did not change the effective
// value and nothing needs re-running.
type AffectedTags[Tag comparable] map[Tag]struct{}

func (a AffectedTags[Tag]) merge(other AffectedTags[Tag]) {
	for t := range other {
		a[t] = struct{}{}
	}
}

// BlockchainLoader answers a cache miss that falls all the way through to the
// opaque point-lookup data API.
type BlockchainLoader[K any, V any] func(k K) (remotedata.RemoteData[V], error)

// Storage is ExactWithHeightStorage<K,V,Tag>: the hot tier over one
// persistent.Cache.
type Storage[K comparable, V any, Tag comparable] struct {
	mu sync.Mutex

	hot  map[K]remotedata.RemoteData[V]
	tags map[K]TagSet[Tag]

	persistentCache *persistent.Cache[K, V]
	loader          BlockchainLoader[K, V]
	equal           func(a, b V) bool

	name      string
	sizeGauge metrics.Gauge
}

// New builds a Storage backed by persistentCache, falling back to loader on a
// persistent-cache miss. equal is used for change detection in Append/undo.
func New[K comparable, V any, Tag comparable](name string, persistentCache *persistent.Cache[K, V], loader BlockchainLoader[K, V], equal func(a, b V) bool) *Storage[K, V, Tag] {
	return &Storage[K, V, Tag]{
		hot:             make(map[K]remotedata.RemoteData[V]),
		tags:            make(map[K]TagSet[Tag]),
		persistentCache: persistentCache,
		loader:          loader,
		equal:           equal,
		name:            name,
		sizeGauge:       metrics.NewRegisteredGauge("tagged/"+name+"/size", nil),
	}
}

// resolve returns the RemoteData for k at height h, populating both tiers on
// the way back per invariant I1. Callers must hold s.mu.
func (s *Storage[K, V, Tag]) resolve(h uint64, k K) (remotedata.RemoteData[V], error) {
	if hot, ok := s.hot[k]; ok && hot.Loaded() {
		return hot, nil
	}

	persisted, err := s.persistentCache.Get(h, k)
	if err != nil {
		return remotedata.RemoteData[V]{}, err
	}
	if persisted.Loaded() {
		s.hot[k] = persisted
		s.sizeGauge.Update(int64(len(s.hot)))
		return persisted, nil
	}

	fromChain, err := s.loader(k)
	if err != nil {
		return remotedata.RemoteData[V]{}, err
	}
	s.hot[k] = fromChain
	s.sizeGauge.Update(int64(len(s.hot)))
	if fromChain.Loaded() {
		if err := s.persistentCache.SetDirect(h, k, fromChain); err != nil {
			return remotedata.RemoteData[V]{}, err
		}
	}
	return fromChain, nil
}

// Get loads the value for k as of height h, tagging k with tag, and returns
// the value if one exists.
func (s *Storage[K, V, Tag]) Get(h uint64, k K, tag Tag) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.resolve(h, k)
	if err != nil {
		var zero V
		return zero, false, err
	}
	s.addTagLocked(k, tag)
	v, ok := data.Value()
	return v, ok, nil
}

// GetUntagged is Get without registering a dependency.
func (s *Storage[K, V, Tag]) GetUntagged(h uint64, k K) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.resolve(h, k)
	if err != nil {
		var zero V
		return zero, false, err
	}
	v, ok := data.Value()
	return v, ok, nil
}

func (s *Storage[K, V, Tag]) addTagLocked(k K, tag Tag) {
	set, ok := s.tags[k]
	if !ok {
		set = make(TagSet[Tag])
		s.tags[k] = set
	}
	set[tag] = struct{}{}
}

// tagsOfLocked returns T(k), or an empty set if k has never been read.
func (s *Storage[K, V, Tag]) tagsOfLocked(k K) AffectedTags[Tag] {
	set := s.tags[k]
	if len(set) == 0 {
		return nil
	}
	out := make(AffectedTags[Tag], len(set))
	for t := range set {
		out[t] = struct{}{}
	}
	return out
}

// Append writes Cached(vNew) to hot+persistent at h and returns T(k) if the
// stored value actually changed. A first load (prev == Unknown) compares
// equal to any value (see remotedata.Equal) and so is not treated as a
// change: no tags are returned for it.
func (s *Storage[K, V, Tag]) Append(batch *persistent.Batch, h uint64, k K, vNew V) (AffectedTags[Tag], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.hot[k]
	if !ok {
		// Hot is silent on this key; consult persistent so an unknown-in-hot
		// append still compares against the last known value.
		persisted, err := s.persistentCache.Get(h, k)
		if err != nil {
			return nil, err
		}
		prev = persisted
	}

	next := remotedata.Of(vNew)
	changed := !remotedata.Equal(prev, next, s.equal)

	s.hot[k] = next
	s.sizeGauge.Update(int64(len(s.hot)))
	if err := s.persistentCache.Set(batch, h, k, next); err != nil {
		return nil, err
	}

	if !changed {
		return nil, nil
	}
	return s.tagsOfLocked(k), nil
}

// AppendAbsent is Append for a mutation that removes the value (e.g. an
// entry deletion observed in a state update).
func (s *Storage[K, V, Tag]) AppendAbsent(batch *persistent.Batch, h uint64, k K) (AffectedTags[Tag], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.hot[k]
	if !ok {
		persisted, err := s.persistentCache.Get(h, k)
		if err != nil {
			return nil, err
		}
		prev = persisted
	}

	next := remotedata.AbsentValue[V]()
	changed := !remotedata.Equal(prev, next, s.equal)

	s.hot[k] = next
	s.sizeGauge.Update(int64(len(s.hot)))
	if err := s.persistentCache.Set(batch, h, k, next); err != nil {
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return s.tagsOfLocked(k), nil
}

// UndoAppend undoes a single block/micro-block append for k: removes the
// persistent records at heights >= h and evicts k from hot, so the next read
// falls through to what remains in persistent.
func (s *Storage[K, V, Tag]) UndoAppend(batch *persistent.Batch, h uint64, k K) (AffectedTags[Tag], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadHot := s.hot[k]
	restored, err := s.persistentCache.Remove(batch, h, k)
	if err != nil {
		return nil, err
	}

	delete(s.hot, k)
	s.sizeGauge.Update(int64(len(s.hot)))

	if !hadHot {
		prev, err = s.persistentCache.Get(h, k)
		if err != nil {
			return nil, err
		}
	}

	changed := !remotedata.Equal(prev, restored, s.equal)
	if !changed {
		return nil, nil
	}
	return s.tagsOfLocked(k), nil
}

// Rollback applies the authoritative post-rollback value delivered by the
// update stream: strips persistent records above hTo, writes vAfter at hTo,
// and refreshes hot.
func (s *Storage[K, V, Tag]) Rollback(batch *persistent.Batch, hTo uint64, k K, vAfter remotedata.RemoteData[V]) (AffectedTags[Tag], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.hot[k]
	if !ok {
		persisted, err := s.persistentCache.Get(hTo+1, k)
		if err != nil {
			return nil, err
		}
		prev = persisted
	}

	if _, err := s.persistentCache.Remove(batch, hTo+1, k); err != nil {
		return nil, err
	}
	if err := s.persistentCache.Set(batch, hTo, k, vAfter); err != nil {
		return nil, err
	}

	s.hot[k] = vAfter
	s.sizeGauge.Update(int64(len(s.hot)))

	changed := !remotedata.Equal(prev, vAfter, s.equal)
	if !changed {
		return nil, nil
	}
	return s.tagsOfLocked(k), nil
}

// RemoveFrom evicts the hot entries for keys, so the next read of each falls
// through to persistent again. Hot entries are not height aware, so each
// listed key is evicted whatever its height; tag sets and the persistent
// tier are left untouched.
func (s *Storage[K, V, Tag]) RemoveFrom(keys []K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.hot, k)
	}
	s.sizeGauge.Update(int64(len(s.hot)))
}
