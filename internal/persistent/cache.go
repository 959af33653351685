package persistent

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
)

// Codec marshals/unmarshals values of type V to/from bytes for storage.
type Codec[V any] struct {
	Marshal   func(V) ([]byte, error)
	Unmarshal func([]byte) (V, error)
}

// Cache is a typed, height-indexed persistent cache over one Store, scoped to
// a single entity by EntityTag. K is encoded to bytes by keyOf.
type Cache[K any, V any] struct {
	store   *Store
	tag     EntityTag
	keyOf   func(K) []byte
	codec   Codec[V]
}

// NewCache builds a Cache for entity tag, encoding keys with keyOf.
func NewCache[K any, V any](store *Store, tag EntityTag, keyOf func(K) []byte, codec Codec[V]) *Cache[K, V] {
	return &Cache[K, V]{store: store, tag: tag, keyOf: keyOf, codec: codec}
}

// stored value layout: one marker byte (0 = Absent, 1 = Cached) followed by
// the marshaled payload when Cached. Unknown is never written; its key is
// simply absent from the database.
const (
	markerAbsent byte = 0
	markerCached byte = 1
)

func (c *Cache[K, V]) encodeValue(v remotedata.RemoteData[V]) ([]byte, error) {
	if v.IsAbsent() {
		return []byte{markerAbsent}, nil
	}
	val, ok := v.Value()
	if !ok {
		return nil, errors.New("persistent: refusing to store Unknown")
	}
	payload, err := c.codec.Marshal(val)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+len(payload))
	out = append(out, markerCached)
	out = append(out, payload...)
	return out, nil
}

func (c *Cache[K, V]) decodeValue(b []byte) (remotedata.RemoteData[V], error) {
	if len(b) == 0 {
		return remotedata.RemoteData[V]{}, errors.New("persistent: empty stored value")
	}
	switch b[0] {
	case markerAbsent:
		return remotedata.AbsentValue[V](), nil
	case markerCached:
		val, err := c.codec.Unmarshal(b[1:])
		if err != nil {
			return remotedata.RemoteData[V]{}, err
		}
		return remotedata.Of(val), nil
	default:
		return remotedata.RemoteData[V]{}, errors.New("persistent: unknown value marker")
	}
}

// Get returns the record with the greatest stored height <= hMax, or Unknown
// if none is stored.
func (c *Cache[K, V]) Get(hMax uint64, k K) (remotedata.RemoteData[V], error) {
	prefix := keyPrefix(c.tag, c.keyOf(k))
	start := prefix
	limit := append(append([]byte{}, prefix...), encodeHeight(hMax+1)...)

	iter := c.store.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return remotedata.RemoteData[V]{}, err
		}
		return remotedata.UnknownValue[V](), nil
	}
	value := append([]byte{}, iter.Value()...)
	return c.decodeValue(value)
}

// Set appends a record at height h to batch. It is legal to overwrite an
// existing (k,h) record; last write into the batch wins.
func (c *Cache[K, V]) Set(batch *Batch, h uint64, k K, v remotedata.RemoteData[V]) error {
	encoded, err := c.encodeValue(v)
	if err != nil {
		return err
	}
	batch.put(versionedKey(c.tag, c.keyOf(k), h), encoded)
	return nil
}

// SetDirect is Set without a batch, for one-off warm-up writes (e.g. loading
// activatedFeatures once at startup) that do not need to join an event's
// atomic batch.
func (c *Cache[K, V]) SetDirect(h uint64, k K, v remotedata.RemoteData[V]) error {
	encoded, err := c.encodeValue(v)
	if err != nil {
		return err
	}
	return c.store.db.Put(versionedKey(c.tag, c.keyOf(k), h), encoded, nil)
}

// Remove deletes all records for k with height >= hFrom, accumulating the
// deletes into batch, and returns the record a subsequent read at hFrom-1
// would see (the pre-remove top).
func (c *Cache[K, V]) Remove(batch *Batch, hFrom uint64, k K) (remotedata.RemoteData[V], error) {
	var pre remotedata.RemoteData[V]
	if hFrom == 0 {
		pre = remotedata.UnknownValue[V]()
	} else {
		var err error
		pre, err = c.Get(hFrom-1, k)
		if err != nil {
			return remotedata.RemoteData[V]{}, err
		}
	}

	keyBytes := c.keyOf(k)
	prefix := keyPrefix(c.tag, keyBytes)
	start := append(append([]byte{}, prefix...), encodeHeight(hFrom)...)
	limit := upperBound(prefix)

	rng := &util.Range{Start: start, Limit: limit}
	iter := c.store.db.NewIterator(rng, nil)
	defer iter.Release()
	for iter.Next() {
		batch.delete(append([]byte{}, iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return remotedata.RemoteData[V]{}, err
	}
	return pre, nil
}

// RemoveDirect is Remove applied immediately (used by tests and by callers
// outside the per-event batch discipline).
func (c *Cache[K, V]) RemoveDirect(hFrom uint64, k K) (remotedata.RemoteData[V], error) {
	batch := c.store.NewBatch()
	pre, err := c.Remove(batch, hFrom, k)
	if err != nil {
		return remotedata.RemoteData[V]{}, err
	}
	if err := c.store.Commit(batch); err != nil {
		return remotedata.RemoteData[V]{}, err
	}
	return pre, nil
}
