package persistent

import (
	"encoding/binary"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// HeaderCodec marshals/unmarshals a block header record.
type HeaderCodec[H any] struct {
	Marshal   func(H) ([]byte, error)
	Unmarshal func([]byte) (H, error)
}

// Headers is the persistent tier of BlockHeadersStorage. Unlike the
// height-versioned entity caches, headers are stored flat and dense from
// genesis: key = (TagBlockHeader, big-endian height), value = encoded header.
type Headers[H any] struct {
	store *Store
	codec HeaderCodec[H]
}

// NewHeaders builds the persistent header store.
func NewHeaders[H any](store *Store, codec HeaderCodec[H]) *Headers[H] {
	return &Headers[H]{store: store, codec: codec}
}

func headerKey(h uint64) []byte {
	buf := make([]byte, 1+heightSize)
	buf[0] = byte(TagBlockHeader)
	binary.BigEndian.PutUint64(buf[1:], h)
	return buf
}

// Put stores the header at height h into batch.
func (s *Headers[H]) Put(batch *Batch, h uint64, header H) error {
	encoded, err := s.codec.Marshal(header)
	if err != nil {
		return err
	}
	batch.put(headerKey(h), encoded)
	return nil
}

// Get returns the header at exactly height h, if present.
func (s *Headers[H]) Get(h uint64) (H, bool, error) {
	var zero H
	val, err := s.store.db.Get(headerKey(h), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, err
	}
	header, err := s.codec.Unmarshal(val)
	if err != nil {
		return zero, false, err
	}
	return header, true, nil
}

// GetLastHeight returns the greatest height with a stored header.
func (s *Headers[H]) GetLastHeight() (uint64, bool, error) {
	prefix := []byte{byte(TagBlockHeader)}
	iter := s.store.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	key := iter.Key()
	return binary.BigEndian.Uint64(key[1:]), true, nil
}

// GetRange returns every stored header with height in [from, to].
func (s *Headers[H]) GetRange(from, to uint64) ([]H, error) {
	start := headerKey(from)
	limit := headerKey(to + 1)
	iter := s.store.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()

	var out []H
	for iter.Next() {
		header, err := s.codec.Unmarshal(append([]byte{}, iter.Value()...))
		if err != nil {
			return nil, err
		}
		out = append(out, header)
	}
	return out, iter.Error()
}

// RemoveFrom deletes all headers with height >= h, accumulating into batch.
func (s *Headers[H]) RemoveFrom(batch *Batch, h uint64) error {
	start := headerKey(h)
	limit := upperBound([]byte{byte(TagBlockHeader)})
	iter := s.store.db.NewIterator(&util.Range{Start: start, Limit: limit}, nil)
	defer iter.Release()
	for iter.Next() {
		batch.delete(append([]byte{}, iter.Key()...))
	}
	return iter.Error()
}
