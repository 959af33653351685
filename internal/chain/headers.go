package chain

import (
	"sync"

	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/wavesplatform/ride-evaluator/internal/persistent"
)

const headerCacheLimit = 512

// HeadersStorage is BlockHeadersStorage: an in-memory last-N-headers cache
// over the persistent, dense-from-genesis header store. Authoritative height
// is the last applied header's height.
type HeadersStorage struct {
	mu      sync.Mutex
	hot     *lru.Cache[Height, BlockHeaderRecord]
	persist *persistent.Headers[BlockHeaderRecord]
	dataAPI DataAPI

	lastHeight Height
	hasLast    bool
}

func NewHeadersStorage(store *persistent.Store, dataAPI DataAPI) *HeadersStorage {
	codec := persistent.HeaderCodec[BlockHeaderRecord]{
		Marshal:   func(v BlockHeaderRecord) ([]byte, error) { return rlp.EncodeToBytes(toRLPHeader(v)) },
		Unmarshal: func(b []byte) (BlockHeaderRecord, error) {
			var r rlpBlockHeaderRecord
			if err := rlp.DecodeBytes(b, &r); err != nil {
				return BlockHeaderRecord{}, err
			}
			return fromRLPHeader(r), nil
		},
	}
	return &HeadersStorage{
		hot:     lru.NewCache[Height, BlockHeaderRecord](headerCacheLimit),
		persist: persistent.NewHeaders[BlockHeaderRecord](store, codec),
		dataAPI: dataAPI,
	}
}

// Put records the header implied by an applied event, at height h.
func (s *HeadersStorage) Put(batch *persistent.Batch, h Height, record BlockHeaderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist.Put(batch, h, record); err != nil {
		return err
	}
	s.hot.Add(h, record)
	if !s.hasLast || h > s.lastHeight {
		s.lastHeight = h
		s.hasLast = true
	}
	return nil
}

// RemoveFrom trims every header with height >= h, e.g. on rollback.
func (s *HeadersStorage) RemoveFrom(batch *persistent.Batch, h Height) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persist.RemoveFrom(batch, h); err != nil {
		return err
	}
	for height := h; height <= s.lastHeight; height++ {
		s.hot.Remove(height)
	}
	if s.hasLast && h <= s.lastHeight {
		if h == 0 {
			s.hasLast = false
			s.lastHeight = 0
		} else {
			s.lastHeight = h - 1
			s.hasLast = true
		}
	}
	return nil
}

// LastHeight is the authoritative current height.
func (s *HeadersStorage) LastHeight() (Height, bool, error) {
	s.mu.Lock()
	if s.hasLast {
		h := s.lastHeight
		s.mu.Unlock()
		return h, true, nil
	}
	s.mu.Unlock()

	h, ok, err := s.persist.GetLastHeight()
	if err != nil {
		return 0, false, err
	}
	if ok {
		s.mu.Lock()
		s.lastHeight, s.hasLast = h, true
		s.mu.Unlock()
	}
	return h, ok, nil
}

// GetUntagged returns the header at height h, from hot, persistent, or the
// blockchain API in that order.
func (s *HeadersStorage) GetUntagged(h Height) (BlockHeaderRecord, bool, error) {
	s.mu.Lock()
	if v, ok := s.hot.Get(h); ok {
		s.mu.Unlock()
		return v, true, nil
	}
	s.mu.Unlock()

	if rec, ok, err := s.persist.Get(h); err != nil {
		return BlockHeaderRecord{}, false, err
	} else if ok {
		s.mu.Lock()
		s.hot.Add(h, rec)
		s.mu.Unlock()
		return rec, true, nil
	}

	data, err := s.dataAPI.BlockHeader(h)
	if err != nil {
		return BlockHeaderRecord{}, false, err
	}
	v, ok := data.Value()
	if ok {
		s.mu.Lock()
		s.hot.Add(h, v)
		s.mu.Unlock()
	}
	return v, ok, nil
}

// GetRange returns every header in [from, to], consulting persistent storage
// directly; the hot cache is not read or populated.
func (s *HeadersStorage) GetRange(from, to Height) ([]BlockHeaderRecord, error) {
	return s.persist.GetRange(from, to)
}

type rlpBlockHeaderRecord struct {
	ID        []byte
	Height    uint64
	Timestamp uint64
	Generator []byte
	Signature []byte
	HitSource []byte
}

func toRLPHeader(v BlockHeaderRecord) rlpBlockHeaderRecord {
	return rlpBlockHeaderRecord{
		ID:        v.Header.ID[:],
		Height:    uint64(v.Header.Height),
		Timestamp: uint64(v.Header.Timestamp),
		Generator: v.Header.Generator[:],
		Signature: v.Header.Signature[:],
		HitSource: v.HitSource[:],
	}
}

func fromRLPHeader(r rlpBlockHeaderRecord) BlockHeaderRecord {
	var out BlockHeaderRecord
	copy(out.Header.ID[:], r.ID)
	out.Header.Height = r.Height
	out.Header.Timestamp = int64(r.Timestamp)
	copy(out.Header.Generator[:], r.Generator)
	copy(out.Header.Signature[:], r.Signature)
	copy(out.HitSource[:], r.HitSource)
	return out
}
