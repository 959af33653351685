// Package persistent implements the typed, height-indexed key-value caches
// (C2) that back every hot in-memory cache in internal/tagged and
// internal/chain. All entities share one ordered byte map (a goleveldb
// database), keyed so that every version of a logical key is contiguous and a
// seek-then-step-back yields the effective value at a given height.
package persistent

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Store owns the single on-disk leveldb database shared by every entity
// cache, plus the file lock guarding it against a second instance opening the
// same directory (the blockchain-updates stream assumes exclusive ownership
// of the projection it is replaying into).
type Store struct {
	db   *leveldb.DB
	lock *flock.Flock
	path string
}

// Open opens (creating if absent) the leveldb database at dir, after taking
// an exclusive advisory lock on dir+"/LOCK" so a second sidecar process
// pointed at the same data directory fails fast instead of corrupting state.
func Open(dir string, cacheSizeMB, maxOpenFiles int) (*Store, error) {
	lock := flock.New(dir + "/LOCK")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("persistent: acquiring lock on %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("persistent: %s is already locked by another process", dir)
	}

	opts := &opt.Options{
		OpenFilesCacheCapacity: maxOpenFiles,
		BlockCacheCapacity:     cacheSizeMB * opt.MiB,
		WriteBuffer:            4 * opt.MiB,
	}
	db, err := leveldb.OpenFile(dir, opts)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("persistent: opening %s: %w", dir, err)
	}

	log.Info("Opened persistent cache", "dir", dir, "cacheMB", cacheSizeMB)
	return &Store{db: db, lock: lock, path: dir}, nil
}

// OpenMem builds a Store backed by an in-memory leveldb, for tests that
// exercise the height-versioned cache semantics without touching disk.
func OpenMem() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close flushes and releases the database and its lock file.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}
	return err
}

// NewBatch starts an atomic write batch. Every cache mutation performed while
// processing a single blockchain-updates event should be accumulated into one
// batch and committed once, per spec.md's "best-effort persistent writes
// within one batched transaction per event".
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: new(leveldb.Batch)}
}

// Commit atomically applies every write accumulated in b.
func (s *Store) Commit(b *Batch) error {
	if b.batch.Len() == 0 {
		return nil
	}
	return s.db.Write(b.batch, nil)
}

// Batch accumulates Put/Delete operations across several Cache instances so
// that one event's worth of state-update application lands in the database
// atomically, or not at all.
type Batch struct {
	batch *leveldb.Batch
}

func (b *Batch) put(key, value []byte) { b.batch.Put(key, value) }
func (b *Batch) delete(key []byte)     { b.batch.Delete(key) }

// GetBytes/PutBytes expose the raw byte map directly, for small
// out-of-band records (e.g. internal/health's shutdown marker) that don't
// fit the height-versioned entity model the rest of this package provides.
func (s *Store) GetBytes(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) PutBytes(key, value []byte) error {
	return s.db.Put(key, value, nil)
}
