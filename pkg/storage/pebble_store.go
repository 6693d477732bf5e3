package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Store is the pebble-backed keyed store for ledger state.
// Thread-safe for pebble itself; callers serialize writers (see clob.Exchange).
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a pebble database at path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store on an in-memory filesystem (tests, dry runs).
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin starts a read-your-writes transaction backed by an indexed batch.
// Exactly one of Commit or Discard must be called.
func (s *Store) Begin() *Txn {
	return &Txn{b: s.db.NewIndexedBatch()}
}

// View runs fn against a throwaway transaction that is always discarded.
func (s *Store) View(fn func(*Txn) error) error {
	txn := s.Begin()
	defer txn.Discard()
	return fn(txn)
}

// Txn is a staged set of writes. Reads see the batch first, then the db.
type Txn struct {
	b    *pebble.Batch
	done bool
}

// Get returns the raw value for key, or (nil, false) when absent.
func (t *Txn) Get(key []byte) ([]byte, bool, error) {
	val, closer, err := t.b.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

// GetJSON decodes the value at key into v. Returns false if the key is absent.
func (t *Txn) GetJSON(key []byte, v any) (bool, error) {
	data, ok, err := t.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := decodeJSON(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Put stages a raw write.
func (t *Txn) Put(key, value []byte) error {
	if err := t.b.Set(key, value, nil); err != nil {
		return fmt.Errorf("failed to stage %s: %w", key, err)
	}
	return nil
}

// PutJSON stages v encoded as JSON under key.
func (t *Txn) PutJSON(key []byte, v any) error {
	data, err := encodeJSON(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return t.Put(key, data)
}

// Delete stages a deletion.
func (t *Txn) Delete(key []byte) error {
	if err := t.b.Delete(key, nil); err != nil {
		return fmt.Errorf("failed to stage delete %s: %w", key, err)
	}
	return nil
}

// Scan iterates all keys with the given prefix in key order.
// Returning an error from fn stops the scan and is returned as-is.
func (t *Txn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := t.b.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Commit applies the staged writes durably.
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	defer t.b.Close()
	if err := t.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Discard drops the staged writes. Safe to call after Commit.
func (t *Txn) Discard() {
	if t.done {
		return
	}
	t.done = true
	_ = t.b.Close()
}
