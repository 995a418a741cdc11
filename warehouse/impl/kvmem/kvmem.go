/*
An in-memory object store.

Records are held encoded, exactly as kvfs would write them,
so reads go through the same decode and verification path.
Used for dry-run imports and in tests.
*/
package kvmem

import (
	"sync"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/warehouse"
)

var _ warehouse.Store = &Store{}

type Store struct {
	compression warehouse.Compression

	mu      sync.RWMutex
	records map[api.Digest][]byte
}

func New(compression warehouse.Compression) *Store {
	return &Store{
		compression: compression,
		records:     make(map[api.Digest][]byte),
	}
}

func (s *Store) Put(kind api.ObjectKind, digest api.Digest, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[digest]; exists {
		return nil
	}
	s.records[digest] = warehouse.EncodeRecord(kind, data, s.compression)
	return nil
}

func (s *Store) Get(digest api.Digest) (warehouse.Record, error) {
	s.mu.RLock()
	bs, exists := s.records[digest]
	s.mu.RUnlock()
	if !exists {
		return warehouse.Record{}, warehouse.ErrNotFound(digest)
	}
	return warehouse.DecodeRecord(digest, bs)
}

func (s *Store) Contains(digest api.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.records[digest]
	return exists, nil
}

func (s *Store) Sync() error { return nil }

// Len returns the number of distinct records stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Digests lists every stored digest, in no particular order.
func (s *Store) Digests() []api.Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Digest, 0, len(s.records))
	for d := range s.records {
		out = append(out, d)
	}
	return out
}

// Corrupt flips a byte in a stored record.  For testing verification.
func (s *Store) Corrupt(digest api.Digest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs := append([]byte(nil), s.records[digest]...)
	bs[len(bs)-1] ^= 0xff
	s.records[digest] = bs
}
