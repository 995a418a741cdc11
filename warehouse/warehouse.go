/*
The warehouse is banyan's object store: an append-only, content-addressed
set of records keyed by the BLAKE3 digest of their (uncompressed) payload.

Puts are idempotent.  Putting a digest that's already present is a no-op,
and concurrent puts of the same digest converge on one stored record
(first writer wins; the others notice and do nothing).
Records are never mutated or removed once visible.

Durability: after `Sync` returns, every record put before the call is
on stable storage.  The repository calls `Sync` before committing any
manifest that references those records.
*/
package warehouse

import (
	"github.com/polydawn/banyan/api"
)

type Store interface {
	// Put stores data under digest.  The caller asserts the digest is
	// truthful; it's checked on every Get.
	Put(kind api.ObjectKind, digest api.Digest, data []byte) error

	// Get returns a record's payload, verified against its digest.
	// Errors: api.ErrNotFound, api.ErrCorruptData, api.ErrIO.
	Get(digest api.Digest) (Record, error)

	Contains(digest api.Digest) (bool, error)

	// Sync makes every prior Put durable.
	Sync() error
}

type Record struct {
	Kind api.ObjectKind
	Data []byte
}

/*
Discard is a Store that accepts every put and keeps nothing.
Use it to run an import as "scan only" -- it'll produce a layer ID
without saving any content anywhere.
*/
type Discard struct{}

var _ Store = Discard{}

func (Discard) Put(api.ObjectKind, api.Digest, []byte) error { return nil }
func (Discard) Contains(api.Digest) (bool, error)            { return false, nil }
func (Discard) Sync() error                                  { return nil }
func (Discard) Get(d api.Digest) (Record, error) {
	return Record{}, ErrNotFound(d)
}
