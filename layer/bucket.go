/*
Package layer assembles the entries found by a traversal into an
immutable, canonically ordered manifest, and knows how to hash,
encode, decode, and overlay such manifests.
*/
package layer

import (
	"sort"
	"sync"

	. "github.com/warpfork/go-errcat"
	"github.com/zeebo/xxh3"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
)

/*
Record is one path in a layer: its metadata, plus for regular files
a reference to the content.  Records are immutable once added.
*/
type Record struct {
	fs.Metadata
	Content *api.ContentRef // nil for everything but regular files.
}

const shardCount = 64

/*
Bucket collects records while many workers add to it at once,
in whatever order they discover things.  Order is imposed once,
at the end, by `Sorted`.

Records are spread across shards by a hash of their path,
so workers rarely contend for the same lock.
*/
type Bucket struct {
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	records map[fs.RelPath]Record
}

func NewBucket() *Bucket {
	b := &Bucket{}
	for i := range b.shards {
		b.shards[i].records = make(map[fs.RelPath]Record)
	}
	return b
}

/*
Add a record.  Each path may be added only once;
a second record for the same path is an `api.ErrCorruptData` error
(a traversal that visits a path twice is broken).
*/
func (b *Bucket) Add(r Record) error {
	s := &b.shards[xxh3.HashString(r.Name.String())%shardCount]
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[r.Name]; exists {
		return Errorf(api.ErrCorruptData, "duplicate entry for path %q", r.Name)
	}
	s.records[r.Name] = r
	return nil
}

func (b *Bucket) Len() int {
	n := 0
	for i := range b.shards {
		b.shards[i].mu.Lock()
		n += len(b.shards[i].records)
		b.shards[i].mu.Unlock()
	}
	return n
}

/*
Return every record in canonical path order.
The root (".") must be present, and sorts first.
*/
func (b *Bucket) Sorted() ([]Record, error) {
	records := make([]Record, 0, b.Len())
	for i := range b.shards {
		b.shards[i].mu.Lock()
		for _, r := range b.shards[i].records {
			records = append(records, r)
		}
		b.shards[i].mu.Unlock()
	}
	SortRecords(records)
	if len(records) == 0 || records[0].Name != (fs.RelPath{}) {
		return nil, Errorf(api.ErrCorruptData, "layer has no root entry")
	}
	return records, nil
}

func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name.Compare(records[j].Name) < 0
	})
}
