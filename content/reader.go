package content

import (
	"bytes"
	"io"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/warehouse"
)

/*
Open a stream of a ContentRef's bytes.

Each object is fetched (and verified by the store) as the stream
reaches it, so a chunked file is never held in memory all at once.
Errors surfacing from Read carry categories: `api.ErrNotFound` for
missing objects and `api.ErrCorruptData` for anything that doesn't
line up with the ref.
*/
func NewReader(store warehouse.Store, ref api.ContentRef) io.Reader {
	return &reader{store: store, ref: ref}
}

type reader struct {
	store warehouse.Store
	ref   api.ContentRef
	next  int           // index of the next chunk to fetch.
	cur   *bytes.Reader // current object's remaining bytes.
	read  int64
}

func (r *reader) Read(p []byte) (int, error) {
	for {
		if r.cur != nil && r.cur.Len() > 0 {
			n, _ := r.cur.Read(p)
			r.read += int64(n)
			return n, nil
		}
		data, err := r.fetchNext()
		if err != nil {
			return 0, err
		}
		r.cur = bytes.NewReader(data)
	}
}

func (r *reader) fetchNext() ([]byte, error) {
	switch r.ref.Kind {
	case api.ContentKind_Blob:
		if r.next > 0 {
			return nil, io.EOF
		}
		r.next++
		rec, err := r.store.Get(r.ref.Digest)
		if err != nil {
			return nil, err
		}
		if rec.Kind != api.ObjectKind_Blob {
			return nil, Errorf(api.ErrCorruptData, "object %s is a %s, expected a blob", r.ref.Digest, rec.Kind)
		}
		if int64(len(rec.Data)) != r.ref.Size {
			return nil, Errorf(api.ErrCorruptData, "blob %s is %d bytes, expected %d", r.ref.Digest, len(rec.Data), r.ref.Size)
		}
		return rec.Data, nil
	case api.ContentKind_Chunked:
		if r.next >= len(r.ref.Chunks) {
			if r.read != r.ref.Size {
				return nil, Errorf(api.ErrCorruptData, "chunked content %s is %d bytes, expected %d", r.ref.Digest, r.read, r.ref.Size)
			}
			return nil, io.EOF
		}
		cr := r.ref.Chunks[r.next]
		r.next++
		if cr.Offset != r.read {
			return nil, Errorf(api.ErrCorruptData, "chunk %s at offset %d, expected %d", cr.Digest, cr.Offset, r.read)
		}
		rec, err := r.store.Get(cr.Digest)
		if err != nil {
			return nil, err
		}
		if int64(len(rec.Data)) != cr.Length {
			return nil, Errorf(api.ErrCorruptData, "chunk %s is %d bytes, expected %d", cr.Digest, len(rec.Data), cr.Length)
		}
		return rec.Data, nil
	default:
		return nil, Errorf(api.ErrCorruptData, "unknown content kind %q", r.ref.Kind)
	}
}

/*
Check that every object a ContentRef names is present and intact,
and that a chunked ref agrees with its stored chunk index.
Doesn't re-read chunk payloads more than once each.
*/
func Verify(store warehouse.Store, ref api.ContentRef) error {
	if ref.Kind == api.ContentKind_Chunked {
		rec, err := store.Get(ref.Digest)
		if err != nil {
			return err
		}
		if rec.Kind != api.ObjectKind_ChunkIndex {
			return Errorf(api.ErrCorruptData, "object %s is a %s, expected a chunk index", ref.Digest, rec.Kind)
		}
		stored, err := warehouse.DecodeChunkIndex(ref.Digest, rec.Data)
		if err != nil {
			return err
		}
		if len(stored) != len(ref.Chunks) {
			return Errorf(api.ErrCorruptData, "chunk index %s lists %d chunks, expected %d", ref.Digest, len(stored), len(ref.Chunks))
		}
		for i := range stored {
			if stored[i] != ref.Chunks[i] {
				return Errorf(api.ErrCorruptData, "chunk index %s disagrees at chunk %d", ref.Digest, i)
			}
		}
	}
	_, err := io.Copy(io.Discard, NewReader(store, ref))
	return err
}
