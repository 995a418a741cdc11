/*
Package content turns file bytes into objects in a warehouse,
and back again.

Files shorter than the repository's small-file threshold become a single
blob object.  Anything longer is split into chunks, each stored as its
own blob, plus one chunk-index object listing them in order.
Which shape a file gets depends only on its actual length,
never on what the caller guessed it would be,
so identical bytes always produce an identical ContentRef.
*/
package content

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"

	"github.com/restic/chunker"
	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"
	"github.com/zeebo/blake3"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/bufpool"
	"github.com/polydawn/banyan/warehouse"
)

type Ingester struct {
	Store  warehouse.Store
	Pool   *bufpool.Pool // buffers must be at least Params.WindowSize.
	Params Params
	Log    logrus.FieldLogger

	stats Stats
}

type Stats struct {
	ObjectsWritten atomic.Int64 // objects this ingester put.
	ObjectsReused  atomic.Int64 // objects that were already present.
	BytesWritten   atomic.Int64 // raw payload bytes of objects put.
}

func (ing *Ingester) Stats() *Stats { return &ing.stats }

/*
Read `r` to the end, store its content, and return a reference to it.

`sizeHint` is what the caller expects the length to be (typically from
a stat); it's advisory.  A file that grew or shrank since it was stat'ed
is stored as what was actually read.

Errors:

  - `api.ErrIO` -- if reading or storing fails
  - `api.ErrCancelled` -- if the context ends partway
  - `api.ErrUsage` -- if the pool's buffers are too small for these params
*/
func (ing *Ingester) Ingest(ctx context.Context, r io.Reader, sizeHint int64) (api.ContentRef, error) {
	buf, err := ing.Pool.Acquire(ctx, ing.Params.WindowSize())
	if err != nil {
		return api.ContentRef{}, err
	}
	defer buf.Release()
	window := buf.Bytes()

	// Read up to the threshold.  Coming up short means it's a blob.
	front := window[:ing.Params.SmallFileThreshold]
	n, err := io.ReadFull(r, front)
	switch err {
	case nil:
		// Filled it.  Not a small file.
	case io.EOF, io.ErrUnexpectedEOF:
		if int64(n) != sizeHint && ing.Log != nil {
			ing.Log.WithFields(logrus.Fields{"expected": sizeHint, "actual": n}).Debug("file size changed during read")
		}
		d := api.DigestOf(front[:n])
		if err := ing.store(api.ObjectKind_Blob, d, front[:n]); err != nil {
			return api.ContentRef{}, err
		}
		return api.ContentRef{Kind: api.ContentKind_Blob, Digest: d, Size: int64(n)}, nil
	default:
		return api.ContentRef{}, Errorf(api.ErrIO, "error reading file: %s", err)
	}

	// Chunk the front followed by the rest of the stream.
	//  It keeps the start of the window; chunks are cut into the remainder.
	stream := io.MultiReader(bytes.NewReader(front), r)
	dst := window[len(front):]
	var next func() ([]byte, error)
	switch ing.Params.Mode {
	case Mode_Fixed:
		next = fixedChunker(stream, dst[:ing.Params.ChunkSize])
	case Mode_CDC:
		next = cdcChunker(stream, dst, ing.Params)
	default:
		return api.ContentRef{}, Errorf(api.ErrUsage, "unknown chunking mode %q", ing.Params.Mode)
	}

	hasher := blake3.New()
	var chunks []api.ChunkRef
	var offset int64
	for {
		if ctx.Err() != nil {
			return api.ContentRef{}, Errorf(api.ErrCancelled, "ingest cancelled")
		}
		chunk, err := next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return api.ContentRef{}, Errorf(api.ErrIO, "error reading file: %s", err)
		}
		hasher.Reset()
		hasher.Write(chunk)
		var d api.Digest
		hasher.Sum(d[:0])
		if err := ing.store(api.ObjectKind_Blob, d, chunk); err != nil {
			return api.ContentRef{}, err
		}
		chunks = append(chunks, api.ChunkRef{Digest: d, Offset: offset, Length: int64(len(chunk))})
		offset += int64(len(chunk))
	}
	if offset != sizeHint && ing.Log != nil {
		ing.Log.WithFields(logrus.Fields{"expected": sizeHint, "actual": offset}).Debug("file size changed during read")
	}

	// The index goes last: once it's present, everything it names is too.
	index, err := warehouse.EncodeChunkIndex(chunks)
	if err != nil {
		return api.ContentRef{}, Errorf(api.ErrIO, "cannot encode chunk index: %s", err)
	}
	d := api.ObjectDigest(api.ObjectKind_ChunkIndex, index)
	if err := ing.store(api.ObjectKind_ChunkIndex, d, index); err != nil {
		return api.ContentRef{}, err
	}
	return api.ContentRef{Kind: api.ContentKind_Chunked, Digest: d, Size: offset, Chunks: chunks}, nil
}

func (ing *Ingester) store(kind api.ObjectKind, d api.Digest, data []byte) error {
	// Checking first only saves work; Put is idempotent regardless.
	if ok, err := ing.Store.Contains(d); err == nil && ok {
		ing.stats.ObjectsReused.Add(1)
		return nil
	}
	if err := ing.Store.Put(kind, d, data); err != nil {
		return err
	}
	ing.stats.ObjectsWritten.Add(1)
	ing.stats.BytesWritten.Add(int64(len(data)))
	return nil
}

func fixedChunker(r io.Reader, dst []byte) func() ([]byte, error) {
	return func() ([]byte, error) {
		n, err := io.ReadFull(r, dst)
		switch err {
		case nil, io.ErrUnexpectedEOF:
			return dst[:n], nil
		default:
			return nil, err // including io.EOF, when there's nothing left.
		}
	}
}

func cdcChunker(r io.Reader, dst []byte, params Params) func() ([]byte, error) {
	c := chunker.NewWithBoundaries(r, chunker.Pol(params.Polynomial), uint(params.MinSize), uint(params.MaxSize))
	return func() ([]byte, error) {
		// Chunk.Data is appended into dst, which has room for MaxSize;
		//  so it never reallocates, and aliases our window.
		chunk, err := c.Next(dst[:0])
		if err != nil {
			return nil, err
		}
		return chunk.Data, nil
	}
}
