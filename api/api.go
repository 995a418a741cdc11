package api

/*
	This file is all serializable types used in banyan
	to identify content, chunks, and layers.
*/

import (
	"fmt"

	"github.com/polydawn/refmt/misc"
	"github.com/polydawn/refmt/obj/atlas"
	"github.com/zeebo/blake3"
)

/*
Digests are the BLAKE3 hash of some bytes.
They key every record in the object store, and a layer's identifier
is the digest of its serialized manifest.

Digests are serialized as raw bytes in the manifest bitstream,
and printed as base58 for humans and for object filenames.
*/
type Digest [32]byte

func DigestOf(bs []byte) Digest {
	return Digest(blake3.Sum256(bs))
}

// chunkIndexDomain prefixes chunk index payloads before hashing,
// so an index and a file whose bytes happen to equal it never share a key.
const chunkIndexDomain = "bnyi\x00"

/*
ObjectDigest is the key an object record of the given kind is stored under.
Blobs are keyed by the plain digest of their bytes (so a blob's key is also
its content digest); chunk indexes are hashed in their own domain.
*/
func ObjectDigest(kind ObjectKind, bs []byte) Digest {
	if kind != ObjectKind_ChunkIndex {
		return DigestOf(bs)
	}
	hasher := blake3.New()
	hasher.Write([]byte(chunkIndexDomain))
	hasher.Write(bs)
	var d Digest
	hasher.Sum(d[:0])
	return d
}

func (d Digest) String() string {
	return misc.Base58Encode(d[:])
}

func (d Digest) IsZero() bool {
	return d == Digest{}
}

var Digest_AtlasEntry = atlas.BuildEntry(Digest{}).Transform().
	TransformMarshal(atlas.MakeMarshalTransformFunc(
		func(x Digest) ([]byte, error) {
			return x[:], nil
		})).
	TransformUnmarshal(atlas.MakeUnmarshalTransformFunc(
		func(x []byte) (Digest, error) {
			var d Digest
			if len(x) != len(d) {
				return d, fmt.Errorf("digest must be %d bytes, got %d", len(d), len(x))
			}
			copy(d[:], x)
			return d, nil
		})).
	Complete()

/*
LayerIDs identify one committed layer.  They're the digest of the
layer's manifest bitstream, so a layer ID verifies the whole manifest
(and transitively, through the parent field, the whole chain).
*/
type LayerID Digest

func (id LayerID) String() string {
	return Digest(id).String()
}

func (id LayerID) IsZero() bool {
	return Digest(id).IsZero()
}

var LayerID_AtlasEntry = atlas.BuildEntry(LayerID{}).Transform().
	TransformMarshal(atlas.MakeMarshalTransformFunc(
		func(x LayerID) ([]byte, error) {
			return x[:], nil
		})).
	TransformUnmarshal(atlas.MakeUnmarshalTransformFunc(
		func(x []byte) (LayerID, error) {
			var id LayerID
			if len(x) != len(id) {
				return id, fmt.Errorf("layer id must be %d bytes, got %d", len(id), len(x))
			}
			copy(id[:], x)
			return id, nil
		})).
	Complete()

type ContentKind string

const (
	ContentKind_Blob    ContentKind = "blob"    // one object holds all the bytes.
	ContentKind_Chunked ContentKind = "chunked" // an ordered list of chunk objects, plus an index object.
)

/*
ContentRef describes where a regular file's bytes live in the object store.

For small files, Kind is blob and Digest is the hash of the content itself.
For large files, Kind is chunked, Chunks lists every chunk in order,
and Digest is the hash of the chunk-index record stored alongside them.

Identical bytes always produce identical ContentRefs within one repository.
*/
type ContentRef struct {
	Kind   ContentKind `refmt:"k"`
	Digest Digest      `refmt:"d"`
	Size   int64       `refmt:"s"`
	Chunks []ChunkRef  `refmt:"c,omitempty"`
}

type ChunkRef struct {
	Digest Digest `refmt:"d"`
	Offset int64  `refmt:"o"`
	Length int64  `refmt:"l"`
}

/*
ObjectKind is the discriminator stored in every object record header.
*/
type ObjectKind byte

const (
	ObjectKind_Blob       ObjectKind = 1
	ObjectKind_ChunkIndex ObjectKind = 2
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectKind_Blob:
		return "blob"
	case ObjectKind_ChunkIndex:
		return "chunk-index"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

var Atlas = atlas.MustBuild(
	atlas.BuildEntry(ContentRef{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(ChunkRef{}).StructMap().Autogenerate().Complete(),
	Digest_AtlasEntry,
	LayerID_AtlasEntry,
)
