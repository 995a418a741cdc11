package warehouse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/obj/atlas"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/config"
)

/*
Record encoding, as stored:

	magic        4 bytes  "bnyo"
	format       1 byte   recordFormatVersion
	kind         1 byte   api.ObjectKind
	compression  1 byte   Compression
	raw length   uvarint  length of the payload after decompression
	payload      rest     possibly-compressed payload

The digest always covers the raw payload, so the same content stored
with different compression settings still has one identity.
*/
var recordMagic = []byte("bnyo")

const recordFormatVersion = 1

// Refuse to allocate for absurd lengths in a damaged header.
const maxRecordSize = 1 << 31

type Compression uint8

const (
	Compression_None Compression = 0
	Compression_LZ4  Compression = 1
	Compression_Zstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case Compression_None:
		return config.Compression_None
	case Compression_LZ4:
		return config.Compression_LZ4
	case Compression_Zstd:
		return config.Compression_Zstd
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

func ParseCompression(name string) (Compression, error) {
	switch name {
	case config.Compression_None:
		return Compression_None, nil
	case config.Compression_LZ4:
		return Compression_LZ4, nil
	case config.Compression_Zstd:
		return Compression_Zstd, nil
	default:
		return 0, Errorf(api.ErrUsage, "unknown compression %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

// zstd encoders and decoders are safe for concurrent use; share one each.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("warehouse: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("warehouse: zstd decoder initialization failed: " + err.Error())
	}
}

/*
Encode a record.  If the requested compression doesn't make the payload
smaller, it's stored uncompressed instead.
*/
func EncodeRecord(kind api.ObjectKind, data []byte, compression Compression) []byte {
	payload, used := data, Compression_None
	switch compression {
	case Compression_LZ4:
		if c, err := compressLZ4(data); err == nil {
			payload, used = c, Compression_LZ4
		}
	case Compression_Zstd:
		if c, err := compressZstd(data); err == nil {
			payload, used = c, Compression_Zstd
		}
	}
	out := make([]byte, 0, len(recordMagic)+3+binary.MaxVarintLen64+len(payload))
	out = append(out, recordMagic...)
	out = append(out, recordFormatVersion, byte(kind), byte(used))
	out = binary.AppendUvarint(out, uint64(len(data)))
	return append(out, payload...)
}

/*
Decode a record and check it against its digest.
Errors are `api.ErrCorruptData`, except an unknown format byte, which
is `api.ErrVersionMismatch`.
*/
func DecodeRecord(digest api.Digest, bs []byte) (Record, error) {
	hdr := len(recordMagic) + 3
	if len(bs) < hdr || !bytes.Equal(bs[:len(recordMagic)], recordMagic) {
		return Record{}, Errorf(api.ErrCorruptData, "object %s: not a record", digest)
	}
	if bs[4] != recordFormatVersion {
		return Record{}, Errorf(api.ErrVersionMismatch, "object %s: unknown record format %d", digest, bs[4])
	}
	kind := api.ObjectKind(bs[5])
	switch kind {
	case api.ObjectKind_Blob, api.ObjectKind_ChunkIndex:
	default:
		return Record{}, Errorf(api.ErrCorruptData, "object %s: unknown kind %d", digest, bs[5])
	}
	compression := Compression(bs[6])
	rawLen, n := binary.Uvarint(bs[hdr:])
	if n <= 0 || rawLen > maxRecordSize {
		return Record{}, Errorf(api.ErrCorruptData, "object %s: bad length header", digest)
	}
	payload := bs[hdr+n:]

	var data []byte
	var err error
	switch compression {
	case Compression_None:
		if uint64(len(payload)) != rawLen {
			err = fmt.Errorf("size %d does not match expected %d", len(payload), rawLen)
		}
		data = payload
	case Compression_LZ4:
		data, err = decompressLZ4(payload, int(rawLen))
	case Compression_Zstd:
		data, err = decompressZstd(payload, int(rawLen))
	default:
		err = fmt.Errorf("unknown compression %d", compression)
	}
	if err != nil {
		return Record{}, Errorf(api.ErrCorruptData, "object %s: %s", digest, err)
	}
	if api.ObjectDigest(kind, data) != digest {
		return Record{}, Errorf(api.ErrCorruptData, "object %s: content does not match digest", digest)
	}
	return Record{Kind: kind, Data: data}, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, err
	}
	// CompressBlock returns 0 when it determines the data is incompressible.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(destination) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), uncompressedSize)
	}
	return destination, nil
}

/*
Chunk-index records list the chunks of one large file, in order.
*/
type chunkIndex struct {
	Chunks []api.ChunkRef `refmt:"chunks"`
}

var chunkIndexAtlas = atlas.MustBuild(
	atlas.BuildEntry(chunkIndex{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(api.ChunkRef{}).StructMap().Autogenerate().Complete(),
	api.Digest_AtlasEntry,
)

func EncodeChunkIndex(chunks []api.ChunkRef) ([]byte, error) {
	return refmt.MarshalAtlased(cbor.EncodeOptions{}, chunkIndex{chunks}, chunkIndexAtlas)
}

func DecodeChunkIndex(digest api.Digest, bs []byte) ([]api.ChunkRef, error) {
	var ci chunkIndex
	if err := refmt.UnmarshalAtlased(cbor.DecodeOptions{}, bs, &ci, chunkIndexAtlas); err != nil {
		return nil, Errorf(api.ErrCorruptData, "object %s: malformed chunk index: %s", digest, err)
	}
	return ci.Chunks, nil
}

// ErrNotFound builds the error every Store returns for a missing digest.
func ErrNotFound(d api.Digest) error {
	return Errorf(api.ErrNotFound, "object %s not found", d)
}
