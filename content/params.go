package content

import (
	"github.com/restic/chunker"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
)

type Mode string

const (
	Mode_Fixed Mode = "fixed" // chunks of exactly ChunkSize bytes (the last may be short).
	Mode_CDC   Mode = "cdc"   // content-defined boundaries, from a rolling Rabin fingerprint.
)

const (
	kiB = 1024
	miB = 1024 * kiB
)

/*
Params fix how a repository turns bytes into objects.

They're chosen once when a repository is created and never change:
two ingests of the same bytes only produce the same ContentRef
if they used the same params.
*/
type Params struct {
	Mode               Mode   `refmt:"mode"`
	SmallFileThreshold int64  `refmt:"smallFileThreshold"`   // files shorter than this are one blob.
	ChunkSize          int64  `refmt:"chunkSize,omitempty"`  // fixed mode.
	MinSize            int64  `refmt:"minSize,omitempty"`    // cdc mode.
	MaxSize            int64  `refmt:"maxSize,omitempty"`    // cdc mode.
	Polynomial         uint64 `refmt:"polynomial,omitempty"` // cdc mode.
}

func DefaultFixedParams() Params {
	return Params{
		Mode:               Mode_Fixed,
		SmallFileThreshold: 1 * miB,
		ChunkSize:          1 * miB,
	}
}

/*
Default content-defined chunking params, with a freshly generated
random polynomial.
*/
func DefaultCDCParams() (Params, error) {
	pol, err := chunker.RandomPolynomial()
	if err != nil {
		return Params{}, Errorf(api.ErrIO, "cannot generate chunking polynomial: %s", err)
	}
	return Params{
		Mode:               Mode_CDC,
		SmallFileThreshold: 1 * miB,
		MinSize:            512 * kiB,
		MaxSize:            8 * miB,
		Polynomial:         uint64(pol),
	}, nil
}

func (p Params) Validate() error {
	if p.SmallFileThreshold <= 0 {
		return Errorf(api.ErrUsage, "chunking: small file threshold must be positive")
	}
	switch p.Mode {
	case Mode_Fixed:
		if p.ChunkSize <= 0 {
			return Errorf(api.ErrUsage, "chunking: chunk size must be positive")
		}
	case Mode_CDC:
		if p.MinSize < 64 || p.MaxSize < p.MinSize {
			return Errorf(api.ErrUsage, "chunking: need 64 <= min size <= max size")
		}
		if !chunker.Pol(p.Polynomial).Irreducible() {
			return Errorf(api.ErrUsage, "chunking: polynomial %#x is not irreducible", p.Polynomial)
		}
	default:
		return Errorf(api.ErrUsage, "chunking: unknown mode %q", p.Mode)
	}
	return nil
}

func (p Params) maxChunk() int64 {
	if p.Mode == Mode_CDC {
		return p.MaxSize
	}
	return p.ChunkSize
}

/*
WindowSize is how large a pool buffer must be for the Ingester:
room for the small-file read plus one maximal chunk.
*/
func (p Params) WindowSize() int {
	return int(p.SmallFileThreshold + p.maxChunk())
}
