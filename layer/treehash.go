package layer

import (
	"sort"

	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/tok"
	. "github.com/warpfork/go-errcat"
	"github.com/zeebo/blake3"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
)

/*
Walks sorted records and constructs a tree hash over them.
The returned root hash verifies the integrity of the entire tree
(much like a Merkle tree).

The serial structure is expressed something like the following:

	{"m": $dir.metadata,
	 "l": [
		$hash({"m": $file1.metadata, "h": $file1.contentDigest}),
		$hash({"m": $subdir.metadata, "l": [ ... ]}),
	 ]
	}

This expression is made in cbor (rfc7049) format with indefinite-length
arrays and a fixed order for all map fields.  Every entry is itself
hashed and that value substituted in before hashing the parent.
Since the metadata contains the basename, and records are in canonical
order, the result is deterministic and unambiguous.

Nothing but the records themselves goes in: not the parent layer,
not timestamps of the import.  The same tree always hashes the same.

Records must be sorted.  Errors (`api.ErrCorruptData`) are returned for
a missing root, repeated paths, or an entry whose parent dir is absent.
*/
func HashTree(records []Record) (api.Digest, error) {
	if len(records) == 0 || records[0].Name != (fs.RelPath{}) {
		return api.Digest{}, Errorf(api.ErrCorruptData, "tree has no root entry")
	}
	if records[0].Type != fs.Type_Dir {
		return api.Digest{}, Errorf(api.ErrCorruptData, "tree root is a %s, not a dir", records[0].Type)
	}

	// Every open dir on the stack is waiting for its children's hashes.
	var stack []*openDir
	var root api.Digest
	closeTop := func() {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		// Close off the "leaves" array.  No map-close necessary: it's a fixed length map.
		top.enc.Step(&tok.Token{Type: tok.TArrClose})
		var d api.Digest
		top.hasher.Sum(d[:0])
		if len(stack) == 0 {
			root = d
		} else {
			stack[len(stack)-1].enc.Step(&tok.Token{Type: tok.TBytes, Bytes: d[:]})
		}
	}

	for i, r := range records {
		if i > 0 {
			if r.Name == records[i-1].Name {
				return api.Digest{}, Errorf(api.ErrCorruptData, "repeated path %q", r.Name)
			}
			parent := r.Name.Dir()
			for len(stack) > 0 && stack[len(stack)-1].path != parent {
				closeTop()
			}
			if len(stack) == 0 {
				return api.Digest{}, Errorf(api.ErrCorruptData, "path %q has no parent dir before it", r.Name)
			}
		}

		hasher := blake3.New()
		enc := cbor.NewEncoder(hasher)
		// Length two for dirs and files: it's metadata + one of either leaves list or content hash.
		//  Length one for everything else: their attributes are all in the metadata.
		switch r.Type {
		case fs.Type_Dir, fs.Type_File:
			enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 2})
		default:
			enc.Step(&tok.Token{Type: tok.TMapOpen, Length: 1})
		}
		enc.Step(&tok.Token{Type: tok.TString, Str: "m"})
		marshalMetadata(enc, r.Metadata)

		switch r.Type {
		case fs.Type_Dir:
			// The array will eventually be closed when we leave this dir.
			enc.Step(&tok.Token{Type: tok.TString, Str: "l"})
			enc.Step(&tok.Token{Type: tok.TArrOpen, Length: -1})
			stack = append(stack, &openDir{r.Name, hasher, enc})
		case fs.Type_File:
			if r.Content == nil {
				return api.Digest{}, Errorf(api.ErrCorruptData, "file %q has no content reference", r.Name)
			}
			enc.Step(&tok.Token{Type: tok.TString, Str: "h"})
			enc.Step(&tok.Token{Type: tok.TBytes, Bytes: r.Content.Digest[:]})
			var d api.Digest
			hasher.Sum(d[:0])
			stack[len(stack)-1].enc.Step(&tok.Token{Type: tok.TBytes, Bytes: d[:]})
		default:
			var d api.Digest
			hasher.Sum(d[:0])
			stack[len(stack)-1].enc.Step(&tok.Token{Type: tok.TBytes, Bytes: d[:]})
		}
	}
	for len(stack) > 0 {
		closeTop()
	}
	return root, nil
}

type openDir struct {
	path   fs.RelPath
	hasher *blake3.Hasher
	enc    *cbor.Encoder
}

// Marshal an `fs.Metadata` into the given encoder.
// This manual marshalling implementation has a stable order and the stability
// of tree hashes over time relies on this.
func marshalMetadata(enc *cbor.Encoder, m fs.Metadata) {
	// Count up how many fields we're about to encode.
	fieldCount := 7
	if m.Linkname != "" {
		fieldCount++
	}
	xattrsLen := len(m.Xattrs)
	if xattrsLen > 0 {
		fieldCount++
	}
	if m.Type == fs.Type_Device || m.Type == fs.Type_CharDevice {
		fieldCount += 2
	}
	enc.Step(&tok.Token{Type: tok.TMapOpen, Length: fieldCount})
	// Name: uses basename so hash subtrees are severable.
	enc.Step(&tok.Token{Type: tok.TString, Str: "n"})
	enc.Step(&tok.Token{Type: tok.TString, Str: m.Name.Last()})
	enc.Step(&tok.Token{Type: tok.TString, Str: "t"})
	enc.Step(&tok.Token{Type: tok.TString, Str: string(m.Type)})
	enc.Step(&tok.Token{Type: tok.TString, Str: "p"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: int64(m.Perms)})
	enc.Step(&tok.Token{Type: tok.TString, Str: "u"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: int64(m.Uid)})
	enc.Step(&tok.Token{Type: tok.TString, Str: "g"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: int64(m.Gid)})
	// Skipped: size.  The content digest already pins it.
	if m.Linkname != "" {
		enc.Step(&tok.Token{Type: tok.TString, Str: "l"})
		enc.Step(&tok.Token{Type: tok.TString, Str: m.Linkname})
	}
	if m.Type == fs.Type_Device || m.Type == fs.Type_CharDevice {
		enc.Step(&tok.Token{Type: tok.TString, Str: "dM"})
		enc.Step(&tok.Token{Type: tok.TInt, Int: m.Devmajor})
		enc.Step(&tok.Token{Type: tok.TString, Str: "dm"})
		enc.Step(&tok.Token{Type: tok.TInt, Int: m.Devminor})
	}
	enc.Step(&tok.Token{Type: tok.TString, Str: "m"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: m.Mtime.Unix()})
	enc.Step(&tok.Token{Type: tok.TString, Str: "mn"})
	enc.Step(&tok.Token{Type: tok.TInt, Int: int64(m.Mtime.Nanosecond())})
	// Xattrs have unknown keys, so they need sorting.
	if xattrsLen > 0 {
		enc.Step(&tok.Token{Type: tok.TString, Str: "x"})
		keys := make([]string, 0, xattrsLen)
		for k := range m.Xattrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		enc.Step(&tok.Token{Type: tok.TMapOpen, Length: xattrsLen})
		for _, k := range keys {
			enc.Step(&tok.Token{Type: tok.TString, Str: k})
			enc.Step(&tok.Token{Type: tok.TString, Str: m.Xattrs[k]})
		}
	}
}
