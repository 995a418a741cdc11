package layer

import (
	"bytes"
	"time"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/cbor"
	"github.com/polydawn/refmt/obj/atlas"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
)

// ManifestVersion is the only manifest bitstream version this code reads or writes.
const ManifestVersion = 1

var manifestMagic = []byte("bnyl")

/*
Manifest is one committed layer: a full snapshot of a tree,
chained to the layer before it.
*/
type Manifest struct {
	Version int
	Parent  *api.LayerID // nil for a base layer.
	Seq     uint64       // parent's Seq plus one; a base layer is 1.
	Created time.Time
	Source  string     // the path that was imported.  Informational only.
	Tree    api.Digest // HashTree of Entries.
	Entries []Record   // canonical order, unique, root first.
}

type wireManifest struct {
	Parent  *api.LayerID `refmt:"parent"`
	Seq     uint64       `refmt:"seq"`
	Created int64        `refmt:"created"`
	Source  string       `refmt:"source"`
	Tree    api.Digest   `refmt:"tree"`
	Entries []wireEntry  `refmt:"entries"`
}

type wireEntry struct {
	Path     string            `refmt:"n"`
	Type     string            `refmt:"t"`
	Perms    uint16            `refmt:"p"`
	Uid      uint32            `refmt:"u"`
	Gid      uint32            `refmt:"g"`
	Size     int64             `refmt:"s,omitempty"`
	Linkname string            `refmt:"l,omitempty"`
	Devmajor int64             `refmt:"dM,omitempty"`
	Devminor int64             `refmt:"dm,omitempty"`
	Mtime    int64             `refmt:"m"`
	MtimeNs  int64             `refmt:"mn"`
	Xattrs   map[string]string `refmt:"x,omitempty"`
	Content  *api.ContentRef   `refmt:"c,omitempty"`
}

var manifestAtlas = atlas.MustBuild(
	atlas.BuildEntry(wireManifest{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(wireEntry{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(api.ContentRef{}).StructMap().Autogenerate().Complete(),
	atlas.BuildEntry(api.ChunkRef{}).StructMap().Autogenerate().Complete(),
	api.Digest_AtlasEntry,
	api.LayerID_AtlasEntry,
)

/*
Encode a manifest to its bitstream.  Encoding is deterministic:
equal manifests always encode to equal bytes.
Entries must already be in canonical order.
*/
func (m *Manifest) Encode() ([]byte, error) {
	wm := wireManifest{
		Parent:  m.Parent,
		Seq:     m.Seq,
		Created: m.Created.UnixNano(),
		Source:  m.Source,
		Tree:    m.Tree,
		Entries: make([]wireEntry, len(m.Entries)),
	}
	for i, r := range m.Entries {
		wm.Entries[i] = wireEntry{
			Path:     r.Name.String(),
			Type:     string(r.Type),
			Perms:    uint16(r.Perms),
			Uid:      r.Uid,
			Gid:      r.Gid,
			Size:     r.Size,
			Linkname: r.Linkname,
			Devmajor: r.Devmajor,
			Devminor: r.Devminor,
			Mtime:    r.Mtime.Unix(),
			MtimeNs:  int64(r.Mtime.Nanosecond()),
			Xattrs:   r.Xattrs,
			Content:  r.Content,
		}
	}
	body, err := refmt.MarshalAtlased(cbor.EncodeOptions{}, wm, manifestAtlas)
	if err != nil {
		return nil, Errorf(api.ErrIO, "cannot encode manifest: %s", err)
	}
	out := make([]byte, 0, len(manifestMagic)+1+len(body))
	out = append(out, manifestMagic...)
	out = append(out, ManifestVersion)
	return append(out, body...), nil
}

/*
Decode a manifest bitstream.

The stream is checked thoroughly: besides decoding cleanly,
the entries must be canonically ordered with every parent present,
and must hash to the recorded tree hash.

Errors:

  - `api.ErrVersionMismatch` -- if the bitstream is from an unknown manifest version
  - `api.ErrCorruptData` -- for anything else that's wrong
*/
func Decode(bs []byte) (*Manifest, error) {
	if len(bs) < len(manifestMagic)+1 || !bytes.Equal(bs[:len(manifestMagic)], manifestMagic) {
		return nil, Errorf(api.ErrCorruptData, "not a layer manifest")
	}
	if v := bs[len(manifestMagic)]; v != ManifestVersion {
		return nil, Errorf(api.ErrVersionMismatch, "layer manifest version %d is not supported (expected %d)", v, ManifestVersion)
	}
	var wm wireManifest
	if err := refmt.UnmarshalAtlased(cbor.DecodeOptions{}, bs[len(manifestMagic)+1:], &wm, manifestAtlas); err != nil {
		return nil, Errorf(api.ErrCorruptData, "cannot decode layer manifest: %s", err)
	}
	m := &Manifest{
		Version: ManifestVersion,
		Parent:  wm.Parent,
		Seq:     wm.Seq,
		Created: time.Unix(0, wm.Created).UTC(),
		Source:  wm.Source,
		Tree:    wm.Tree,
		Entries: make([]Record, len(wm.Entries)),
	}
	for i, we := range wm.Entries {
		name, err := fs.ParseRelPath(we.Path)
		if err != nil {
			return nil, Errorf(api.ErrCorruptData, "layer manifest entry %d: %s", i, err)
		}
		typ := fs.Type(we.Type)
		switch typ {
		case fs.Type_File:
			if we.Content == nil {
				return nil, Errorf(api.ErrCorruptData, "layer manifest entry %q: file without content", we.Path)
			}
		case fs.Type_Dir, fs.Type_Symlink, fs.Type_NamedPipe, fs.Type_Socket, fs.Type_Device, fs.Type_CharDevice, fs.Type_Unknown:
			if we.Content != nil {
				return nil, Errorf(api.ErrCorruptData, "layer manifest entry %q: %s with content", we.Path, typ)
			}
		default:
			return nil, Errorf(api.ErrCorruptData, "layer manifest entry %q: unknown type %q", we.Path, we.Type)
		}
		if i > 0 && m.Entries[i-1].Name.Compare(name) >= 0 {
			return nil, Errorf(api.ErrCorruptData, "layer manifest entries out of order at %q", we.Path)
		}
		m.Entries[i] = Record{
			Metadata: fs.Metadata{
				Name:     name,
				Type:     typ,
				Perms:    fs.Perms(we.Perms),
				Uid:      we.Uid,
				Gid:      we.Gid,
				Size:     we.Size,
				Linkname: we.Linkname,
				Devmajor: we.Devmajor,
				Devminor: we.Devminor,
				Mtime:    time.Unix(we.Mtime, we.MtimeNs).UTC(),
				Xattrs:   we.Xattrs,
			},
			Content: we.Content,
		}
	}
	tree, err := HashTree(m.Entries)
	if err != nil {
		return nil, err
	}
	if tree != m.Tree {
		return nil, Errorf(api.ErrCorruptData, "layer manifest tree hash mismatch: recorded %s, computed %s", m.Tree, tree)
	}
	return m, nil
}

// ID returns the identifier of the layer whose bitstream this is.
func ID(encoded []byte) api.LayerID {
	return api.LayerID(api.DigestOf(encoded))
}

// Lookup finds the entry for a path, by binary search.
func (m *Manifest) Lookup(path fs.RelPath) (Record, bool) {
	lo, hi := 0, len(m.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch c := m.Entries[mid].Name.Compare(path); {
		case c == 0:
			return m.Entries[mid], true
		case c < 0:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return Record{}, false
}
