/*
Package repo is the on-disk repository: an object store, a chain of
layer manifests, and a HEAD pointing at the latest layer.

Layout, under the repository root:

	format         version tag and chunking parameters (written last by init)
	config.yaml    import defaults
	HEAD           the current layer's ID, or empty
	layers/<id>    encoded layer manifests
	objects/       the object store
	tmp/           staging for object writes
	lock           flock target for the writer lock

Replacing HEAD is the commit point of an import.  Everything a new
layer references is durable before its manifest is written, and the
manifest is durable before HEAD names it; so a crash at any point
leaves HEAD at a complete layer.  Things written before a failed
commit (objects, even whole manifests) are unreferenced and inert.
*/
package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/renameio"
	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/config"
	"github.com/polydawn/banyan/content"
	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fs/osfs"
	"github.com/polydawn/banyan/fsOp"
	"github.com/polydawn/banyan/layer"
	"github.com/polydawn/banyan/warehouse"
	"github.com/polydawn/banyan/warehouse/impl/kvfs"
)

const (
	file_Format = "format"
	file_Config = "config.yaml"
	file_Head   = "HEAD"
	file_Lock   = "lock"
	dir_Layers  = "layers"
	dir_Objects = "objects"
	dir_Tmp     = "tmp"
)

type Repository struct {
	root     fs.AbsolutePath
	chunking content.Params
	config   config.RepoConfig
	store    *kvfs.Store
	log      logrus.FieldLogger

	beforeCommit func() error // test hook, run just before HEAD is replaced.
}

type InitOptions struct {
	Chunking *content.Params    // nil for content-defined chunking with a fresh polynomial.
	Config   *config.RepoConfig // nil for defaults.
}

/*
Create a new, empty repository at `path`, creating the directory if needed.

If a previous init was interrupted, running it again finishes the job.

Errors:

  - `api.ErrAlreadyExists` -- if a repository is already there
  - `api.ErrUsage` -- for invalid options
  - `api.ErrIO` -- for anything the filesystem refuses
*/
func Init(path string, opts InitOptions, log logrus.FieldLogger) (*Repository, error) {
	root, err := absPath(path)
	if err != nil {
		return nil, err
	}
	formatPath := root.Join(fs.MustRelPath(file_Format)).String()
	if _, err := os.Lstat(formatPath); err == nil {
		return nil, Errorf(api.ErrAlreadyExists, "a repository already exists at %s", root)
	}

	var chunking content.Params
	if opts.Chunking != nil {
		chunking = *opts.Chunking
	} else if chunking, err = content.DefaultCDCParams(); err != nil {
		return nil, err
	}
	if err := chunking.Validate(); err != nil {
		return nil, err
	}
	cfg := config.DefaultRepoConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(root.String(), 0755); err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	afs := osfs.New(root)
	for _, dir := range []string{dir_Layers, dir_Objects, dir_Tmp} {
		if err := fsOp.MkdirAll(afs, fs.MustRelPath(dir), 0755); err != nil {
			return nil, err
		}
	}
	if err := config.WriteRepoConfig(root.Join(fs.MustRelPath(file_Config)).String(), cfg); err != nil {
		return nil, err
	}
	if err := renameio.WriteFile(root.Join(fs.MustRelPath(file_Head)).String(), nil, 0644); err != nil {
		return nil, Errorf(api.ErrIO, "cannot write HEAD: %s", err)
	}
	lockFile, err := os.OpenFile(root.Join(fs.MustRelPath(file_Lock)).String(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	lockFile.Close()
	if err := writeFormat(formatPath, formatFile{formatName, FormatVersion, chunking}); err != nil {
		return nil, err
	}
	if err := syncDir(root.String()); err != nil {
		return nil, err
	}
	return Open(root.String(), log)
}

/*
Open an existing repository.  Nothing is modified.

Errors:

  - `api.ErrNotFound` -- if there's no repository at `path`
  - `api.ErrVersionMismatch` -- if the repository's format version is unknown
  - `api.ErrCorruptData` -- if the format file or HEAD is damaged
  - `api.ErrUsage` -- if config.yaml is invalid
*/
func Open(path string, log logrus.FieldLogger) (*Repository, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	root, err := absPath(path)
	if err != nil {
		return nil, err
	}
	ff, err := readFormat(root.Join(fs.MustRelPath(file_Format)).String())
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadRepoConfig(root.Join(fs.MustRelPath(file_Config)).String())
	if err != nil {
		return nil, err
	}
	compression, err := warehouse.ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	store, err := kvfs.New(root.Join(fs.MustRelPath(dir_Objects)), root.Join(fs.MustRelPath(dir_Tmp)), compression)
	if err != nil {
		return nil, err
	}
	r := &Repository{
		root:     root,
		chunking: ff.Chunking,
		config:   cfg,
		store:    store,
		log:      log.WithField("repo", root.String()),
	}
	if _, err := r.Head(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) Path() fs.AbsolutePath     { return r.root }
func (r *Repository) Config() config.RepoConfig { return r.config }
func (r *Repository) Chunking() content.Params  { return r.chunking }
func (r *Repository) Store() warehouse.Store    { return r.store }

func (r *Repository) path(name string) string {
	return r.root.Join(fs.MustRelPath(name)).String()
}

func (r *Repository) layerPath(id api.LayerID) string {
	return filepath.Join(r.path(dir_Layers), id.String())
}

/*
Return the current HEAD, or nil if no layer has been committed.
The layer named must exist and be intact, else `api.ErrCorruptData`.
*/
func (r *Repository) Head() (*api.LayerID, error) {
	bs, err := os.ReadFile(r.path(file_Head))
	if err != nil {
		return nil, Errorf(api.ErrCorruptData, "cannot read HEAD: %s", err)
	}
	name := string(bytes.TrimSpace(bs))
	if name == "" {
		return nil, nil
	}
	id, _, err := r.loadLayerNamed(name)
	if err != nil {
		if Category(err) == api.ErrNotFound {
			return nil, Errorf(api.ErrCorruptData, "HEAD names layer %s, which does not exist", name)
		}
		return nil, err
	}
	return &id, nil
}

// Layer loads and verifies one layer manifest.
func (r *Repository) Layer(id api.LayerID) (*layer.Manifest, error) {
	_, m, err := r.loadLayerNamed(id.String())
	return m, err
}

/*
Layer files are named by their ID's string form.  Rather than parse
names, we hash the content and check it names itself; that both
recovers the ID and verifies the file.
*/
func (r *Repository) loadLayerNamed(name string) (api.LayerID, *layer.Manifest, error) {
	if name == "" || strings.ContainsAny(name, "/.") {
		return api.LayerID{}, nil, Errorf(api.ErrUsage, "invalid layer name %q", name)
	}
	bs, err := os.ReadFile(filepath.Join(r.path(dir_Layers), name))
	switch {
	case os.IsNotExist(err):
		return api.LayerID{}, nil, Errorf(api.ErrNotFound, "layer %s not found", name)
	case err != nil:
		return api.LayerID{}, nil, Errorf(api.ErrIO, "cannot read layer %s: %s", name, err)
	}
	id := layer.ID(bs)
	if id.String() != name {
		return api.LayerID{}, nil, Errorf(api.ErrCorruptData, "layer %s content does not match its name", name)
	}
	m, err := layer.Decode(bs)
	if err != nil {
		return api.LayerID{}, nil, err
	}
	return id, m, nil
}

/*
Resolve a layer reference: "HEAD", a full layer ID, or any prefix of
one that matches exactly one layer.

Errors:

  - `api.ErrNotFound` -- if nothing matches (or HEAD is empty)
  - `api.ErrUsage` -- if a prefix is ambiguous
*/
func (r *Repository) Resolve(ref string) (api.LayerID, error) {
	if ref == "HEAD" || ref == "" {
		head, err := r.Head()
		if err != nil {
			return api.LayerID{}, err
		}
		if head == nil {
			return api.LayerID{}, Errorf(api.ErrNotFound, "repository has no layers yet")
		}
		return *head, nil
	}
	entries, err := os.ReadDir(r.path(dir_Layers))
	if err != nil {
		return api.LayerID{}, fs.NormalizeIOError(err)
	}
	var matches []string
	for _, ent := range entries {
		if strings.HasPrefix(ent.Name(), ref) && !strings.HasPrefix(ent.Name(), ".") {
			matches = append(matches, ent.Name())
		}
	}
	sort.Strings(matches)
	switch {
	case len(matches) == 0:
		return api.LayerID{}, Errorf(api.ErrNotFound, "no layer matches %q", ref)
	case len(matches) > 1 && matches[0] != ref:
		return api.LayerID{}, Errorf(api.ErrUsage, "layer reference %q is ambiguous (%d matches)", ref, len(matches))
	}
	id, _, err := r.loadLayerNamed(matches[0])
	return id, err
}

type LogEntry struct {
	ID       api.LayerID
	Manifest *layer.Manifest
}

/*
List the chain of layers ending at `id`, newest first.

Every link is checked: each parent must exist, and sequence numbers
must strictly decrease down to a base layer of sequence 1.
That also guarantees the chain ends.
*/
func (r *Repository) Log(id api.LayerID) ([]LogEntry, error) {
	var entries []LogEntry
	next := &id
	for next != nil {
		m, err := r.Layer(*next)
		if err != nil {
			if len(entries) > 0 && Category(err) == api.ErrNotFound {
				return nil, Errorf(api.ErrCorruptData, "layer %s names parent %s, which does not exist", entries[len(entries)-1].ID, next)
			}
			return nil, err
		}
		if len(entries) > 0 && m.Seq != entries[len(entries)-1].Manifest.Seq-1 {
			return nil, Errorf(api.ErrCorruptData, "layer %s has sequence %d, but its child has %d", next, m.Seq, entries[len(entries)-1].Manifest.Seq)
		}
		if m.Parent == nil && m.Seq != 1 {
			return nil, Errorf(api.ErrCorruptData, "base layer %s has sequence %d", next, m.Seq)
		}
		entries = append(entries, LogEntry{*next, m})
		next = m.Parent
	}
	return entries, nil
}

// Chain is like Log, but ordered base first, as `layer.Effective` wants.
func (r *Repository) chain(id api.LayerID) ([]*layer.Manifest, error) {
	entries, err := r.Log(id)
	if err != nil {
		return nil, err
	}
	chain := make([]*layer.Manifest, len(entries))
	for i, ent := range entries {
		chain[len(entries)-1-i] = ent.Manifest
	}
	return chain, nil
}

func absPath(path string) (fs.AbsolutePath, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fs.AbsolutePath{}, Errorf(api.ErrUsage, "invalid path %q: %s", path, err)
	}
	return fs.MustAbsolutePath(abs), nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return fs.NormalizeIOError(err)
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return Errorf(api.ErrIO, "cannot sync %s: %s", dir, err)
	}
	return nil
}
