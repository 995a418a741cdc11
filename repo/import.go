package repo

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/bufpool"
	"github.com/polydawn/banyan/config"
	"github.com/polydawn/banyan/content"
	"github.com/polydawn/banyan/filters"
	"github.com/polydawn/banyan/layer"
	"github.com/polydawn/banyan/traverse"
	"github.com/polydawn/banyan/warehouse"
)

type ImportOptions struct {
	Config *config.RepoConfig // nil uses the repository's config.yaml.
	DryRun bool               // compute the layer, but write nothing to the repository.
}

type ImportResult struct {
	ID       api.LayerID
	Manifest *layer.Manifest
	Walk     *traverse.Result
	Objects  ObjectStats
	DryRun   bool
}

type ObjectStats struct {
	Written      int64
	Reused       int64
	BytesWritten int64
}

/*
Snapshot the tree at `source` as a new layer on top of HEAD, and move
HEAD to it.

On any error, HEAD is unchanged.  Objects (and possibly a layer
manifest) written before the failure stay behind, unreferenced.

Errors:

  - `api.ErrLocked` -- if another import holds the repository
  - `api.ErrUsage` -- for invalid options
  - `api.ErrCancelled` -- if the context ends first
  - `api.ErrInconsistent` -- if HEAD was replaced but could not be made durable
  - any category the walk can return, for a bad source or unreadable tree
*/
func (r *Repository) Import(ctx context.Context, source string, opts ImportOptions) (*ImportResult, error) {
	cfg := r.config
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	uf, err := filters.Parse(cfg.Filters)
	if err != nil {
		return nil, err
	}

	if !opts.DryRun {
		lock, err := acquireWriterLock(r.path(file_Lock))
		if err != nil {
			return nil, err
		}
		defer lock.Release()
	}

	// Capture the parent.  Nobody else can move HEAD while we hold the lock.
	parent, err := r.Head()
	if err != nil {
		return nil, err
	}
	seq := uint64(1)
	if parent != nil {
		pm, err := r.Layer(*parent)
		if err != nil {
			return nil, err
		}
		seq = pm.Seq + 1
	}
	log := r.log.WithFields(logrus.Fields{"source": source, "seq": seq})

	var store warehouse.Store = r.store
	if opts.DryRun {
		store = &dryRunStore{backing: r.store}
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	ing := &content.Ingester{
		Store:  store,
		Pool:   bufpool.New(r.chunking.WindowSize(), workers),
		Params: r.chunking,
		Log:    log,
	}
	bucket := layer.NewBucket()
	walker := &traverse.Walker{
		Workers:     workers,
		QueueDepth:  cfg.QueueDepth,
		OnScanError: cfg.OnScanError,
		SameDevice:  cfg.SameDevice,
		Filters:     &uf,
		XattrAllow:  cfg.Xattrs,
		Ingester:    ing,
		Sink:        bucket,
		Log:         log,
	}
	started := time.Now()
	walkResult, err := walker.Run(ctx, source)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"files":   walkResult.Stats.Files,
		"dirs":    walkResult.Stats.Dirs,
		"elapsed": time.Since(started),
	}).Debug("walk complete")

	// Everything the manifest will reference must be durable before it exists.
	if err := store.Sync(); err != nil {
		return nil, err
	}

	records, err := bucket.Sorted()
	if err != nil {
		return nil, err
	}
	tree, err := layer.HashTree(records)
	if err != nil {
		return nil, err
	}
	m := &layer.Manifest{
		Version: layer.ManifestVersion,
		Parent:  parent,
		Seq:     seq,
		Created: time.Now().UTC(),
		Source:  source,
		Tree:    tree,
		Entries: records,
	}
	encoded, err := m.Encode()
	if err != nil {
		return nil, err
	}
	id := layer.ID(encoded)
	result := &ImportResult{
		ID:       id,
		Manifest: m,
		Walk:     walkResult,
		Objects: ObjectStats{
			Written:      ing.Stats().ObjectsWritten.Load(),
			Reused:       ing.Stats().ObjectsReused.Load(),
			BytesWritten: ing.Stats().BytesWritten.Load(),
		},
		DryRun: opts.DryRun,
	}
	if opts.DryRun {
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, Errorf(api.ErrCancelled, "import of %q cancelled before commit", source)
	}
	if err := r.commit(id, encoded); err != nil {
		return nil, err
	}
	log.WithField("layer", id.String()).Info("layer committed")
	return result, nil
}

/*
Write the manifest, then swing HEAD to it.  The rename of HEAD is the
commit point; anything failing before it leaves the old HEAD in place.
*/
func (r *Repository) commit(id api.LayerID, encoded []byte) error {
	if err := renameio.WriteFile(r.layerPath(id), encoded, 0444); err != nil {
		return Errorf(api.ErrIO, "cannot write layer %s: %s", id, err)
	}
	if err := syncDir(r.path(dir_Layers)); err != nil {
		return err
	}
	if r.beforeCommit != nil {
		if err := r.beforeCommit(); err != nil {
			return err
		}
	}
	if err := renameio.WriteFile(r.path(file_Head), []byte(id.String()+"\n"), 0644); err != nil {
		return Errorf(api.ErrIO, "cannot update HEAD: %s", err)
	}
	if err := syncDir(r.root.String()); err != nil {
		return Errorf(api.ErrInconsistent, "HEAD now names layer %s, but could not be made durable: %s", id, err)
	}
	return nil
}

func (r *Repository) layerExists(id api.LayerID) bool {
	_, err := os.Lstat(r.layerPath(id))
	return err == nil
}

/*
dryRunStore drops every put, keeping only the digest, and answers
Contains from the repository's own store as well.  A dry run thus
counts the same objects written and reused as the real import would,
without holding any content in memory.
*/
type dryRunStore struct {
	warehouse.Discard
	backing warehouse.Store
	seen    sync.Map
}

func (s *dryRunStore) Put(kind api.ObjectKind, d api.Digest, data []byte) error {
	s.seen.Store(d, struct{}{})
	return nil
}

func (s *dryRunStore) Contains(d api.Digest) (bool, error) {
	if _, ok := s.seen.Load(d); ok {
		return true, nil
	}
	return s.backing.Contains(d)
}
