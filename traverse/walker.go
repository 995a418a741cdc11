/*
Package traverse walks a directory tree with a fixed pool of workers,
recording every entry into a layer bucket and sending every regular
file's content through an ingester.

Work is split into tasks (scan one directory; ingest one file) which
flow through one bounded queue.  A worker that finds the queue full
keeps the overflow on its own local stack and works through that
before taking anything new, so the shared queue stays bounded and
no worker ever blocks on itself.  The walk ends when every task
discovered has been finished.

Results do not depend on the number of workers or on scheduling:
the bucket imposes canonical order at the end.
*/
package traverse

import (
	"context"
	"io"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"
	"golang.org/x/sync/errgroup"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/bufpool"
	"github.com/polydawn/banyan/config"
	"github.com/polydawn/banyan/content"
	"github.com/polydawn/banyan/filters"
	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/layer"
	"github.com/polydawn/banyan/scandir"
)

// DirentBufferSize is the default size of buffers handed to getdents.
const DirentBufferSize = 32 * 1024

type Walker struct {
	Workers     int              // zero means one per available CPU.
	QueueDepth  int              // zero means a few per worker.
	OnScanError string           // config.OnScanError_Abort (the default) or config.OnScanError_Skip.
	SameDevice  bool             // record, but don't descend into, dirs on other filesystems.
	Filters     *filters.Filters // nil keeps all metadata as found.
	XattrAllow  []string
	DirentPool  *bufpool.Pool // nil means a pool is made for the walk.
	Ingester    *content.Ingester
	Sink        *layer.Bucket
	Log         logrus.FieldLogger
}

type Warning struct {
	Path fs.RelPath
	Err  error
}

type Stats struct {
	Dirs     int64
	Files    int64
	Symlinks int64
	Specials int64 // fifos, sockets, devices.
	Bytes    int64 // total size of regular files.
	Skipped  int64 // directories or files omitted due to errors.
}

type Result struct {
	Warnings []Warning // sorted by path.
	Stats    Stats
}

type walk struct {
	*Walker
	root    string
	rootDev uint64

	queue   chan *task
	pending atomic.Int64
	done    chan struct{}

	mu       sync.Mutex
	warnings []Warning

	dirs, files, symlinks, specials, bytes, skipped atomic.Int64
}

/*
Walk the tree at `root`, which must be a directory.
A symlink given as the root is resolved; no other symlinks are followed.

Errors:

  - `api.ErrNotFound`, `api.ErrNotADirectory`, `api.ErrPermissionDenied` -- for a bad root
  - `api.ErrCancelled` -- if the context ends first
  - any category from scanning or ingesting, when OnScanError is abort
*/
func (w *Walker) Run(ctx context.Context, root string) (*Result, error) {
	if w.Log == nil {
		w.Log = logrus.StandardLogger()
	}
	workers := w.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	depth := w.QueueDepth
	if depth <= 0 {
		depth = workers * 4
	}
	switch w.OnScanError {
	case "":
		w.OnScanError = config.OnScanError_Abort
	case config.OnScanError_Abort, config.OnScanError_Skip:
	default:
		return nil, Errorf(api.ErrUsage, "unknown scan error policy %q", w.OnScanError)
	}
	if w.DirentPool == nil {
		w.DirentPool = bufpool.New(DirentBufferSize, workers)
	}

	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return nil, Errorf(api.ErrIO, "cannot resolve %q: %s", root, err)
	}
	rootDir, err := scandir.Open(resolved)
	if err != nil {
		return nil, err
	}
	st, err := rootDir.Stat()
	rootDir.Close()
	if err != nil {
		return nil, err
	}
	rootMeta := scandir.MetadataFromStat(fs.RelPath{}, &st)

	wk := &walk{
		Walker:  w,
		root:    resolved,
		rootDev: uint64(st.Dev),
		queue:   make(chan *task, depth),
		done:    make(chan struct{}),
	}
	if err := wk.record(layer.Record{Metadata: rootMeta}, resolved); err != nil {
		return nil, err
	}
	wk.pending.Add(1)
	wk.queue <- &task{kind: task_ScanDir, path: fs.RelPath{}}

	w.Log.WithFields(logrus.Fields{"root": resolved, "workers": workers}).Debug("walk starting")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		log := w.Log.WithField("worker", i)
		g.Go(func() error { return wk.work(gctx, log) })
	}
	err = g.Wait()
	if ctx.Err() != nil {
		return nil, Errorf(api.ErrCancelled, "walk of %q cancelled", resolved)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(wk.warnings, func(i, j int) bool {
		return wk.warnings[i].Path.Compare(wk.warnings[j].Path) < 0
	})
	return &Result{
		Warnings: wk.warnings,
		Stats: Stats{
			Dirs:     wk.dirs.Load(),
			Files:    wk.files.Load(),
			Symlinks: wk.symlinks.Load(),
			Specials: wk.specials.Load(),
			Bytes:    wk.bytes.Load(),
			Skipped:  wk.skipped.Load(),
		},
	}, nil
}

func (wk *walk) work(ctx context.Context, log logrus.FieldLogger) error {
	var local []*task
	for {
		var t *task
		if n := len(local); n > 0 {
			t, local = local[n-1], local[:n-1]
		} else {
			select {
			case t = <-wk.queue:
			case <-wk.done:
				return nil
			case <-ctx.Done():
				return Errorf(api.ErrCancelled, "walk cancelled")
			}
		}
		if err := wk.process(ctx, log, t, &local); err != nil {
			return err
		}
		if wk.pending.Add(-1) == 0 {
			close(wk.done)
		}
	}
}

func (wk *walk) push(t *task, local *[]*task) {
	wk.pending.Add(1)
	select {
	case wk.queue <- t:
	default:
		*local = append(*local, t)
	}
}

func (wk *walk) process(ctx context.Context, log logrus.FieldLogger, t *task, local *[]*task) error {
	var err error
	switch t.kind {
	case task_ScanDir:
		t.advance(TaskState_Scanning)
		err = wk.scanDir(ctx, log, t, local)
		if err != nil {
			t.advance(TaskState_Failed)
		} else {
			t.advance(TaskState_Expanded)
		}
	case task_IngestFile:
		err = wk.ingestFile(ctx, log, t)
	}
	if err == nil {
		return nil
	}
	if Category(err) == api.ErrCancelled || ctx.Err() != nil {
		return Errorf(api.ErrCancelled, "walk cancelled")
	}
	return wk.scanError(log, t.path, err)
}

/*
Apply the scan error policy.  Abort returns the error (which stops
every worker); skip records a warning and lets the walk go on.
*/
func (wk *walk) scanError(log logrus.FieldLogger, path fs.RelPath, err error) error {
	if wk.OnScanError != config.OnScanError_Skip {
		return err
	}
	log.WithField("path", path.String()).WithError(err).Warn("skipping unreadable path")
	wk.skipped.Add(1)
	wk.mu.Lock()
	wk.warnings = append(wk.warnings, Warning{path, err})
	wk.mu.Unlock()
	return nil
}

func (wk *walk) fullPath(path fs.RelPath) string {
	return filepath.Join(wk.root, path.String())
}

func (wk *walk) scanDir(ctx context.Context, log logrus.FieldLogger, t *task, local *[]*task) error {
	dir, err := scandir.Open(wk.fullPath(t.path))
	if err != nil {
		if Category(err) == api.ErrNotFound {
			log.WithField("path", t.path.String()).Debug("directory vanished before it was scanned")
			return nil
		}
		return err
	}
	defer dir.Close()
	buf, err := wk.DirentPool.Acquire(ctx, 0)
	if err != nil {
		return err
	}
	defer buf.Release()

	for {
		batch, err := dir.NextBatch(buf.Bytes())
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for {
			ent, ok := batch.Next()
			if !ok {
				break
			}
			// The name must outlive the batch; copy it.
			name := string(ent.Name)
			if err := wk.visit(log, dir, t.path.Child(name), name, local); err != nil {
				return err
			}
		}
		if err := batch.Err(); err != nil {
			return err
		}
	}
}

/*
Record one entry of a directory being scanned, and queue any
follow-up work for it.
*/
func (wk *walk) visit(log logrus.FieldLogger, dir *scandir.Dir, path fs.RelPath, name string, local *[]*task) error {
	st, err := dir.Lstat(name)
	if err != nil {
		if Category(err) == api.ErrNotFound {
			log.WithField("path", path.String()).Debug("entry vanished during scan")
			return nil
		}
		return wk.scanError(log, path, err)
	}
	fmeta := scandir.MetadataFromStat(path, &st)
	switch fmeta.Type {
	case fs.Type_Unknown:
		log.WithFields(logrus.Fields{"path": path.String(), "mode": st.Mode}).Warn("recording entry of unknown type")
	case fs.Type_Symlink:
		if fmeta.Linkname, err = dir.Readlink(name); err != nil {
			return wk.scanError(log, path, err)
		}
	}
	full := filepath.Join(dir.Path(), name)

	switch fmeta.Type {
	case fs.Type_File:
		wk.push(&task{kind: task_IngestFile, path: path, fmeta: fmeta}, local)
		return nil
	case fs.Type_Dir:
		if err := wk.record(layer.Record{Metadata: fmeta}, full); err != nil {
			return err
		}
		if wk.SameDevice && uint64(st.Dev) != wk.rootDev {
			log.WithField("path", path.String()).Info("not descending into another filesystem")
			return nil
		}
		wk.push(&task{kind: task_ScanDir, path: path}, local)
		return nil
	default:
		return wk.record(layer.Record{Metadata: fmeta}, full)
	}
}

/*
Ingest one regular file and record it.  A file that's gone by the time
we get to it is left out, same as one that vanishes between readdir
and lstat; one that's been replaced by something else is an error.
*/
func (wk *walk) ingestFile(ctx context.Context, log logrus.FieldLogger, t *task) error {
	full := wk.fullPath(t.path)
	f, err := scandir.OpenFile(full)
	if err != nil {
		if Category(err) == api.ErrNotFound {
			log.WithField("path", t.path.String()).Debug("file vanished before it was read")
			return nil
		}
		return err
	}
	defer f.Close()
	ref, err := wk.Ingester.Ingest(ctx, f, t.fmeta.Size)
	if err != nil {
		return err
	}
	fmeta := t.fmeta
	fmeta.Size = ref.Size
	return wk.record(layer.Record{Metadata: fmeta, Content: &ref}, full)
}

func (wk *walk) record(r layer.Record, full string) error {
	if len(wk.XattrAllow) > 0 {
		xattrs, err := scandir.Xattrs(full, wk.XattrAllow)
		if err != nil {
			return err
		}
		r.Xattrs = xattrs
	}
	if wk.Filters != nil {
		wk.Filters.Apply(&r.Metadata)
	}
	if err := wk.Sink.Add(r); err != nil {
		return err
	}
	switch r.Type {
	case fs.Type_Dir:
		wk.dirs.Add(1)
	case fs.Type_File:
		wk.files.Add(1)
		wk.bytes.Add(r.Size)
	case fs.Type_Symlink:
		wk.symlinks.Add(1)
	default:
		wk.specials.Add(1)
	}
	return nil
}
