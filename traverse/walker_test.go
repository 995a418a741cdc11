package traverse

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"
	"golang.org/x/sys/unix"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/bufpool"
	"github.com/polydawn/banyan/config"
	"github.com/polydawn/banyan/content"
	"github.com/polydawn/banyan/filters"
	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fs/osfs"
	"github.com/polydawn/banyan/layer"
	. "github.com/polydawn/banyan/testutil"
	"github.com/polydawn/banyan/testutil/fixtures"
	"github.com/polydawn/banyan/warehouse"
	"github.com/polydawn/banyan/warehouse/impl/kvmem"
)

var testChunking = content.Params{Mode: content.Mode_Fixed, SmallFileThreshold: 512, ChunkSize: 256}

type walkOutput struct {
	result  *Result
	records []layer.Record
	store   *kvmem.Store
}

func runWalk(ctx context.Context, root fs.AbsolutePath, configure func(*Walker)) (walkOutput, error) {
	store := kvmem.New(warehouse.Compression_None)
	bucket := layer.NewBucket()
	w := &Walker{
		Workers: 4,
		Ingester: &content.Ingester{
			Store:  store,
			Pool:   bufpool.New(testChunking.WindowSize(), 4),
			Params: testChunking,
		},
		Sink: bucket,
	}
	if configure != nil {
		configure(w)
	}
	result, err := w.Run(ctx, root.String())
	if err != nil {
		return walkOutput{}, err
	}
	records, err := bucket.Sorted()
	return walkOutput{result, records, store}, err
}

func TestWalk(t *testing.T) {
	Convey("Walking fixture trees", t, func() {
		for _, fixture := range fixtures.AllFixtures {
			Convey("fixture "+fixture.Name, func() {
				WithTmpdir(func(tmpDir fs.AbsolutePath) {
					afs := osfs.New(tmpDir)
					fixtures.PlaceFixture(afs, fixture.Files, true)

					out, err := runWalk(context.Background(), tmpDir, nil)
					So(err, ShouldBeNil)
					So(out.result.Warnings, ShouldBeEmpty)

					Convey("records match a serial reference walk", func() {
						var expected []fs.Metadata
						So(fs.Walk(afs, func(fmeta *fs.Metadata) error {
							expected = append(expected, *fmeta)
							return nil
						}), ShouldBeNil)
						So(out.records, ShouldHaveLength, len(expected))
						for i, r := range out.records {
							want := expected[i]
							So(r.Name, ShouldResemble, want.Name)
							So(r.Type, ShouldEqual, want.Type)
							So(r.Perms, ShouldEqual, want.Perms)
							So(r.Uid, ShouldEqual, want.Uid)
							So(r.Gid, ShouldEqual, want.Gid)
							So(r.Mtime.Equal(want.Mtime), ShouldBeTrue)
							So(r.Linkname, ShouldEqual, want.Linkname)
							if r.Type == fs.Type_File {
								So(r.Size, ShouldEqual, want.Size)
							}
						}
					})
					Convey("file content is stored and readable", func() {
						for _, ff := range fixture.Files {
							if ff.Metadata.Type != fs.Type_File {
								continue
							}
							for _, r := range out.records {
								if r.Name != ff.Metadata.Name {
									continue
								}
								So(r.Content, ShouldNotBeNil)
								bs, err := io.ReadAll(content.NewReader(out.store, *r.Content))
								So(err, ShouldBeNil)
								So(string(bs), ShouldEqual, string(ff.Body))
							}
						}
					})
				})
			})
		}
	})

	Convey("Walk statistics", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			fixtures.PlaceFixture(osfs.New(tmpDir), fixtures.FixtureGamma, true)
			out, err := runWalk(context.Background(), tmpDir, nil)
			So(err, ShouldBeNil)
			So(out.result.Stats, ShouldResemble, Stats{Dirs: 6, Files: 8, Specials: 1, Bytes: 20})
		})
	})
}

func TestWalkDeterminism(t *testing.T) {
	Convey("Walk results don't depend on parallelism", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			tree := fixtures.Generate(42, 60, 6)
			tree = append(tree, fixtures.LargeFile("big", 7, 5000))
			fixtures.PlaceFixture(osfs.New(tmpDir), tree, true)

			var hashes []api.Digest
			for _, shape := range [][2]int{{1, 1}, {2, 1}, {8, 2}, {16, 64}} {
				out, err := runWalk(context.Background(), tmpDir, func(w *Walker) {
					w.Workers, w.QueueDepth = shape[0], shape[1]
				})
				So(err, ShouldBeNil)
				So(out.records, ShouldHaveLength, len(tree))
				h, err := layer.HashTree(out.records)
				So(err, ShouldBeNil)
				hashes = append(hashes, h)
			}
			for _, h := range hashes[1:] {
				So(h, ShouldEqual, hashes[0])
			}
		})
	})
}

func TestWalkErrors(t *testing.T) {
	Convey("Walk errors", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			fixtures.PlaceFixture(osfs.New(tmpDir), fixtures.FixtureGamma, true)

			Convey("a missing root is not found", func() {
				_, err := runWalk(context.Background(), tmpDir.Join(fs.MustRelPath("nope")), nil)
				So(err, errcat.ErrorShouldHaveCategory, api.ErrNotFound)
			})
			Convey("a file root is not a directory", func() {
				_, err := runWalk(context.Background(), tmpDir.Join(fs.MustRelPath("var/fun")), nil)
				So(err, errcat.ErrorShouldHaveCategory, api.ErrNotADirectory)
			})
			Convey("a cancelled context stops the walk", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err := runWalk(ctx, tmpDir, nil)
				So(err, errcat.ErrorShouldHaveCategory, api.ErrCancelled)
			})
			Convey("an unknown policy is a usage error", func() {
				_, err := runWalk(context.Background(), tmpDir, func(w *Walker) { w.OnScanError = "shrug" })
				So(err, errcat.ErrorShouldHaveCategory, api.ErrUsage)
			})

			Convey("unreadable directories", Requires(RequiresPermissionsEnforced, func() {
				locked := tmpDir.Join(fs.MustRelPath("etc/init.d"))
				So(os.Chmod(locked.String(), 0000), ShouldBeNil)
				defer os.Chmod(locked.String(), 0755)

				Convey("abort the walk by default", func() {
					_, err := runWalk(context.Background(), tmpDir, nil)
					So(err, errcat.ErrorShouldHaveCategory, api.ErrPermissionDenied)
				})
				Convey("are reported and skipped under the skip policy", func() {
					out, err := runWalk(context.Background(), tmpDir, func(w *Walker) {
						w.OnScanError = config.OnScanError_Skip
					})
					So(err, ShouldBeNil)
					So(out.result.Warnings, ShouldHaveLength, 1)
					So(out.result.Warnings[0].Path, ShouldResemble, fs.MustRelPath("etc/init.d"))
					So(out.result.Warnings[0].Err, errcat.ErrorShouldHaveCategory, api.ErrPermissionDenied)
					So(out.result.Stats.Skipped, ShouldEqual, 1)

					var names []string
					for _, r := range out.records {
						names = append(names, r.Name.String())
					}
					So(names, ShouldContain, "./etc/init.d")
					So(names, ShouldNotContain, "./etc/init.d/service-p")
					So(names, ShouldContain, "./var/fun")
				})
			}))
		})
	})
}

// newWalk sets up a walk over root without starting any workers,
// so single tasks can be run against a tree that's changed under it.
func newWalk(root fs.AbsolutePath, configure func(*Walker)) *walk {
	w := &Walker{
		OnScanError: config.OnScanError_Abort,
		DirentPool:  bufpool.New(DirentBufferSize, 1),
		Ingester: &content.Ingester{
			Store:  kvmem.New(warehouse.Compression_None),
			Pool:   bufpool.New(testChunking.WindowSize(), 1),
			Params: testChunking,
		},
		Sink: layer.NewBucket(),
		Log:  logrus.New(),
	}
	if configure != nil {
		configure(w)
	}
	var st unix.Stat_t
	So(unix.Stat(root.String(), &st), ShouldBeNil)
	return &walk{
		Walker:  w,
		root:    root.String(),
		rootDev: uint64(st.Dev),
		queue:   make(chan *task, 64),
		done:    make(chan struct{}),
	}
}

// runTask runs one task, failing the test rather than hanging if it blocks.
func runTask(wk *walk, t *task, local *[]*task) error {
	errCh := make(chan error, 1)
	go func() { errCh <- wk.process(context.Background(), wk.Log, t, local) }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		So("task still running after 10s", ShouldBeEmpty)
		return nil
	}
}

func fileTask(name string) *task {
	return &task{kind: task_IngestFile, path: fs.MustRelPath(name), fmeta: fs.Metadata{Name: fs.MustRelPath(name), Type: fs.Type_File}}
}

func TestWalkTreeChanges(t *testing.T) {
	Convey("Trees that change during a walk", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			fixtures.PlaceFixture(osfs.New(tmpDir), fixtures.FixtureGamma, true)

			Convey("a fifo where a file was seen is refused without blocking", func() {
				wk := newWalk(tmpDir, nil)
				err := runTask(wk, fileTask("pipe"), nil)
				So(err, errcat.ErrorShouldHaveCategory, api.ErrIO)
				So(wk.Sink.Len(), ShouldEqual, 0)

				Convey("and is only a warning under the skip policy", func() {
					wk := newWalk(tmpDir, func(w *Walker) { w.OnScanError = config.OnScanError_Skip })
					So(runTask(wk, fileTask("pipe"), nil), ShouldBeNil)
					So(wk.warnings, ShouldHaveLength, 1)
					So(wk.warnings[0].Path, ShouldResemble, fs.MustRelPath("pipe"))
					So(wk.skipped.Load(), ShouldEqual, 1)
				})
			})
			Convey("a symlink where a file was seen is not followed", func() {
				So(os.Remove(tmpDir.Join(fs.MustRelPath("var/fun")).String()), ShouldBeNil)
				So(os.Symlink("dup", tmpDir.Join(fs.MustRelPath("var/fun")).String()), ShouldBeNil)
				wk := newWalk(tmpDir, nil)
				So(runTask(wk, fileTask("var/fun"), nil), ShouldNotBeNil)
				So(wk.Sink.Len(), ShouldEqual, 0)
			})
			Convey("a file that vanished before it was read is left out", func() {
				So(os.Remove(tmpDir.Join(fs.MustRelPath("var/fun")).String()), ShouldBeNil)
				wk := newWalk(tmpDir, nil)
				So(runTask(wk, fileTask("var/fun"), nil), ShouldBeNil)
				So(wk.Sink.Len(), ShouldEqual, 0)
				So(wk.warnings, ShouldBeEmpty)
				So(wk.skipped.Load(), ShouldEqual, 0)
			})
			Convey("a directory that vanished before it was scanned is not an error", func() {
				So(os.RemoveAll(tmpDir.Join(fs.MustRelPath("etc")).String()), ShouldBeNil)
				wk := newWalk(tmpDir, nil)
				tk := &task{kind: task_ScanDir, path: fs.MustRelPath("etc")}
				So(runTask(wk, tk, nil), ShouldBeNil)
				So(tk.state, ShouldEqual, TaskState_Expanded)
				So(wk.Sink.Len(), ShouldEqual, 0)
				So(wk.warnings, ShouldBeEmpty)
			})
			Convey("a file still in place is ingested and recorded", func() {
				wk := newWalk(tmpDir, nil)
				So(runTask(wk, fileTask("var/fun"), nil), ShouldBeNil)
				So(wk.Sink.Len(), ShouldEqual, 1)
			})
		})
	})
}

func TestWalkSameDevice(t *testing.T) {
	Convey("Scanning with the same-device rule", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			fixtures.PlaceFixture(osfs.New(tmpDir), fixtures.FixtureGamma, true)
			scanRoot := func(wk *walk) (queued []fs.RelPath) {
				var local []*task
				So(runTask(wk, &task{kind: task_ScanDir, path: fs.RelPath{}}, &local), ShouldBeNil)
				close(wk.queue)
				for tk := range wk.queue {
					local = append(local, tk)
				}
				for _, tk := range local {
					if tk.kind == task_ScanDir {
						queued = append(queued, tk.path)
					}
				}
				return queued
			}

			Convey("descends into directories on the root's device", func() {
				wk := newWalk(tmpDir, func(w *Walker) { w.SameDevice = true })
				So(scanRoot(wk), ShouldHaveLength, 3)
			})
			Convey("records but doesn't descend into directories on another device", func() {
				wk := newWalk(tmpDir, func(w *Walker) { w.SameDevice = true })
				wk.rootDev = ^uint64(0)
				So(wk.Sink.Add(layer.Record{Metadata: fs.Metadata{Type: fs.Type_Dir, Perms: 0755}}), ShouldBeNil)
				So(scanRoot(wk), ShouldBeEmpty)
				records, err := wk.Sink.Sorted()
				So(err, ShouldBeNil)
				var names []string
				for _, r := range records {
					names = append(names, r.Name.String())
				}
				So(names, ShouldResemble, []string{".", "./empty", "./etc", "./pipe", "./var"})
			})
			Convey("ignores devices entirely when the rule is off", func() {
				wk := newWalk(tmpDir, nil)
				wk.rootDev = ^uint64(0)
				So(scanRoot(wk), ShouldHaveLength, 3)
			})
		})
	})
}

func TestWalkFilters(t *testing.T) {
	Convey("Filters apply to every record", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			fixtures.PlaceFixture(osfs.New(tmpDir), fixtures.FixtureAlphaDiffPerm3, true)
			ff, err := filters.Parse(config.Filters{Uid: "4000", Gid: "4001", Mtime: "@1000", Sticky: "zero"})
			So(err, ShouldBeNil)
			out, err := runWalk(context.Background(), tmpDir, func(w *Walker) { w.Filters = &ff })
			So(err, ShouldBeNil)
			for _, r := range out.records {
				So(r.Uid, ShouldEqual, uint32(4000))
				So(r.Gid, ShouldEqual, uint32(4001))
				So(r.Mtime.Unix(), ShouldEqual, int64(1000))
				So(r.Perms&07000, ShouldEqual, fs.Perms(0))
			}
		})
	})
}

func TestTaskState(t *testing.T) {
	Convey("Task states only move forward", t, func() {
		tk := &task{kind: task_ScanDir}
		So(tk.state, ShouldEqual, TaskState_Pending)
		tk.advance(TaskState_Scanning)
		tk.advance(TaskState_Expanded)
		So(func() { tk.advance(TaskState_Scanning) }, ShouldPanic)
		So(func() { (&task{}).advance(TaskState_Failed) }, ShouldPanic)
	})
}
