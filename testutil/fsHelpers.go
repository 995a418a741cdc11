package testutil

import (
	"os"
	"path/filepath"

	"github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/banyan/fs"
)

/*
Creates a temp dir, calls `fn` with it, and removes it all afterward.

Removal first forces every dir back to being writable and searchable,
since tests of permission handling like to leave unremovable things behind.
*/
func WithTmpdir(fn func(tmpDir fs.AbsolutePath)) {
	dir, err := os.MkdirTemp("", "banyan-test-")
	if err != nil {
		panic(err)
	}
	dir, err = filepath.EvalSymlinks(dir)
	if err != nil {
		panic(err)
	}
	defer forceRemoveAll(dir)
	fn(fs.MustAbsolutePath(dir))
}

// Walk calls back on each dir before listing it, so unlocking in the callback lets it descend.
func forceRemoveAll(dir string) {
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() {
			os.Chmod(path, 0700)
		}
		return nil
	})
	os.RemoveAll(dir)
}

func ShouldStat(afs fs.FS, path fs.RelPath) fs.Metadata {
	stat, err := afs.LStat(path)
	convey.So(err, convey.ShouldBeNil)
	stat.Mtime = stat.Mtime.UTC()
	return *stat
}
