/*
Conformance checks for `fs.FS` implementations.
Each function registers Convey blocks; call them from inside a Convey
with a fresh, empty filesystem.
*/
package tests

import (
	"os"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/fs"
)

func CheckBaseLstat(afs fs.FS) {
	Convey("lstat on the base path should report a dir", func() {
		stat, err := afs.LStat(fs.RelPath{})
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Dir)
		So(stat.Name, ShouldResemble, fs.RelPath{})
	})
}

func CheckMkdirLstatRoundtrip(afs fs.FS) {
	Convey("mkdir and lstat should roundtrip", func() {
		d1 := fs.MustRelPath("d1")
		So(afs.Mkdir(d1, 0755), ShouldBeNil)
		stat, err := afs.LStat(d1)
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Dir)
		So(stat.Perms, ShouldEqual, fs.Perms(0755))
	})
}

func CheckDeepMkdirError(afs fs.FS) {
	Convey("deep mkdir should error", func() {
		d1d2 := fs.MustRelPath("d1/d2")
		So(afs.Mkdir(d1d2, 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
		_, err := afs.LStat(d1d2)
		So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
	})
}

func CheckMklinkLstatRoundtrip(afs fs.FS) {
	Convey("mklink and lstat should roundtrip", func() {
		l1 := fs.MustRelPath("l1")
		So(afs.Mklink(l1, "./target"), ShouldBeNil)
		stat, err := afs.LStat(l1)
		So(err, ShouldBeNil)
		So(stat.Type, ShouldEqual, fs.Type_Symlink)
		So(stat.Linkname, ShouldEqual, "./target")
		target, isLink, err := afs.Readlink(l1)
		So(err, ShouldBeNil)
		So(isLink, ShouldBeTrue)
		So(target, ShouldEqual, "./target")
	})
}

func CheckReadlinkOnNonLink(afs fs.FS) {
	Convey("readlink on a regular file should report not-a-link without error", func() {
		f1 := fs.MustRelPath("f1")
		So(makeFile(afs, f1, "body"), ShouldBeNil)
		_, isLink, err := afs.Readlink(f1)
		So(err, ShouldBeNil)
		So(isLink, ShouldBeFalse)
	})
}

func CheckSetTimesRoundtrip(afs fs.FS) {
	Convey("setting times on a symlink should not touch its target", func() {
		target := fs.MustRelPath("target")
		link := fs.MustRelPath("link")
		So(makeFile(afs, target, "body"), ShouldBeNil)
		So(afs.Mklink(link, "./target"), ShouldBeNil)
		targetStat, err := afs.LStat(target)
		So(err, ShouldBeNil)

		when := time.Date(1990, 1, 14, 12, 30, 0, 444, time.UTC)
		So(afs.SetTimesLNano(link, when, fs.DefaultAtime), ShouldBeNil)

		stat, err := afs.LStat(link)
		So(err, ShouldBeNil)
		So(stat.Mtime.UTC(), ShouldResemble, when)
		stat, err = afs.LStat(target)
		So(err, ShouldBeNil)
		So(stat.Mtime, ShouldResemble, targetStat.Mtime)
	})
}

func CheckWalkOrder(afs fs.FS) {
	Convey("walk visits parents before children in canonical order", func() {
		So(afs.Mkdir(fs.MustRelPath("a"), 0755), ShouldBeNil)
		So(makeFile(afs, fs.MustRelPath("a.b"), "x"), ShouldBeNil)
		So(makeFile(afs, fs.MustRelPath("a/z"), "y"), ShouldBeNil)
		So(makeFile(afs, fs.MustRelPath("0"), "z"), ShouldBeNil)

		var visited []string
		err := fs.Walk(afs, func(fmeta *fs.Metadata) error {
			visited = append(visited, fmeta.Name.String())
			return nil
		})
		So(err, ShouldBeNil)
		So(visited, ShouldResemble, []string{".", "./0", "./a", "./a/z", "./a.b"})
	})
}

func makeFile(afs fs.FS, path fs.RelPath, body string) error {
	f, err := afs.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write([]byte(body))
	return err
}
