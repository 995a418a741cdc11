package fsOp

import (
	"bytes"
	"io"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fs/osfs"
	. "github.com/polydawn/banyan/testutil"
)

func TestMkdirAll(t *testing.T) {
	// Note that all of these are assuming PlaceFile already works just fine.
	Convey("MkdirAll:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)
			Convey("MkdirAll on an existing path should work...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("dir"), Type: fs.Type_Dir, Perms: 0755}, nil)

				So(MkdirAll(afs, fs.MustRelPath("dir"), 0755), ShouldBeNil)
			})
			Convey("MkdirAll creating one node should work...", func() {
				So(MkdirAll(afs, fs.MustRelPath("dir"), 0755), ShouldBeNil)
				stat, err := afs.LStat(fs.MustRelPath("dir"))
				So(err, ShouldBeNil)
				So(stat.Type, ShouldEqual, fs.Type_Dir)
			})
			Convey("MkdirAll creating several nodes should work...", func() {
				So(MkdirAll(afs, fs.MustRelPath("dir/2/3"), 0755), ShouldBeNil)
				stat, err := afs.LStat(fs.MustRelPath("dir/2/3"))
				So(err, ShouldBeNil)
				So(stat.Type, ShouldEqual, fs.Type_Dir)
			})
			Convey("MkdirAll on an existing file should error...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("womp"), Type: fs.Type_File, Perms: 0755}, nil)

				So(MkdirAll(afs, fs.MustRelPath("womp"), 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotDir)
			})
			Convey("MkdirAll traversing existing file should error...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("womp"), Type: fs.Type_File, Perms: 0755}, nil)

				So(MkdirAll(afs, fs.MustRelPath("womp/2/3"), 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotDir)
			})
			Convey("MkdirAll traversing symlinks should error...", func() {
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("dir"), Type: fs.Type_Dir, Perms: 0755}, nil)
				mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("lnk"), Type: fs.Type_Symlink, Linkname: "./dir"}, nil)

				So(MkdirAll(afs, fs.MustRelPath("lnk/woo"), 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotDir)
			})
			Convey("MkdirAll when the entire filesystem DNE should error...", func() {
				afs := osfs.New(tmpDir.Join(fs.MustRelPath("nope")))

				So(MkdirAll(afs, fs.MustRelPath("dir"), 0755), errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
			})
		})
	})
}

func TestRepairMtime(t *testing.T) {
	Convey("RepairMtime:", t, func() {
		WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)
			then := time.Unix(500004440, 0).UTC()
			mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("dir"), Type: fs.Type_Dir, Perms: 0755, Mtime: then}, nil)

			repair := RepairMtime(afs, fs.MustRelPath("dir"))
			mustPlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("dir/f"), Type: fs.Type_File, Perms: 0644}, nil)
			So(repair(), ShouldBeNil)

			So(ShouldStat(afs, fs.MustRelPath("dir")).Mtime, ShouldResemble, then)
		})
	})
}

func mustPlaceFile(afs fs.FS, fmeta fs.Metadata, body io.Reader) {
	if fmeta.Type == fs.Type_File && body == nil {
		body = &bytes.Buffer{}
	}
	if err := PlaceFile(afs, fmeta, body, true); err != nil {
		panic(err)
	}
}
