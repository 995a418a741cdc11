package fsOp

import (
	"bytes"
	"os"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fs/osfs"
	"github.com/polydawn/banyan/testutil"
)

func TestPlaceFile(t *testing.T) {
	Convey("PlaceFile suite:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := osfs.New(tmpDir)
			when := time.Date(1990, 1, 14, 12, 30, 0, 0, time.UTC)
			Convey("Simple file placements should work...", func() {
				Convey("Placing a file with read bits should work", func() {
					err := PlaceFile(afs, fs.Metadata{
						Name:  fs.MustRelPath("thing"),
						Type:  fs.Type_File,
						Perms: 0644,
						Mtime: when,
					}, bytes.NewBuffer([]byte("abc\n")), true)
					So(err, ShouldBeNil)
					bs, err := os.ReadFile(tmpDir.Join(fs.MustRelPath("thing")).String())
					So(err, ShouldBeNil)
					So(string(bs), ShouldResemble, "abc\n")
					stat := testutil.ShouldStat(afs, fs.MustRelPath("thing"))
					So(stat.Perms, ShouldEqual, fs.Perms(0644))
					So(stat.Mtime, ShouldResemble, when)
					So(stat.Size, ShouldEqual, 4)
				})
				Convey("Placing a file with *no* read bits should work", func() {
					err := PlaceFile(afs, fs.Metadata{
						Name:  fs.MustRelPath("thing"),
						Type:  fs.Type_File,
						Perms: 0, // this is a meaningful zero!
					}, bytes.NewBuffer([]byte("abc\n")), true)
					So(err, ShouldBeNil)
					// Skip attempt to read.  If low privilege, will fail.
				})
				Convey("Placing a file twice should fail", func() {
					fmeta := fs.Metadata{Name: fs.MustRelPath("thing"), Type: fs.Type_File, Perms: 0644}
					So(PlaceFile(afs, fmeta, nil, true), ShouldBeNil)
					So(PlaceFile(afs, fmeta, nil, true), errcat.ErrorShouldHaveCategory, fs.ErrAlreadyExists)
				})
				Convey("File placements missing parent dirs should fail", func() {
					err := PlaceFile(afs, fs.Metadata{
						Name: fs.MustRelPath("deeper/thing"),
						Type: fs.Type_File,
					}, bytes.NewBuffer([]byte("abc\n")), true)
					So(err, errcat.ErrorShouldHaveCategory, fs.ErrNotExists)
				})
			})
			Convey("Simple dir placements should work", func() {
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("d"), Type: fs.Type_Dir, Perms: 0750, Mtime: when}, nil, true), ShouldBeNil)
				stat := testutil.ShouldStat(afs, fs.MustRelPath("d"))
				So(stat.Type, ShouldEqual, fs.Type_Dir)
				So(stat.Perms, ShouldEqual, fs.Perms(0750))
				So(stat.Mtime, ShouldResemble, when)
			})
			Convey("Placing the base dir when it already exists should only update it", func() {
				So(PlaceFile(afs, fs.Metadata{Name: fs.RelPath{}, Type: fs.Type_Dir, Perms: 0755, Mtime: when}, nil, true), ShouldBeNil)
				So(testutil.ShouldStat(afs, fs.RelPath{}).Mtime, ShouldResemble, when)
			})
			Convey("Symlink and fifo placements should work", func() {
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("l"), Type: fs.Type_Symlink, Linkname: "../../nowhere", Mtime: when}, nil, true), ShouldBeNil)
				stat := testutil.ShouldStat(afs, fs.MustRelPath("l"))
				So(stat.Type, ShouldEqual, fs.Type_Symlink)
				So(stat.Linkname, ShouldEqual, "../../nowhere")
				So(stat.Mtime, ShouldResemble, when)

				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("p"), Type: fs.Type_NamedPipe, Perms: 0600, Mtime: when}, nil, true), ShouldBeNil)
				So(testutil.ShouldStat(afs, fs.MustRelPath("p")).Type, ShouldEqual, fs.Type_NamedPipe)
			})
			Convey("Sockets are refused", func() {
				err := PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("s"), Type: fs.Type_Socket}, nil, true)
				So(err, errcat.ErrorShouldHaveCategory, fs.ErrUsage)
			})
			Convey("Placements that would traverse a symlink should fail", func() {
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("d"), Type: fs.Type_Dir, Perms: 0755}, nil, true), ShouldBeNil)
				So(PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("l"), Type: fs.Type_Symlink, Linkname: "./d"}, nil, true), ShouldBeNil)
				err := PlaceFile(afs, fs.Metadata{Name: fs.MustRelPath("l/f"), Type: fs.Type_File, Perms: 0644}, nil, true)
				So(err, errcat.ErrorShouldHaveCategory, fs.ErrBreakout)
			})
		})
	})
}
