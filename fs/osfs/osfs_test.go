package osfs

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fs/tests"
	"github.com/polydawn/banyan/testutil"
)

func TestAll(t *testing.T) {
	Convey("osfs conformance tests", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			tfs := New(tmpDir)
			boxPath := fs.MustRelPath("sandbox")
			tfs.Mkdir(boxPath, 0755)
			afs := New(tmpDir.Join(boxPath))

			tests.CheckBaseLstat(afs)
			tests.CheckMkdirLstatRoundtrip(afs)
			tests.CheckDeepMkdirError(afs)
			tests.CheckMklinkLstatRoundtrip(afs)
			tests.CheckReadlinkOnNonLink(afs)
			tests.CheckSetTimesRoundtrip(afs)
			tests.CheckWalkOrder(afs)
		})
	})
}

func TestDevModes(t *testing.T) {
	Convey("device numbers split and join symmetrically", t, func() {
		for _, pair := range [][2]int64{{0, 0}, {8, 1}, {259, 3}, {4095, 1048575}} {
			major, minor := DevModesSplit(devModesJoin(pair[0], pair[1]))
			So(major, ShouldEqual, pair[0])
			So(minor, ShouldEqual, pair[1])
		}
	})
}

func TestBreakoutRejected(t *testing.T) {
	Convey("paths departing the base are rejected", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			afs := New(tmpDir)
			_, err := afs.LStat(fs.MustRelPath("../nope"))
			So(err, ShouldNotBeNil)
		})
	})
}
