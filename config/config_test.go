package config

import (
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/testutil"
)

func TestRepoConfig(t *testing.T) {
	Convey("Repo config files:", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			filename := tmpDir.Join(fs.MustRelPath("config.yaml")).String()

			Convey("a missing file yields the defaults", func() {
				cfg, err := LoadRepoConfig(filename)
				So(err, ShouldBeNil)
				So(cfg, ShouldResemble, DefaultRepoConfig())
			})
			Convey("an empty file yields the defaults", func() {
				So(os.WriteFile(filename, nil, 0644), ShouldBeNil)
				cfg, err := LoadRepoConfig(filename)
				So(err, ShouldBeNil)
				So(cfg, ShouldResemble, DefaultRepoConfig())
			})
			Convey("written configs load back identically", func() {
				cfg := DefaultRepoConfig()
				cfg.Workers = 3
				cfg.OnScanError = OnScanError_Skip
				cfg.Xattrs = []string{"user.*"}
				So(WriteRepoConfig(filename, cfg), ShouldBeNil)
				cfg2, err := LoadRepoConfig(filename)
				So(err, ShouldBeNil)
				So(cfg2, ShouldResemble, cfg)
			})
			Convey("partial files keep defaults for the rest", func() {
				So(os.WriteFile(filename, []byte("workers: 2\n"), 0644), ShouldBeNil)
				cfg, err := LoadRepoConfig(filename)
				So(err, ShouldBeNil)
				So(cfg.Workers, ShouldEqual, 2)
				So(cfg.OnScanError, ShouldEqual, OnScanError_Abort)
				So(cfg.Filters.Uid, ShouldEqual, "keep")
			})
			Convey("unknown keys are usage errors", func() {
				So(os.WriteFile(filename, []byte("wrokers: 2\n"), 0644), ShouldBeNil)
				_, err := LoadRepoConfig(filename)
				So(err, errcat.ErrorShouldHaveCategory, api.ErrUsage)
			})
			Convey("bad enum values are usage errors", func() {
				So(os.WriteFile(filename, []byte("on_scan_error: ignore\n"), 0644), ShouldBeNil)
				_, err := LoadRepoConfig(filename)
				So(err, errcat.ErrorShouldHaveCategory, api.ErrUsage)
			})
		})
	})
}

func TestGetRepoPath(t *testing.T) {
	Convey("Repo path from env:", t, func() {
		old := os.Getenv("BANYAN_REPO")
		defer os.Setenv("BANYAN_REPO", old)

		os.Setenv("BANYAN_REPO", "/tmp/somewhere/../repo")
		So(GetRepoPath().String(), ShouldEqual, "/tmp/repo")
	})
}
