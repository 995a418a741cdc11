package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/polydawn/refmt"
	"github.com/polydawn/refmt/json"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fs/osfs"
	"github.com/polydawn/banyan/testutil"
	"github.com/polydawn/banyan/testutil/fixtures"
)

type invocation struct {
	code   api.ExitCode
	stdout string
	stderr string
}

func run(args ...string) invocation {
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := Main(context.Background(), append([]string{"banyan"}, args...), &bytes.Buffer{}, stdout, stderr)
	return invocation{code, stdout.String(), stderr.String()}
}

func TestWithoutArgs(t *testing.T) {
	Convey("banyan: usage printed to stderr", t, func() {
		inv := run()
		So(inv.stdout, ShouldBeBlank)
		So(inv.stderr, ShouldContainSubstring, "usage: banyan [<flags>] <command> [<args> ...]")
		So(inv.code, ShouldEqual, api.ExitUsage)
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("banyan: init, import, log, restore, verify", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			repoPath := tmpDir.Join(fs.MustRelPath("repo")).String()
			srcPath := tmpDir.Join(fs.MustRelPath("src"))
			outPath := tmpDir.Join(fs.MustRelPath("out")).String()
			So(osfs.New(tmpDir).Mkdir(fs.MustRelPath("src"), 0755), ShouldBeNil)
			fixtures.PlaceFixture(osfs.New(srcPath), fixtures.FixtureGamma, true)

			inv := run("--repo", repoPath, "init")
			So(inv.stderr, ShouldBeBlank)
			So(inv.code, ShouldEqual, api.ExitSuccess)
			So(strings.TrimSpace(inv.stdout), ShouldEqual, repoPath)

			Convey("a second init is refused", func() {
				inv := run("--repo", repoPath, "init")
				So(inv.code, ShouldEqual, api.ExitAlreadyExists)
			})

			Convey("an empty log prints nothing", func() {
				inv := run("--repo", repoPath, "log")
				So(inv.code, ShouldEqual, api.ExitSuccess)
				So(inv.stdout, ShouldBeBlank)
			})

			inv = run("--repo", repoPath, "import", srcPath.String())
			So(inv.code, ShouldEqual, api.ExitSuccess)
			layerID := strings.TrimSpace(inv.stdout)
			So(layerID, ShouldNotBeBlank)
			So(inv.stderr, ShouldContainSubstring, "8 files")

			Convey("log lists the layer", func() {
				inv := run("--repo", repoPath, "log")
				So(inv.code, ShouldEqual, api.ExitSuccess)
				So(inv.stdout, ShouldStartWith, layerID)
			})
			Convey("restore by prefix reproduces the tree", func() {
				inv := run("--repo", repoPath, "restore", layerID[:10], outPath)
				So(inv.code, ShouldEqual, api.ExitSuccess)
				So(strings.TrimSpace(inv.stdout), ShouldEqual, layerID)
				fixtures.ShouldMatchFixture(osfs.New(fs.MustAbsolutePath(outPath)), fixtures.FixtureGamma, false)

				Convey("and a second restore to the same place is refused", func() {
					inv := run("--repo", repoPath, "restore", "HEAD", outPath)
					So(inv.code, ShouldEqual, api.ExitAlreadyExists)
				})
			})
			Convey("verify passes", func() {
				inv := run("--repo", repoPath, "verify")
				So(inv.code, ShouldEqual, api.ExitSuccess)
				So(inv.stdout, ShouldStartWith, "ok: 1 layers")
			})
			Convey("json output carries the layer", func() {
				inv := run("--repo", repoPath, "--format", "json", "import", "--dry-run", srcPath.String())
				So(inv.code, ShouldEqual, api.ExitSuccess)
				var res Result
				So(refmt.UnmarshalAtlased(json.DecodeOptions{}, []byte(strings.TrimSpace(inv.stdout)), &res, resultAtlas), ShouldBeNil)
				So(res.DryRun, ShouldBeTrue)
				So(res.Import.Seq, ShouldEqual, 2)
				So(res.Import.ObjectsWritten, ShouldBeGreaterThan, 0)
				So(res.Error, ShouldBeNil)
			})
			Convey("restoring an unknown layer reports not found", func() {
				inv := run("--repo", repoPath, "restore", "0OIl", outPath)
				So(inv.code, ShouldEqual, api.ExitNotFound)
			})
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("banyan: errors map to exit codes", t, func() {
		testutil.WithTmpdir(func(tmpDir fs.AbsolutePath) {
			Convey("a missing repository", func() {
				inv := run("--repo", tmpDir.String(), "log")
				So(inv.code, ShouldEqual, api.ExitNotFound)
				So(inv.stderr, ShouldContainSubstring, "not a banyan repository")
			})
			Convey("a bad option", func() {
				inv := run("--repo", tmpDir.String(), "import", "--on-scan-error=shrug", tmpDir.String())
				So(inv.code, ShouldEqual, api.ExitUsage)
			})
			Convey("conflicting deadlines", func() {
				inv := run("--repo", tmpDir.String(), "--timeout=1s", "--deadline=@0", "log")
				So(inv.code, ShouldEqual, api.ExitUsage)
			})
			Convey("errors in json mode", func() {
				inv := run("--repo", tmpDir.String(), "--format=json", "verify")
				So(inv.code, ShouldEqual, api.ExitNotFound)
				var res Result
				So(refmt.UnmarshalAtlased(json.DecodeOptions{}, []byte(strings.TrimSpace(inv.stdout)), &res, resultAtlas), ShouldBeNil)
				So(res.Error.Category, ShouldEqual, string(api.ErrNotFound))
			})
		})
	})
}
