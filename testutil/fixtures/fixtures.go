/*
Fixture trees for tests: described in memory, placed on a real
filesystem, and compared against what comes back out.
*/
package fixtures

import (
	"bytes"
	"fmt"
	"math/rand"
	"time"

	"github.com/hlubek/readercomp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fsOp"
)

type FixtureFile struct {
	Metadata fs.Metadata
	Body     []byte
}

// Because golang's time.Time zero value causes Nonsense to occur.
var defaultTime = time.Date(1990, 1, 14, 12, 30, 0, 0, time.UTC)

var FixtureAlpha = []FixtureFile{
	{fs.Metadata{Name: fs.MustRelPath("."), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./a"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("zyx")},
}

var FixtureAlphaDiffContent = []FixtureFile{
	{fs.Metadata{Name: fs.MustRelPath("."), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./a"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("qwe")},
}

var FixtureAlphaDiffPerm3 = []FixtureFile{
	{fs.Metadata{Name: fs.MustRelPath("."), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	// All of setuid, setgid, and sticky.  These sometimes get stripped in weird places.
	{fs.Metadata{Name: fs.MustRelPath("./a"), Type: fs.Type_File, Perms: 07644, Mtime: defaultTime, Size: 3}, []byte("zyx")},
}

var FixtureEmpty = []FixtureFile{
	{fs.Metadata{Name: fs.MustRelPath("."), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
}

var FixtureDepth3 = []FixtureFile{
	{fs.Metadata{Name: fs.MustRelPath("."), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./a"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("zyx")},
	{fs.Metadata{Name: fs.MustRelPath("./d"), Type: fs.Type_Dir, Perms: 0750, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./d/d2"), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./d/d2/c"), Type: fs.Type_File, Perms: 0664, Mtime: defaultTime, Size: 4}, []byte("asdf")},
}

var FixtureSymlinks = []FixtureFile{
	{fs.Metadata{Name: fs.MustRelPath("."), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./a"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("zyx")},
	// Perms on the link are 777, not because that works, but because *that's what you get* on a linux system.
	{fs.Metadata{Name: fs.MustRelPath("./ln"), Type: fs.Type_Symlink, Perms: 0777, Mtime: defaultTime, Linkname: "./a"}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./dangle"), Type: fs.Type_Symlink, Perms: 0777, Mtime: defaultTime, Linkname: "../../nowhere"}, nil},
}

// Deep and varied structures.  Files, dirs, a fifo, and an empty dir.
// Subtle: a dir with a sibling that's a suffix of its name (can trip up dir/child adjacency sorting).
// Subtle: a file with a sibling that's a suffix of its name.
var FixtureGamma = []FixtureFile{
	{fs.Metadata{Name: fs.MustRelPath("."), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./empty"), Type: fs.Type_Dir, Perms: 0700, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./etc"), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./etc/init"), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./etc/init/zed"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 4}, []byte("grue")},
	{fs.Metadata{Name: fs.MustRelPath("./etc/init.d"), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./etc/init.d/service-p"), Type: fs.Type_File, Perms: 0755, Mtime: defaultTime, Size: 2}, []byte("p!")},
	{fs.Metadata{Name: fs.MustRelPath("./etc/init.d/service-q"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 2}, []byte("q!")},
	{fs.Metadata{Name: fs.MustRelPath("./etc/trick"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("sib")},
	{fs.Metadata{Name: fs.MustRelPath("./etc/tricky"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("sob")},
	{fs.Metadata{Name: fs.MustRelPath("./pipe"), Type: fs.Type_NamedPipe, Perms: 0640, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./var"), Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	{fs.Metadata{Name: fs.MustRelPath("./var/dup"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("zyx")},
	{fs.Metadata{Name: fs.MustRelPath("./var/empty-file"), Type: fs.Type_File, Perms: 0600, Mtime: defaultTime, Size: 0}, []byte{}},
	{fs.Metadata{Name: fs.MustRelPath("./var/fun"), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: 3}, []byte("zyx")},
}

var AllFixtures = []struct {
	Name  string
	Files []FixtureFile
}{
	{"Alpha", FixtureAlpha},
	{"AlphaDiffContent", FixtureAlphaDiffContent},
	{"AlphaDiffPerm3", FixtureAlphaDiffPerm3},
	{"Empty", FixtureEmpty},
	{"Depth3", FixtureDepth3},
	{"Symlinks", FixtureSymlinks},
	{"Gamma", FixtureGamma},
}

/*
Generate a wide, randomly shaped tree.  The same seed always
produces the same tree.  Bodies are random, with some repeated
across files so deduplication gets exercised.
*/
func Generate(seed int64, dirs, filesPerDir int) []FixtureFile {
	rng := rand.New(rand.NewSource(seed))
	tree := []FixtureFile{
		{fs.Metadata{Name: fs.RelPath{}, Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime}, nil},
	}
	dirPaths := []fs.RelPath{{}}
	shared := randomBody(rng, 300)
	for i := 0; i < dirs; i++ {
		parent := dirPaths[rng.Intn(len(dirPaths))]
		pth := parent.Child(fmt.Sprintf("dir%03d", i))
		dirPaths = append(dirPaths, pth)
		tree = append(tree, FixtureFile{fs.Metadata{Name: pth, Type: fs.Type_Dir, Perms: 0755, Mtime: defaultTime.Add(time.Duration(i) * time.Second)}, nil})
	}
	for _, dir := range dirPaths {
		for j := 0; j < filesPerDir; j++ {
			body := shared
			if rng.Intn(3) > 0 {
				body = randomBody(rng, rng.Intn(2000))
			}
			tree = append(tree, FixtureFile{fs.Metadata{
				Name:  dir.Child(fmt.Sprintf("f%02d", j)),
				Type:  fs.Type_File,
				Perms: 0644,
				Mtime: defaultTime.Add(time.Duration(j) * time.Nanosecond),
				Size:  int64(len(body)),
			}, body})
		}
	}
	return tree
}

// A file of `size` random bytes, for testing content too big to be one blob.
func LargeFile(name string, seed int64, size int) FixtureFile {
	body := randomBody(rand.New(rand.NewSource(seed)), size)
	return FixtureFile{fs.Metadata{Name: fs.MustRelPath(name), Type: fs.Type_File, Perms: 0644, Mtime: defaultTime, Size: int64(size)}, body}
}

func randomBody(rng *rand.Rand, n int) []byte {
	bs := make([]byte, n)
	rng.Read(bs)
	return bs
}

/*
Create files described by the fixtures on the filesystem given.
Entries must be ordered parents-first.
Any errors will be panicked, since this is meant to be used in test setup.
*/
func PlaceFixture(afs fs.FS, fixture []FixtureFile, skipChown bool) {
	for _, ff := range fixture {
		if err := fsOp.PlaceFile(afs, ff.Metadata, bytes.NewReader(ff.Body), skipChown); err != nil {
			panic(err)
		}
	}
	// Range again: in reverse order, to re-do time enforcement, covering our own tracks.
	for i := len(fixture) - 1; i >= 0; i-- {
		ff := fixture[i]
		if ff.Metadata.Type == fs.Type_Dir {
			if err := afs.SetTimesLNano(ff.Metadata.Name, ff.Metadata.Mtime, fs.DefaultAtime); err != nil {
				panic(err)
			}
		}
	}
}

/*
Assert that the filesystem holds what the fixture describes:
type, perms, mtime, link targets, and content.  Ownership is compared
only if asked.  Must be called inside a Convey.
*/
func ShouldMatchFixture(afs fs.FS, fixture []FixtureFile, compareOwnership bool) {
	for _, ff := range fixture {
		want := ff.Metadata
		got, body, err := fsOp.ScanFile(afs, want.Name)
		So(err, ShouldBeNil)
		So(got.Type, ShouldEqual, want.Type)
		if want.Type != fs.Type_Symlink {
			So(got.Perms, ShouldEqual, want.Perms)
		}
		So(got.Mtime.Equal(want.Mtime), ShouldBeTrue)
		So(got.Linkname, ShouldEqual, want.Linkname)
		if compareOwnership {
			So(got.Uid, ShouldEqual, want.Uid)
			So(got.Gid, ShouldEqual, want.Gid)
		}
		if want.Type == fs.Type_File {
			So(got.Size, ShouldEqual, want.Size)
			So(body, ShouldNotBeNil)
			same, err := readercomp.Equal(body, bytes.NewReader(ff.Body), 4096)
			body.Close()
			So(err, ShouldBeNil)
			So(same, ShouldBeTrue)
		} else {
			So(body, ShouldBeNil)
		}
	}
}
