package fs

import (
	"io"
	"os"
	"time"
)

/*
Interface for all primitive functions we expect to be able to perform
on a filesystem.

All paths accepted are RelPath types; typically the FS instance
is constructed with an AbsolutePath, and all further operations are
joined with that base path.

Nothing here follows symlinks, with the single exception of `OpenFile`
when called without O_NOFOLLOW.  Callers that place files should use
`fsOp.PlaceFile`, which refuses to traverse symlinks in parent paths.
*/
type FS interface {
	BasePath() AbsolutePath

	OpenFile(path RelPath, flag int, perms Perms) (File, error)
	Mkdir(path RelPath, perms Perms) error
	Mklink(path RelPath, target string) error
	Mkfifo(path RelPath, perms Perms) error
	MkdevBlock(path RelPath, major int64, minor int64, perms Perms) error
	MkdevChar(path RelPath, major int64, minor int64, perms Perms) error

	Lchown(path RelPath, uid uint32, gid uint32) error
	Chmod(path RelPath, perms Perms) error
	SetTimesLNano(path RelPath, mtime time.Time, atime time.Time) error
	Lsetxattr(path RelPath, name string, value []byte) error

	LStat(path RelPath) (*Metadata, error)
	ReadDirNames(path RelPath) ([]string, error)
	Readlink(path RelPath) (target string, isSymlink bool, err error)
}

type File interface {
	io.Reader
	io.Writer
	io.Closer
	Sync() error
	Stat() (os.FileInfo, error)
}
