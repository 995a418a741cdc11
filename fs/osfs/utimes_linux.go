// The standard library only provides 'chtimes', which follows symlinks;
// utimensat with AT_SYMLINK_NOFOLLOW gets us nanosecond times on the link itself.

package osfs

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/polydawn/banyan/fs"
)

func (afs *osFS) SetTimesLNano(path fs.RelPath, mtime time.Time, atime time.Time) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}

	utimes := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	// Note this does depend on kernel 2.6.22 or newer.
	err = unix.UtimesNanoAt(unix.AT_FDCWD, rpath, utimes, unix.AT_SYMLINK_NOFOLLOW)
	return fs.NormalizeIOError(err)
}
