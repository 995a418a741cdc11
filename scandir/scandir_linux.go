package scandir

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/sys/unix"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
)

/*
Dir is an open directory handle.

Dirs are not safe for concurrent use.  Close must always be called,
whether or not enumeration ran to the end.
*/
type Dir struct {
	fd   int
	path string
	done bool
}

// Open a directory by absolute path.  Symlinks in the final segment are not followed.
func Open(pth string) (*Dir, error) {
	return open(unix.AT_FDCWD, pth, pth)
}

// OpenDir opens a directory contained in this one.
func (d *Dir) OpenDir(name string) (*Dir, error) {
	return open(d.fd, name, path.Join(d.path, name))
}

func open(dirfd int, name string, fullPath string) (*Dir, error) {
	var fd int
	var err error
	for {
		fd, err = unix.Openat(dirfd, name, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, openError(fullPath, err)
	}
	return &Dir{fd: fd, path: fullPath}, nil
}

func openError(pth string, err error) error {
	switch err {
	case unix.ENOENT:
		return Errorf(api.ErrNotFound, "cannot open dir %q: %s", pth, err)
	case unix.EACCES, unix.EPERM:
		return Errorf(api.ErrPermissionDenied, "cannot open dir %q: %s", pth, err)
	case unix.ENOTDIR, unix.ELOOP:
		// ELOOP is what O_NOFOLLOW gives us for a symlink.
		return Errorf(api.ErrNotADirectory, "cannot open dir %q: not a directory", pth)
	default:
		return Errorf(api.ErrIO, "cannot open dir %q: %s", pth, err)
	}
}

func (d *Dir) Path() string { return d.path }

func (d *Dir) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return Errorf(api.ErrIO, "closing dir %q: %s", d.path, err)
	}
	return nil
}

/*
Read the next batch of entries into `buf`.

Returns `io.EOF` once the directory is exhausted; every later call
returns `io.EOF` again without touching the kernel.
The returned Batch decodes from `buf`, so `buf` must not be reused
until the caller is done with the batch and every name in it.
*/
func (d *Dir) NextBatch(buf []byte) (Batch, error) {
	if d.done {
		return Batch{}, io.EOF
	}
	var n int
	var err error
	for {
		n, err = unix.Getdents(d.fd, buf)
		if err != unix.EINTR {
			break
		}
	}
	switch {
	case err == unix.EINVAL:
		return Batch{}, Errorf(api.ErrUsage, "reading dir %q: buffer of %d bytes too small for an entry", d.path, len(buf))
	case err != nil:
		return Batch{}, Errorf(api.ErrIO, "reading dir %q: %s", d.path, err)
	case n == 0:
		d.done = true
		return Batch{}, io.EOF
	}
	return Batch{buf: buf[:n], path: d.path}, nil
}

/*
Dirent is one decoded directory entry.
Name aliases the batch buffer.
*/
type Dirent struct {
	Ino  uint64
	Type uint8 // one of the unix.DT_* constants.
	Name []byte
}

// Kind maps the kernel's type hint to ours.  DT_UNKNOWN maps to Type_Invalid,
// meaning the caller has to stat to find out.
func (d Dirent) Kind() fs.Type {
	switch d.Type {
	case unix.DT_REG:
		return fs.Type_File
	case unix.DT_DIR:
		return fs.Type_Dir
	case unix.DT_LNK:
		return fs.Type_Symlink
	case unix.DT_FIFO:
		return fs.Type_NamedPipe
	case unix.DT_SOCK:
		return fs.Type_Socket
	case unix.DT_BLK:
		return fs.Type_Device
	case unix.DT_CHR:
		return fs.Type_CharDevice
	default:
		return fs.Type_Invalid
	}
}

// Layout of struct linux_dirent64.
const (
	direntOffIno    = 0
	direntOffReclen = 16
	direntOffType   = 18
	direntOffName   = 19
)

type Batch struct {
	buf  []byte
	off  int
	path string
	err  error
}

/*
Decode the next entry.  Returns false at the end of the batch, or if the
batch turned out to be malformed (check Err).
"." and ".." are skipped.
*/
func (b *Batch) Next() (Dirent, bool) {
	for b.err == nil && b.off < len(b.buf) {
		rec := b.buf[b.off:]
		if len(rec) < direntOffName {
			b.err = Errorf(api.ErrCorruptData, "reading dir %q: truncated dirent at offset %d", b.path, b.off)
			return Dirent{}, false
		}
		reclen := int(binary.NativeEndian.Uint16(rec[direntOffReclen:]))
		if reclen <= direntOffName || reclen > len(rec) {
			b.err = Errorf(api.ErrCorruptData, "reading dir %q: bad dirent length %d at offset %d", b.path, reclen, b.off)
			return Dirent{}, false
		}
		b.off += reclen
		name := rec[direntOffName:reclen]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if isDots(name) {
			continue
		}
		return Dirent{
			Ino:  binary.NativeEndian.Uint64(rec[direntOffIno:]),
			Type: rec[direntOffType],
			Name: name,
		}, true
	}
	return Dirent{}, false
}

func (b *Batch) Err() error { return b.err }

func isDots(name []byte) bool {
	return (len(name) == 1 && name[0] == '.') ||
		(len(name) == 2 && name[0] == '.' && name[1] == '.')
}

// Lstat an entry of this directory, without following symlinks.
func (d *Dir) Lstat(name string) (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstatat(d.fd, name, &st, unix.AT_SYMLINK_NOFOLLOW)
	if err != nil {
		return st, fs.NormalizeIOError(&os.PathError{Op: "lstat", Path: path.Join(d.path, name), Err: err})
	}
	return st, nil
}

// Stat the directory itself.
func (d *Dir) Stat() (unix.Stat_t, error) {
	var st unix.Stat_t
	err := unix.Fstat(d.fd, &st)
	if err != nil {
		return st, fs.NormalizeIOError(&os.PathError{Op: "stat", Path: d.path, Err: err})
	}
	return st, nil
}

// Readlink an entry of this directory.
func (d *Dir) Readlink(name string) (string, error) {
	for size := 256; ; size *= 2 {
		buf := make([]byte, size)
		n, err := unix.Readlinkat(d.fd, name, buf)
		if err != nil {
			return "", fs.NormalizeIOError(&os.PathError{Op: "readlink", Path: path.Join(d.path, name), Err: err})
		}
		if n < size {
			return string(buf[:n]), nil
		}
	}
}

// OpenFile opens an entry of this directory for reading.  Symlinks are not followed.
func (d *Dir) OpenFile(name string) (*os.File, error) {
	return openRegular(d.fd, name, path.Join(d.path, name))
}

/*
OpenFile opens a regular file by absolute path for reading.
Symlinks in the final segment are not followed, and anything that
isn't a regular file (a fifo swapped in since the scan, say) is
refused without blocking.
*/
func OpenFile(pth string) (*os.File, error) {
	return openRegular(unix.AT_FDCWD, pth, pth)
}

func openRegular(dirfd int, name string, fullPath string) (*os.File, error) {
	var fd int
	var err error
	for {
		// O_NONBLOCK so that opening a fifo with no writer returns at once.
		fd, err = unix.Openat(dirfd, name, unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, fs.NormalizeIOError(&os.PathError{Op: "open", Path: fullPath, Err: err})
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fs.NormalizeIOError(&os.PathError{Op: "stat", Path: fullPath, Err: err})
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, Errorf(api.ErrIO, "%q is not a regular file", fullPath)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, Errorf(api.ErrIO, "cannot open %q: %s", fullPath, err)
	}
	return os.NewFile(uintptr(fd), fullPath), nil
}
