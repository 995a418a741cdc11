package osfs

import (
	"os"
	"syscall"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/sys/unix"

	"github.com/polydawn/banyan/fs"
)

func init() {
	syscall.Umask(0)
}

func New(basePath fs.AbsolutePath) fs.FS {
	return &osFS{basePath}
}

type osFS struct {
	basePath fs.AbsolutePath
}

func (afs *osFS) BasePath() fs.AbsolutePath {
	return afs.basePath
}

func (afs *osFS) OpenFile(path fs.RelPath, flag int, perms fs.Perms) (fs.File, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(rpath, flag, permsToOs(perms))
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return f, nil
}

func (afs *osFS) Mkdir(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	err = os.Mkdir(rpath, permsToOs(perms))
	return fs.NormalizeIOError(err)
}

func (afs *osFS) Mklink(path fs.RelPath, target string) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	err = os.Symlink(target, rpath)
	return fs.NormalizeIOError(err)
}

func (afs *osFS) Mkfifo(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	err = unix.Mkfifo(rpath, uint32(perms&07777))
	return fs.NormalizeIOError(err)
}

func (afs *osFS) MkdevBlock(path fs.RelPath, major int64, minor int64, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	mode := uint32(perms&07777) | unix.S_IFBLK
	err = unix.Mknod(rpath, mode, int(devModesJoin(major, minor)))
	return fs.NormalizeIOError(err)
}

func (afs *osFS) MkdevChar(path fs.RelPath, major int64, minor int64, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	mode := uint32(perms&07777) | unix.S_IFCHR
	err = unix.Mknod(rpath, mode, int(devModesJoin(major, minor)))
	return fs.NormalizeIOError(err)
}

func (afs *osFS) Lchown(path fs.RelPath, uid uint32, gid uint32) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	err = os.Lchown(rpath, int(uid), int(gid))
	return fs.NormalizeIOError(err)
}

// Chmod follows symlinks (there's no lchmod on linux); don't call it on one.
func (afs *osFS) Chmod(path fs.RelPath, perms fs.Perms) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	err = os.Chmod(rpath, permsToOs(perms))
	return fs.NormalizeIOError(err)
}

func (afs *osFS) Lsetxattr(path fs.RelPath, name string, value []byte) error {
	rpath, err := afs.realpath(path)
	if err != nil {
		return err
	}
	err = unix.Lsetxattr(rpath, name, value, 0)
	return fs.NormalizeIOError(err)
}

func (afs *osFS) LStat(path fs.RelPath) (*fs.Metadata, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Lstat(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	return afs.convertFileinfo(path, fi)
}

func (afs *osFS) convertFileinfo(path fs.RelPath, fi os.FileInfo) (*fs.Metadata, error) {
	// Copy over the easy 1-to-1 parts.
	fmeta := &fs.Metadata{
		Name:  path,
		Mtime: fi.ModTime().UTC(),
	}

	// Munge perms and mode to our types.
	fm := fi.Mode()
	switch fm & (os.ModeType | os.ModeCharDevice) {
	case 0:
		fmeta.Type = fs.Type_File
	case os.ModeDir:
		fmeta.Type = fs.Type_Dir
	case os.ModeSymlink:
		fmeta.Type = fs.Type_Symlink
		// If it's a symlink, get that info.
		//  It's an extra syscall, but we almost always want it.
		target, _, err := readlink(afs.basePath.Join(path).String())
		if err != nil {
			return nil, fs.NormalizeIOError(err)
		}
		fmeta.Linkname = target
	case os.ModeNamedPipe:
		fmeta.Type = fs.Type_NamedPipe
	case os.ModeSocket:
		fmeta.Type = fs.Type_Socket
	case os.ModeDevice:
		fmeta.Type = fs.Type_Device
	case os.ModeDevice | os.ModeCharDevice:
		fmeta.Type = fs.Type_CharDevice
	default:
		return nil, Errorf(fs.ErrIO, "unknown file mode %s at %s", fm, path)
	}
	fmeta.Perms = fs.Perms(fm.Perm())
	if fm&os.ModeSetuid != 0 {
		fmeta.Perms |= fs.Perms_Setuid
	}
	if fm&os.ModeSetgid != 0 {
		fmeta.Perms |= fs.Perms_Setgid
	}
	if fm&os.ModeSticky != 0 {
		fmeta.Perms |= fs.Perms_Sticky
	}

	// Copy over the size info... but only for file types.
	//  This is "system dependent" for others.  Knowing how many blocks a dir takes
	//  up is very rarely what we want...
	if fmeta.Type == fs.Type_File {
		fmeta.Size = fi.Size()
	}

	// Munge UID and GID bits, and device numbers if applicable.
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		fmeta.Uid = sys.Uid
		fmeta.Gid = sys.Gid
		if fmeta.Type == fs.Type_Device || fmeta.Type == fs.Type_CharDevice {
			fmeta.Devmajor, fmeta.Devminor = DevModesSplit(uint64(sys.Rdev))
		}
	}

	// Xattrs are not set by this method, because they require an unbounded
	//  number of additional syscalls (1 to list, $n to get values).

	return fmeta, nil
}

func (afs *osFS) ReadDirNames(path fs.RelPath) ([]string, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(rpath)
	if err != nil {
		return nil, fs.NormalizeIOError(err)
	}
	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return names, fs.NormalizeIOError(err)
	}
	return names, nil
}

func (afs *osFS) Readlink(path fs.RelPath) (string, bool, error) {
	rpath, err := afs.realpath(path)
	if err != nil {
		return "", false, err
	}
	target, isLink, err := readlink(rpath)
	return target, isLink, fs.NormalizeIOError(err)
}

func readlink(path string) (string, bool, error) {
	target, err := os.Readlink(path)
	switch {
	case err == nil:
		return target, true, nil
	case err.(*os.PathError).Err == syscall.EINVAL:
		// EINVAL means "not a symlink".
		// We return this as false and a nil error because it's frequently useful to use
		// the readlink syscall blindly with an lstat first in order to save a syscall.
		return "", false, nil
	default:
		return "", false, err
	}
}

// Paths are joined to the base without resolving any symlinks.
// Callers which must not traverse symlinks check parents themselves (see fsOp.PlaceFile).
func (afs *osFS) realpath(path fs.RelPath) (string, error) {
	if path.GoesUp() {
		return "", Errorf(fs.ErrBreakout, "fs: invalid path %q: must not depart basepath", path)
	}
	return afs.basePath.Join(path).String(), nil
}

func permsToOs(perms fs.Perms) (mode os.FileMode) {
	mode = os.FileMode(perms & 0777)
	if perms&fs.Perms_Setuid != 0 {
		mode |= os.ModeSetuid
	}
	if perms&fs.Perms_Setgid != 0 {
		mode |= os.ModeSetgid
	}
	if perms&fs.Perms_Sticky != 0 {
		mode |= os.ModeSticky
	}
	return mode
}
