package fsOp

import (
	"io"
	"os"
	"sort"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/fs"
)

/*
Places a file on the filesystem.
Replicates all attributes described in the metadata.

The path within the filesystem is `fmeta.Name` (conventionally, this means
the filesystem will join the `fmeta.Name` with the absolute base path
it was constructed with).

No changes are allowed to occur outside of the filesystem's base path.
Symlinks may *point* at paths outside of the base path, and invalid
symlinks are acceptable -- however symlinks may *not* be traversed
during any part of `fmeta.Name`; this is considered malformed input
and will result in ErrBreakout.

Please note that like all filesystem operations within a lightyear of
symlinks, all validations are best-effort, but are only capable of
correctness in the absense of concurrent modifications inside the base path.

Device files *will* be created, with their maj/min numbers.
Sockets cannot be placed; that's an ErrUsage.

If `skipChown` is set, uid and gid are left as whatever the process
creates files as.
*/
func PlaceFile(afs fs.FS, fmeta fs.Metadata, body io.Reader, skipChown bool) error {
	// First, no part of the path may be a symlink.
	for _, path := range fmeta.Name.SplitParent() {
		target, isSymlink, err := afs.Readlink(path)
		switch {
		case isSymlink:
			return Errorf(fs.ErrBreakout,
				"breakout error: refusing to traverse symlink at %q->%q while placing %q in %q",
				path, target, fmeta.Name, afs.BasePath())
		case err == nil:
			continue // regular paths are fine.
		case Category(err) == fs.ErrNotExists:
			continue // not existing is fine (the placement will fail shortly, with a clearer message).
		default:
			return err // any other unknown error means we lack perms or something: reject.
		}
	}

	// Fill in the content.  (Attribs come later.)
	switch fmeta.Type {
	case fs.Type_File:
		file, err := afs.OpenFile(fmeta.Name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fmeta.Perms)
		if err != nil {
			return err
		}
		if body != nil {
			if _, err := io.Copy(file, body); err != nil {
				file.Close()
				return fs.NormalizeIOError(err)
			}
		}
		if err := file.Close(); err != nil {
			return fs.NormalizeIOError(err)
		}
	case fs.Type_Dir:
		if fmeta.Name == (fs.RelPath{}) {
			// for the base dir only:
			// the dir may exist; we'll just chown+chmod+chtime it.
			// there is no race-free path through this btw, unless you know of a way to lstat and mkdir in the same syscall.
			if existingFmeta, err := afs.LStat(fmeta.Name); err == nil && existingFmeta.Type == fs.Type_Dir {
				break
			}
		}
		if err := afs.Mkdir(fmeta.Name, fmeta.Perms); err != nil {
			return err
		}
	case fs.Type_Symlink:
		// linkname can be anything you want.  It continues to be a string parameter rather than
		// any of our normalized `fs.*Path` types because it is perfectly valid (if odd)
		// to store the string ".///" as a symlink target.
		if err := afs.Mklink(fmeta.Name, fmeta.Linkname); err != nil {
			return err
		}
	case fs.Type_NamedPipe:
		if err := afs.Mkfifo(fmeta.Name, fmeta.Perms); err != nil {
			return err
		}
	case fs.Type_Device:
		if err := afs.MkdevBlock(fmeta.Name, fmeta.Devmajor, fmeta.Devminor, fmeta.Perms); err != nil {
			return err
		}
	case fs.Type_CharDevice:
		if err := afs.MkdevChar(fmeta.Name, fmeta.Devmajor, fmeta.Devminor, fmeta.Perms); err != nil {
			return err
		}
	case fs.Type_Socket:
		return Errorf(fs.ErrUsage, "placefile: cannot place a socket (%s)", fmeta.Name)
	default:
		return Errorf(fs.ErrUsage, "placefile: unhandled file type %q at %s", fmeta.Type, fmeta.Name)
	}

	if !skipChown {
		if err := afs.Lchown(fmeta.Name, fmeta.Uid, fmeta.Gid); err != nil {
			return err
		}
	}

	if len(fmeta.Xattrs) > 0 {
		keys := make([]string, 0, len(fmeta.Xattrs))
		for k := range fmeta.Xattrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := afs.Lsetxattr(fmeta.Name, k, []byte(fmeta.Xattrs[k])); err != nil {
				return err
			}
		}
	}

	// There's no such thing as `lchmod` on linux, so symlinks keep whatever perms they're born with.
	// Everything else gets chmod'd after the chown, since chown clears setuid and setgid.
	if fmeta.Type != fs.Type_Symlink {
		if err := afs.Chmod(fmeta.Name, fmeta.Perms); err != nil {
			return err
		}
	}
	return afs.SetTimesLNano(fmeta.Name, fmeta.Mtime, fs.DefaultAtime)
}
