package scandir

import (
	"path"
	"time"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/sys/unix"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
)

/*
Convert a raw stat result into our metadata.
Linkname and Xattrs are not filled; they take more syscalls.
*/
func MetadataFromStat(name fs.RelPath, st *unix.Stat_t) fs.Metadata {
	fmeta := fs.Metadata{
		Name:  name,
		Perms: fs.Perms(st.Mode & 07777),
		Uid:   st.Uid,
		Gid:   st.Gid,
		Mtime: time.Unix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec)).UTC(),
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		fmeta.Type = fs.Type_File
		fmeta.Size = st.Size
	case unix.S_IFDIR:
		fmeta.Type = fs.Type_Dir
	case unix.S_IFLNK:
		fmeta.Type = fs.Type_Symlink
	case unix.S_IFIFO:
		fmeta.Type = fs.Type_NamedPipe
	case unix.S_IFSOCK:
		fmeta.Type = fs.Type_Socket
	case unix.S_IFBLK:
		fmeta.Type = fs.Type_Device
	case unix.S_IFCHR:
		fmeta.Type = fs.Type_CharDevice
	default:
		// Recorded with its perms and ownership; restore skips these.
		fmeta.Type = fs.Type_Unknown
	}
	if fmeta.Type == fs.Type_Device || fmeta.Type == fs.Type_CharDevice {
		rdev := uint64(st.Rdev)
		fmeta.Devmajor = int64(unix.Major(rdev))
		fmeta.Devminor = int64(unix.Minor(rdev))
	}
	return fmeta
}

/*
Read the extended attributes of a path whose names match any of the
`allow` patterns (`path.Match` syntax).  Symlinks are not followed.

An empty allow-list means no syscalls at all and a nil result.
Filesystems without xattr support yield a nil result, not an error.
*/
func Xattrs(pth string, allow []string) (map[string]string, error) {
	if len(allow) == 0 {
		return nil, nil
	}
	names, err := listxattr(pth)
	if err != nil || len(names) == 0 {
		return nil, err
	}
	var result map[string]string
	for _, name := range names {
		if !allowed(name, allow) {
			continue
		}
		val, err := getxattr(pth, name)
		if err == unix.ENODATA {
			continue // removed between list and get.
		}
		if err != nil {
			return nil, Errorf(api.ErrIO, "reading xattr %q of %q: %s", name, pth, err)
		}
		if result == nil {
			result = map[string]string{}
		}
		result[name] = string(val)
	}
	return result, nil
}

func allowed(name string, allow []string) bool {
	for _, pattern := range allow {
		if ok, _ := path.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func listxattr(pth string) ([]string, error) {
	for {
		sz, err := unix.Llistxattr(pth, nil)
		switch {
		case err == unix.ENOTSUP:
			return nil, nil
		case err != nil:
			return nil, Errorf(api.ErrIO, "listing xattrs of %q: %s", pth, err)
		case sz == 0:
			return nil, nil
		}
		buf := make([]byte, sz)
		sz, err = unix.Llistxattr(pth, buf)
		if err == unix.ERANGE {
			continue // grew in the meanwhile.
		}
		if err != nil {
			return nil, Errorf(api.ErrIO, "listing xattrs of %q: %s", pth, err)
		}
		return splitNul(buf[:sz]), nil
	}
}

func getxattr(pth string, name string) ([]byte, error) {
	for {
		sz, err := unix.Lgetxattr(pth, name, nil)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, sz)
		sz, err = unix.Lgetxattr(pth, name, buf)
		if err == unix.ERANGE {
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:sz], nil
	}
}

func splitNul(bs []byte) []string {
	var out []string
	start := 0
	for i, c := range bs {
		if c == 0 {
			if i > start {
				out = append(out, string(bs[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(bs) {
		out = append(out, string(bs[start:]))
	}
	return out
}
