package fs

import (
	"time"
)

type Type string

const (
	Type_Invalid    Type = ""
	Type_File       Type = "F"
	Type_Dir        Type = "D"
	Type_Symlink    Type = "L"
	Type_NamedPipe  Type = "P"
	Type_Socket     Type = "S"
	Type_Device     Type = "B"
	Type_CharDevice Type = "C"
	Type_Unknown    Type = "?" // a mode the OS reported that none of the above covers.
)

func (t Type) String() string {
	switch t {
	case Type_File:
		return "file"
	case Type_Dir:
		return "dir"
	case Type_Symlink:
		return "symlink"
	case Type_NamedPipe:
		return "fifo"
	case Type_Socket:
		return "socket"
	case Type_Device:
		return "device"
	case Type_CharDevice:
		return "chardevice"
	case Type_Unknown:
		return "unknown"
	default:
		return "invalid"
	}
}

/*
Permission bits: the usual 0777, plus setuid, setgid, and sticky.
Nothing else from the OS's mode word lives here; the file type is
in `Type`.
*/
type Perms uint16

const (
	Perms_Setuid Perms = 04000
	Perms_Setgid Perms = 02000
	Perms_Sticky Perms = 01000
)

type Metadata struct {
	Name     RelPath           // filename
	Type     Type              // type enum
	Perms    Perms             // permission bits
	Uid      uint32            // user id of owner
	Gid      uint32            // group id of owner
	Size     int64             // length in bytes (regular files only)
	Linkname string            // if symlink: target name of link
	Devmajor int64             // major number of character or block device
	Devminor int64             // minor number of character or block device
	Mtime    time.Time         // modified time
	Xattrs   map[string]string // only the names passing the configured allow-list
}

// Atime is never recorded; restored files get this.
var DefaultAtime = time.Unix(0, 0).UTC()
