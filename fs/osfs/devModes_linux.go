// Devmodes in most linux follows the gnu_dev_major / gnu_dev_minor library functions.
package osfs

import (
	"golang.org/x/sys/unix"
)

func DevModesSplit(rdev uint64) (major int64, minor int64) {
	return int64(unix.Major(rdev)), int64(unix.Minor(rdev))
}

func devModesJoin(major int64, minor int64) uint64 {
	return unix.Mkdev(uint32(major), uint32(minor))
}
