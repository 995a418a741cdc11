package fs

import (
	"errors"
	"syscall"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
)

// Filesystem error categories are the same values as the repository-wide
// taxonomy, so they pass up through every layer without translation.
const (
	ErrNotExists     = api.ErrNotFound
	ErrPermission    = api.ErrPermissionDenied
	ErrNotDir        = api.ErrNotADirectory
	ErrAlreadyExists = api.ErrAlreadyExists
	ErrIO            = api.ErrIO
	ErrBreakout      = api.ErrBreakout // Error returned when placing a path would traverse a symlink.
	ErrUsage         = api.ErrUsage
)

/*
Attempt to normalize an error from the os or syscall packages into
one of our categories.  Errors that are already categorized pass
through untouched; unrecognized errors become ErrIO.
*/
func NormalizeIOError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(Error); ok {
		return err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ENOENT:
			return Errorf(ErrNotExists, "%s", err)
		case syscall.EACCES, syscall.EPERM:
			return Errorf(ErrPermission, "%s", err)
		case syscall.ENOTDIR:
			return Errorf(ErrNotDir, "%s", err)
		case syscall.EEXIST:
			return Errorf(ErrAlreadyExists, "%s", err)
		}
	}
	return Errorf(ErrIO, "%s", err)
}
