package repo

import (
	"os"

	. "github.com/warpfork/go-errcat"
	"golang.org/x/sys/unix"

	"github.com/polydawn/banyan/api"
)

/*
The writer lock: an exclusive flock on the repository's `lock` file.

flock locks belong to an open file description, so two lock attempts
in one process conflict just as two processes do.
The lock is released when the holder closes it, or dies.
*/
type writerLock struct {
	f *os.File
}

func acquireWriterLock(filename string) (*writerLock, error) {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, Errorf(api.ErrIO, "cannot open lock file: %s", err)
	}
	for {
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err != unix.EINTR {
			break
		}
	}
	switch err {
	case nil:
		return &writerLock{f}, nil
	case unix.EWOULDBLOCK:
		f.Close()
		return nil, Errorf(api.ErrLocked, "repository is locked by another import")
	default:
		f.Close()
		return nil, Errorf(api.ErrIO, "cannot lock repository: %s", err)
	}
}

func (l *writerLock) Release() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
