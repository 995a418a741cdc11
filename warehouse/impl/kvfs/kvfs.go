package kvfs

import (
	"errors"
	"os"
	"sync"
	"syscall"

	"github.com/google/uuid"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/warehouse"
	"github.com/polydawn/banyan/warehouse/util"
)

var _ warehouse.Store = &Store{}

/*
Store keeps object records as files on a local filesystem,
fanned out in two levels of dirs by digest prefix:

	{basePath}/aaa/bbb/{digest}

Writes are staged in a separate dir (which must be on the same
filesystem) and hardlinked into their final path, so a record is
either entirely present or not present at all.
*/
type Store struct {
	basePath    fs.AbsolutePath
	stagePath   fs.AbsolutePath
	compression warehouse.Compression

	mu    sync.Mutex
	dirty map[fs.AbsolutePath]struct{} // dirs with entries added since the last Sync.
}

/*
Initialize a store over existing dirs.

May return errors of category:

  - `api.ErrNotFound` -- if either dir doesn't exist
  - `api.ErrNotADirectory` -- if either path isn't a dir
*/
func New(basePath, stagePath fs.AbsolutePath, compression warehouse.Compression) (*Store, error) {
	for _, pth := range []fs.AbsolutePath{basePath, stagePath} {
		stat, err := os.Stat(pth.String())
		switch {
		case os.IsNotExist(err):
			return nil, Errorf(api.ErrNotFound, "object store does not exist (%s)", err)
		case err != nil: // must be checked before the IsDir option.
			return nil, Errorf(api.ErrIO, "object store unavailable (%s)", err)
		case !stat.IsDir():
			return nil, Errorf(api.ErrNotADirectory, "object store unavailable (%s is not a dir)", pth)
		}
	}
	return &Store{
		basePath:    basePath,
		stagePath:   stagePath,
		compression: compression,
		dirty:       make(map[fs.AbsolutePath]struct{}),
	}, nil
}

func (s *Store) pathFor(digest api.Digest) (dirA, dirB, final fs.AbsolutePath) {
	chunkA, chunkB, _ := util.ChunkifyHash(digest)
	dirA = s.basePath.Join(fs.MustRelPath(chunkA))
	dirB = dirA.Join(fs.MustRelPath(chunkB))
	final = dirB.Join(fs.MustRelPath(digest.String()))
	return
}

/*
Check whether a record is present.  A record found here may have been
linked by another writer that hasn't synced yet, so its dirs are
queued for our next Sync as well.
*/
func (s *Store) Contains(digest api.Digest) (bool, error) {
	dirA, dirB, finalPath := s.pathFor(digest)
	_, err := os.Lstat(finalPath.String())
	switch {
	case err == nil:
		s.markPresent(dirA, dirB)
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, Errorf(api.ErrIO, "object %s could not be checked: %s", digest, err)
	}
}

func (s *Store) Get(digest api.Digest) (warehouse.Record, error) {
	_, _, finalPath := s.pathFor(digest)
	bs, err := os.ReadFile(finalPath.String())
	switch {
	case err == nil:
		return warehouse.DecodeRecord(digest, bs)
	case os.IsNotExist(err):
		return warehouse.Record{}, warehouse.ErrNotFound(digest)
	default:
		return warehouse.Record{}, Errorf(api.ErrIO, "object %s could not be read: %s", digest, err)
	}
}

/*
Store a record.
Caller must be an adult and specify the digest truthfully.
*/
func (s *Store) Put(kind api.ObjectKind, digest api.Digest, data []byte) error {
	dirA, dirB, finalPath := s.pathFor(digest)
	if _, err := os.Lstat(finalPath.String()); err == nil {
		s.markPresent(dirA, dirB)
		return nil
	}

	// Write the record to a staging file, and flush it.
	stagePath := s.stagePath.Join(fs.MustRelPath(".tmp.upload." + uuid.New().String()))
	if err := writeStaged(stagePath, warehouse.EncodeRecord(kind, data, s.compression)); err != nil {
		return Errorf(api.ErrIO, "failed to stage object %s: %s", digest, err)
	}
	defer os.Remove(stagePath.String())

	// Make parent dirs if necessary.
	if err := s.mkdir(dirA); err != nil {
		return Errorf(api.ErrIO, "failed to commit object %s: %s", digest, err)
	}
	if err := s.mkdir(dirB); err != nil {
		return Errorf(api.ErrIO, "failed to commit object %s: %s", digest, err)
	}

	// Link into place.  If someone else got there first, they wrote the same bytes.
	err := os.Link(stagePath.String(), finalPath.String())
	switch {
	case err == nil:
		s.markDirty(dirB)
		return nil
	case errors.Is(err, syscall.EEXIST):
		s.markPresent(dirA, dirB)
		return nil
	default:
		return Errorf(api.ErrIO, "failed to commit object %s: %s", digest, err)
	}
}

/*
Fsync every fan-out dir that gained an entry since the last call.
File contents were already flushed at staging time.
*/
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for dir := range s.dirty {
		if err := syncDir(dir); err != nil {
			return Errorf(api.ErrIO, "failed to sync object store: %s", err)
		}
		delete(s.dirty, dir)
	}
	return nil
}

func (s *Store) mkdir(dir fs.AbsolutePath) error {
	err := os.Mkdir(dir.String(), 0755)
	switch {
	case err == nil:
		s.markDirty(dir.Dir())
		return nil
	case os.IsExist(err):
		return nil
	default:
		return err
	}
}

func (s *Store) markDirty(dir fs.AbsolutePath) {
	s.mu.Lock()
	s.dirty[dir] = struct{}{}
	s.mu.Unlock()
}

// markPresent queues the whole path to an existing record for syncing.
func (s *Store) markPresent(dirA, dirB fs.AbsolutePath) {
	s.mu.Lock()
	s.dirty[dirB] = struct{}{}
	s.dirty[dirA] = struct{}{}
	s.dirty[s.basePath] = struct{}{}
	s.mu.Unlock()
}

func writeStaged(pth fs.AbsolutePath, bs []byte) error {
	file, err := os.OpenFile(pth.String(), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0444)
	if err != nil {
		return err
	}
	if _, err := file.Write(bs); err != nil {
		file.Close()
		os.Remove(pth.String())
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(pth.String())
		return err
	}
	return file.Close()
}

func syncDir(dir fs.AbsolutePath) error {
	f, err := os.Open(dir.String())
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
