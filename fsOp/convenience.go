package fsOp

import (
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/fs"
)

/*
Makes dirs recursively so the requested path exists, applying the assigned
perms to each one that needed to be produced.

Existing dirs are not mutated.

Symlinks are never traversed: a symlink anywhere in the path is reported
as ErrNotDir.
*/
func MkdirAll(afs fs.FS, path fs.RelPath, perms fs.Perms) error {
	// Check if the path already exists.
	stat, err := afs.LStat(path)
	// Switch on status of the file.
	//  Recurse and mkdir if necessary.
	switch Category(err) {
	case nil:
		if stat.Type == fs.Type_Dir {
			return nil
		}
		return Errorf(fs.ErrNotDir, "%s already exists and is a %s not %s", afs.BasePath().Join(path), stat.Type, fs.Type_Dir)
	case fs.ErrNotExists:
		if path == (fs.RelPath{}) {
			return Errorf(fs.ErrNotExists, "base path %s does not exist!", afs.BasePath())
		}
		if err := MkdirAll(afs, path.Dir(), perms); err != nil {
			return err
		}
		return afs.Mkdir(path, perms)
	case fs.ErrNotDir:
		// Reformat the error a tad to not say "lstat", which is distracting.
		return Errorf(fs.ErrNotDir, "%s has parents which are not a directory", afs.BasePath().Join(path))
	default:
		return err
	}
}
