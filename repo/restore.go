package repo

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/caps"
	"github.com/polydawn/banyan/content"
	"github.com/polydawn/banyan/fs"
	"github.com/polydawn/banyan/fs/osfs"
	"github.com/polydawn/banyan/fsOp"
	"github.com/polydawn/banyan/layer"
)

type RestoreResult struct {
	Layer   api.LayerID
	Placed  int
	Skipped []fs.RelPath // sockets, and devices when we can't mknod.
}

/*
Materialize the effective tree of layer `id` (it and all its ancestors,
later layers winning) at `dest`.

`dest` must not exist, or must be an empty directory.
Ownership is reproduced only when we have the capabilities to chown.

Errors:

  - `api.ErrAlreadyExists` -- if `dest` is a non-empty directory
  - `api.ErrNotADirectory` -- if `dest` exists and is not a directory
  - `api.ErrCorruptData` -- if any layer or object fails verification
  - `api.ErrBreakout` -- if an entry would be placed through a symlink
  - `api.ErrCancelled` -- if the context ends first
*/
func (r *Repository) Restore(ctx context.Context, id api.LayerID, dest string) (*RestoreResult, error) {
	chain, err := r.chain(id)
	if err != nil {
		return nil, err
	}
	destPath, err := absPath(dest)
	if err != nil {
		return nil, err
	}
	if err := checkRestoreTarget(destPath.String()); err != nil {
		return nil, err
	}
	records := layer.Effective(chain)

	fulcrum := caps.Scan()
	skipChown := !fulcrum.CanManageOwnership()
	canMknod := fulcrum.CanMknod()
	afs := osfs.New(destPath)
	log := r.log.WithFields(logrus.Fields{"layer": id.String(), "dest": destPath.String()})
	result := &RestoreResult{Layer: id}

	// Dirs are created writable so they can be filled;
	// their real perms and mtimes are applied afterwards, deepest first.
	var dirs []fs.Metadata
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, Errorf(api.ErrCancelled, "restore of %s cancelled", id)
		}
		fmeta := rec.Metadata
		switch fmeta.Type {
		case fs.Type_Socket, fs.Type_Unknown:
			log.WithField("path", fmeta.Name.String()).Debugf("skipping %s", fmeta.Type)
			result.Skipped = append(result.Skipped, fmeta.Name)
			continue
		case fs.Type_Device, fs.Type_CharDevice:
			if !canMknod {
				log.WithField("path", fmeta.Name.String()).Warn("skipping device node: no capability to create it")
				result.Skipped = append(result.Skipped, fmeta.Name)
				continue
			}
		case fs.Type_Dir:
			dirs = append(dirs, fmeta)
			fmeta.Perms |= 0700
		}
		var body io.Reader
		if fmeta.Type == fs.Type_File {
			if rec.Content == nil {
				return nil, Errorf(api.ErrCorruptData, "layer entry %s is a file without content", fmeta.Name)
			}
			body = content.NewReader(r.store, *rec.Content)
		}
		if err := fsOp.PlaceFile(afs, fmeta, body, skipChown); err != nil {
			return nil, err
		}
		result.Placed++
	}
	for i := len(dirs) - 1; i >= 0; i-- {
		fmeta := dirs[i]
		if err := afs.Chmod(fmeta.Name, fmeta.Perms); err != nil {
			return nil, err
		}
		if err := afs.SetTimesLNano(fmeta.Name, fmeta.Mtime, fs.DefaultAtime); err != nil {
			return nil, err
		}
	}
	log.WithField("entries", result.Placed).Info("restore complete")
	return result, nil
}

func checkRestoreTarget(dest string) error {
	fi, err := os.Lstat(dest)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dest, 0755); err != nil {
			return fs.NormalizeIOError(err)
		}
		return nil
	case err != nil:
		return fs.NormalizeIOError(err)
	case !fi.IsDir():
		return Errorf(api.ErrNotADirectory, "restore target %s exists and is not a directory", dest)
	}
	f, err := os.Open(dest)
	if err != nil {
		return fs.NormalizeIOError(err)
	}
	defer f.Close()
	switch _, err := f.Readdirnames(1); err {
	case io.EOF:
		return nil
	case nil:
	default:
		return fs.NormalizeIOError(err)
	}
	return Errorf(api.ErrAlreadyExists, "restore target %s is not empty", dest)
}
