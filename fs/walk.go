package fs

import (
	"sort"
)

type WalkFunc func(fmeta *Metadata) error

/*
Walks a filesystem serially, in canonical path order (see `RelPath.Compare`),
calling `visit` for every node, parents before children.

This is the simple, obviously-correct reference walk.  It's single-threaded
and stats every node through the `FS` interface; the traversal engine used
for imports is much faster, and is tested against this.

The first path visited is always the base path itself (`.`).
Symlinks are not followed.
Any error from the filesystem or from `visit` halts the walk.
*/
func Walk(afs FS, visit WalkFunc) error {
	return walk(afs, RelPath{}, visit)
}

func walk(afs FS, path RelPath, visit WalkFunc) error {
	fmeta, err := afs.LStat(path)
	if err != nil {
		return err
	}
	if err := visit(fmeta); err != nil {
		return err
	}
	if fmeta.Type != Type_Dir {
		return nil
	}
	names, err := afs.ReadDirNames(path)
	if err != nil {
		return err
	}
	children := make([]RelPath, len(names))
	for i, name := range names {
		children[i] = path.Child(name)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Compare(children[j]) < 0 })
	for _, child := range children {
		if err := walk(afs, child, visit); err != nil {
			return err
		}
	}
	return nil
}
