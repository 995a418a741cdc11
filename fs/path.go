package fs

import (
	"fmt"
	"path"
	"strings"
)

// Meta: yep, these *are not* interchangeable.
// It's expected that if you *can* accept an AbsolutePath,
//  then you should normalize to that ASAP;
// and if you can't, then clearly it's correct to use the RelPath,
//  through and through the whole way.

type RelPath struct {
	path      string
	lastSplit int
}

func MustRelPath(p string) RelPath {
	p = path.Clean(p)
	if p[0] == '/' {
		panic("nope")
	}
	if p == "." { // We can't stop people from using the zero value, so, use it.
		return RelPath{}
	}
	return RelPath{p, strings.LastIndexByte(p, '/')}
}
func (p RelPath) String() string {
	if p.path == "" {
		return "."
	} else if p.path[0] == '.' { // a '..' prefix
		return p.path
	} else {
		return "./" + p.path
	}
}
func (p RelPath) Dir() RelPath {
	if p.path == "" {
		return p
	} else if p.lastSplit == -1 {
		return RelPath{}
	} else {
		p2 := p.path[0:p.lastSplit]
		return RelPath{p2, strings.LastIndexByte(p2, '/')}
	}
}
func (p RelPath) Last() string {
	if p.path == "" {
		return "."
	} else if p.lastSplit == -1 {
		return p.path
	} else {
		return p.path[p.lastSplit+1:]
	}
}
func (p RelPath) Join(p2 RelPath) RelPath {
	switch {
	case p2.path == "":
		return p
	case p.path == "":
		return p2
	default:
		return RelPath{p.path + "/" + p2.path, len(p.path) + p2.lastSplit + 1}
	}
}

type AbsolutePath struct {
	path      string
	lastSplit int
}

func MustAbsolutePath(p string) AbsolutePath {
	p = path.Clean(p)
	if p[0] != '/' {
		panic("nope")
	}
	if p == "/" { // We can't stop people from using the zero value, so, use it.
		return AbsolutePath{}
	}
	return AbsolutePath{p, strings.LastIndexByte(p, '/')}
}
func (p AbsolutePath) String() string {
	if p.path == "" {
		return "/"
	}
	return p.path
}
func (p AbsolutePath) Dir() AbsolutePath {
	if p.path == "" {
		return p
	} else if p.lastSplit == 0 {
		return AbsolutePath{}
	} else {
		p2 := p.path[0:p.lastSplit]
		return AbsolutePath{p2, strings.LastIndexByte(p2, '/')}
	}
}
func (p AbsolutePath) Last() string {
	if p.path == "" {
		return "/"
	} else {
		return p.path[p.lastSplit+1:]
	}
}
func (p AbsolutePath) Join(p2 RelPath) AbsolutePath {
	switch {
	case p2.path == "":
		return p
	//case p.path == "": // Comes out the same as the math below.
	//	return AbsolutePath{"/" + p2.path, p2.lastSplit + 1}
	default:
		return AbsolutePath{p.path + "/" + p2.path, len(p.path) + p2.lastSplit + 1}
	}
}

/*
Parse a relative path, returning an error rather than panicking for
absolute paths or paths which climb above their base.
Used when decoding paths from serialized data.
*/
func ParseRelPath(p string) (RelPath, error) {
	if p == "" || p[0] == '/' {
		return RelPath{}, fmt.Errorf("invalid relative path %q", p)
	}
	rp := MustRelPath(p)
	if rp.GoesUp() {
		return RelPath{}, fmt.Errorf("invalid relative path %q: must not depart base", p)
	}
	return rp, nil
}

// GoesUp is true if the path leads above its base (begins with "..").
func (p RelPath) GoesUp() bool {
	return p.path == ".." || strings.HasPrefix(p.path, "../")
}

/*
Child returns the path of a directly contained name.
The name must be a single path segment (no slashes, not "." or "..");
this is the case for every name the kernel hands back from a directory
listing, which is the only place this is used.
*/
func (p RelPath) Child(name string) RelPath {
	return p.Join(RelPath{name, -1})
}

/*
Compare orders paths segment by segment, so that every directory is
immediately followed by all of its descendants.
(Equivalently: byte-wise order where '/' sorts before every other byte.)
*/
func (p RelPath) Compare(p2 RelPath) int {
	a, b := p.path, p2.path
	for i := 0; i < len(a) && i < len(b); i++ {
		ca, cb := a[i], b[i]
		switch {
		case ca == cb:
			continue
		case ca == '/':
			return -1
		case cb == '/':
			return 1
		case ca < cb:
			return -1
		default:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// IsUnder is true if the path is a strict descendant of dir.
func (p RelPath) IsUnder(dir RelPath) bool {
	if dir.path == "" {
		return p.path != ""
	}
	return len(p.path) > len(dir.path) &&
		p.path[len(dir.path)] == '/' &&
		p.path[:len(dir.path)] == dir.path
}

/*
Split returns every ancestor of the path, starting from the base
(the zero RelPath) and ending with the path itself.
*/
func (p RelPath) Split() []RelPath {
	return append(p.SplitParent(), p)
}

// SplitParent is like Split but excludes the path itself.
func (p RelPath) SplitParent() []RelPath {
	if p.path == "" {
		return []RelPath{}
	}
	ps := []RelPath{{}}
	for i := 0; i < len(p.path); i++ {
		if p.path[i] == '/' {
			p2 := p.path[:i]
			ps = append(ps, RelPath{p2, strings.LastIndexByte(p2, '/')})
		}
	}
	return ps
}
