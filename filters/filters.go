/*
Filters flatten or normalize metadata while importing.

Each filter is configured as a string (so config files and flags can say
"keep") and parsed once into a `Filters` value, which is then applied to
every entry the traversal records.  Filters change only metadata, never
content, and never which entries are recorded.
*/
package filters

import (
	"strconv"
	"time"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/config"
	"github.com/polydawn/banyan/fs"
)

const Keep = -1

type Filters struct {
	Uid    int        // -1 for "keep"
	Gid    int        // -1 for "keep"
	Mtime  *time.Time // nil for "keep"
	Sticky bool       // true to keep setuid, setgid, and sticky bits
}

// KeepAll is the identity filter set.
var KeepAll = Filters{Uid: Keep, Gid: Keep, Sticky: true}

/*
Parse filter strings.  Blank values mean "keep".
Returns errors of category `api.ErrUsage`.
*/
func Parse(ff config.Filters) (uf Filters, err error) {
	uf = KeepAll

	// Parse UID.
	switch ff.Uid {
	case "", "keep":
	default:
		uf.Uid, err = strconv.Atoi(ff.Uid)
		if err != nil || uf.Uid < 0 {
			return uf, Errorf(api.ErrUsage, "filter UID must be one of 'keep' or a positive int")
		}
	}

	// Parse GID.
	switch ff.Gid {
	case "", "keep":
	default:
		uf.Gid, err = strconv.Atoi(ff.Gid)
		if err != nil || uf.Gid < 0 {
			return uf, Errorf(api.ErrUsage, "filter GID must be one of 'keep' or a positive int")
		}
	}

	// Parse time.
	switch {
	case ff.Mtime == "", ff.Mtime == "keep":
	case ff.Mtime[0] == '@':
		ut, err := strconv.ParseInt(ff.Mtime[1:], 10, 64)
		if err != nil {
			return uf, Errorf(api.ErrUsage, "filter mtime parameter starting with '@' must be unix timestamp integer")
		}
		t := time.Unix(ut, 0).UTC()
		uf.Mtime = &t
	default:
		t, err := time.Parse(time.RFC3339, ff.Mtime)
		if err != nil {
			return uf, Errorf(api.ErrUsage, "filter mtime parameter must be either 'keep', a unix timestamp integer beginning with '@', or an RFC3339 date string")
		}
		t = t.UTC()
		uf.Mtime = &t
	}

	// Sticky, mercy me, is simple.
	switch ff.Sticky {
	case "", "keep":
	case "zero":
		uf.Sticky = false
	default:
		return uf, Errorf(api.ErrUsage, "filter sticky must be one of 'keep' or 'zero'")
	}

	return uf, nil
}

/*
Mutate the given fmeta handle to apply filters.
*/
func (uf Filters) Apply(fmeta *fs.Metadata) {
	if uf.Uid != Keep {
		fmeta.Uid = uint32(uf.Uid)
	}
	if uf.Gid != Keep {
		fmeta.Gid = uint32(uf.Gid)
	}
	if uf.Mtime != nil {
		fmeta.Mtime = *uf.Mtime
	}
	if !uf.Sticky {
		fmeta.Perms &= 0777
	}
}
