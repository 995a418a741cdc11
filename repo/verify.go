package repo

import (
	"context"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
	"github.com/polydawn/banyan/content"
	"github.com/polydawn/banyan/fs"
)

type Problem struct {
	Layer api.LayerID
	Path  fs.RelPath
	Err   error
}

type VerifyReport struct {
	Layers   int
	Contents int // distinct content refs checked.
	Problems []Problem
}

func (vr *VerifyReport) OK() bool { return len(vr.Problems) == 0 }

/*
Check every layer reachable from HEAD: each manifest decodes and
verifies, and every object each entry's content names is present
and intact.  Each distinct content ref is checked once.

A damaged object is a problem in the report, not an error.
Errors are for when verification itself couldn't proceed
(no repository, a broken chain, cancellation).
*/
func (r *Repository) Verify(ctx context.Context) (*VerifyReport, error) {
	report := &VerifyReport{}
	head, err := r.Head()
	if err != nil {
		return nil, err
	}
	if head == nil {
		return report, nil
	}
	entries, err := r.Log(*head)
	if err != nil {
		return nil, err
	}
	checked := map[api.Digest]error{}
	for _, ent := range entries {
		report.Layers++
		for _, rec := range ent.Manifest.Entries {
			if rec.Content == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, Errorf(api.ErrCancelled, "verify cancelled")
			}
			err, seen := checked[rec.Content.Digest]
			if !seen {
				err = content.Verify(r.store, *rec.Content)
				checked[rec.Content.Digest] = err
				report.Contents++
			}
			if err != nil {
				report.Problems = append(report.Problems, Problem{ent.ID, rec.Name, err})
			}
		}
	}
	return report, nil
}
