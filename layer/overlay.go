package layer

import (
	"github.com/polydawn/banyan/fs"
)

/*
Effective computes the tree visible at the last layer of `chain`,
given the chain in order from base layer to target.

Later layers win: for a path present in several layers,
the entry from the latest one is kept.  A path absent from a later
layer stays visible from an earlier one.  When a later layer puts a
non-directory at a path which an earlier layer had as a directory,
everything the earlier layer had beneath it is dropped, since a file
can't have children.

The result is in canonical order.
*/
func Effective(chain []*Manifest) []Record {
	var view []Record
	for _, m := range chain {
		view = overlay(view, m.Entries)
	}
	return view
}

func overlay(lower, upper []Record) []Record {
	out := make([]Record, 0, len(upper)+len(lower)/4)
	var shadow fs.RelPath // latest non-dir taken from upper.
	var shadowing bool
	i, j := 0, 0
	for i < len(lower) || j < len(upper) {
		if j < len(upper) && (i >= len(lower) || upper[j].Name.Compare(lower[i].Name) <= 0) {
			if i < len(lower) && upper[j].Name == lower[i].Name {
				i++
			}
			r := upper[j]
			j++
			out = append(out, r)
			shadow, shadowing = r.Name, r.Type != fs.Type_Dir
			continue
		}
		r := lower[i]
		i++
		if shadowing && r.Name.IsUnder(shadow) {
			continue
		}
		out = append(out, r)
	}
	return out
}
