/*
Package scandir enumerates directories in batches, using the raw
getdents64 syscall into caller-supplied buffers.

Entries are decoded in place: a `Dirent`'s Name is a view into the buffer
and is valid only until the buffer is reused or released.  Callers copy a
name (e.g. with `string(d.Name)`) only when it must outlive the batch.

All lookups relative to a directory (stat, readlink, open) go through the
directory's own descriptor, so a scan never re-resolves a path from the root.
*/
package scandir
