package util

import (
	"github.com/polydawn/banyan/api"
)

/*
Return a first, second, and remaining chunk of a digest's string form.

These are the first three, second three, and remaining bytes of the string.
For base58 encoded values, these first two chunks used as dir prefixes are a
cozy density for storing many many thousands of objects.
*/
func ChunkifyHash(d api.Digest) (string, string, string) {
	s := d.String()
	return s[0:3], s[3:6], s[6:]
}
