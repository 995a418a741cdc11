/*
Provides helper functions for checking if we have some functional sets of capabilities.

Restore consults these to decide whether it can reproduce ownership
and device nodes, or must skip them.
*/
package caps

import (
	"os"

	"github.com/syndtr/gocapability/capability"
)

func Scan() *Fulcrum {
	f := &Fulcrum{}
	f.ourUID = os.Getuid()
	caps, err := capability.NewPid2(0) // zero means self
	if err == nil {
		err = caps.Load()
	}
	if err == nil {
		f.ourCaps = caps
	}
	return f
}

type Fulcrum struct {
	ourUID  int
	ourCaps capability.Capabilities // nil if we couldn't read them, causing uid-based guesses.
}

func (f Fulcrum) has(which ...capability.Cap) bool {
	if f.ourCaps == nil {
		return f.ourUID == 0
	}
	for _, c := range which {
		if !f.ourCaps.Get(capability.EFFECTIVE, c) {
			return false
		}
	}
	return true
}

// Whether we have enough caps to confidently materialize files with ownership info.
// This requires "have CAP_CHOWN", but also "have CAP_FOWNER" (because we need this cap
// in order to be able to set mtimes on files *after having chown'd them*).
func (f Fulcrum) CanManageOwnership() bool {
	return f.has(capability.CAP_CHOWN, capability.CAP_FOWNER)
}

// Whether we can create block and character device nodes.
func (f Fulcrum) CanMknod() bool {
	return f.has(capability.CAP_MKNOD)
}

// Whether file permission checks are bypassed for us (CAP_DAC_OVERRIDE).
// When true, an unreadable directory is still readable to us.
func (f Fulcrum) CanBypassPermissions() bool {
	return f.has(capability.CAP_DAC_OVERRIDE)
}
