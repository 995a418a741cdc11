package api

type ErrorCategory string
type ExitCode int

/*
Error categories and the exit codes they map to.

Every exit code below 100 means "nothing changed": the repository is in
the same committed state it was before the command ran (though unreferenced
objects may have been left behind, which are inert).
Codes at 100 and above mean the repository may need inspection.
*/
const (
	ExitSuccess                               = ExitCode(0)
	ExitUsage, ErrUsage                       = ExitCode(1), ErrorCategory("banyan-usage-error")       // Indicates some piece of user input to a command was invalid and unrunnable.
	ExitPanic                                 = ExitCode(2)                                            // Placeholder.  We don't use this.  '2' happens when golang exits due to panic.
	ExitNotFound, ErrNotFound                 = ExitCode(3), ErrorCategory("banyan-not-found")         // A path, object, layer, or repository does not exist.
	ExitPermissionDenied, ErrPermissionDenied = ExitCode(4), ErrorCategory("banyan-permission-denied") // The OS refused access.
	ExitNotADirectory, ErrNotADirectory       = ExitCode(5), ErrorCategory("banyan-not-a-directory")   // A path expected to be a directory is something else.
	ExitIO, ErrIO                             = ExitCode(6), ErrorCategory("banyan-io-error")          // Catchall for read/write failures.
	ExitCorruptData, ErrCorruptData           = ExitCode(7), ErrorCategory("banyan-corrupt-data")      // An object or manifest failed to decode or failed its digest check.
	ExitVersionMismatch, ErrVersionMismatch   = ExitCode(8), ErrorCategory("banyan-version-mismatch")  // A repository or manifest carries a format version we don't understand.
	ExitAlreadyExists, ErrAlreadyExists       = ExitCode(9), ErrorCategory("banyan-already-exists")    // Init of an existing repository, or restore onto a non-empty target.
	ExitLocked, ErrLocked                     = ExitCode(10), ErrorCategory("banyan-locked")           // Another import holds the repository's writer lock.
	ExitCancelled, ErrCancelled               = ExitCode(11), ErrorCategory("banyan-cancelled")        // The operation timed out or was cancelled.
	ExitBreakout, ErrBreakout                 = ExitCode(12), ErrorCategory("banyan-fs-breakout")      // Restore refused to traverse a symlink while placing a path.
	ExitInconsistent, ErrInconsistent         = ExitCode(120), ErrorCategory("banyan-inconsistent")    // A commit step failed after it could no longer be cleanly abandoned.
	ExitTODO                                  = ExitCode(254)                                          // Uncategorized errors.  Should be replaced with something more specific.
)

func ExitCodeForCategory(category interface{}) ExitCode {
	switch category {
	case nil:
		return ExitSuccess
	case ErrUsage:
		return ExitUsage
	case ErrNotFound:
		return ExitNotFound
	case ErrPermissionDenied:
		return ExitPermissionDenied
	case ErrNotADirectory:
		return ExitNotADirectory
	case ErrIO:
		return ExitIO
	case ErrCorruptData:
		return ExitCorruptData
	case ErrVersionMismatch:
		return ExitVersionMismatch
	case ErrAlreadyExists:
		return ExitAlreadyExists
	case ErrLocked:
		return ExitLocked
	case ErrCancelled:
		return ExitCancelled
	case ErrBreakout:
		return ExitBreakout
	case ErrInconsistent:
		return ExitInconsistent
	default:
		return ExitTODO
	}
}

// RepositoryUnchanged reports whether a command exiting with this code
// left the repository's committed state untouched.
func (c ExitCode) RepositoryUnchanged() bool {
	return c < 100
}
