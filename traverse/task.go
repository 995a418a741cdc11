package traverse

import (
	"github.com/polydawn/banyan/fs"
)

type taskKind uint8

const (
	task_ScanDir taskKind = iota + 1
	task_IngestFile
)

/*
TaskState tracks a directory-scan task through its life:

	Pending -> Scanning -> Expanded
	                    -> Failed

A task is Pending from when its parent discovers it until a worker
picks it up.  It's Expanded once all its entries have been recorded
and its subdirectories queued; Failed if enumeration stopped early.
Both are terminal.
*/
type TaskState uint8

const (
	TaskState_Pending TaskState = iota
	TaskState_Scanning
	TaskState_Expanded
	TaskState_Failed
)

func (s TaskState) String() string {
	switch s {
	case TaskState_Pending:
		return "pending"
	case TaskState_Scanning:
		return "scanning"
	case TaskState_Expanded:
		return "expanded"
	case TaskState_Failed:
		return "failed"
	default:
		return "invalid"
	}
}

type task struct {
	kind  taskKind
	path  fs.RelPath
	fmeta fs.Metadata // for ingestFile: what the scan saw.
	state TaskState
}

func (t *task) advance(to TaskState) {
	switch {
	case t.state == TaskState_Pending && to == TaskState_Scanning:
	case t.state == TaskState_Scanning && (to == TaskState_Expanded || to == TaskState_Failed):
	default:
		panic("traverse: invalid task transition " + t.state.String() + " -> " + to.String())
	}
	t.state = to
}
