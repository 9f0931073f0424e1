// Package taskgraph defines the task contract and resource model shared by
// the scheduler and every encoder-task adapter.
//
// A Batch is the ordered task list for a single media item; a Graph is the
// list of all batches under management. Entries in a Batch are set to nil
// once finished, exactly mirroring the Python original's use of None as a
// tombstone so positional indices stay stable across a run.
package taskgraph

import "fmt"

// ResourceKind distinguishes the two pools tasks compete for.
type ResourceKind string

// The two resource pools tasks can claim. IO gates disk/mux-bound work
// (remux, subtitle extraction, script writing); CPU gates encode-bound work.
const (
	ResourceCPU ResourceKind = "cpu"
	ResourceIO  ResourceKind = "i/o"
)

// Resource is the (kind, priority) pair a task claims while running.
// Lower Priority values are more privileged: the admission algorithm always
// tries to seat the lowest-priority-number candidate it can afford first.
type Resource struct {
	Kind     ResourceKind
	Priority int
}

// Less orders resources the way the admission algorithm's candidate sort
// expects: by kind, then by priority.
func (r Resource) Less(o Resource) bool {
	if r.Kind != o.Kind {
		return r.Kind < o.Kind
	}
	return r.Priority < o.Priority
}

func (r Resource) String() string {
	return fmt.Sprintf("%s-%d", r.Kind, r.Priority)
}

// Task is the contract every concrete task kind (RemoveScript,
// VideoEncodePass, AudioExtract, AudioDownmix, AudioNormalize, AudioEncode,
// Remux, ExtractSubtitles, Cleanup) must satisfy.
//
// Implementations are registered with encoding/gob under their concrete
// type so a Graph round-trips through LockedState without losing type
// information — see internal/state.
type Task interface {
	// ResourceClaim reports which (kind, priority) pool this task
	// occupies for the duration of Run.
	ResourceClaim() Resource

	// GetLimit computes how many tasks of this kind may run concurrently
	// given the full candidate pool and the tasks presently running.
	// A task whose concurrency ceiling never varies with load simply
	// ignores both arguments and returns a constant.
	GetLimit(candidates, running []Task) int

	// CanRun reports whether this task is unblocked given the remaining
	// (not yet finished) tasks in its own batch. batchRemaining holds a
	// nil entry for every already-finished task at that index.
	CanRun(batchRemaining []Task) bool

	// Run executes the task for real (shells out to ffmpeg/mkvmerge/etc).
	Run() error

	// DoScript reports whether Scriptize should be invoked after a
	// successful Run (or in place of Run, under scriptize mode).
	DoScript() bool

	// Scriptize appends this task's equivalent shell command to the
	// batch's generated script instead of (or in addition to) running it.
	Scriptize() error

	// Equal reports value equality, used to assert that a (batch, index)
	// pair still names the task the caller expects after a state reload.
	Equal(other Task) bool

	fmt.Stringer
}

// Batch is the ordered task list for one media item. A nil slot is a
// finished task; its position is preserved so the (batch, index) positions
// the Executor tracks keep naming the same tasks across reloads.
type Batch []Task

// AnyRemaining reports whether the batch has at least one unfinished task.
func (b Batch) AnyRemaining() bool {
	for _, t := range b {
		if t != nil {
			return true
		}
	}
	return false
}

// Graph is the full set of batches under management by one Executor.
type Graph []Batch

// RemainingBatches counts batches that still have unfinished work.
func (g Graph) RemainingBatches() int {
	n := 0
	for _, b := range g {
		if b.AnyRemaining() {
			n++
		}
	}
	return n
}
