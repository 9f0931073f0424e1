package scheduler

import (
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/jmylchreest/recode/internal/taskgraph"
)

// fakeTask stands in for a real ffmpeg/mkvmerge-backed task in tests:
// Run/Scriptize are instantaneous and recorded rather than shelling out.
type fakeTask struct {
	mu sync.Mutex

	ID       string
	Resource taskgraph.Resource
	Limit    int
	Blockers map[string]bool
	Fail     bool
	Scripted bool

	onRunHook func(*fakeTask)
	limitFunc func(candidates, running []taskgraph.Task) int
	canRunFunc func(batchRemaining []taskgraph.Task) bool

	ran      bool
	scripted bool
}

func init() {
	gob.Register(&fakeTask{})
}

// fakeRegistry maps each fakeTask's ID to the instance a test built. The
// Executor reads its graph back from the state file, so it only ever holds
// gob-decoded copies; those forward hooks and run/scriptize bookkeeping to
// the registered original, which is what the tests inspect.
var fakeRegistry sync.Map

func newFakeTask(id string, resource taskgraph.Resource, limit int, blockers ...string) *fakeTask {
	bl := make(map[string]bool, len(blockers))
	for _, b := range blockers {
		bl[b] = true
	}
	t := &fakeTask{ID: id, Resource: resource, Limit: limit, Blockers: bl}
	fakeRegistry.Store(id, t)
	return t
}

// orig returns the test-built instance registered under t.ID, or t itself.
func (t *fakeTask) orig() *fakeTask {
	if o, ok := fakeRegistry.Load(t.ID); ok {
		return o.(*fakeTask)
	}
	return t
}

func (t *fakeTask) ResourceClaim() taskgraph.Resource { return t.Resource }

func (t *fakeTask) GetLimit(candidates, running []taskgraph.Task) int {
	if f := t.orig().limitFunc; f != nil {
		return f(candidates, running)
	}
	return t.Limit
}

func (t *fakeTask) CanRun(batchRemaining []taskgraph.Task) bool {
	if f := t.orig().canRunFunc; f != nil {
		return f(batchRemaining)
	}
	for _, other := range batchRemaining {
		if other == nil {
			continue
		}
		ft, ok := other.(*fakeTask)
		if !ok || ft.ID == t.ID {
			continue
		}
		if t.Blockers[ft.ID] {
			return false
		}
	}
	return true
}

func (t *fakeTask) Run() error {
	o := t.orig()
	o.mu.Lock()
	o.ran = true
	o.mu.Unlock()
	if o.onRunHook != nil {
		o.onRunHook(o)
	}
	if t.Fail {
		return fmt.Errorf("fake transcoding failure for %s", t.ID)
	}
	return nil
}

func (t *fakeTask) DoScript() bool { return true }

func (t *fakeTask) Scriptize() error {
	o := t.orig()
	o.mu.Lock()
	o.scripted = true
	o.mu.Unlock()
	return nil
}

func (t *fakeTask) Equal(other taskgraph.Task) bool {
	o, ok := other.(*fakeTask)
	return ok && o.ID == t.ID
}

func (t *fakeTask) String() string { return t.ID }

func (t *fakeTask) hasRun() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ran
}

func (t *fakeTask) wasScripted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scripted
}
