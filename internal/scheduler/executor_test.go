package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recode/internal/state"
	"github.com/jmylchreest/recode/internal/taskgraph"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testDiscard{}, nil))
}

// testDiscard implements io.Writer, dropping everything; keeps test output quiet.
type testDiscard struct{}

func (testDiscard) Write(p []byte) (int, error) { return len(p), nil }

func newExecutorOverGraph(t *testing.T, g taskgraph.Graph, opts ...Option) (*Executor, *state.LockedState) {
	t.Helper()
	dir := t.TempDir()
	st := state.New(filepath.Join(dir, "tasks.state"))

	require.NoError(t, st.Lock())
	require.NoError(t, st.Write(g))
	require.NoError(t, st.Unlock())

	allOpts := append([]Option{WithLogger(discardLogger())}, opts...)
	exec, err := New(st, allOpts...)
	require.NoError(t, err)
	return exec, st
}

func cpu(prio int) taskgraph.Resource { return taskgraph.Resource{Kind: taskgraph.ResourceCPU, Priority: prio} }
func io_(prio int) taskgraph.Resource { return taskgraph.Resource{Kind: taskgraph.ResourceIO, Priority: prio} }

func TestAdmitsTableauBasics(t *testing.T) {
	// A single candidate at priority 0 with budget 1 and no running load admits.
	assert.True(t, admits(nil, map[int]int{0: 1}, 0))

	// Taking a 2nd occupant at priority 0 when budget is 1 must not admit.
	assert.False(t, admits(map[int]int{0: 1}, map[int]int{0: 1}, 0))

	// A priority with no declared slot has an implicit budget of 0.
	assert.False(t, admits(nil, map[int]int{0: 1}, 5))

	// Higher-priority (lower number) occupancy counts against a
	// lower-priority (higher number) cell's cumulative budget.
	slots := map[int]int{0: 1, 1: 1}
	assert.False(t, admits(map[int]int{0: 1}, slots, 1), "priority-0 occupant already consumes the budget available at priority<=1")
}

func TestPopNextTaskPriorityPreference(t *testing.T) {
	// S2: pass-2 (priority 0) is always chosen over pass-1 (priority 1)
	// of another batch when both are candidates.
	pass1 := newFakeTask("batchA-pass1", cpu(1), 5)
	pass2 := newFakeTask("batchB-pass2", cpu(0), 1)

	g := taskgraph.Graph{
		taskgraph.Batch{pass1},
		taskgraph.Batch{pass2},
	}
	exec, _ := newExecutorOverGraph(t, g)

	_, _, task, _, found := exec.popNextTask()
	require.True(t, found)
	assert.Equal(t, "batchB-pass2", task.String(), "priority-0 candidate must be admitted ahead of priority-1")
}

func TestCanRunBlockerSafety(t *testing.T) {
	removeScript := newFakeTask("RemoveScript", io_(0), 30)
	remux := newFakeTask("Remux", io_(0), 1, "RemoveScript")

	notDone := []taskgraph.Task{removeScript, remux}
	assert.True(t, removeScript.CanRun(notDone))
	assert.False(t, remux.CanRun(notDone), "Remux must not be a candidate while its blocker is still pending")

	notDone = []taskgraph.Task{nil, remux}
	assert.True(t, remux.CanRun(notDone), "Remux becomes runnable once RemoveScript is finished (nil slot)")
}

func TestExecuteOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(t *fakeTask) {
		mu.Lock()
		order = append(order, t.ID)
		mu.Unlock()
	}

	removeScript := newFakeTask("RemoveScript", io_(0), 30)
	removeScript.onRunHook = record

	pass1 := newFakeTask("VideoEncode-p1", cpu(1), 5, "RemoveScript")
	pass2 := newFakeTask("VideoEncode-p2", cpu(0), 4, "RemoveScript")
	pass1.onRunHook = record
	pass2.onRunHook = record

	// Only the earliest pending video pass in the batch is runnable, on top
	// of the ordinary blocker check — the VideoEncodePass "can_run override"
	// from §4.5.
	videoCanRun := func(self *fakeTask) func([]taskgraph.Task) bool {
		return func(batchRemaining []taskgraph.Task) bool {
			for _, other := range batchRemaining {
				if other == nil {
					continue
				}
				ft, ok := other.(*fakeTask)
				if !ok || ft.ID == self.ID {
					continue
				}
				if self.Blockers[ft.ID] {
					return false
				}
			}
			for _, other := range batchRemaining {
				if other == nil {
					continue
				}
				ft, ok := other.(*fakeTask)
				if !ok {
					continue
				}
				if ft.ID == pass1.ID || ft.ID == pass2.ID {
					return ft.ID == self.ID
				}
			}
			return true
		}
	}
	pass1.canRunFunc = videoCanRun(pass1)
	pass2.canRunFunc = videoCanRun(pass2)

	extractStereo := newFakeTask("ExtractStereo-t1", io_(1), 2, "RemoveScript")
	extractStereo.onRunHook = record
	normalize := newFakeTask("NormalizeStereo-t1", cpu(2), 6, "RemoveScript", "ExtractStereo-t1")
	normalize.onRunHook = record
	remux := newFakeTask("Remux", io_(0), 1, "RemoveScript", "VideoEncode-p2", "NormalizeStereo-t1")
	remux.onRunHook = record
	cleanup := newFakeTask("Cleanup", io_(2), 10, "RemoveScript", "Remux")
	cleanup.onRunHook = record

	batch := taskgraph.Batch{removeScript, pass1, pass2, extractStereo, normalize, remux, cleanup}
	g := taskgraph.Graph{batch}

	exec, st := newExecutorOverGraph(t, g, WithUpdateDelay(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, exec.Execute(ctx))

	indexOf := func(id string) int {
		for i, v := range order {
			if v == id {
				return i
			}
		}
		return -1
	}

	require.Equal(t, 0, indexOf("RemoveScript"), "RemoveScript must run first")
	assert.Less(t, indexOf("VideoEncode-p1"), indexOf("VideoEncode-p2"), "pass1 must run before pass2")
	assert.Less(t, indexOf("ExtractStereo-t1"), indexOf("NormalizeStereo-t1"))
	assert.Less(t, indexOf("VideoEncode-p2"), indexOf("Remux"))
	assert.Less(t, indexOf("NormalizeStereo-t1"), indexOf("Remux"))
	assert.Equal(t, len(order)-1, indexOf("Cleanup"), "Cleanup must run last")

	// State file is removed once every batch finishes.
	require.NoError(t, st.Lock())
	_, err := st.Read()
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, st.Unlock())
}

func TestExecuteFailedTaskLeavesUnfinished(t *testing.T) {
	failing := newFakeTask("VideoEncode-p1", cpu(1), 5)
	failing.Fail = true

	g := taskgraph.Graph{taskgraph.Batch{failing}}
	exec, st := newExecutorOverGraph(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, exec.Execute(ctx))

	assert.True(t, failing.hasRun())

	require.NoError(t, st.Lock())
	defer st.Unlock()
	got, err := st.Read()
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)
	assert.NotNil(t, got[0][0], "a failed task must remain unmarked so a future run retries it")
}

func TestExecuteScriptizeModeDoesNotRunOrWriteState(t *testing.T) {
	task := newFakeTask("RemoveScript", io_(0), 30)

	g := taskgraph.Graph{taskgraph.Batch{task}}
	exec, st := newExecutorOverGraph(t, g, WithScriptize(true))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, exec.Execute(ctx))

	assert.False(t, task.hasRun(), "scriptize mode must not invoke Run")
	assert.True(t, task.wasScripted(), "scriptize mode must still invoke Scriptize")

	require.NoError(t, st.Lock())
	defer st.Unlock()
	got, err := st.Read()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotNil(t, got[0][0], "scriptize mode must not touch the persisted graph")
}

func TestIncrementalIngestPicksUpAppendedBatch(t *testing.T) {
	// b shares a's resource cell with a budget of 1, so it stays
	// un-admitted (and the graph stays non-empty) for as long as a is
	// running — giving the ingestor a window to append a third batch
	// before the executor would otherwise have run out of work.
	a := newFakeTask("batch1-a", io_(0), 1)
	b := newFakeTask("batch1-b", io_(0), 1)
	a.onRunHook = func(*fakeTask) { time.Sleep(150 * time.Millisecond) }

	dir := t.TempDir()
	st := state.New(filepath.Join(dir, "tasks.state"))
	require.NoError(t, st.Lock())
	require.NoError(t, st.Write(taskgraph.Graph{taskgraph.Batch{a, b}}))
	require.NoError(t, st.Unlock())

	exec, err := New(st, WithLogger(discardLogger()), WithUpdateDelay(10*time.Millisecond))
	require.NoError(t, err)

	appended := newFakeTask("batch2-task", io_(0), 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, st.Lock())
		g, err := st.Read()
		if err == nil {
			g = append(g, taskgraph.Batch{appended})
			require.NoError(t, st.Write(g))
		}
		require.NoError(t, st.Unlock())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exec.Execute(ctx))
	<-done

	assert.True(t, a.hasRun())
	assert.True(t, b.hasRun())
	assert.True(t, appended.hasRun(), "a batch appended while other work is still in flight must be picked up before the executor exits")
}

func TestResumeSkipsAlreadyFinishedTasks(t *testing.T) {
	finished := newFakeTask("already-done", io_(0), 1)
	pending := newFakeTask("still-pending", io_(0), 1)

	dir := t.TempDir()
	st := state.New(filepath.Join(dir, "tasks.state"))
	require.NoError(t, st.Lock())
	// A batch with one slot already nil-ed out, as if a prior run marked
	// it finished before being interrupted (§8 S3).
	require.NoError(t, st.Write(taskgraph.Graph{taskgraph.Batch{nil, pending}}))
	require.NoError(t, st.Unlock())

	exec, err := New(st, WithLogger(discardLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, exec.Execute(ctx))

	assert.False(t, finished.hasRun(), "a task never placed in the graph must never run")
	assert.True(t, pending.hasRun())
}
