// Package scheduler implements the Executor: the admission-control loop
// that selects runnable tasks from a taskgraph.Graph under a resource/
// priority tableau, dispatches them to worker goroutines, and persists
// completions to a LockedState so a run can resume after interruption.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/recode/internal/observability"
	"github.com/jmylchreest/recode/internal/state"
	"github.com/jmylchreest/recode/internal/taskgraph"
	"github.com/jmylchreest/recode/internal/toolresolver"
)

const tickInterval = 500 * time.Millisecond

// Executor runs one taskgraph.Graph to completion, persisting progress to
// a LockedState. One Executor instance corresponds to one CLI invocation
// that is either resuming or continuing a run.
type Executor struct {
	state       *state.LockedState
	logger      *slog.Logger
	updateDelay time.Duration
	scriptize   bool
	resolver    *toolresolver.Resolver

	mu           sync.Mutex
	tasklists    taskgraph.Graph // the dispatch pool ("remaining")
	unfinished   taskgraph.Graph // the completion pool
	running      []taskgraph.Task
	stateUpdated time.Time
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithLogger overrides the default slog.Logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithUpdateDelay overrides the incremental-ingest poll interval (default 20s).
func WithUpdateDelay(d time.Duration) Option {
	return func(e *Executor) { e.updateDelay = d }
}

// WithScriptize puts the Executor in scriptize mode: tasks are not run for
// real, only their script lines are emitted, and no state writes occur.
func WithScriptize(scriptize bool) Option {
	return func(e *Executor) { e.scriptize = scriptize }
}

// WithResolver supplies the *toolresolver.Resolver built from this
// invocation's config/flags. The Executor injects it into every task read
// back from state (and every batch ingested incrementally afterwards),
// since a task's own Resolver field does not survive a gob round-trip.
func WithResolver(r *toolresolver.Resolver) Option {
	return func(e *Executor) { e.resolver = r }
}

// resolverSetter is implemented by every concrete encodetask kind that
// embeds encodetask.Base. Declared locally instead of imported so this
// package doesn't need to depend on encodetask.
type resolverSetter interface {
	SetResolver(*toolresolver.Resolver)
}

// injectResolver re-attaches e.resolver to every task in g, undoing the
// zero-valued Resolver a gob round-trip through LockedState leaves behind.
// A task kind that doesn't need tool resolution (e.g. RemoveScriptTask)
// simply doesn't implement resolverSetter and is skipped.
func (e *Executor) injectResolver(g taskgraph.Graph) {
	if e.resolver == nil {
		return
	}
	for _, batch := range g {
		for _, t := range batch {
			if t == nil {
				continue
			}
			if rs, ok := t.(resolverSetter); ok {
				rs.SetResolver(e.resolver)
			}
		}
	}
}

// New constructs an Executor by reading the current graph from st. The
// state file must already exist (the ingestion step is responsible for
// creating it); a missing file is an error here, not a fresh-start signal —
// that distinction belongs to the caller deciding whether to run ingestion
// before constructing an Executor at all.
func New(st *state.LockedState, opts ...Option) (*Executor, error) {
	e := &Executor{
		state:       st,
		logger:      slog.Default(),
		updateDelay: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.state.Lock(); err != nil {
		return nil, fmt.Errorf("scheduler: lock state: %w", err)
	}
	defer e.state.Unlock()

	g, err := e.state.Read()
	if err != nil {
		return nil, fmt.Errorf("scheduler: read state: %w", err)
	}
	e.stateUpdated = time.Now()
	e.injectResolver(g)
	e.tasklists = g
	e.unfinished = state.DeepCopy(g)

	e.logger.Info("loaded task graph", "batches", len(g), "batches_remaining", g.RemainingBatches())
	return e, nil
}

// Execute runs the admission loop until every batch is finished, the
// context is cancelled, or a scheduler stall is detected (no admissible
// candidate while nothing is running but work remains — §7 "Scheduler
// stall"). It returns ctx.Err() on cancellation, nil otherwise.
func (e *Executor) Execute(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		e.mu.Lock()
		remaining := e.tasklists.RemainingBatches()
		e.mu.Unlock()
		if remaining == 0 {
			break
		}

		listIdx, taskIdx, task, limit, found := e.popNextTask()
		if found {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e.runTask(listIdx, taskIdx, task, limit)
			}()
			e.updateState()
			// A candidate was just admitted: loop again immediately to
			// see whether another one now fits, rather than idling.
			continue
		}

		e.mu.Lock()
		stillRunning := len(e.running)
		e.mu.Unlock()
		if stillRunning == 0 {
			e.logger.Warn("exiting: no admissible candidate and nothing running while tasks remain")
			break
		}

		e.updateState()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tickInterval):
		}
	}

	wg.Wait()

	if !e.scriptize {
		if err := e.finalizeIfEmpty(); err != nil {
			e.logger.Error("finalize state removal", "err", err)
		}
	}
	return nil
}

// candidate pairs a runnable task with its position in the graph and the
// resource it claims, in the order needed for admission (§4.4.1 step 1).
type candidate struct {
	resource taskgraph.Resource
	listIdx  int
	taskIdx  int
	task     taskgraph.Task
}

// popNextTask implements the admission-control tableau (§4.4.1): it
// enumerates all candidates, computes a per-(kind,priority) slot budget
// from the highest GetLimit observed among candidates sharing that cell
// (widened by current occupancy at priorities the candidates didn't
// reach), then dispatches the first candidate — in (resource, batch,
// task) order — whose cell has room once every higher-priority cell's
// budget is also respected.
func (e *Executor) popNextTask() (listIdx, taskIdx int, task taskgraph.Task, limit int, found bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var candidates []candidate
	var allTasks []taskgraph.Task
	for li, batch := range e.tasklists {
		notDone := e.unfinished[li]
		for ti, t := range batch {
			if t != nil && t.CanRun(notDone) {
				candidates = append(candidates, candidate{t.ResourceClaim(), li, ti, t})
				allTasks = append(allTasks, t)
			}
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.resource != b.resource {
			return a.resource.Less(b.resource)
		}
		if a.listIdx != b.listIdx {
			return a.listIdx < b.listIdx
		}
		return a.taskIdx < b.taskIdx
	})

	type limited struct {
		candidate
		limit int
	}
	limitedCandidates := make([]limited, 0, len(candidates))
	slots := map[taskgraph.ResourceKind]map[int]int{}
	for _, c := range candidates {
		l := c.task.GetLimit(allTasks, e.running)
		limitedCandidates = append(limitedCandidates, limited{c, l})
		if slots[c.resource.Kind] == nil {
			slots[c.resource.Kind] = map[int]int{}
		}
		if l > slots[c.resource.Kind][c.resource.Priority] {
			slots[c.resource.Kind][c.resource.Priority] = l
		}
	}

	uses := map[taskgraph.ResourceKind]map[int]int{}
	for _, t := range e.running {
		r := t.ResourceClaim()
		if uses[r.Kind] == nil {
			uses[r.Kind] = map[int]int{}
		}
		uses[r.Kind][r.Priority]++
	}

	kinds := make([]taskgraph.ResourceKind, 0, len(slots))
	for k := range slots {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var chosen *taskgraph.Resource
kindLoop:
	for _, kind := range kinds {
		cellSlots := slots[kind]
		// A priority with running occupants but no candidate-derived
		// budget still needs a slot ceiling: seed it from current use.
		for prio, used := range uses[kind] {
			if _, ok := cellSlots[prio]; !ok {
				cellSlots[prio] = used
			}
		}

		priorities := make([]int, 0, len(cellSlots))
		for p := range cellSlots {
			priorities = append(priorities, p)
		}
		sort.Ints(priorities)

		for _, prio := range priorities {
			if admits(uses[kind], cellSlots, prio) {
				r := taskgraph.Resource{Kind: kind, Priority: prio}
				chosen = &r
				break kindLoop
			}
		}
	}

	if chosen == nil {
		return 0, 0, nil, 0, false
	}

	for _, lc := range limitedCandidates {
		if lc.resource == *chosen {
			e.tasklists[lc.listIdx][lc.taskIdx] = nil
			e.running = append(e.running, lc.task)
			e.logger.Debug("dispatching task",
				slog.String("task", lc.task.String()),
				slog.String("resource", lc.resource.String()),
				slog.Int("limit", lc.limit))
			return lc.listIdx, lc.taskIdx, lc.task, lc.limit, true
		}
	}
	return 0, 0, nil, 0, false
}

// admits reports whether taking one more occupant at priority
// candidatePriority keeps every tableau cell within its slot budget.
// A priority absent from slots has an implicit budget of zero, matching
// the reference tableau's defaultdict(int) semantics.
func admits(uses map[int]int, slots map[int]int, candidatePriority int) bool {
	potential := make(map[int]int, len(uses)+1)
	for p, n := range uses {
		potential[p] = n
	}
	potential[candidatePriority]++

	checked := map[int]bool{}
	for p := range potential {
		checked[p] = true
	}
	for p := range slots {
		checked[p] = true
	}

	for priority := range checked {
		total := 0
		for p, n := range potential {
			if p <= priority {
				total += n
			}
		}
		if total > slots[priority] {
			return false
		}
	}
	return true
}

// updateState re-reads the state file at most once every updateDelay and
// appends any newly-ingested batches to both projections (§4.4.5).
func (e *Executor) updateState() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if time.Since(e.stateUpdated) < e.updateDelay {
		return
	}

	if err := e.state.Lock(); err != nil {
		e.logger.Error("refresh state: lock", "err", err)
		return
	}
	defer e.state.Unlock()

	e.stateUpdated = time.Now()
	g, err := e.state.Read()
	if err != nil {
		e.logger.Error("refresh state: read", "err", err)
		return
	}

	if len(g) <= len(e.unfinished) {
		return
	}
	newBatches := g[len(e.unfinished):]
	e.logger.Info("incremental ingest: new batches", "count", len(newBatches))
	e.injectResolver(taskgraph.Graph(newBatches))
	e.tasklists = append(e.tasklists, newBatches...)
	e.unfinished = append(e.unfinished, state.DeepCopy(taskgraph.Graph(newBatches))...)
}

// markFinished records T's completion in the unfinished projection and,
// outside scriptize mode, reconciles that completion onto the on-disk
// graph (§4.4.4).
func (e *Executor) markFinished(listIdx, taskIdx int, task taskgraph.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.unfinished[listIdx][taskIdx]
	if current == nil || !current.Equal(task) {
		panic(fmt.Sprintf("scheduler: bookkeeping corrupted: unfinished[%d][%d] does not match dispatched task %s", listIdx, taskIdx, task))
	}
	e.unfinished[listIdx][taskIdx] = nil

	if e.scriptize {
		return
	}

	if err := e.state.Lock(); err != nil {
		e.logger.Error("mark finished: lock state", "err", err)
		return
	}
	defer e.state.Unlock()

	g, err := e.state.Read()
	if err != nil {
		e.logger.Error("mark finished: read state", "err", err)
		return
	}

	for li, row := range e.unfinished {
		if li >= len(g) {
			break
		}
		for ti, t := range row {
			if t == nil {
				g[li][ti] = nil
			}
		}
	}
	if len(g) > len(e.unfinished) {
		e.injectResolver(g[len(e.unfinished):])
		e.tasklists = append(e.tasklists, g[len(e.unfinished):]...)
	}
	e.unfinished = g

	if err := e.state.Write(e.unfinished); err != nil {
		e.logger.Error("mark finished: write state", "err", err)
	}
}

// runTask is the worker body: run (unless scriptizing), then scriptize if
// requested, mark finished on full success, always drop from running.
func (e *Executor) runTask(listIdx, taskIdx int, task taskgraph.Task, limit int) {
	defer func() {
		e.mu.Lock()
		e.running = removeTask(e.running, task)
		e.mu.Unlock()
	}()

	logger := e.logger
	if named, ok := task.(interface{ TaskName() string }); ok {
		logger = observability.WithTaskName(logger, named.TaskName())
	}

	var err error
	if !e.scriptize {
		err = task.Run()
	}
	if err == nil && task.DoScript() {
		err = task.Scriptize()
	}
	if err != nil {
		logger.Error("task failed", slog.String("task", task.String()), slog.String("err", err.Error()))
		return
	}

	logger.Info("task completed", slog.String("task", task.String()))
	e.markFinished(listIdx, taskIdx, task)
}

// finalizeIfEmpty removes the state file once every batch is empty,
// re-checking the on-disk graph under lock in case a concurrent ingestor
// appended a batch after the in-memory view last saw completion (§4.4.6).
func (e *Executor) finalizeIfEmpty() error {
	if err := e.state.Lock(); err != nil {
		return fmt.Errorf("finalize: lock state: %w", err)
	}
	defer e.state.Unlock()

	g, err := e.state.Read()
	if err != nil {
		return fmt.Errorf("finalize: read state: %w", err)
	}
	if g.RemainingBatches() != 0 {
		return nil
	}
	return e.state.Remove()
}

func removeTask(running []taskgraph.Task, target taskgraph.Task) []taskgraph.Task {
	for i, t := range running {
		if t == target {
			return append(running[:i:i], running[i+1:]...)
		}
	}
	return running
}
