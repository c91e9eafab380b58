package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/runtime"
	"github.com/saorsa-labs/fae/internal/wire"
)

// SkillInvoker is the slice of the skills supervisor the scheduler needs.
type SkillInvoker interface {
	Invoke(ctx context.Context, id, method string, params any, deadline time.Duration) (json.RawMessage, []wire.Notification, error)
}

const (
	defaultTick     = 15 * time.Second
	customDeadline  = 60 * time.Second
	resultBuffering = 32
)

// Scheduler owns the task set, runs due tasks on a fixed tick, and persists
// state through a single writer goroutine.
type Scheduler struct {
	store    *Store
	invoker  SkillInvoker
	bus      *runtime.Bus
	tick     time.Duration
	now      func() time.Time
	restarts atomic.Int64

	mu       sync.Mutex
	tasks    map[string]*Task
	builtins map[string]BuiltinFunc
	findings []Finding

	results chan TaskResult
	saveCh  chan struct{}
	runNow  chan string
	cancel  context.CancelFunc
	done    chan struct{}
}

// New loads persisted state from the store. A corrupt snapshot becomes a
// doctor finding and the scheduler starts clean.
func New(store *Store, invoker SkillInvoker, bus *runtime.Bus) *Scheduler {
	s := &Scheduler{
		store:    store,
		invoker:  invoker,
		bus:      bus,
		tick:     defaultTick,
		now:      time.Now,
		tasks:    make(map[string]*Task),
		builtins: make(map[string]BuiltinFunc),
		results:  make(chan TaskResult, resultBuffering),
		saveCh:   make(chan struct{}, 1),
		runNow:   make(chan string, 8),
	}

	snap, err := store.Load()
	if err != nil {
		logging.Warnf("[scheduler] snapshot unreadable, starting clean: %v", err)
		s.findings = append(s.findings, Finding{
			Problem: fmt.Sprintf("scheduler state file is corrupt: %v", err),
			Actions: []RepairAction{{Kind: ActionClearState}},
		})
	} else {
		for _, t := range snap.Tasks {
			task := t
			s.tasks[task.ID] = &task
		}
		s.store.SeedHistory(snap.History)
	}
	return s
}

// SetTick overrides the tick interval (tests).
func (s *Scheduler) SetTick(d time.Duration) { s.tick = d }

// Results is the channel task outcomes are published on.
func (s *Scheduler) Results() <-chan TaskResult { return s.results }

// Restarts returns how many times this scheduler has been relaunched.
func (s *Scheduler) Restarts() int64 { return s.restarts.Load() }

// RegisterBuiltin binds a closure to a builtin task id.
func (s *Scheduler) RegisterBuiltin(id string, fn BuiltinFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builtins[id] = fn
}

// AddTask inserts or replaces a task and schedules its first run.
func (s *Scheduler) AddTask(t Task) error {
	if err := t.Schedule.Validate(); err != nil {
		return err
	}
	if t.NextDue.IsZero() {
		due, err := t.Schedule.Next(s.now())
		if err != nil {
			return err
		}
		t.NextDue = due
	}
	s.mu.Lock()
	s.tasks[t.ID] = &t
	s.mu.Unlock()
	s.requestSave()
	return nil
}

// Tasks returns a stable-ordered copy of the task set.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnableTask re-enables a task, clearing its failure streak and rescheduling.
func (s *Scheduler) EnableTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no task %q", id)
	}
	t.Enabled = true
	t.FailureStreak = 0
	t.LastError = ""
	if due, err := t.Schedule.Next(s.now()); err == nil {
		t.NextDue = due
	}
	s.mu.Unlock()
	s.requestSave()
	return nil
}

// DisableTask stops a task from being scheduled.
func (s *Scheduler) DisableTask(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no task %q", id)
	}
	t.Enabled = false
	s.mu.Unlock()
	s.requestSave()
	return nil
}

// RunTaskNow queues an immediate out-of-schedule run.
func (s *Scheduler) RunTaskNow(id string) error {
	s.mu.Lock()
	_, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no task %q", id)
	}
	select {
	case s.runNow <- id:
		return nil
	default:
		return fmt.Errorf("run-now queue is full")
	}
}

// ClearState wipes tasks, history, and findings, and persists the empty set.
func (s *Scheduler) ClearState() {
	s.mu.Lock()
	s.tasks = make(map[string]*Task)
	s.findings = nil
	s.mu.Unlock()
	s.store.ClearHistory()
	s.requestSave()
}

// Start launches the tick loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the loop after persisting.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

// Restart stops and relaunches the loop, bumping the shared counter. Needed
// when the memory root or retention settings change.
func (s *Scheduler) Restart() {
	s.Stop()
	s.restarts.Add(1)
	logging.Infof("[scheduler] restart %d", s.restarts.Load())
	s.Start()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.persist()
			return
		case <-ticker.C:
			s.tickOnce(ctx)
		case id := <-s.runNow:
			s.mu.Lock()
			t, ok := s.tasks[id]
			s.mu.Unlock()
			if ok {
				s.runTask(ctx, t)
				s.persist()
			}
		case <-s.saveCh:
			s.persist()
		}
	}
}

// tickOnce runs every enabled, unpaused task whose next_due has passed.
func (s *Scheduler) tickOnce(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if t.Enabled && !t.Paused() && !t.NextDue.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	for _, t := range due {
		s.runTask(ctx, t)
	}
	s.persist()
}

// runTask executes one task and updates its bookkeeping. Run-now requests
// reach here even for paused tasks; failures still count toward the streak.
func (s *Scheduler) runTask(ctx context.Context, t *Task) {
	outcome, err := s.execute(ctx, t)
	now := s.now()

	s.mu.Lock()
	t.LastRun = now
	if err != nil {
		t.FailureStreak++
		t.LastError = err.Error()
		if t.Paused() {
			logging.Warnf("[scheduler] task %s paused after %d consecutive failures",
				t.ID, t.FailureStreak)
		}
	} else {
		t.FailureStreak = 0
		t.LastError = ""
	}
	// A paused task keeps its stale next_due until an operator acts.
	if !t.Paused() {
		if due, derr := t.Schedule.Next(now); derr == nil {
			t.NextDue = due
		}
	}
	s.mu.Unlock()

	s.emit(t.ID, outcome, err, now)
}

func (s *Scheduler) execute(ctx context.Context, t *Task) (*Outcome, error) {
	switch t.Kind {
	case KindBuiltin:
		s.mu.Lock()
		fn := s.builtins[t.ID]
		s.mu.Unlock()
		if fn == nil {
			return nil, fmt.Errorf("no builtin registered for task %q", t.ID)
		}
		return fn(ctx)
	case KindCustom:
		if s.invoker == nil {
			return nil, fmt.Errorf("no skill supervisor wired for task %q", t.ID)
		}
		raw, _, err := s.invoker.Invoke(ctx, t.SkillID, t.Method, t.Params, customDeadline)
		if err != nil {
			return nil, err
		}
		return &Outcome{Kind: ResultSuccess, Message: string(raw)}, nil
	}
	return nil, fmt.Errorf("unknown task kind %q", t.Kind)
}

func (s *Scheduler) emit(taskID string, outcome *Outcome, err error, at time.Time) {
	res := TaskResult{TaskID: taskID, At: at, Kind: ResultSuccess}
	if err != nil {
		res.Kind = ResultError
		res.Message = err.Error()
	} else if outcome != nil {
		if outcome.Kind != "" {
			res.Kind = outcome.Kind
		}
		res.Message = outcome.Message
	}
	s.store.AppendHistory(res)

	select {
	case s.results <- res:
	default:
		logging.Debugf("[scheduler] result channel full, dropping %s", taskID)
	}

	// Telemetry is canvas-only: it rides the runtime bus to the bridge.
	// NeedsUserAction goes out as a prompt the host shows modally.
	if s.bus != nil {
		switch res.Kind {
		case ResultTelemetry, ResultError:
			s.bus.Publish(runtime.Event{
				Type:    runtime.EventMemoryTelemetry,
				Detail:  fmt.Sprintf("task %s: %s", taskID, res.Message),
				IsError: res.Kind == ResultError,
			})
		case ResultNeedsUserAction:
			s.bus.Publish(runtime.Event{
				Type:   runtime.EventUserPrompt,
				Detail: res.Message,
			})
		}
	}
}

func (s *Scheduler) requestSave() {
	select {
	case s.saveCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) persist() {
	if err := s.store.Save(s.Tasks()); err != nil {
		logging.Warnf("[scheduler] persist failed: %v", err)
	}
}

// NeedsRestart reports whether a memory configuration change requires the
// scheduler to be stopped and relaunched. Only the root directory and
// retention window matter; other memory fields are ignored.
func NeedsRestart(oldRootDir, newRootDir string, oldRetentionDays, newRetentionDays int) bool {
	return oldRootDir != newRootDir || oldRetentionDays != newRetentionDays
}
