package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/runtime"
	"github.com/saorsa-labs/fae/internal/wire"
)

// RestartBudget bounds restarts to Max within a sliding Window.
type RestartBudget struct {
	Max    int
	Window time.Duration
}

// DefaultRestartBudget allows three restarts in five minutes.
var DefaultRestartBudget = RestartBudget{Max: 3, Window: 5 * time.Minute}

// Supervisor owns the running skill processes. It starts skills on demand,
// restarts failed ones within the budget, and quarantines the rest.
type Supervisor struct {
	library     *Library
	bus         *runtime.Bus
	interpreter string
	settings    map[string]any
	budget      RestartBudget

	// now is swappable for tests.
	now func() time.Time

	mu       sync.Mutex
	procs    map[string]*Process
	restarts map[string][]time.Time
}

func NewSupervisor(library *Library, bus *runtime.Bus, interpreter string, settings map[string]any) *Supervisor {
	return &Supervisor{
		library:     library,
		bus:         bus,
		interpreter: interpreter,
		settings:    settings,
		budget:      DefaultRestartBudget,
		now:         time.Now,
		procs:       make(map[string]*Process),
		restarts:    make(map[string][]time.Time),
	}
}

// SetBudget overrides the restart budget.
func (s *Supervisor) SetBudget(b RestartBudget) { s.budget = b }

// Invoke routes a call to the named skill, starting or restarting its
// process as needed. A quarantined or disabled skill is refused outright.
func (s *Supervisor) Invoke(ctx context.Context, id, method string, params any, deadline time.Duration) (json.RawMessage, []wire.Notification, error) {
	proc, err := s.ensureRunning(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return proc.Invoke(ctx, method, params, deadline)
}

// Health checks the named skill's process.
func (s *Supervisor) Health(ctx context.Context, id string) (*HealthResult, error) {
	proc, err := s.ensureRunning(ctx, id)
	if err != nil {
		return nil, err
	}
	return proc.Health(ctx)
}

func (s *Supervisor) ensureRunning(ctx context.Context, id string) (*Process, error) {
	sk, ok := s.library.Get(id)
	if !ok {
		return nil, fmt.Errorf("skill %q is not installed", id)
	}
	switch sk.State {
	case StateQuarantined:
		return nil, fmt.Errorf("skill %q is quarantined: %s", id, sk.LastError)
	case StateDisabled:
		return nil, fmt.Errorf("skill %q is disabled", id)
	}

	s.mu.Lock()
	proc := s.procs[id]
	if proc != nil && proc.State() == ProcRunning {
		s.mu.Unlock()
		return proc, nil
	}

	// A dead process counts against the restart budget before it relaunches.
	if proc != nil {
		if !s.chargeRestartLocked(id) {
			s.mu.Unlock()
			reason := "restart budget exhausted"
			if proc.State() == ProcFailed {
				reason = "restart budget exhausted after repeated failures"
			}
			s.quarantine(id, reason)
			return nil, fmt.Errorf("skill %q is quarantined: %s", id, reason)
		}
		if proc.State() == ProcStopped || proc.State() == ProcFailed {
			if err := proc.Reset(); err != nil {
				s.mu.Unlock()
				return nil, err
			}
		}
	} else {
		proc = NewProcess(sk, s.interpreter, s.settings)
		s.procs[id] = proc
	}
	s.mu.Unlock()

	if err := proc.Start(ctx); err != nil {
		return nil, err
	}
	return proc, nil
}

// chargeRestartLocked records one restart and reports whether the budget
// still allows it. The window slides: stamps older than Window fall off.
func (s *Supervisor) chargeRestartLocked(id string) bool {
	now := s.now()
	kept := s.restarts[id][:0]
	for _, t := range s.restarts[id] {
		if now.Sub(t) < s.budget.Window {
			kept = append(kept, t)
		}
	}
	if len(kept) >= s.budget.Max {
		s.restarts[id] = kept
		return false
	}
	s.restarts[id] = append(kept, now)
	return true
}

func (s *Supervisor) quarantine(id, reason string) {
	logging.Warnf("[skills] quarantining %s: %s", id, reason)
	s.library.Quarantine(id, reason)
	s.mu.Lock()
	if proc := s.procs[id]; proc != nil {
		proc.Close()
		delete(s.procs, id)
	}
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(runtime.Event{
			Type:     runtime.EventMemoryTelemetry,
			ToolName: id,
			Detail:   "skill quarantined: " + reason,
			IsError:  true,
		})
	}
}

// QuarantinedSkills lists quarantined skills for doctor reporting.
func (s *Supervisor) QuarantinedSkills() []*ManagedSkill {
	var out []*ManagedSkill
	for _, sk := range s.library.List() {
		if sk.State == StateQuarantined {
			out = append(out, sk)
		}
	}
	return out
}

// StopAll shuts every process down cleanly.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.procs))
	for id, p := range s.procs {
		procs = append(procs, p)
		delete(s.procs, id)
	}
	s.mu.Unlock()
	for _, p := range procs {
		p.Shutdown(ctx)
	}
}
