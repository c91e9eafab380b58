package scheduler

import "fmt"

// RepairActionKind enumerates the operator actions a finding can suggest.
type RepairActionKind string

const (
	ActionEnableTask  RepairActionKind = "enable_task"
	ActionRunTaskNow  RepairActionKind = "run_task_now"
	ActionDisableTask RepairActionKind = "disable_task"
	ActionClearState  RepairActionKind = "clear_state"
)

// RepairAction is one suggested fix, optionally bound to a task.
type RepairAction struct {
	Kind   RepairActionKind `json:"kind"`
	TaskID string           `json:"task_id,omitempty"`
}

// Finding is one doctor-visible problem with its suggested repairs.
type Finding struct {
	TaskID  string         `json:"task_id,omitempty"`
	Problem string         `json:"problem"`
	Actions []RepairAction `json:"actions"`
}

// Doctor reports current problems: corrupt-state findings recorded at load
// time plus one finding per paused task.
func (s *Scheduler) Doctor() []Finding {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]Finding(nil), s.findings...)
	for _, t := range s.tasks {
		if !t.Paused() {
			continue
		}
		out = append(out, Finding{
			TaskID: t.ID,
			Problem: fmt.Sprintf("task %s paused after %d consecutive failures (last: %s)",
				t.ID, t.FailureStreak, t.LastError),
			Actions: []RepairAction{
				{Kind: ActionEnableTask, TaskID: t.ID},
				{Kind: ActionRunTaskNow, TaskID: t.ID},
				{Kind: ActionDisableTask, TaskID: t.ID},
			},
		})
	}
	return out
}

// Apply executes a repair action.
func (s *Scheduler) Apply(a RepairAction) error {
	switch a.Kind {
	case ActionEnableTask:
		return s.EnableTask(a.TaskID)
	case ActionRunTaskNow:
		return s.RunTaskNow(a.TaskID)
	case ActionDisableTask:
		return s.DisableTask(a.TaskID)
	case ActionClearState:
		s.ClearState()
		return s.store.Clear()
	}
	return fmt.Errorf("unknown repair action %q", a.Kind)
}
