// Package scheduler runs the background task set: built-in Go closures and
// custom skill invocations on interval or cron schedules, with failure
// streak tracking, auto-pause, JSON persistence, and doctor findings.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskKind distinguishes built-in closures from skill-backed tasks.
type TaskKind string

const (
	KindBuiltin TaskKind = "builtin"
	KindCustom  TaskKind = "custom"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule is either a fixed interval or a cron expression. Exactly one of
// the two is set.
type Schedule struct {
	IntervalSecs int64  `json:"interval_secs,omitempty"`
	Cron         string `json:"cron,omitempty"`
}

// Next computes the firing time after the given instant. Interval schedules
// fire at last + interval; cron schedules at the next matching time ≥ after.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	if s.Cron != "" {
		sched, err := cronParser.Parse(s.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad cron expression %q: %w", s.Cron, err)
		}
		return sched.Next(after), nil
	}
	if s.IntervalSecs <= 0 {
		return time.Time{}, fmt.Errorf("schedule has neither interval nor cron")
	}
	return after.Add(time.Duration(s.IntervalSecs) * time.Second), nil
}

// Validate checks the schedule without computing anything.
func (s Schedule) Validate() error {
	_, err := s.Next(time.Now())
	return err
}

// Task is one scheduled unit of work.
type Task struct {
	ID       string   `json:"id"`
	Kind     TaskKind `json:"kind"`
	Schedule Schedule `json:"schedule"`
	Enabled  bool     `json:"enabled"`

	NextDue          time.Time `json:"next_due"`
	LastRun          time.Time `json:"last_run,omitzero"`
	FailureStreak    int       `json:"failure_streak"`
	MaxFailureStreak int       `json:"max_failure_streak_before_pause"`
	LastError        string    `json:"last_error,omitempty"`

	// Custom task wiring: which skill to call and how.
	SkillID string          `json:"skill_id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Paused reports whether the failure streak has pinned the task.
func (t *Task) Paused() bool {
	return t.MaxFailureStreak > 0 && t.FailureStreak >= t.MaxFailureStreak
}

// ResultKind classifies a task run outcome.
type ResultKind string

const (
	ResultSuccess         ResultKind = "success"
	ResultError           ResultKind = "error"
	ResultTelemetry       ResultKind = "telemetry"
	ResultNeedsUserAction ResultKind = "needs_user_action"
)

// TaskResult is emitted on the result channel after every run.
type TaskResult struct {
	TaskID  string     `json:"task_id"`
	Kind    ResultKind `json:"kind"`
	Message string     `json:"message,omitempty"`
	At      time.Time  `json:"at"`
}

// Outcome is what a built-in task returns on success; a nil Outcome means a
// plain success with no message.
type Outcome struct {
	Kind    ResultKind
	Message string
}

// BuiltinFunc is the body of a built-in task.
type BuiltinFunc func(ctx context.Context) (*Outcome, error)
