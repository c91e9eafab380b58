package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/llm"
	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/runtime"
)

// DefaultCallTimeout bounds a single tool execution.
const DefaultCallTimeout = 60 * time.Second

// Executor runs model-issued tool calls strictly in the order the model
// emitted them, one at a time, with a per-call timeout and optional approval
// gating through the runtime bus.
type Executor struct {
	registry    *Registry
	bus         *runtime.Bus
	approvals   chan<- *runtime.ApprovalRequest
	callTimeout time.Duration

	mu          sync.Mutex
	mode        Mode
	alwaysAllow map[string]bool
	// clearAlwaysOnDowngrade resets the session always-allow set whenever the
	// mode moves down the lattice. Off by default: an always-allow grant
	// survives a downgrade, since the downgrade already hides tools the new
	// mode does not admit.
	clearAlwaysOnDowngrade bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.callTimeout = d }
}

// WithApprovals routes approval requests to the host over ch.
func WithApprovals(ch chan<- *runtime.ApprovalRequest) ExecutorOption {
	return func(e *Executor) { e.approvals = ch }
}

// WithClearAlwaysAllowOnDowngrade makes mode downgrades forget session
// always-allow grants.
func WithClearAlwaysAllowOnDowngrade() ExecutorOption {
	return func(e *Executor) { e.clearAlwaysOnDowngrade = true }
}

func NewExecutor(registry *Registry, bus *runtime.Bus, mode Mode, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		bus:         bus,
		mode:        mode,
		callTimeout: DefaultCallTimeout,
		alwaysAllow: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the current permission mode.
func (e *Executor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// SetMode changes the permission mode. Takes effect at the next call; a call
// already running finishes under the mode it started with.
func (e *Executor) SetMode(m Mode) {
	e.mu.Lock()
	downgrade := m < e.mode
	e.mode = m
	if downgrade && e.clearAlwaysOnDowngrade {
		e.alwaysAllow = make(map[string]bool)
	}
	e.mu.Unlock()
	if e.bus != nil {
		e.bus.Publish(runtime.Event{Type: runtime.EventPermissionState, Mode: m.String()})
	}
}

// Execute runs calls in order and returns one ExecutedToolCall per input, in
// the same order. invalidIDs names calls whose accumulated arguments did not
// parse; they are answered with error results without reaching a tool.
// Cancellation stops the sequence; calls never started are answered with
// cancellation error results so the conversation stays well formed.
func (e *Executor) Execute(ctx context.Context, calls []llm.ToolCall, invalidIDs []string) []llm.ExecutedToolCall {
	invalid := make(map[string]bool, len(invalidIDs))
	for _, id := range invalidIDs {
		invalid[id] = true
	}

	results := make([]llm.ExecutedToolCall, 0, len(calls))
	for i, call := range calls {
		if ctx.Err() != nil {
			for _, rest := range calls[i:] {
				results = append(results, errResult(rest, nil, "cancelled before execution", 0))
			}
			break
		}
		results = append(results, e.executeOne(ctx, call, invalid[call.ID]))
	}
	return results
}

func (e *Executor) executeOne(ctx context.Context, call llm.ToolCall, invalidArgs bool) llm.ExecutedToolCall {
	if invalidArgs {
		return errResult(call, nil, "tool arguments were not valid JSON", 0)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return errResult(call, nil, fmt.Sprintf("tool arguments were not valid JSON: %v", err), 0)
	}
	raw := json.RawMessage(call.Arguments)

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return errResult(call, raw, fmt.Sprintf("unknown tool %q", call.Name), 0)
	}

	mode := e.Mode()
	if !mode.Allows(tool.Mode()) {
		return errResult(call, raw, fmt.Sprintf("tool %q is not permitted in %s mode", call.Name, mode), 0)
	}

	if tool.RequiresApproval() && !mode.SkipsApproval() && !e.isAlwaysAllowed(call.Name) {
		approved, err := e.requestApproval(ctx, call.Name, raw)
		if err != nil {
			return errResult(call, raw, fmt.Sprintf("approval failed: %v", err), 0)
		}
		if !approved {
			return errResult(call, raw, "user denied the tool call", 0)
		}
	}

	if e.bus != nil {
		e.bus.Publish(runtime.Event{
			Type:      runtime.EventToolCall,
			CallID:    call.ID,
			ToolName:  call.Name,
			ToolInput: raw,
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	content, err := tool.Execute(callCtx, args)
	elapsed := time.Since(start)

	var res llm.ExecutedToolCall
	if err != nil {
		logging.Warnf("[tools] %s failed after %s: %v", call.Name, elapsed.Round(time.Millisecond), err)
		res = errResult(call, raw, err.Error(), elapsed)
	} else {
		res = llm.ExecutedToolCall{Call: call, Args: raw, Content: content, Duration: elapsed}
	}

	if e.bus != nil {
		e.bus.Publish(runtime.Event{
			Type:       runtime.EventToolResult,
			CallID:     call.ID,
			ToolName:   call.Name,
			ToolOutput: res.Content,
			IsError:    res.IsError,
		})
	}
	return res
}

func (e *Executor) requestApproval(ctx context.Context, name string, input json.RawMessage) (bool, error) {
	if e.approvals == nil {
		// No host wired in: fail closed.
		return false, nil
	}
	req := runtime.NewApprovalRequest(name, input)
	select {
	case e.approvals <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	d, err := req.Wait(ctx)
	if err != nil {
		return false, err
	}
	if d == runtime.ApprovedAlways {
		e.mu.Lock()
		e.alwaysAllow[name] = true
		e.mu.Unlock()
	}
	return d != runtime.Denied, nil
}

func (e *Executor) isAlwaysAllowed(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alwaysAllow[name]
}

func errResult(call llm.ToolCall, args json.RawMessage, msg string, d time.Duration) llm.ExecutedToolCall {
	return llm.ExecutedToolCall{Call: call, Args: args, Content: msg, IsError: true, Duration: d}
}
