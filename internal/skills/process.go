package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/wire"
)

// ProcState is the lifecycle state of a skill subprocess.
type ProcState int

const (
	ProcPending ProcState = iota
	ProcStarting
	ProcRunning
	ProcStopped
	ProcFailed
)

func (s ProcState) String() string {
	switch s {
	case ProcPending:
		return "pending"
	case ProcStarting:
		return "starting"
	case ProcRunning:
		return "running"
	case ProcStopped:
		return "stopped"
	case ProcFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// procTransitions enumerates the allowed moves. Anything else is a bug in
// the supervisor, reported as a protocol error.
var procTransitions = map[ProcState][]ProcState{
	ProcPending:  {ProcStarting},
	ProcStarting: {ProcRunning, ProcFailed, ProcStopped},
	ProcRunning:  {ProcStopped, ProcFailed},
	ProcStopped:  {ProcPending},
	ProcFailed:   {ProcPending},
}

// TimeoutError reports an invoke deadline expiry.
type TimeoutError struct {
	Secs float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("skill invoke timed out after %.1fs", e.Secs)
}

// HandshakeResult is the skill's reply to skill.handshake.
type HandshakeResult struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Protocol int    `json:"protocol"`
}

// HealthResult is the skill's reply to skill.health.
type HealthResult struct {
	Status string `json:"status"` // ok | degraded
	Detail string `json:"detail,omitempty"`
}

const (
	// reapDelay bounds how long Wait blocks after the pipes close.
	reapDelay = 5 * time.Second
	// handshakeTimeout bounds the startup handshake.
	handshakeTimeout = 10 * time.Second
)

// Process is one running skill subprocess. All RPC is serialized: one
// in-flight request at a time.
type Process struct {
	Skill *ManagedSkill

	interpreter string
	settings    map[string]any

	mu    sync.Mutex
	state ProcState
	cmd   *exec.Cmd
	codec *wire.Codec
	close func()
}

// NewProcess prepares a process handle in Pending state. interpreter is the
// configured runtime (e.g. "python3"); settings are passed verbatim in the
// handshake.
func NewProcess(sk *ManagedSkill, interpreter string, settings map[string]any) *Process {
	return &Process{Skill: sk, interpreter: interpreter, settings: settings, state: ProcPending}
}

// State returns the current lifecycle state.
func (p *Process) State() ProcState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) transitionLocked(to ProcState) error {
	for _, ok := range procTransitions[p.state] {
		if ok == to {
			logging.Debugf("[skills] %s: %s -> %s", p.Skill.Manifest.ID, p.state, to)
			p.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: illegal transition %s -> %s for skill %s",
		wire.ErrProtocol, p.state, to, p.Skill.Manifest.ID)
}

// Start launches the interpreter on the skill's entry file, wires stdio, and
// performs the handshake. Running is only reached after a successful
// handshake.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if err := p.transitionLocked(ProcStarting); err != nil {
		p.mu.Unlock()
		return err
	}

	entry := filepath.Join(p.Skill.Dir, p.Skill.Manifest.EntryFile)
	cmd := exec.Command(p.interpreter, entry)
	cmd.Dir = p.Skill.Dir
	cmd.WaitDelay = reapDelay

	stdin, err := cmd.StdinPipe()
	if err != nil {
		p.failLocked(err)
		p.mu.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		p.failLocked(err)
		p.mu.Unlock()
		return err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		p.failLocked(err)
		p.mu.Unlock()
		return fmt.Errorf("skill %s: spawn: %w", p.Skill.Manifest.ID, err)
	}
	p.cmd = cmd
	p.codec = wire.NewCodec(stdout, stdin)
	p.close = func() {
		stdin.Close()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
	}
	p.mu.Unlock()

	if err := p.handshake(ctx); err != nil {
		p.markFailed(err)
		p.Close()
		return fmt.Errorf("skill %s: handshake: %w", p.Skill.Manifest.ID, err)
	}

	p.mu.Lock()
	err = p.transitionLocked(ProcRunning)
	p.mu.Unlock()
	return err
}

func (p *Process) handshake(ctx context.Context) error {
	creds := make(map[string]string)
	for _, c := range p.Skill.Manifest.Credentials {
		v := os.Getenv(c.EnvVar)
		if v == "" && c.Required {
			return fmt.Errorf("required credential %s (%s) is not set", c.Name, c.EnvVar)
		}
		if v != "" {
			creds[c.Name] = v
		}
	}
	params := map[string]any{"credentials": creds, "settings": p.settings}

	raw, _, err := p.roundTrip(ctx, "skill.handshake", params, handshakeTimeout)
	if err != nil {
		return err
	}
	var hs HandshakeResult
	if err := json.Unmarshal(raw, &hs); err != nil {
		return fmt.Errorf("%w: bad handshake result: %v", wire.ErrProtocol, err)
	}
	logging.Infof("[skills] %s handshake ok: %s v%s protocol %d",
		p.Skill.Manifest.ID, hs.Name, hs.Version, hs.Protocol)
	return nil
}

// Invoke sends a request and awaits the correlated response within deadline.
// Notifications arriving first are returned alongside the result. On timeout
// the process is killed, since the stdio framing can no longer be trusted.
func (p *Process) Invoke(ctx context.Context, method string, params any, deadline time.Duration) (json.RawMessage, []wire.Notification, error) {
	if p.State() != ProcRunning {
		return nil, nil, fmt.Errorf("skill %s is %s, not running: %w",
			p.Skill.Manifest.ID, p.State(), wire.ErrProcessExited)
	}
	raw, notes, err := p.roundTrip(ctx, method, params, deadline)
	if err != nil {
		if errors.Is(err, wire.ErrProcessExited) {
			p.markFailed(err)
		}
		var te *TimeoutError
		if errors.As(err, &te) {
			// The response may still arrive on the line later; kill rather
			// than desynchronize the correlation. Failed is recorded first:
			// Stopped does not admit a later move to Failed.
			p.markFailed(err)
			p.Close()
		}
	}
	return raw, notes, err
}

// Health performs a skill.health round-trip.
func (p *Process) Health(ctx context.Context) (*HealthResult, error) {
	raw, _, err := p.Invoke(ctx, "skill.health", nil, 10*time.Second)
	if err != nil {
		return nil, err
	}
	var h HealthResult
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("%w: bad health result: %v", wire.ErrProtocol, err)
	}
	return &h, nil
}

// Shutdown asks the skill to exit cleanly, then reaps it.
func (p *Process) Shutdown(ctx context.Context) {
	if p.State() == ProcRunning {
		p.roundTrip(ctx, "skill.shutdown", nil, 3*time.Second)
	}
	p.Close()
}

type invokeOutcome struct {
	result json.RawMessage
	notes  []wire.Notification
	err    error
}

// roundTrip issues one request and awaits its response. Serialized by mu so
// ids and responses cannot interleave.
func (p *Process) roundTrip(ctx context.Context, method string, params any, deadline time.Duration) (json.RawMessage, []wire.Notification, error) {
	p.mu.Lock()
	codec := p.codec
	if codec == nil {
		p.mu.Unlock()
		return nil, nil, wire.ErrProcessExited
	}
	id := codec.NextID()
	if err := codec.WriteRequest(method, params, id); err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	p.mu.Unlock()

	done := make(chan invokeOutcome, 1)
	go func() {
		result, notes, err := codec.AwaitResult(id)
		done <- invokeOutcome{result, notes, err}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.result, out.notes, out.err
	case <-timer.C:
		return nil, nil, &TimeoutError{Secs: deadline.Seconds()}
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// Close kills the child and reaps it. Safe to call more than once.
func (p *Process) Close() {
	p.mu.Lock()
	closeFn := p.close
	p.close = nil
	p.codec = nil
	if p.state == ProcRunning || p.state == ProcStarting {
		if err := p.transitionLocked(ProcStopped); err != nil {
			logging.Warnf("[skills] %s: %v", p.Skill.Manifest.ID, err)
		}
	}
	p.mu.Unlock()
	if closeFn != nil {
		closeFn()
	}
}

func (p *Process) markFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == ProcFailed {
		return
	}
	if terr := p.transitionLocked(ProcFailed); terr != nil {
		logging.Debugf("[skills] %s: %v", p.Skill.Manifest.ID, terr)
		return
	}
	logging.Warnf("[skills] %s failed: %v", p.Skill.Manifest.ID, err)
}

func (p *Process) failLocked(err error) {
	logging.Warnf("[skills] %s failed to start: %v", p.Skill.Manifest.ID, err)
	if terr := p.transitionLocked(ProcFailed); terr != nil {
		logging.Debugf("[skills] %s: %v", p.Skill.Manifest.ID, terr)
	}
}

// Reset returns a Stopped or Failed process to Pending so it can be started
// again.
func (p *Process) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(ProcPending)
}
