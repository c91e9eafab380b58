// Package tools defines the tool surface the agent loop can call: the Tool
// interface, the permission mode lattice, a registry, and an executor that
// runs model-issued calls with timeouts and approval gating.
package tools

import (
	"context"
	"fmt"
	"strings"
)

// Tool is a capability the model can invoke.
type Tool interface {
	// Name is the identifier the model uses to call the tool.
	Name() string
	// Description tells the model what the tool does.
	Description() string
	// Schema returns the JSON schema for the tool's parameters.
	Schema() map[string]any
	// Mode is the minimum permission mode the tool needs to run.
	Mode() Mode
	// RequiresApproval reports whether each invocation needs user sign-off.
	RequiresApproval() bool
	// Execute runs the tool with decoded arguments.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Mode is a permission level. Modes are totally ordered; a session mode
// admits every tool whose required mode is at or below it.
type Mode int

const (
	ModeOff Mode = iota
	ModeReadOnly
	ModeReadWrite
	ModeFull
	ModeFullNoApproval
)

// Allows reports whether a session at mode m may run a tool requiring need.
func (m Mode) Allows(need Mode) bool {
	if m == ModeOff {
		return false
	}
	// FullNoApproval admits the same tools as Full.
	eff := m
	if eff == ModeFullNoApproval {
		eff = ModeFull
	}
	if need == ModeFullNoApproval {
		need = ModeFull
	}
	return eff >= need
}

// SkipsApproval reports whether the mode suppresses approval prompts.
func (m Mode) SkipsApproval() bool { return m == ModeFullNoApproval }

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeReadOnly:
		return "read_only"
	case ModeReadWrite:
		return "read_write"
	case ModeFull:
		return "full"
	case ModeFullNoApproval:
		return "full_no_approval"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a config string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return ModeOff, nil
	case "read_only", "readonly":
		return ModeReadOnly, nil
	case "read_write", "readwrite":
		return ModeReadWrite, nil
	case "full":
		return ModeFull, nil
	case "full_no_approval":
		return ModeFullNoApproval, nil
	}
	return ModeOff, fmt.Errorf("unknown permission mode %q", s)
}
