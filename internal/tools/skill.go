package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/saorsa-labs/fae/internal/wire"
)

// SkillInvoker is the supervisor surface a skill-backed tool calls through.
type SkillInvoker interface {
	Invoke(ctx context.Context, id, method string, params any, deadline time.Duration) (json.RawMessage, []wire.Notification, error)
}

const defaultSkillDeadline = 60 * time.Second

// SkillTool exposes one supervised skill subprocess as a callable tool. The
// model sees the schema the skill's manifest declares; invocations go over
// the skill's stdio wire.
type SkillTool struct {
	invoker     SkillInvoker
	skillID     string
	name        string
	description string
	schema      map[string]any
	mode        Mode
	approval    bool
}

func NewSkillTool(invoker SkillInvoker, skillID, name, description string, schema map[string]any, mode Mode, requiresApproval bool) *SkillTool {
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &SkillTool{
		invoker:     invoker,
		skillID:     skillID,
		name:        name,
		description: description,
		schema:      schema,
		mode:        mode,
		approval:    requiresApproval,
	}
}

func (t *SkillTool) Name() string           { return t.name }
func (t *SkillTool) Description() string    { return t.description }
func (t *SkillTool) Schema() map[string]any { return t.schema }
func (t *SkillTool) Mode() Mode             { return t.mode }
func (t *SkillTool) RequiresApproval() bool { return t.approval }

func (t *SkillTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	deadline := defaultSkillDeadline
	if d, ok := ctx.Deadline(); ok {
		deadline = time.Until(d)
	}
	result, _, err := t.invoker.Invoke(ctx, t.skillID, "skill.invoke", args, deadline)
	if err != nil {
		return "", fmt.Errorf("skill %s: %w", t.skillID, err)
	}
	return string(result), nil
}
