// Package agent runs the bounded conversation loop: stream a model turn,
// execute any tool calls, feed the results back, repeat until the model
// finishes or a budget runs out.
package agent

import (
	"context"
	"time"

	"github.com/saorsa-labs/fae/internal/llm"
	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/tools"
)

// Streamer is the provider surface the loop needs.
type Streamer interface {
	Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.Event, error)
}

// StopReason says why Run returned.
type StopReason string

const (
	StopComplete     StopReason = "complete"
	StopCancelled    StopReason = "cancelled"
	StopError        StopReason = "error"
	StopMaxTurns     StopReason = "max_turns"
	StopMaxToolCalls StopReason = "max_tool_calls"
)

// TurnMetrics records one provider round-trip.
type TurnMetrics struct {
	Turn           int
	RequestLatency time.Duration
	ToolCalls      int
	ToolFailures   int
	ToolLatency    time.Duration
	FinishReason   llm.FinishReason
}

// Result is the outcome of a Run.
type Result struct {
	Messages   []llm.Message
	FinalText  string
	StopReason StopReason
	Turns      []*llm.TurnResult
	Metrics    []TurnMetrics
	Err        error
}

const (
	DefaultMaxTurns            = 8
	DefaultMaxToolCallsPerTurn = 16
	DefaultRequestTimeout      = 120 * time.Second
)

// Loop drives the conversation. Zero-value budgets fall back to defaults.
type Loop struct {
	Client   Streamer
	Tools    *tools.Executor
	Registry *tools.Registry

	Model               string
	System              string
	MaxTokens           int
	Temperature         float64
	MaxTurns            int
	MaxToolCallsPerTurn int
	RequestTimeout      time.Duration

	// OnEvent, when set, observes every raw stream event (the pipeline's
	// sentence splitter hangs off this).
	OnEvent func(llm.Event)
}

func (l *Loop) maxTurns() int {
	if l.MaxTurns > 0 {
		return l.MaxTurns
	}
	return DefaultMaxTurns
}

func (l *Loop) maxToolCalls() int {
	if l.MaxToolCallsPerTurn > 0 {
		return l.MaxToolCallsPerTurn
	}
	return DefaultMaxToolCallsPerTurn
}

func (l *Loop) requestTimeout() time.Duration {
	if l.RequestTimeout > 0 {
		return l.RequestTimeout
	}
	return DefaultRequestTimeout
}

// Run executes the loop over messages. The returned Result always carries the
// full message sequence, which satisfies the tool-result pairing rule: every
// tool message is preceded by an assistant message holding the matching call.
func (l *Loop) Run(ctx context.Context, messages []llm.Message) *Result {
	res := &Result{Messages: messages, StopReason: StopMaxTurns}

	for turn := 0; turn < l.maxTurns(); turn++ {
		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			return res
		}

		turnResult, latency, err := l.streamTurn(ctx, res.Messages)
		if err != nil {
			if ctx.Err() != nil {
				res.StopReason = StopCancelled
			} else {
				res.StopReason = StopError
				res.Err = err
			}
			return res
		}
		res.Turns = append(res.Turns, turnResult)
		metrics := TurnMetrics{
			Turn:           turn,
			RequestLatency: latency,
			FinishReason:   turnResult.FinishReason,
		}

		if turnResult.Err != nil {
			res.Metrics = append(res.Metrics, metrics)
			if ctx.Err() != nil || turnResult.FinishReason == llm.FinishCancelled {
				res.StopReason = StopCancelled
			} else {
				res.StopReason = StopError
				res.Err = turnResult.Err
			}
			return res
		}
		if turnResult.FinishReason == llm.FinishCancelled {
			res.Metrics = append(res.Metrics, metrics)
			res.FinalText = turnResult.Text
			if ctx.Err() != nil {
				res.StopReason = StopCancelled
			} else {
				// Parent context is live, so the per-request timeout fired.
				res.StopReason = StopError
				res.Err = context.DeadlineExceeded
			}
			return res
		}

		res.FinalText = turnResult.Text

		wantsTools := len(turnResult.ToolCalls) > 0 &&
			(turnResult.FinishReason == llm.FinishToolCalls ||
				turnResult.FinishReason == llm.FinishToolCallsFailed)
		if !wantsTools {
			res.Metrics = append(res.Metrics, metrics)
			res.StopReason = StopComplete
			return res
		}

		res.Messages = append(res.Messages, llm.AssistantMessage(turnResult.Text, turnResult.ToolCalls))
		metrics.ToolCalls = len(turnResult.ToolCalls)

		if len(turnResult.ToolCalls) > l.maxToolCalls() {
			logging.Warnf("[agent] turn %d requested %d tool calls, budget is %d",
				turn, len(turnResult.ToolCalls), l.maxToolCalls())
			res.Metrics = append(res.Metrics, metrics)
			res.StopReason = StopMaxToolCalls
			return res
		}

		toolStart := time.Now()
		executed := l.Tools.Execute(ctx, turnResult.ToolCalls, turnResult.InvalidCallIDs)
		metrics.ToolLatency = time.Since(toolStart)
		turnResult.Executed = executed
		for _, ex := range executed {
			if ex.IsError {
				metrics.ToolFailures++
			}
			res.Messages = append(res.Messages, llm.ToolMessage(ex.Call.ID, ex.Content, ex.IsError))
		}
		res.Metrics = append(res.Metrics, metrics)

		if ctx.Err() != nil {
			res.StopReason = StopCancelled
			return res
		}
	}
	return res
}

func (l *Loop) streamTurn(ctx context.Context, messages []llm.Message) (*llm.TurnResult, time.Duration, error) {
	reqCtx, cancel := context.WithTimeout(ctx, l.requestTimeout())
	defer cancel()

	req := &llm.ChatRequest{
		Messages:    messages,
		System:      l.System,
		Model:       l.Model,
		MaxTokens:   l.MaxTokens,
		Temperature: l.Temperature,
	}
	if l.Registry != nil {
		req.Tools = l.Registry.SchemasForAPI(l.Tools.Mode())
	}

	start := time.Now()
	events, err := l.Client.Stream(reqCtx, req)
	if err != nil {
		return nil, time.Since(start), err
	}

	stream := events
	if l.OnEvent != nil {
		tapped := make(chan llm.Event)
		go func() {
			defer close(tapped)
			for e := range events {
				l.OnEvent(e)
				tapped <- e
			}
		}()
		stream = tapped
	}

	turn := llm.Accumulate(stream)
	return turn, time.Since(start), nil
}
