package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/saorsa-labs/fae/internal/agent"
	"github.com/saorsa-labs/fae/internal/canvas"
	"github.com/saorsa-labs/fae/internal/config"
	"github.com/saorsa-labs/fae/internal/llm"
	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/pipeline"
	"github.com/saorsa-labs/fae/internal/runtime"
	"github.com/saorsa-labs/fae/internal/scheduler"
	"github.com/saorsa-labs/fae/internal/server"
	"github.com/saorsa-labs/fae/internal/session"
	"github.com/saorsa-labs/fae/internal/skills"
	"github.com/saorsa-labs/fae/internal/tools"
)

func RunCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the assistant runtime",
		Long: `Start the conversation runtime: agent loop, skill supervisor,
scheduler, canvas, and the local debug server.

Audio capture and the STT/TTS model binaries are provided by the host
shell; without them, type to the assistant on stdin. Commands:

  /wake    wake the assistant
  /sleep   put the assistant to sleep
  /quit    exit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if quiet {
				logging.Disable()
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runAssistant(cfg)
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress runtime logs")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

func runAssistant(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Memory.RootDir, 0700); err != nil {
		return fmt.Errorf("create memory root: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		cancel()
	}()

	bus := runtime.NewBus()
	defer bus.Close()

	store, err := session.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	// Canvas: local scene, optionally mirrored to a remote server.
	var backend canvas.Backend
	if cfg.Canvas.RemoteURL != "" {
		remote := canvas.NewRemoteBackend(cfg.Canvas.RemoteURL)
		remote.Start()
		defer remote.Close()
		backend = remote
	} else {
		backend = canvas.NewLocalBackend()
	}
	bridge := canvas.NewBridge(backend)

	// Skills.
	if err := os.MkdirAll(cfg.Skills.Dir, 0700); err != nil {
		return fmt.Errorf("create skills dir: %w", err)
	}
	library := skills.NewLibrary(cfg.Skills.Dir)
	if err := library.Scan(); err != nil {
		logging.Warnf("[fae] skill scan: %v", err)
	}
	watchStop := make(chan struct{})
	defer close(watchStop)
	if err := library.Watch(watchStop); err != nil {
		logging.Warnf("[fae] skill watch: %v", err)
	}
	sup := skills.NewSupervisor(library, bus, cfg.Skills.Interpreter, nil)
	defer sup.StopAll(context.Background())

	// Tools.
	mode, err := tools.ParseMode(cfg.LLM.ToolMode)
	if err != nil {
		return err
	}
	registry := tools.NewRegistry()
	registry.Register(tools.NewCanvasTextTool(backend))
	registry.Register(tools.NewCanvasChartTool(backend))
	registry.Register(tools.NewCanvasClearTool(backend))
	for _, sk := range library.List() {
		if sk.State != skills.StateActive {
			continue
		}
		m := sk.Manifest
		registry.Register(tools.NewSkillTool(sup, m.ID, "skill_"+m.ID,
			"Invoke the "+m.ID+" skill.", nil, tools.ModeFull, true))
	}

	approvals := make(runtime.ApprovalTx, 4)
	execOpts := []tools.ExecutorOption{
		tools.WithApprovals(approvals),
		tools.WithCallTimeout(time.Duration(cfg.Conversation.ToolTimeoutSecs) * time.Second),
	}
	if cfg.Permissions.ClearAlwaysAllowOnDowngrade {
		execOpts = append(execOpts, tools.WithClearAlwaysAllowOnDowngrade())
	}
	executor := tools.NewExecutor(registry, bus, mode, execOpts...)

	// Agent loop.
	wireMode := llm.ModeChatCompletions
	if cfg.LLM.Mode == "responses" {
		wireMode = llm.ModeResponses
	}
	loop := &agent.Loop{
		Client:              llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, wireMode),
		Tools:               executor,
		Registry:            registry,
		Model:               cfg.LLM.Model,
		System:              cfg.Conversation.SystemPrompt,
		MaxTokens:           cfg.LLM.MaxTokens,
		Temperature:         cfg.LLM.Temperature,
		MaxTurns:            cfg.Conversation.MaxTurns,
		MaxToolCallsPerTurn: cfg.Conversation.MaxToolCallsPerTurn,
		RequestTimeout:      time.Duration(cfg.Conversation.RequestTimeoutSecs) * time.Second,
	}

	// Scheduler with the built-in session-retention sweep.
	sched := scheduler.New(scheduler.NewStore(cfg.Memory.RootDir), sup, bus)
	sched.RegisterBuiltin("session.prune", func(ctx context.Context) (*scheduler.Outcome, error) {
		n, err := store.Prune(cfg.Memory.RetentionDays)
		if err != nil {
			return nil, err
		}
		return &scheduler.Outcome{
			Kind:    scheduler.ResultTelemetry,
			Message: fmt.Sprintf("pruned %d session entries", n),
		}, nil
	})
	hasPrune := false
	for _, t := range sched.Tasks() {
		if t.ID == "session.prune" {
			hasPrune = true
			break
		}
	}
	if !hasPrune {
		sched.AddTask(scheduler.Task{
			ID:               "session.prune",
			Kind:             scheduler.KindBuiltin,
			Schedule:         scheduler.Schedule{IntervalSecs: 24 * 60 * 60},
			Enabled:          true,
			MaxFailureStreak: 3,
		})
	}
	sched.Start()
	defer sched.Stop()

	// Pipeline. The host shell owns the real audio device and models; this
	// process runs the coordinator with silent stages so typed injections
	// drive the same turn machinery.
	pcfg := pipeline.Config{
		VAD: pipeline.VADConfig{
			Threshold:    cfg.VAD.Threshold,
			SpeechPadMs:  cfg.VAD.SpeechPadMs,
			MinSpeechMs:  cfg.VAD.MinSpeechMs,
			MinSilenceMs: cfg.VAD.MinSilenceMs,
		},
		BargeIn: pipeline.BargeInConfig{
			Enabled:                 cfg.BargeIn.Enabled,
			MinRMS:                  cfg.BargeIn.MinRMS,
			ConfirmMs:               cfg.BargeIn.ConfirmMs,
			AssistantStartHoldoffMs: cfg.BargeIn.AssistantStartHoldoffMs,
		},
		WakePhrases: cfg.Conversation.WakePhrases,
		StopPhrases: cfg.Conversation.StopPhrases,
		StartAwake:  true,
		SystemText:  cfg.Conversation.SystemPrompt,
	}
	coord := pipeline.NewCoordinator(silentSource{}, silentSTT{}, silentTTS{}, silentSink{},
		loop, bus, store, pcfg)
	go coord.Run(ctx)

	// Debug server for the GUI shell.
	srv := server.New(cfg.Server.Addr, bus, backend)
	if err := srv.Start(); err != nil {
		return err
	}
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		srv.Shutdown(shutCtx)
	}()

	// Event fan-out: canvas bridge plus console rendering.
	go consumeEvents(ctx, bus, bridge, backend)

	bus.Publish(runtime.Event{Type: runtime.EventModelSelected, Model: cfg.LLM.Model, Mode: cfg.LLM.ToolMode})
	fmt.Printf("fae ready (canvas at http://%s/canvas)\n", cfg.Server.Addr)
	return inputLoop(ctx, cancel, coord, approvals)
}

// consumeEvents drains one bus subscription into the canvas bridge and the
// console, and re-publishes a canvas snapshot whenever the scene changed.
func consumeEvents(ctx context.Context, bus *runtime.Bus, bridge *canvas.Bridge, backend canvas.Backend) {
	events, unsub := bus.Subscribe()
	defer unsub()
	lastHTML := backend.ToHTMLCached()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			bridge.Handle(evt)
			if html := backend.ToHTMLCached(); html != lastHTML {
				lastHTML = html
				bus.Publish(runtime.Event{Type: runtime.EventCanvasVisibility, Visible: true})
				bus.Publish(runtime.Event{Type: runtime.EventCanvasSnapshot, HTML: html})
			}
			switch evt.Type {
			case runtime.EventAssistantSentence:
				if evt.Text != "" {
					fmt.Println(evt.Text)
				}
			case runtime.EventToolCall:
				fmt.Printf("  [tool] %s\n", evt.ToolName)
			case runtime.EventInterrupted:
				fmt.Println("  [interrupted]")
			case runtime.EventError:
				fmt.Fprintf(os.Stderr, "error: %s\n", evt.Detail)
			}
		}
	}
}

// inputLoop reads stdin lines: slash commands, approval answers, or text
// injections for the agent.
func inputLoop(ctx context.Context, cancel context.CancelFunc,
	coord *pipeline.Coordinator, approvals runtime.ApprovalTx) error {

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-approvals:
			if !ok {
				return nil
			}
			fmt.Printf("allow tool %q? [y/N/a(lways)] ", req.Name)
			select {
			case answer, ok := <-lines:
				if !ok {
					req.Cancel()
					cancel()
					return nil
				}
				switch strings.ToLower(strings.TrimSpace(answer)) {
				case "y", "yes":
					req.Respond(true)
				case "a", "always":
					req.RespondValue(runtime.ApprovedAlways)
				default:
					req.Respond(false)
				}
			case <-ctx.Done():
				req.Cancel()
				return nil
			}
		case line, ok := <-lines:
			if !ok {
				cancel()
				return nil
			}
			line = strings.TrimSpace(line)
			switch {
			case line == "":
			case line == "/quit":
				cancel()
				return nil
			case line == "/wake":
				coord.GateCmds <- runtime.GateWake
			case line == "/sleep":
				coord.GateCmds <- runtime.GateSleep
			default:
				coord.Injections <- runtime.TextInjection{Text: line}
			}
		}
	}
}

// Silent pipeline stages used when the host shell owns the audio device.

type silentSource struct{}

func (silentSource) Frames(ctx context.Context) (<-chan pipeline.Frame, error) {
	ch := make(chan pipeline.Frame)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

type silentSTT struct{}

func (silentSTT) Transcribe(context.Context, []int16, int) (string, error) { return "", nil }

type silentTTS struct{}

func (silentTTS) Synthesize(context.Context, string) ([]int16, int, error) { return nil, 16000, nil }

type silentSink struct{}

func (silentSink) Play(context.Context, []int16, int) error { return nil }
