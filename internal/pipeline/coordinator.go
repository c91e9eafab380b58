package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/saorsa-labs/fae/internal/agent"
	"github.com/saorsa-labs/fae/internal/llm"
	"github.com/saorsa-labs/fae/internal/logging"
	"github.com/saorsa-labs/fae/internal/runtime"
)

// Config carries the coordinator's tuning.
type Config struct {
	VAD         VADConfig
	BargeIn     BargeInConfig
	WakePhrases []string
	StopPhrases []string
	StartAwake  bool
	SystemText  string
}

// SessionStore receives finalized conversation entries. Optional.
type SessionStore interface {
	Append(role, text string) error
}

// turnRequest is one unit of agent work: a final transcript or an injection.
type turnRequest struct {
	text string
	fork *int
}

const (
	segmentBuffer  = 4
	turnBuffer     = 8
	sentenceBuffer = 16
)

// Coordinator owns the pipeline stages and the per-turn cancellation. One
// Run per coordinator.
type Coordinator struct {
	source AudioSource
	stt    Transcriber
	tts    Synthesizer
	sink   Sink
	loop   *agent.Loop
	bus    *runtime.Bus
	store  SessionStore

	cfg      Config
	gate     *Gate
	detector *BargeInDetector

	segments  chan *Segment
	turns     chan turnRequest
	sentences chan Sentence

	Injections chan runtime.TextInjection
	GateCmds   chan runtime.GateCommand

	mu           sync.Mutex
	conversation []llm.Message
	turnCtx      context.Context
	cancelTurn   context.CancelFunc
	interrupted  bool
}

func NewCoordinator(source AudioSource, stt Transcriber, tts Synthesizer, sink Sink,
	loop *agent.Loop, bus *runtime.Bus, store SessionStore, cfg Config) *Coordinator {
	c := &Coordinator{
		source:     source,
		stt:        stt,
		tts:        tts,
		sink:       sink,
		loop:       loop,
		bus:        bus,
		store:      store,
		cfg:        cfg,
		gate:       NewGate(cfg.WakePhrases, cfg.StopPhrases, cfg.StartAwake),
		detector:   NewBargeInDetector(cfg.BargeIn),
		segments:   make(chan *Segment, segmentBuffer),
		turns:      make(chan turnRequest, turnBuffer),
		sentences:  make(chan Sentence, sentenceBuffer),
		Injections: make(chan runtime.TextInjection, 4),
		GateCmds:   make(chan runtime.GateCommand, 4),
	}
	if cfg.SystemText != "" {
		c.conversation = []llm.Message{llm.SystemMessage(cfg.SystemText)}
	}
	return c
}

// Run starts all stages and blocks until ctx is cancelled or a stage fails.
// A stage error publishes an Error runtime event and tears the pipeline
// down; the host decides whether to build a fresh coordinator.
func (c *Coordinator) Run(ctx context.Context) error {
	frames, err := c.source.Frames(ctx)
	if err != nil {
		return fmt.Errorf("audio capture: %w", err)
	}
	active := true
	c.bus.Publish(runtime.Event{Type: runtime.EventMicStatus, MicActive: &active})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	stage := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logging.Errorf("[pipeline] %s: %v", name, err)
				c.bus.Publish(runtime.Event{Type: runtime.EventError, Detail: name + ": " + err.Error()})
				select {
				case errCh <- fmt.Errorf("%s: %w", name, err):
				default:
				}
			}
		}()
	}

	stage("capture", func(ctx context.Context) error { return c.captureLoop(ctx, frames) })
	stage("stt", c.sttLoop)
	stage("agent", c.agentLoop)
	stage("tts", c.ttsLoop)
	stage("control", c.controlLoop)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}
	wg.Wait()
	inactive := false
	c.bus.Publish(runtime.Event{Type: runtime.EventMicStatus, MicActive: &inactive})
	return runErr
}

// captureLoop feeds frames to the segmenter and the barge-in detector.
func (c *Coordinator) captureLoop(ctx context.Context, frames <-chan Frame) error {
	seg := NewSegmenter(c.cfg.VAD)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return fmt.Errorf("capture stream closed")
			}
			level := rms(f.PCM)
			c.bus.Publish(runtime.Event{Type: runtime.EventAudioLevel, RMS: level})

			if c.detector.Feed(level, f.CapturedAt) {
				c.interrupt()
			}
			if s := seg.Feed(f); s != nil {
				select {
				case c.segments <- s:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

// sttLoop transcribes finished segments and pushes final transcripts through
// the gate.
func (c *Coordinator) sttLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case seg := <-c.segments:
			text, err := c.stt.Transcribe(ctx, seg.PCM, seg.SampleRate)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("transcribe: %w", err)
			}
			if text == "" {
				continue
			}
			c.bus.Publish(runtime.Event{
				Type:          runtime.EventTranscript,
				Text:          text,
				IsFinal:       true,
				CapturedAt:    seg.StartedAt,
				TranscribedAt: time.Now(),
			})
			if c.store != nil {
				if err := c.store.Append("user", text); err != nil {
					logging.Warnf("[pipeline] session append: %v", err)
				}
			}
			if !c.gate.Observe(text) {
				logging.Debugf("[pipeline] gate swallowed transcript (awake=%v)", c.gate.Awake())
				continue
			}
			select {
			case c.turns <- turnRequest{text: text}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// controlLoop multiplexes host commands into the turn queue and the gate.
func (c *Coordinator) controlLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.GateCmds:
			switch cmd {
			case runtime.GateWake:
				c.gate.Wake()
			case runtime.GateSleep:
				c.gate.Sleep()
			}
		case inj := <-c.Injections:
			select {
			case c.turns <- turnRequest{text: inj.Text, fork: inj.ForkAtKeepCount}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// agentLoop runs one agent turn per request, streaming sentences to TTS.
func (c *Coordinator) agentLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.turns:
			c.runTurn(ctx, req)
		}
	}
}

func (c *Coordinator) runTurn(ctx context.Context, req turnRequest) {
	turnCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.turnCtx = turnCtx
	c.cancelTurn = cancel
	c.interrupted = false
	if req.fork != nil && *req.fork >= 0 && *req.fork < len(c.conversation) {
		// Edit-and-retry: keep only the first k messages.
		c.conversation = c.conversation[:*req.fork]
	}
	c.conversation = append(c.conversation, llm.UserMessage(req.text))
	messages := append([]llm.Message(nil), c.conversation...)
	c.mu.Unlock()
	defer cancel()

	c.bus.Publish(runtime.Event{Type: runtime.EventGenerating, Active: true})

	splitter := &Splitter{}
	c.loop.OnEvent = func(e llm.Event) {
		if e.Type != llm.EventTextDelta {
			return
		}
		for _, s := range splitter.Feed(e.Text) {
			c.emitSentence(turnCtx, Sentence{Text: s})
		}
	}

	res := c.loop.Run(turnCtx, messages)

	if rest := splitter.Flush(); rest != "" && res.StopReason != agent.StopCancelled {
		c.emitSentence(turnCtx, Sentence{Text: rest, IsFinal: true})
	} else {
		c.emitSentence(turnCtx, Sentence{IsFinal: true})
	}

	c.mu.Lock()
	c.cancelTurn = nil
	c.turnCtx = nil
	wasInterrupted := c.interrupted
	if res.StopReason == agent.StopCancelled && wasInterrupted {
		// Keep the truncated text so the transcript reflects what was heard.
		if res.FinalText != "" {
			c.conversation = append(c.conversation, llm.AssistantMessage(res.FinalText, nil))
		}
	} else {
		c.conversation = res.Messages
		if res.FinalText != "" {
			c.conversation = append(c.conversation, llm.AssistantMessage(res.FinalText, nil))
		}
	}
	c.mu.Unlock()

	if res.Err != nil {
		c.bus.Publish(runtime.Event{Type: runtime.EventError, Detail: res.Err.Error()})
	}
	if c.store != nil && res.FinalText != "" {
		if err := c.store.Append("assistant", res.FinalText); err != nil {
			logging.Warnf("[pipeline] session append: %v", err)
		}
	}
	c.bus.Publish(runtime.Event{Type: runtime.EventGenerating, Active: false})
}

func (c *Coordinator) emitSentence(ctx context.Context, s Sentence) {
	if s.Text != "" {
		c.bus.Publish(runtime.Event{Type: runtime.EventAssistantSentence, Text: s.Text, IsFinal: s.IsFinal})
	}
	select {
	case c.sentences <- s:
	case <-ctx.Done():
	}
}

// ttsLoop synthesizes and plays sentences, publishing speech start/end and
// level events.
func (c *Coordinator) ttsLoop(ctx context.Context) error {
	speaking := false
	stop := func() {
		if speaking {
			speaking = false
			c.detector.AssistantStopped()
			c.bus.Publish(runtime.Event{Type: runtime.EventAssistantSpeech, Active: false})
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-c.sentences:
			if s.Text == "" {
				if s.IsFinal {
					stop()
				}
				continue
			}
			pcm, rate, err := c.tts.Synthesize(ctx, s.Text)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logging.Warnf("[pipeline] tts: %v", err)
				continue
			}
			if !speaking {
				speaking = true
				c.detector.AssistantStarted(time.Now())
				c.bus.Publish(runtime.Event{Type: runtime.EventAssistantSpeech, Active: true})
			}
			c.bus.Publish(runtime.Event{Type: runtime.EventAssistantLevel, RMS: rms(pcm)})
			if c.sink != nil {
				playCtx := c.currentTurnContext(ctx)
				if err := c.sink.Play(playCtx, pcm, rate); err != nil && playCtx.Err() == nil {
					logging.Warnf("[pipeline] playback: %v", err)
				}
			}
			if s.IsFinal {
				stop()
			}
		}
	}
}

// currentTurnContext lets barge-in cut playback without killing the stage.
func (c *Coordinator) currentTurnContext(parent context.Context) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turnCtx != nil {
		return c.turnCtx
	}
	return parent
}

// interrupt cancels the in-flight turn, drains pending sentences, and marks
// the canvas entry interrupted.
func (c *Coordinator) interrupt() {
	c.mu.Lock()
	cancel := c.cancelTurn
	c.interrupted = cancel != nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	logging.Infof("[pipeline] barge-in: cancelling assistant turn")
	cancel()
	for {
		select {
		case <-c.sentences:
		default:
			c.detector.AssistantStopped()
			c.bus.Publish(runtime.Event{Type: runtime.EventAssistantSpeech, Active: false})
			c.bus.Publish(runtime.Event{Type: runtime.EventInterrupted})
			return
		}
	}
}

// Gate exposes the wake/sleep switch for the host.
func (c *Coordinator) Gate() *Gate { return c.gate }

// Conversation returns a copy of the message history.
func (c *Coordinator) Conversation() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.conversation...)
}
