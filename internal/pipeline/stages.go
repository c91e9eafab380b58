// Package pipeline wires audio capture, VAD, the wake gate, STT, the agent
// loop, sentence splitting, and TTS into one coordinator. Stages are
// goroutines connected by bounded channels; everything observable is
// published on the runtime bus.
package pipeline

import (
	"context"
	"math"
	"time"
)

// Frame is one chunk of captured PCM.
type Frame struct {
	PCM        []int16
	SampleRate int
	CapturedAt time.Time
}

// AudioSource produces microphone frames. Implementations sit on top of the
// platform capture device; tests feed synthetic frames.
type AudioSource interface {
	// Frames starts capture. The channel closes when ctx ends or the device
	// fails.
	Frames(ctx context.Context) (<-chan Frame, error)
}

// Transcriber converts a finished speech segment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int) (string, error)
}

// Synthesizer converts one sentence to PCM.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]int16, int, error)
}

// Sink plays synthesized audio. Play blocks until the chunk finishes or ctx
// is cancelled.
type Sink interface {
	Play(ctx context.Context, pcm []int16, sampleRate int) error
}

// rms computes the normalized root-mean-square energy of a PCM chunk.
func rms(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
