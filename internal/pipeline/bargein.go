package pipeline

import (
	"sync"
	"time"
)

// BargeInConfig tunes interruption detection.
type BargeInConfig struct {
	Enabled bool
	// MinRMS is the energy the user's speech must exceed.
	MinRMS float64
	// ConfirmMs is how long the energy must stay above MinRMS.
	ConfirmMs int
	// AssistantStartHoldoffMs ignores input just after the assistant starts
	// speaking, so the assistant's own audio cannot trigger a barge-in.
	AssistantStartHoldoffMs int
}

func DefaultBargeInConfig() BargeInConfig {
	return BargeInConfig{
		Enabled:                 true,
		MinRMS:                  0.02,
		ConfirmMs:               250,
		AssistantStartHoldoffMs: 400,
	}
}

// BargeInDetector watches mic energy while the assistant speaks and fires
// once sustained user speech is confirmed. The TTS stage toggles speaking
// while the capture stage feeds levels, so all state sits behind one mutex.
type BargeInDetector struct {
	cfg BargeInConfig

	mu            sync.Mutex
	speakingSince time.Time
	aboveSince    time.Time
	speaking      bool
}

func NewBargeInDetector(cfg BargeInConfig) *BargeInDetector {
	return &BargeInDetector{cfg: cfg}
}

// AssistantStarted marks the start of assistant playback.
func (d *BargeInDetector) AssistantStarted(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = true
	d.speakingSince = now
	d.aboveSince = time.Time{}
}

// AssistantStopped marks the end of assistant playback.
func (d *BargeInDetector) AssistantStopped() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.aboveSince = time.Time{}
}

// Feed observes one mic frame's RMS. It returns true exactly when a barge-in
// is confirmed.
func (d *BargeInDetector) Feed(level float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.cfg.Enabled || !d.speaking {
		return false
	}
	if now.Sub(d.speakingSince) < time.Duration(d.cfg.AssistantStartHoldoffMs)*time.Millisecond {
		return false
	}
	if level < d.cfg.MinRMS {
		d.aboveSince = time.Time{}
		return false
	}
	if d.aboveSince.IsZero() {
		d.aboveSince = now
		return false
	}
	if now.Sub(d.aboveSince) >= time.Duration(d.cfg.ConfirmMs)*time.Millisecond {
		d.speaking = false
		d.aboveSince = time.Time{}
		return true
	}
	return false
}
