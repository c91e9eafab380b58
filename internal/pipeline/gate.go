package pipeline

import (
	"strings"
	"sync/atomic"
)

// Gate is the conversational wake/sleep switch. While sleeping, speech is
// still transcribed for wake-phrase detection but never reaches the agent.
type Gate struct {
	awake       atomic.Bool
	wakePhrases []string
	stopPhrases []string
}

func NewGate(wakePhrases, stopPhrases []string, startAwake bool) *Gate {
	g := &Gate{
		wakePhrases: lowerAll(wakePhrases),
		stopPhrases: lowerAll(stopPhrases),
	}
	g.awake.Store(startAwake)
	return g
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}

// Awake reports the current gate state.
func (g *Gate) Awake() bool { return g.awake.Load() }

// Wake opens the gate.
func (g *Gate) Wake() { g.awake.Store(true) }

// Sleep closes the gate.
func (g *Gate) Sleep() { g.awake.Store(false) }

// Observe scans a final transcript for wake/stop phrases and flips the gate
// accordingly. It returns whether the transcript should be forwarded to the
// agent: a transcript consisting only of a wake or stop phrase is consumed.
func (g *Gate) Observe(transcript string) bool {
	t := strings.ToLower(strings.TrimSpace(transcript))
	if t == "" {
		return false
	}
	for _, p := range g.stopPhrases {
		if p != "" && strings.Contains(t, p) {
			g.awake.Store(false)
			return false
		}
	}
	if !g.awake.Load() {
		for _, p := range g.wakePhrases {
			if p != "" && strings.Contains(t, p) {
				g.awake.Store(true)
				// Forward whatever follows the wake phrase, if anything.
				rest := strings.TrimSpace(t[strings.Index(t, p)+len(p):])
				return rest != ""
			}
		}
		return false
	}
	return true
}
