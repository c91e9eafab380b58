package pipeline

import (
	"sync"
	"testing"
	"time"
)

func frame(level float64, ms, rate int, at time.Time) Frame {
	n := rate * ms / 1000
	pcm := make([]int16, n)
	sample := int16(level * 32768)
	for i := range pcm {
		pcm[i] = sample
	}
	return Frame{PCM: pcm, SampleRate: rate, CapturedAt: at}
}

func TestSegmenterProducesSegment(t *testing.T) {
	seg := NewSegmenter(DefaultVADConfig())
	at := time.Now()

	var got *Segment
	// 300ms of speech then 700ms of silence.
	for i := 0; i < 15; i++ {
		if s := seg.Feed(frame(0.1, 20, 16000, at)); s != nil {
			t.Fatal("segment closed during speech")
		}
		at = at.Add(20 * time.Millisecond)
	}
	for i := 0; i < 35; i++ {
		if s := seg.Feed(frame(0.001, 20, 16000, at)); s != nil {
			got = s
			break
		}
		at = at.Add(20 * time.Millisecond)
	}
	if got == nil {
		t.Fatal("no segment after sustained silence")
	}
	// 300ms speech + ≥600ms silence at 16kHz, plus leading pad.
	if len(got.PCM) < 14400 {
		t.Errorf("segment samples = %d", len(got.PCM))
	}
}

func TestSegmenterDropsShortBursts(t *testing.T) {
	seg := NewSegmenter(DefaultVADConfig())
	at := time.Now()
	// 60ms of speech, below the 200ms minimum.
	for i := 0; i < 3; i++ {
		seg.Feed(frame(0.1, 20, 16000, at))
		at = at.Add(20 * time.Millisecond)
	}
	for i := 0; i < 40; i++ {
		if s := seg.Feed(frame(0.001, 20, 16000, at)); s != nil {
			t.Fatal("short burst produced a segment")
		}
		at = at.Add(20 * time.Millisecond)
	}
}

func TestGateWakeAndStopPhrases(t *testing.T) {
	g := NewGate([]string{"hey fae"}, []string{"go to sleep"}, false)

	if g.Observe("what time is it") {
		t.Error("sleeping gate forwarded a transcript")
	}
	if g.Observe("hey fae") {
		t.Error("bare wake phrase was forwarded")
	}
	if !g.Awake() {
		t.Fatal("wake phrase did not wake the gate")
	}
	if !g.Observe("what time is it") {
		t.Error("awake gate swallowed a transcript")
	}
	if g.Observe("ok go to sleep now") {
		t.Error("stop phrase was forwarded")
	}
	if g.Awake() {
		t.Error("stop phrase did not sleep the gate")
	}
}

func TestGateWakePhraseWithTrailingCommand(t *testing.T) {
	g := NewGate([]string{"hey fae"}, nil, false)
	if !g.Observe("hey fae what's the weather") {
		t.Error("command after wake phrase was swallowed")
	}
	if !g.Awake() {
		t.Error("gate still asleep")
	}
}

func TestSplitterSentences(t *testing.T) {
	sp := &Splitter{}
	var out []string
	out = append(out, sp.Feed("Hello there. How are")...)
	out = append(out, sp.Feed(" you today? I am")...)
	if rest := sp.Flush(); rest != "" {
		out = append(out, rest)
	}
	want := []string{"Hello there.", "How are you today?", "I am"}
	if len(out) != len(want) {
		t.Fatalf("out = %q", out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}

func TestSplitterAbbreviationNotSplit(t *testing.T) {
	sp := &Splitter{}
	if out := sp.Feed("Dr. smith"); len(out) != 0 {
		t.Errorf("split inside abbreviation: %q", out)
	}
}

func TestSplitterClauseFallback(t *testing.T) {
	sp := &Splitter{}
	out := sp.Feed("well considering the forecast for tomorrow, it might rain")
	if len(out) != 1 || out[0] != "well considering the forecast for tomorrow," {
		t.Errorf("out = %q", out)
	}
}

func TestBargeInConfirm(t *testing.T) {
	cfg := DefaultBargeInConfig()
	d := NewBargeInDetector(cfg)
	now := time.Now()
	d.AssistantStarted(now)

	// Within holdoff: ignored even at high level.
	if d.Feed(0.5, now.Add(100*time.Millisecond)) {
		t.Error("fired inside holdoff")
	}

	// Past holdoff: needs sustained energy for confirm_ms.
	start := now.Add(500 * time.Millisecond)
	if d.Feed(0.5, start) {
		t.Error("fired on first frame above threshold")
	}
	if d.Feed(0.5, start.Add(100*time.Millisecond)) {
		t.Error("fired before confirm window elapsed")
	}
	if !d.Feed(0.5, start.Add(300*time.Millisecond)) {
		t.Error("did not fire after sustained speech")
	}
	// Once fired it stays quiet until the assistant speaks again.
	if d.Feed(0.5, start.Add(400*time.Millisecond)) {
		t.Error("fired twice for one interruption")
	}
}

func TestBargeInDropoutResetsConfirm(t *testing.T) {
	d := NewBargeInDetector(DefaultBargeInConfig())
	now := time.Now()
	d.AssistantStarted(now)
	start := now.Add(time.Second)

	d.Feed(0.5, start)
	d.Feed(0.001, start.Add(100*time.Millisecond)) // drops below threshold
	if d.Feed(0.5, start.Add(200*time.Millisecond)) {
		t.Error("fired without a fresh confirm window")
	}
	if !d.Feed(0.5, start.Add(500*time.Millisecond)) {
		t.Error("did not fire after re-sustained speech")
	}
}

// The TTS stage toggles speaking while the capture stage feeds levels.
func TestBargeInConcurrentToggleAndFeed(t *testing.T) {
	d := NewBargeInDetector(DefaultBargeInConfig())
	base := time.Now()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			d.AssistantStarted(base.Add(time.Duration(i) * time.Millisecond))
			d.AssistantStopped()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			d.Feed(0.5, base.Add(time.Duration(i)*time.Millisecond))
		}
	}()
	wg.Wait()

	d.AssistantStopped()
	if d.Feed(0.5, base.Add(time.Hour)) {
		t.Error("fired while assistant was not speaking")
	}
}

func TestBargeInIgnoredWhenAssistantSilent(t *testing.T) {
	d := NewBargeInDetector(DefaultBargeInConfig())
	now := time.Now()
	if d.Feed(0.5, now) || d.Feed(0.5, now.Add(time.Second)) {
		t.Error("fired while assistant was not speaking")
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("rms(nil) = %v", got)
	}
	loud := rms([]int16{16384, -16384, 16384, -16384})
	quiet := rms([]int16{100, -100, 100, -100})
	if loud <= quiet {
		t.Errorf("loud %v <= quiet %v", loud, quiet)
	}
}
