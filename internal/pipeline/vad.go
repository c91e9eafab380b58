package pipeline

import "time"

// VADConfig tunes the RMS speech detector.
type VADConfig struct {
	Threshold     float64 // RMS level counted as speech
	SpeechPadMs   int     // silence kept around a segment
	MinSpeechMs   int     // shorter bursts are discarded
	MinSilenceMs  int     // silence needed to close a segment
}

// DefaultVADConfig suits 16kHz capture with 20ms frames.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		Threshold:    0.015,
		SpeechPadMs:  120,
		MinSpeechMs:  200,
		MinSilenceMs: 600,
	}
}

// Segment is a completed stretch of user speech.
type Segment struct {
	PCM        []int16
	SampleRate int
	StartedAt  time.Time
}

// Segmenter accumulates frames into speech segments: speech opens a segment
// (with leading pad taken from recent silence), sustained silence closes it.
// Segments shorter than MinSpeechMs are dropped.
type Segmenter struct {
	cfg VADConfig

	inSpeech  bool
	segment   []int16
	pad       []int16
	startedAt time.Time
	rate      int

	speechMs  int
	silenceMs int
}

func NewSegmenter(cfg VADConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// Feed processes one frame and returns a finished segment, or nil.
func (s *Segmenter) Feed(f Frame) *Segment {
	frameMs := 0
	if f.SampleRate > 0 {
		frameMs = len(f.PCM) * 1000 / f.SampleRate
	}
	speech := rms(f.PCM) >= s.cfg.Threshold

	if !s.inSpeech {
		if speech {
			s.inSpeech = true
			s.startedAt = f.CapturedAt
			s.rate = f.SampleRate
			s.segment = append(s.segment[:0], s.pad...)
			s.segment = append(s.segment, f.PCM...)
			s.speechMs = frameMs
			s.silenceMs = 0
			return nil
		}
		// Keep a rolling pad of trailing silence for the next segment.
		s.pad = append(s.pad, f.PCM...)
		if f.SampleRate > 0 {
			maxPad := s.cfg.SpeechPadMs * f.SampleRate / 1000
			if len(s.pad) > maxPad {
				s.pad = s.pad[len(s.pad)-maxPad:]
			}
		}
		return nil
	}

	s.segment = append(s.segment, f.PCM...)
	if speech {
		s.speechMs += frameMs
		s.silenceMs = 0
		return nil
	}
	s.silenceMs += frameMs
	if s.silenceMs < s.cfg.MinSilenceMs {
		return nil
	}

	// Segment closed.
	s.inSpeech = false
	s.pad = s.pad[:0]
	done := s.segment
	s.segment = nil
	if s.speechMs < s.cfg.MinSpeechMs {
		return nil
	}
	return &Segment{PCM: done, SampleRate: s.rate, StartedAt: s.startedAt}
}

// Speaking reports whether a segment is currently open.
func (s *Segmenter) Speaking() bool { return s.inSpeech }

// Reset clears all state.
func (s *Segmenter) Reset() {
	s.inSpeech = false
	s.segment = nil
	s.pad = s.pad[:0]
	s.speechMs = 0
	s.silenceMs = 0
}
