package pipeline

import (
	"strings"
	"unicode"
)

// minClauseLen guards against flushing tiny clause fragments to TTS.
const minClauseLen = 20

// Sentence is one chunk handed to TTS. The last chunk of a turn carries
// IsFinal.
type Sentence struct {
	Text    string
	IsFinal bool
}

// Splitter buffers streamed text deltas and cuts them at sentence
// boundaries, falling back to clause boundaries for long run-ons.
type Splitter struct {
	buf strings.Builder
}

// Feed appends a delta and returns any complete sentences.
func (sp *Splitter) Feed(delta string) []string {
	sp.buf.WriteString(delta)
	text := sp.buf.String()

	var out []string
	for {
		idx := findSentenceEnd(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}

	// No full sentence: try a clause boundary once the buffer is long enough.
	if len(out) == 0 {
		if idx := findClauseEnd(text); idx >= 0 {
			if c := strings.TrimSpace(text[:idx+1]); len(c) > minClauseLen {
				out = append(out, c)
				text = text[idx+1:]
			}
		}
	}

	sp.buf.Reset()
	sp.buf.WriteString(text)
	return out
}

// Flush returns whatever is buffered, trimmed; the buffer is cleared.
func (sp *Splitter) Flush() string {
	rest := strings.TrimSpace(sp.buf.String())
	sp.buf.Reset()
	return rest
}

// findSentenceEnd returns the index of the last character of the first
// sentence, or -1. A period followed by a lowercase letter is assumed to be
// an abbreviation and skipped.
func findSentenceEnd(text string) int {
	for i, r := range text {
		if (r == '.' || r == '!' || r == '?') && i > 0 {
			if i+1 < len(text) {
				next := rune(text[i+1])
				if unicode.IsSpace(next) || unicode.IsUpper(next) {
					return i
				}
			} else {
				return i
			}
		}
	}
	return -1
}

// findClauseEnd returns the index of a clause boundary, or -1. Boundaries
// are ", " / "; " / ": " and spaced dashes.
func findClauseEnd(text string) int {
	for i := 0; i < len(text)-1; i++ {
		ch := text[i]
		if (ch == ',' || ch == ';' || ch == ':') && text[i+1] == ' ' {
			return i
		}
	}
	if idx := strings.Index(text, " — "); idx >= 0 {
		return idx + len(" —") - 1
	}
	if idx := strings.Index(text, " -- "); idx >= 0 {
		return idx + len(" --") - 1
	}
	return -1
}
