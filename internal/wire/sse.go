// Package wire implements the two line-oriented framings fae speaks:
// server-sent events (the LLM provider stream) and newline-delimited
// JSON-RPC 2.0 (the skill subprocess stdio protocol).
package wire

import (
	"bytes"
	"strings"
)

// DoneSentinel is the data payload providers send to terminate an SSE stream.
const DoneSentinel = "[DONE]"

// SSEEvent is one logical server-sent event.
type SSEEvent struct {
	Type string // from the "event:" line; empty when absent
	Data string // "data:" lines joined with "\n"
}

// Done reports whether this event is the provider's end-of-stream sentinel.
func (e SSEEvent) Done() bool {
	return e.Data == DoneSentinel
}

// SSEParser is an incremental SSE parser. Feed it arbitrary byte chunks;
// it returns complete events as blank lines terminate them. State between
// calls is the carry-over since the last newline plus the fields of the
// event under construction.
type SSEParser struct {
	carry []byte
	typ   string
	data  []string
}

// Feed consumes a chunk and returns any events completed by it.
func (p *SSEParser) Feed(chunk []byte) []SSEEvent {
	p.carry = append(p.carry, chunk...)

	var events []SSEEvent
	for {
		idx := bytes.IndexByte(p.carry, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimSuffix(p.carry[:idx], []byte("\r")))
		p.carry = p.carry[idx+1:]

		if line == "" {
			if evt, ok := p.take(); ok {
				events = append(events, evt)
			}
			continue
		}
		p.line(line)
	}
	return events
}

// Flush returns the trailing partial event at EOF, if any.
func (p *SSEParser) Flush() *SSEEvent {
	if len(p.carry) > 0 {
		line := strings.TrimSuffix(string(p.carry), "\r")
		p.carry = nil
		if line != "" {
			p.line(line)
		}
	}
	if evt, ok := p.take(); ok {
		return &evt
	}
	return nil
}

func (p *SSEParser) line(line string) {
	switch {
	case strings.HasPrefix(line, "event:"):
		p.typ = strings.TrimSpace(line[len("event:"):])
	case strings.HasPrefix(line, "data:"):
		p.data = append(p.data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
	case strings.HasPrefix(line, ":"):
		// comment line, ignored
	}
}

func (p *SSEParser) take() (SSEEvent, bool) {
	if p.typ == "" && len(p.data) == 0 {
		return SSEEvent{}, false
	}
	evt := SSEEvent{Type: p.typ, Data: strings.Join(p.data, "\n")}
	p.typ = ""
	p.data = nil
	return evt, true
}
