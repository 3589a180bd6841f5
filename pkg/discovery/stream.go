// Package discovery consumes the agent's stdout line stream and turns it
// into events, absorbing transient faults (corrupt lines, up to two
// consecutive read timeouts) so that only genuine stream loss is terminal.
package discovery

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"sshfwd/pkg/logging"
	"sshfwd/pkg/protocol"
)

const (
	// DefaultReadTimeout bounds one read attempt. The agent emits a line
	// every 2s, so 6s of silence already means three missed scans.
	DefaultReadTimeout = 6 * time.Second

	// MaxConsecutiveTimeouts is the attempt on which the stream gives up.
	MaxConsecutiveTimeouts = 3
)

// EventKind discriminates discovery events.
type EventKind int

const (
	EventScan EventKind = iota
	EventWarning
	EventTimeout
	EventFailed
)

// Event is one discovery outcome delivered to the application core.
type Event struct {
	Kind     EventKind
	Scan     protocol.ScanResult
	Message  string
	Timeouts int // consecutive timeout count, set on EventTimeout
}

// Stream reads agent responses line by line with a per-attempt timeout.
// After a terminal failure it closes the underlying reader and its event
// channel; no further reads occur.
type Stream struct {
	r       io.ReadCloser
	timeout time.Duration
	events  chan Event
	done    chan struct{} // closed when Run returns, releases the reader goroutine
}

// Option adjusts stream behavior (used by tests to shrink the timeout).
type Option func(*Stream)

func WithReadTimeout(d time.Duration) Option {
	return func(s *Stream) { s.timeout = d }
}

// New wraps an agent stdout stream. Call Run from its own goroutine and
// consume Events until the channel closes.
func New(r io.ReadCloser, opts ...Option) *Stream {
	s := &Stream{
		r:       r,
		timeout: DefaultReadTimeout,
		events:  make(chan Event, 32),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the channel discovery events are delivered on. It is
// closed after the terminal EventFailed.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// lineResult carries one read outcome from the reader goroutine.
type lineResult struct {
	line string
	err  error // io.EOF on orderly end of stream
}

// Run drives the stream until a terminal failure. It blocks; run it in a
// dedicated goroutine.
func (s *Stream) Run() {
	defer close(s.events)
	defer s.r.Close()
	defer close(s.done)

	// The blocking reads live in their own goroutine; Run multiplexes them
	// against the per-attempt timeout. Sends race against s.done so the
	// reader exits once Run has returned and stopped draining.
	lines := make(chan lineResult)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- lineResult{line: scanner.Text()}:
			case <-s.done:
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		select {
		case lines <- lineResult{err: err}:
		case <-s.done:
		}
	}()

	timeouts := 0
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.timeout)

		select {
		case res := <-lines:
			if res.err != nil {
				// End of stream is terminal regardless of the timeout
				// counter: the remote agent is gone.
				reason := "agent stream ended"
				if res.err != io.EOF {
					reason = fmt.Sprintf("agent stream error: %v", res.err)
				}
				logging.LogError("discovery: %s", reason)
				s.events <- Event{Kind: EventFailed, Message: reason}
				return
			}
			timeouts = 0
			s.handleLine(res.line)

		case <-timer.C:
			timeouts++
			if timeouts >= MaxConsecutiveTimeouts {
				reason := fmt.Sprintf("no response after %d consecutive timeouts (%s each)",
					timeouts, s.timeout)
				logging.LogError("discovery: %s", reason)
				s.events <- Event{Kind: EventFailed, Message: reason}
				return
			}
			logging.LogDebug("discovery: read timeout %d/%d", timeouts, MaxConsecutiveTimeouts)
			s.events <- Event{
				Kind:     EventTimeout,
				Message:  fmt.Sprintf("no response from agent (%d/%d)", timeouts, MaxConsecutiveTimeouts),
				Timeouts: timeouts,
			}
		}
	}
}

// handleLine decodes one wire line. Decode problems are warnings, never
// stream failures: a single corrupt line must not tear the session down.
func (s *Stream) handleLine(line string) {
	if line == "" {
		return
	}
	resp, err := protocol.DecodeLine([]byte(line))
	if err != nil {
		logging.LogError("discovery: %v", err)
		s.events <- Event{Kind: EventWarning, Message: err.Error()}
		return
	}
	switch resp.Kind {
	case protocol.ResponseOk:
		s.events <- Event{Kind: EventScan, Scan: resp.Scan}
	case protocol.ResponseError:
		s.events <- Event{Kind: EventWarning, Message: "agent error: " + resp.Err}
	case protocol.ResponseUnrecognized:
		s.events <- Event{Kind: EventWarning, Message: "unrecognized agent response"}
	}
}
