package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// StreamState is the lifecycle position of a StreamRelay.
type StreamState int32

const (
	// StateRelaying copies upstream chunks to the caller.
	StateRelaying StreamState = iota
	// StateDraining means upstream has ended (cleanly or not) and the record is being built.
	StateDraining
	// StateFinalized means the response record has been handed to the recorder.
	StateFinalized
)

func (s StreamState) String() string {
	switch s {
	case StateRelaying:
		return "relaying"
	case StateDraining:
		return "draining"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("StreamState(%d)", int32(s))
	}
}

// streamChunkSize is the largest read issued against the upstream body.
const streamChunkSize = 1024

// Markers appended to the audited body when a stream ends abnormally.
const (
	markerClientDisconnected = "[client disconnected]"
	markerAbortedFormat      = "[stream aborted: %s]"
)

var (
	// ErrClientDisconnected is returned by Relay when the caller went away.
	ErrClientDisconnected = errors.New("client disconnected")
	// ErrStreamAborted is returned by Relay when upstream failed mid-stream.
	ErrStreamAborted = errors.New("upstream stream aborted")
	// ErrRelayStarted is returned when Relay is called on a relay that already ran.
	ErrRelayStarted = errors.New("stream relay already started")
)

// streamOutcome is what the relay hands to its finalizer.
type streamOutcome struct {
	body     []byte
	elapsed  time.Duration
	errText  string
	marker   string
	complete bool
}

// StreamRelay owns an upstream streaming body and the copy accumulated for audit.
// It moves Relaying → Draining → Finalized exactly once.
type StreamRelay struct {
	StatusCode int
	Header     http.Header

	body       io.ReadCloser
	acc        bytes.Buffer
	start      time.Time
	state      atomic.Int32
	started    atomic.Bool
	onFinalize func(streamOutcome)
	now        func() time.Time
}

func newStreamRelay(resp *http.Response, start time.Time, now func() time.Time, onFinalize func(streamOutcome)) *StreamRelay {
	header := resp.Header.Clone()
	header.Del("Transfer-Encoding")
	if now == nil {
		now = time.Now
	}
	return &StreamRelay{
		StatusCode: resp.StatusCode,
		Header:     header,
		body:       resp.Body,
		start:      start,
		onFinalize: onFinalize,
		now:        now,
	}
}

// State reports the current lifecycle state.
func (s *StreamRelay) State() StreamState {
	return StreamState(s.state.Load())
}

// Relay copies the upstream body to w chunk by chunk, flushing after each write, until
// upstream ends, upstream fails, the caller stops accepting bytes or ctx is cancelled.
// The audit record is finalized before Relay returns. A nil error means the stream
// completed; ErrClientDisconnected and ErrStreamAborted describe the abnormal endings.
func (s *StreamRelay) Relay(ctx context.Context, w io.Writer, flush func()) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrRelayStarted
	}
	if flush == nil {
		flush = func() {}
	}

	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			_, writeErr := w.Write(chunk)
			s.acc.Write(chunk)
			if writeErr != nil {
				s.finish(streamOutcome{errText: writeErr.Error(), marker: markerClientDisconnected})
				return fmt.Errorf("%w: %v", ErrClientDisconnected, writeErr)
			}
			flush()
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			s.finish(streamOutcome{complete: true})
			return nil
		}
		// a cancelled inbound context surfaces as a read error on the upstream body
		if ctx.Err() != nil {
			s.finish(streamOutcome{errText: ctx.Err().Error(), marker: markerClientDisconnected})
			return fmt.Errorf("%w: %v", ErrClientDisconnected, ctx.Err())
		}
		s.finish(streamOutcome{errText: readErr.Error(), marker: fmt.Sprintf(markerAbortedFormat, readErr.Error())})
		return fmt.Errorf("%w: %v", ErrStreamAborted, readErr)
	}
}

// Close finalizes a relay that was never run (for example when the handler could not
// start writing) and releases the upstream body. It is safe to call after Relay.
func (s *StreamRelay) Close() error {
	s.finish(streamOutcome{errText: "stream closed before relay", marker: markerClientDisconnected})
	return nil
}

func (s *StreamRelay) finish(out streamOutcome) {
	if !s.state.CompareAndSwap(int32(StateRelaying), int32(StateDraining)) {
		return
	}
	_ = s.body.Close()
	out.elapsed = s.now().Sub(s.start)
	out.body = s.acc.Bytes()
	if s.onFinalize != nil {
		s.onFinalize(out)
	}
	s.state.Store(int32(StateFinalized))
}
