package audit

import (
	"context"
	"sync"
	"time"

	"github.com/itshen/AI-message-hook/internal/eventbus"
)

// Publisher wraps a Recorder and emits a call.finalized event after each successful
// finalize. The event carries metadata only.
type Publisher struct {
	next Recorder
	bus  eventbus.EventBus

	mu    sync.Mutex
	calls map[string]CallRecord
}

// NewPublisher returns a Recorder that delegates to next and publishes to bus.
func NewPublisher(next Recorder, bus eventbus.EventBus) *Publisher {
	return &Publisher{next: next, bus: bus, calls: make(map[string]CallRecord)}
}

// RecordCall delegates and remembers the call metadata for the later event.
func (p *Publisher) RecordCall(ctx context.Context, call *CallRecord) (string, error) {
	id, err := p.next.RecordCall(ctx, call)
	if id == "" {
		return id, err
	}
	p.mu.Lock()
	p.calls[id] = CallRecord{
		ID:              id,
		RequestID:       call.RequestID,
		Method:          call.Method,
		Path:            call.Path,
		UpstreamService: call.UpstreamService,
		ResolvedModel:   call.ResolvedModel,
	}
	p.mu.Unlock()
	return id, err
}

// FinalizeResponse delegates and publishes on success.
func (p *Publisher) FinalizeResponse(ctx context.Context, callID string, resp *ResponseRecord) error {
	err := p.next.FinalizeResponse(ctx, callID, resp)

	p.mu.Lock()
	call, ok := p.calls[callID]
	delete(p.calls, callID)
	p.mu.Unlock()

	if err != nil || !ok || resp == nil {
		return err
	}
	p.bus.Publish(ctx, eventbus.Event{
		Type:      eventbus.TypeCallFinalized,
		CallID:    callID,
		RequestID: call.RequestID,
		Timestamp: time.Now().UTC(),
		Method:    call.Method,
		Path:      call.Path,
		Service:   call.UpstreamService,
		Model:     call.ResolvedModel,
		Status:    resp.StatusCode,
		IsStream:  resp.IsStream,
		Duration:  time.Duration(resp.TimeTakenSeconds * float64(time.Second)),
		Error:     resp.Error,
	})
	return nil
}
