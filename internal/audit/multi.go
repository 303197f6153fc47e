package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Multi fans calls out to several recorders under one shared call ID.
type Multi []Recorder

// NewMulti drops nil recorders and returns the remaining ones as a Multi.
func NewMulti(recorders ...Recorder) Multi {
	out := make(Multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// RecordCall assigns an ID if needed and records the call everywhere.
// Errors from individual recorders are joined; the ID is returned regardless.
func (m Multi) RecordCall(ctx context.Context, call *CallRecord) (string, error) {
	if call == nil {
		return "", errors.New("audit call record cannot be nil")
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	var errs []error
	for _, r := range m {
		if _, err := r.RecordCall(ctx, call); err != nil {
			errs = append(errs, err)
		}
	}
	return call.ID, errors.Join(errs...)
}

// FinalizeResponse finalizes the call in every recorder.
func (m Multi) FinalizeResponse(ctx context.Context, callID string, resp *ResponseRecord) error {
	var errs []error
	for _, r := range m {
		if err := r.FinalizeResponse(ctx, callID, resp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
