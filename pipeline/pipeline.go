// Package pipeline implements the ingest, transform and route stages of the
// call-data pipeline. Stages are independent: each accepts a payload, does its
// work and hands the result to a Publisher, which is either an event stream
// producer or the next stage invoked in-process.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"callpipe/metrics"
	"callpipe/models"
)

// Stage names used in logs and metrics.
const (
	StageIngest    = "ingest"
	StageTransform = "transform"
	StageRoute     = "route"
)

var (
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrSchemaViolation = errors.New("schema violation")
	ErrSourceMismatch  = errors.New("source mismatch")
	ErrHandoff         = errors.New("hand-off failed")
	ErrNoSink          = errors.New("no sink configured")
	ErrPersist         = errors.New("persist failed")
)

// Result is what every stage returns: an HTTP-style status and a message.
type Result struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func OK(message string) Result { return Result{Status: http.StatusOK, Message: message} }

// Succeeded reports whether the result carries a 2xx status.
func (r Result) Succeeded() bool { return r.Status >= 200 && r.Status < 300 }

// Publisher hands a keyed payload to whatever comes next.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Validator checks a decoded record before it enters the pipeline.
// Document problems must wrap ErrSchemaViolation.
type Validator interface {
	Validate(doc interface{}) error
}

// Notifier receives every routed call (the live feed hub).
type Notifier interface {
	Broadcast(msg interface{})
}

// Inline adapts a stage to Publisher so stages chain in-process.
type Inline func(ctx context.Context, payload string) (Result, error)

func (f Inline) Publish(ctx context.Context, _ string, value []byte) error {
	_, err := f(ctx, string(value))
	return err
}

// StatusFor maps a stage error onto an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidPayload), errors.Is(err, ErrSchemaViolation), errors.Is(err, ErrSourceMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrHandoff), errors.Is(err, ErrPersist):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrSchemaViolation):
		return "schema_violation"
	case errors.Is(err, ErrSourceMismatch):
		return "source_mismatch"
	case errors.Is(err, ErrHandoff):
		return "handoff"
	case errors.Is(err, ErrNoSink):
		return "no_sink"
	case errors.Is(err, ErrPersist):
		return "persist"
	default:
		return "internal"
	}
}

func fail(stage string, err error) (Result, error) {
	metrics.IncStageFailure(stage, reasonFor(err))
	return Result{Status: StatusFor(err), Message: err.Error()}, err
}

func requireCallID(rec models.CallRecord) error {
	if strings.TrimSpace(rec.CallID) == "" {
		return errors.New("callId is required")
	}
	return nil
}

// handoffError classifies a failed hand-off. When the next stage rejected the
// record itself the rejection is kept, so callers see a 400 and not a 503.
func handoffError(err error) error {
	if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrSchemaViolation) || errors.Is(err, ErrSourceMismatch) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrHandoff, err)
}
