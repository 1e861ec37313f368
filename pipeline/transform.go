package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"callpipe/logger"
	"callpipe/metrics"
	"callpipe/models"
)

const transformedMessage = "Data transformed successfully"

// Transformer normalizes UC call logs and publishes them downstream.
type Transformer struct {
	out   Publisher
	now   func() time.Time
	newID func() string
}

func NewTransformer(out Publisher) *Transformer {
	return &Transformer{
		out:   out,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Run transforms one JSON call record.
func (t *Transformer) Run(ctx context.Context, payload string) (Result, error) {
	var env models.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fail(StageTransform, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	call := Normalize(env.CallRecord)
	if err := requireCallID(call.CallRecord); err != nil {
		return fail(StageTransform, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	call.IngestID = env.IngestID
	if call.IngestID == "" {
		call.IngestID = t.newID()
	}
	call.ReceivedAt = env.ReceivedAt
	call.TransformedAt = t.now()

	if call.DurationMinutes != nil {
		metrics.ObserveDuration(call.Source, *call.DurationMinutes)
	} else {
		logger.Debug("duration unavailable",
			logger.FieldKV("call_id", call.CallID),
			logger.FieldKV("start_time", call.StartTime),
			logger.FieldKV("end_time", call.EndTime))
	}

	out, err := json.Marshal(call)
	if err != nil {
		return fail(StageTransform, fmt.Errorf("encode normalized call: %w", err))
	}
	if err := t.out.Publish(ctx, call.CallID, out); err != nil {
		logger.Error("transform publish failed", err, logger.FieldKV("call_id", call.CallID))
		return fail(StageTransform, handoffError(err))
	}

	metrics.IncTransformed(call.Source)
	logger.Info("call transformed",
		logger.FieldKV("call_id", call.CallID),
		logger.FieldKV("source", call.Source),
		logger.FieldKV("duration_minutes", call.DurationMinutes))
	return OK(transformedMessage), nil
}
