package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"callpipe/logger"
	"callpipe/metrics"
	"callpipe/models"
)

// Ingestor accepts raw call records from HTTP callers.
type Ingestor struct {
	validator Validator
	out       Publisher
	now       func() time.Time
	newID     func() string
}

func NewIngestor(v Validator, out Publisher) *Ingestor {
	return &Ingestor{
		validator: v,
		out:       out,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Run ingests one JSON call record. source, when non-empty, names the system
// the caller posted on behalf of and fills an absent body source.
func (i *Ingestor) Run(ctx context.Context, source string, body []byte) (Result, error) {
	var rec models.CallRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return fail(StageIngest, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	pathSource := models.CanonicalSource(source)
	bodySource := models.CanonicalSource(rec.Source)
	switch {
	case bodySource == "":
		rec.Source = pathSource
	case pathSource != "" && bodySource != pathSource:
		return fail(StageIngest, fmt.Errorf("%w: body says %q, endpoint is %q", ErrSourceMismatch, bodySource, pathSource))
	default:
		rec.Source = bodySource
	}
	rec.CallID = strings.TrimSpace(rec.CallID)

	if i.validator != nil {
		if err := i.validator.Validate(rec); err != nil {
			return fail(StageIngest, err)
		}
	}
	if err := requireCallID(rec); err != nil {
		return fail(StageIngest, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}

	env := models.Envelope{CallRecord: rec, IngestID: i.newID(), ReceivedAt: i.now()}
	payload, err := json.Marshal(env)
	if err != nil {
		return fail(StageIngest, fmt.Errorf("encode envelope: %w", err))
	}
	if err := i.out.Publish(ctx, rec.CallID, payload); err != nil {
		logger.Error("ingest hand-off failed", err, logger.FieldKV("call_id", rec.CallID), logger.FieldKV("source", rec.Source))
		return fail(StageIngest, handoffError(err))
	}

	metrics.IncIngested(rec.Source)
	logger.Info("call ingested",
		logger.FieldKV("call_id", rec.CallID),
		logger.FieldKV("source", rec.Source),
		logger.FieldKV("ingest_id", env.IngestID))
	return OK(rec.Source + " call data ingested successfully"), nil
}
