package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callpipe/models"
)

func newTestTransformer(out Publisher) *Transformer {
	tr := NewTransformer(out)
	tr.now = func() time.Time { return time.Date(2023, 10, 1, 11, 5, 0, 0, time.UTC) }
	tr.newID = func() string { return "generated-id" }
	return tr
}

func TestTransformUCLogs_TransformsDataCorrectly_WhenValidInputProvided(t *testing.T) {
	pub := &mockPublisher{}
	res, err := newTestTransformer(pub).Run(context.Background(), teamsCallJSON)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "Data transformed successfully", res.Message)

	require.Len(t, pub.msgs, 1, "exactly one normalized message is published")
	assert.Equal(t, "CALL_001", pub.msgs[0].key)

	var call models.NormalizedCall
	require.NoError(t, json.Unmarshal(pub.msgs[0].value, &call))
	require.NotNil(t, call.DurationMinutes)
	assert.Equal(t, 30, *call.DurationMinutes)
	assert.Equal(t, 2, call.ParticipantCount)
	assert.Equal(t, "generated-id", call.IngestID)
	assert.Equal(t, time.Date(2023, 10, 1, 11, 5, 0, 0, time.UTC), call.TransformedAt)
}

func TestTransform_PreservesIngestEnvelope(t *testing.T) {
	received := time.Date(2023, 10, 1, 11, 0, 0, 0, time.UTC)
	env := models.Envelope{
		CallRecord: models.CallRecord{Source: "avaya", CallID: "A-1", StartTime: "2023-10-01T10:00:00Z"},
		IngestID:   "from-ingest",
		ReceivedAt: received,
	}
	payload, err := json.Marshal(env)
	require.NoError(t, err)

	pub := &mockPublisher{}
	_, err = newTestTransformer(pub).Run(context.Background(), string(payload))
	require.NoError(t, err)

	var call models.NormalizedCall
	require.NoError(t, json.Unmarshal(pub.msgs[0].value, &call))
	assert.Equal(t, "from-ingest", call.IngestID)
	assert.True(t, received.Equal(call.ReceivedAt))
	assert.Equal(t, "Avaya", call.Source)
	assert.Nil(t, call.DurationMinutes, "missing end time propagates as null")
}

func TestTransform_Rejections(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":        "call ended",
		"missing call id": `{"source":"Teams","callId":"   "}`,
	} {
		t.Run(name, func(t *testing.T) {
			pub := &mockPublisher{}
			res, err := newTestTransformer(pub).Run(context.Background(), payload)
			require.ErrorIs(t, err, ErrInvalidPayload)
			assert.Equal(t, http.StatusBadRequest, res.Status)
			assert.Empty(t, pub.msgs)
		})
	}
}

func TestTransform_PublishFailure(t *testing.T) {
	res, err := newTestTransformer(&mockPublisher{err: errors.New("event hub throttled")}).
		Run(context.Background(), teamsCallJSON)
	require.ErrorIs(t, err, ErrHandoff)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
}
