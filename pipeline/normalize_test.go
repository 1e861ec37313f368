package pipeline

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"callpipe/models"
)

func TestNormalize(t *testing.T) {
	in := models.CallRecord{
		Source:       " teams ",
		CallID:       " CALL_001 ",
		StartTime:    "2023-10-01T12:00:00+02:00",
		EndTime:      "2023-10-01T10:30:00Z",
		Participants: []string{"User1@Domain.com", "", " user2@domain.com", "user1@domain.com"},
		Recording:    true,
	}
	want := models.NormalizedCall{
		CallRecord: models.CallRecord{
			Source:       "Teams",
			CallID:       "CALL_001",
			StartTime:    "2023-10-01T10:00:00Z",
			EndTime:      "2023-10-01T10:30:00Z",
			Participants: []string{"user1@domain.com", "user2@domain.com"},
			Recording:    true,
		},
		DurationMinutes:  intp(30),
		ParticipantCount: 2,
	}
	if diff := cmp.Diff(want, Normalize(in)); diff != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_KeepsUnparseableTimestamps(t *testing.T) {
	got := Normalize(models.CallRecord{Source: "Webex", CallID: "W1", StartTime: "soon"})

	want := models.NormalizedCall{
		CallRecord: models.CallRecord{
			Source:       "Webex",
			CallID:       "W1",
			StartTime:    "soon",
			Participants: []string{},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Normalize mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	first := Normalize(models.CallRecord{
		Source:       "ZOOM",
		CallID:       "Z-9",
		StartTime:    "2023-10-01 09:00:00",
		EndTime:      "2023-10-01 09:45:30",
		Participants: []string{"A@x.io", "b@x.io"},
	})
	second := Normalize(first.CallRecord)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second pass changed the record (-first +second):\n%s", diff)
	}
}
