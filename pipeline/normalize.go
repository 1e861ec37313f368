package pipeline

import (
	"strings"
	"time"

	"callpipe/models"
)

// Normalize canonicalizes a record and derives its duration.
func Normalize(rec models.CallRecord) models.NormalizedCall {
	out := models.CallRecord{
		Source:       models.CanonicalSource(rec.Source),
		CallID:       strings.TrimSpace(rec.CallID),
		StartTime:    normalizeTimestamp(rec.StartTime),
		EndTime:      normalizeTimestamp(rec.EndTime),
		Participants: normalizeParticipants(rec.Participants),
		Recording:    rec.Recording,
	}
	return models.NormalizedCall{
		CallRecord:       out,
		DurationMinutes:  CalculateDuration(rec.StartTime, rec.EndTime),
		ParticipantCount: len(out.Participants),
	}
}

// normalizeTimestamp renders parseable timestamps as RFC 3339 UTC and leaves
// anything else as given.
func normalizeTimestamp(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := ParseTimestamp(s)
	if err != nil {
		return s
	}
	return t.Format(time.RFC3339Nano)
}

func normalizeParticipants(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
