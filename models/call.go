package models

import (
	"strings"
	"time"
)

// Known source systems. Any other value is carried through as given.
const (
	SourceTeams       = "Teams"
	SourceAvaya       = "Avaya"
	SourceZoom        = "Zoom"
	SourceRingcentral = "Ringcentral"
)

var knownSources = []string{SourceTeams, SourceAvaya, SourceZoom, SourceRingcentral}

// CanonicalSource maps a source name to its canonical spelling.
func CanonicalSource(s string) string {
	s = strings.TrimSpace(s)
	for _, known := range knownSources {
		if strings.EqualFold(s, known) {
			return known
		}
	}
	return s
}

// SourceOther labels sources outside the known systems in metrics.
const SourceOther = "other"

// MetricSource returns the canonical name of a known source and SourceOther
// for anything else, keeping label cardinality bounded.
func MetricSource(s string) string {
	c := CanonicalSource(s)
	for _, known := range knownSources {
		if c == known {
			return c
		}
	}
	return SourceOther
}

// CallRecord is a single call event as delivered by a UC system.
type CallRecord struct {
	Source       string   `json:"source" bson:"source"`
	CallID       string   `json:"callId" bson:"call_id"`
	StartTime    string   `json:"startTime,omitempty" bson:"start_time,omitempty"`
	EndTime      string   `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Participants []string `json:"participants" bson:"participants"`
	Recording    bool     `json:"recording" bson:"recording"`
}

// NormalizedCall is a CallRecord after the transform stage.
type NormalizedCall struct {
	CallRecord `bson:",inline"`

	DurationMinutes  *int      `json:"durationMinutes" bson:"duration_minutes"`
	ParticipantCount int       `json:"participantCount" bson:"participant_count"`
	IngestID         string    `json:"ingestId,omitempty" bson:"ingest_id,omitempty"`
	ReceivedAt       time.Time `json:"receivedAt,omitzero" bson:"received_at,omitempty"`
	TransformedAt    time.Time `json:"transformedAt,omitzero" bson:"transformed_at,omitempty"`
	RoutedAt         time.Time `json:"routedAt,omitzero" bson:"routed_at,omitempty"`
}

// Envelope wraps a raw record on its way from ingest to transform.
type Envelope struct {
	CallRecord
	IngestID   string    `json:"ingestId"`
	ReceivedAt time.Time `json:"receivedAt,omitzero"`
}
