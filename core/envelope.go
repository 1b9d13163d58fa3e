package core

import (
	"strings"
	"time"
)

const envelopeSpecVersion = "1.0"

// EventEnvelope is the external wire shape handed to notifiers, a pure
// projection of an Event record.
type EventEnvelope struct {
	SpecVersion     string         `json:"specversion"`
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	Type            string         `json:"type"`
	Time            string         `json:"time"`
	Subject         string         `json:"subject,omitempty"`
	DataContentType string         `json:"datacontenttype"`
	DataSchema      string         `json:"dataschema,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
}

func NewEventEnvelope(event Event) EventEnvelope {
	contentType := strings.TrimSpace(event.DataContentType)
	if contentType == "" {
		contentType = "application/json"
	}
	occurredAt := event.Time
	if occurredAt.IsZero() {
		occurredAt = event.CreatedAt
	}
	envelope := EventEnvelope{
		SpecVersion:     envelopeSpecVersion,
		ID:              strings.TrimSpace(event.ID),
		Source:          strings.TrimSpace(event.Source),
		Type:            strings.TrimSpace(event.Type),
		Time:            occurredAt.UTC().Format(time.RFC3339Nano),
		Subject:         strings.TrimSpace(event.Subject),
		DataContentType: contentType,
		DataSchema:      strings.TrimSpace(event.DataSchema),
	}
	if len(event.Data) > 0 {
		envelope.Data = cloneFields(event.Data)
	}
	return envelope
}
