// Package deadletter routes rejected input lines to a dead letter sink.
//
// Every rejection is wrapped in a CloudEvents 1.0 envelope of type
// EventTypeRejected whose data is the JSON encoded record.Rejection. Sinks
// publish the envelope as a JSON line (file), a Kafka message (see package
// kafka) or an AMQP message.
package deadletter

import (
	"encoding/json"
	"fmt"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/jittakal/dumpshard/pkg/record"
)

// CloudEvents attributes of rejection envelopes.
const (
	EventTypeRejected = "io.dumpshard.record.rejected"
	EventSource       = "dumpshard/source"
	ContentTypeJSON   = "application/json"
	// MediaType is the structured-mode content type of an encoded envelope.
	MediaType = "application/cloudevents+json"
)

// MaxLineBytes bounds the rejected line carried in an envelope.
const MaxLineBytes = 64 << 10

// NewEvent wraps a rejection in a CloudEvent.
func NewEvent(rej record.Rejection) (cloudevents.Event, error) {
	if len(rej.Line) > MaxLineBytes {
		rej.Line = rej.Line[:MaxLineBytes]
	}

	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetType(EventTypeRejected)
	event.SetSource(EventSource)
	event.SetSubject(rej.Path)
	event.SetTime(rej.Time)
	event.SetExtension("reason", rej.Reason)

	if err := event.SetData(ContentTypeJSON, rej); err != nil {
		return event, fmt.Errorf("failed to set event data: %w", err)
	}
	if err := event.Validate(); err != nil {
		return event, fmt.Errorf("invalid event: %w", err)
	}
	return event, nil
}

// Encode wraps a rejection in a CloudEvent and marshals it to JSON.
func Encode(rej record.Rejection) (cloudevents.Event, []byte, error) {
	event, err := NewEvent(rej)
	if err != nil {
		return event, nil, err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return event, nil, fmt.Errorf("failed to marshal CloudEvent: %w", err)
	}
	return event, data, nil
}
