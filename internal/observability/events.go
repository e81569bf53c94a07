package observability

import (
	"context"
	"sync/atomic"
)

// EventPublisher sends JSON events with string headers.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// EventEnvelope wraps every operational event on the events exchange.
type EventEnvelope struct {
	EventType string `json:"event_type"`
	EventName string `json:"event_name"`
	Payload   any    `json:"payload"`
}

type publisherHolder struct {
	publisher EventPublisher
}

var defaultPublisher atomic.Pointer[publisherHolder]

// SetPublisher installs the process-wide event publisher. nil disables
// publishing.
func SetPublisher(publisher EventPublisher) {
	if publisher == nil {
		defaultPublisher.Store(nil)
		return
	}
	defaultPublisher.Store(&publisherHolder{publisher: publisher})
}

// PublishEvent sends an event through the installed publisher and counts
// failures.
func PublishEvent(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	holder := defaultPublisher.Load()
	if holder == nil {
		return nil
	}
	if err := holder.publisher.PublishJSON(ctx, routingKey, event, headers); err != nil {
		IncAMQPPublishError()
		return err
	}
	return nil
}

// BuildHeaders carries request correlation onto published events.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
