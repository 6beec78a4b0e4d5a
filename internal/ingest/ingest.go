// Package ingest owns the two event delivery paths from the device: the
// HTTP push webhook the device is configured to call, and the Event Check
// long-poll fallback for firmware where push is broken or disabled.
package ingest

// Sink receives raw device payloads from any delivery path. Both paths
// can deliver the same trigger; deduplication happens downstream. The
// error reports an undecodable payload, nothing else.
type Sink interface {
	IngestPayload(source string, raw []byte) error
}

// Delivery path names used in logs and metrics.
const (
	SourceWebhook   = "webhook"
	SourceEventPoll = "event_poll"
)
