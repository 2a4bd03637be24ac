// Package event defines the wire contract shared by the realtime server and
// the client coordination layer: named event envelopes and their payloads.
package event

import "encoding/json"

// Name identifies a logical event carried over the realtime connection.
type Name string

const (
	// Connection lifecycle events, synthesized on the client side.
	Connect          Name = "connect"
	Disconnect       Name = "disconnect"
	Error            Name = "error"
	Reconnect        Name = "reconnect"
	ReconnectAttempt Name = "reconnect_attempt"
	ReconnectError   Name = "reconnect_error"
	ReconnectFailed  Name = "reconnect_failed"

	// Server -> client application events.
	JobProgress     Name = "job_progress"
	JobCompleted    Name = "job_completed"
	JobFailed       Name = "job_failed"
	DocumentUpdated Name = "document_updated"
	Pong            Name = "pong"

	// Client -> server events.
	Ping Name = "ping"
)

// known is the closed set of event names this layer understands. Unrecognized
// server events are still dispatched by their raw name so new server event
// types need no client changes.
var known = map[Name]bool{
	Connect: true, Disconnect: true, Error: true,
	Reconnect: true, ReconnectAttempt: true, ReconnectError: true, ReconnectFailed: true,
	JobProgress: true, JobCompleted: true, JobFailed: true,
	DocumentUpdated: true, Pong: true, Ping: true,
}

// Known reports whether name is part of the closed event set.
func Known(name Name) bool {
	return known[name]
}

// Envelope is a single realtime message: an event name plus its raw payload.
// Seq is assigned by the server and used by the polling transport to resume.
type Envelope struct {
	Event   Name            `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
}

// New builds an envelope, marshaling payload to JSON. A nil payload yields an
// envelope with no payload field.
func New(name Name, payload any) (Envelope, error) {
	env := Envelope{Event: name}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// JobProgressPayload reports progress for a server-side processing job.
type JobProgressPayload struct {
	JobID    string `json:"job_id"`
	Progress int    `json:"progress"`
}

// JobCompletedPayload signals that a processing job finished successfully.
type JobCompletedPayload struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
}

// JobFailedPayload signals that a processing job failed.
type JobFailedPayload struct {
	JobID        string `json:"job_id"`
	ErrorMessage string `json:"error_message"`
}

// DocumentUpdatedPayload signals that a document body was rewritten.
type DocumentUpdatedPayload struct {
	DocumentID string `json:"document_id"`
}

// PingPayload is a connectivity probe. The server echoes TS back in a pong so
// the prober can match its own probe.
type PingPayload struct {
	TS int64 `json:"ts"`
}

// PongPayload acknowledges a ping.
type PongPayload struct {
	TS int64 `json:"ts"`
}
