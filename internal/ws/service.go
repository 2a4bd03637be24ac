package ws

import (
	"log"

	"github.com/docvault/backend/internal/buffer"
	"github.com/docvault/backend/internal/logger"
	"github.com/docvault/backend/pkg/event"
)

// Service is the server's event fan-out: every published event is stamped by
// the backlog, broadcast to attached WebSocket clients, and appended to the
// event log. It also answers client probes.
type Service struct {
	hub     *Hub
	backlog *buffer.Backlog
	events  *logger.EventLog
	handler *Handler
}

// NewService creates the event service. events may be nil to disable the
// audit log.
func NewService(backlog *buffer.Backlog, events *logger.EventLog) *Service {
	hub := NewHub()
	s := &Service{
		hub:     hub,
		backlog: backlog,
		events:  events,
		handler: NewHandler(hub),
	}
	hub.SetOnEnvelope(s.handleClientEnvelope)
	return s
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// Hub returns the client hub.
func (s *Service) Hub() *Hub {
	return s.hub
}

// Backlog returns the event backlog serving the polling transport.
func (s *Service) Backlog() *buffer.Backlog {
	return s.backlog
}

// Publish stamps and fans out one event to every transport.
func (s *Service) Publish(name event.Name, payload any) {
	env, err := event.New(name, payload)
	if err != nil {
		log.Printf("Failed to marshal %q payload: %v", name, err)
		return
	}

	stamped := s.backlog.Append(env)
	if err := s.hub.BroadcastEnvelope(stamped); err != nil {
		log.Printf("Failed to broadcast %q: %v", name, err)
	}
	if s.events != nil {
		if err := s.events.Append(stamped); err != nil {
			log.Printf("Failed to log %q: %v", name, err)
		}
	}
}

// HandleEmit processes a client-originated envelope arriving over the polling
// transport. Responses travel back through the backlog.
func (s *Service) HandleEmit(env event.Envelope) {
	switch env.Event {
	case event.Ping:
		var ping event.PingPayload
		if err := env.Decode(&ping); err != nil {
			log.Printf("Bad ping payload: %v", err)
			return
		}
		s.Publish(event.Pong, event.PongPayload(ping))
	default:
		log.Printf("Ignoring client event %q", env.Event)
	}
}

// handleClientEnvelope processes a client-originated envelope arriving over a
// WebSocket connection. Probe acknowledgements go only to the probing client.
func (s *Service) handleClientEnvelope(client *Client, env event.Envelope) {
	switch env.Event {
	case event.Ping:
		var ping event.PingPayload
		if err := env.Decode(&ping); err != nil {
			log.Printf("Bad ping payload: %v", err)
			return
		}
		pong, err := event.New(event.Pong, event.PongPayload(ping))
		if err != nil {
			return
		}
		if err := client.SendEnvelope(pong); err != nil {
			log.Printf("Failed to send pong: %v", err)
		}
	default:
		log.Printf("Ignoring client event %q", env.Event)
	}
}

// Close closes all WebSocket connections.
func (s *Service) Close() {
	s.hub.Close()
}
