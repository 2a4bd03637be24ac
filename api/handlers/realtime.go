package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/docvault/backend/internal/model"
	"github.com/docvault/backend/internal/ws"
	"github.com/docvault/backend/pkg/event"
)

// pollHold is how long the poll endpoint waits for a first new event before
// returning an empty batch. Must stay below the client's poll timeout.
const pollHold = 25 * time.Second

// RealtimeHandler exposes the event stream over its two transports: a
// WebSocket endpoint and a long-poll fallback.
type RealtimeHandler struct {
	events *ws.Service
	token  string
}

// NewRealtimeHandler creates a new RealtimeHandler. token is the shared
// realtime credential; empty disables the check.
func NewRealtimeHandler(events *ws.Service, token string) *RealtimeHandler {
	return &RealtimeHandler{events: events, token: token}
}

// Attach handles GET /api/events/ws - upgrades to a WebSocket event stream.
func (h *RealtimeHandler) Attach(c *gin.Context) {
	if !h.authorized(c) {
		return
	}
	if err := h.events.Handler().HandleConnection(c.Writer, c.Request); err != nil {
		// Error already written by the upgrader.
		return
	}
}

// Poll handles GET /api/events/poll?after=N - the long-poll fallback
// transport. It holds the request until an event newer than N arrives or the
// hold time elapses.
func (h *RealtimeHandler) Poll(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid after parameter")
		return
	}

	events, next := h.events.Backlog().Wait(c.Request.Context(), after, pollHold)
	if events == nil {
		events = []event.Envelope{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"next":   next,
	})
}

// Emit handles POST /api/events/emit - client-originated events arriving over
// the polling transport.
func (h *RealtimeHandler) Emit(c *gin.Context) {
	if !h.authorized(c) {
		return
	}

	var env event.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid envelope: "+err.Error())
		return
	}

	h.events.HandleEmit(env)
	c.Status(http.StatusAccepted)
}

func (h *RealtimeHandler) authorized(c *gin.Context) bool {
	if h.token == "" || c.Query("token") == h.token {
		return true
	}
	sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", model.ErrUnauthorized.Error())
	return false
}

// RegisterRoutes registers the realtime routes on a Gin router group.
func (h *RealtimeHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events/ws", h.Attach)
	rg.GET("/events/poll", h.Poll)
	rg.POST("/events/emit", h.Emit)
}
