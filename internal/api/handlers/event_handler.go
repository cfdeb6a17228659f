package handlers

import (
	"net/http"

	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// EventHandler serves the public event catalogue
type EventHandler struct {
	eventService *services.EventService
	tracer       tracing.Tracer
}

// NewEventHandler creates a new event handler
func NewEventHandler(eventService *services.EventService, tracer tracing.Tracer) *EventHandler {
	return &EventHandler{
		eventService: eventService,
		tracer:       tracer,
	}
}

// HandleListEvents returns every live event
func (h *EventHandler) HandleListEvents(c *gin.Context) {
	events, err := h.eventService.ListLive(requestContext(c))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// HandleGetEvent returns one event with its categories
func (h *EventHandler) HandleGetEvent(c *gin.Context) {
	id := c.Param("id")
	h.tracer.AddAttribute(nrgin.Transaction(c), "event_id", id)

	ev, err := h.eventService.Get(requestContext(c), id)
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// RegisterRoutes registers the handler's routes
func (h *EventHandler) RegisterRoutes(router gin.IRouter) {
	router.GET("/events", h.HandleListEvents)
	router.GET("/events/:id", h.HandleGetEvent)
}
