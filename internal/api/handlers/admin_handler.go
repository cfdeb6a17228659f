package handlers

import (
	"net/http"
	"strconv"

	"example.com/blocktix/internal/models"
	"example.com/blocktix/internal/search"
	"example.com/blocktix/internal/seed"
	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/rs/zerolog/log"
)

// AdminHandler serves the routes guarded by the admin key
type AdminHandler struct {
	eventService     *services.EventService
	accessFilter     *services.AccessFilter
	analyticsService *services.AnalyticsService
	tracer           tracing.Tracer
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	eventService *services.EventService,
	accessFilter *services.AccessFilter,
	analyticsService *services.AnalyticsService,
	tracer tracing.Tracer,
) *AdminHandler {
	RegisterValidations()
	return &AdminHandler{
		eventService:     eventService,
		accessFilter:     accessFilter,
		analyticsService: analyticsService,
		tracer:           tracer,
	}
}

// AccessListRequest is the body of the whitelist and blacklist routes
type AccessListRequest struct {
	Wallets []string `json:"wallets" binding:"omitempty,dive,participant"`
}

// HandleUpsertEvent creates a draft event, or replaces the event named by id
func (h *AdminHandler) HandleUpsertEvent(c *gin.Context) {
	var in services.EventInput
	if !bindJSON(c, &in, "Missing required fields") {
		return
	}

	ev, created, err := h.eventService.Upsert(requestContext(c), in)
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}

	h.tracer.AddAttribute(nrgin.Transaction(c), "event_id", ev.ID)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, ev)
}

// HandleListEvents returns events in every status
func (h *AdminHandler) HandleListEvents(c *gin.Context) {
	events, err := h.eventService.ListAll(requestContext(c))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

// HandlePublishEvent makes an event live
func (h *AdminHandler) HandlePublishEvent(c *gin.Context) {
	ev, err := h.eventService.Publish(requestContext(c), c.Param("id"))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// HandleDeleteEvent removes an event
func (h *AdminHandler) HandleDeleteEvent(c *gin.Context) {
	if err := h.eventService.Delete(requestContext(c), c.Param("id")); err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HandleSetRules replaces an event's rule set
func (h *AdminHandler) HandleSetRules(c *gin.Context) {
	var update services.RuleUpdate
	if c.Request.ContentLength != 0 && !bindJSON(c, &update, "Invalid rule values") {
		return
	}

	rule, err := h.eventService.SetRules(requestContext(c), c.Param("id"), update)
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *AdminHandler) handleAccessList(kind models.AccessListKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req AccessListRequest
		if c.Request.ContentLength != 0 && !bindJSON(c, &req, "wallets must be a list of identifiers") {
			return
		}

		list, err := h.accessFilter.AddList(requestContext(c), kind, req.Wallets)
		if err != nil {
			WriteError(c, h.tracer, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": list.ID, "wallets": list.Wallets})
	}
}

// HandleSummary returns ticket totals across events
func (h *AdminHandler) HandleSummary(c *gin.Context) {
	summary, err := h.analyticsService.Summary(requestContext(c))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleTransactions returns the latest ledger entries
func (h *AdminHandler) HandleTransactions(c *gin.Context) {
	entries, err := h.analyticsService.Transactions(requestContext(c))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

// HandleCategories returns activity per event and category
func (h *AdminHandler) HandleCategories(c *gin.Context) {
	rows, err := h.analyticsService.Categories(requestContext(c))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// HandleSearch runs a full text query over indexed ledger entries
func (h *AdminHandler) HandleSearch(c *gin.Context) {
	q := search.LedgerQuery{
		Text:    c.Query("q"),
		Type:    c.Query("type"),
		EventID: c.Query("eventId"),
	}
	if raw := c.Query("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			writeMessage(c, http.StatusBadRequest, "size must be a positive integer")
			return
		}
		q.Size = size
	}

	docs, err := h.analyticsService.Search(requestContext(c), q)
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// HandleSeedSamples upserts the bundled sample events
func (h *AdminHandler) HandleSeedSamples(c *gin.Context) {
	samples, err := seed.Defaults()
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}

	seeded, err := h.eventService.SeedSamples(requestContext(c), samples)
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}

	log.Info().Int("count", len(seeded)).Msg("Sample events seeded by admin")
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(seeded), "events": seeded})
}

// RegisterRoutes registers the handler's routes behind the admin guard
func (h *AdminHandler) RegisterRoutes(router gin.IRouter, guard gin.HandlerFunc) {
	admin := router.Group("/admin", guard)
	{
		admin.GET("/events", h.HandleListEvents)
		admin.POST("/events", h.HandleUpsertEvent)
		admin.POST("/events/:id/publish", h.HandlePublishEvent)
		admin.DELETE("/events/:id", h.HandleDeleteEvent)
		admin.PUT("/events/:id/rules", h.HandleSetRules)
		admin.POST("/whitelist", h.handleAccessList(models.Whitelist))
		admin.POST("/blacklist", h.handleAccessList(models.Blacklist))
		admin.GET("/analytics/summary", h.HandleSummary)
		admin.GET("/analytics/transactions", h.HandleTransactions)
		admin.GET("/analytics/categories", h.HandleCategories)
		admin.GET("/analytics/search", h.HandleSearch)
		admin.POST("/seed/sample", h.HandleSeedSamples)
	}
}
