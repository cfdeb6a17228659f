package handlers

import (
	"net/http"

	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/gin-gonic/gin"
)

// ContactHandler accepts contact form submissions
type ContactHandler struct {
	contactService *services.ContactService
	tracer         tracing.Tracer
}

// NewContactHandler creates a new contact handler
func NewContactHandler(contactService *services.ContactService, tracer tracing.Tracer) *ContactHandler {
	return &ContactHandler{contactService: contactService, tracer: tracer}
}

// ContactRequest is the body of POST /contact
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// HandleSubmit stores one submission
func (h *ContactHandler) HandleSubmit(c *gin.Context) {
	var req ContactRequest
	if !bindJSON(c, &req, "Missing required fields") {
		return
	}

	_, err := h.contactService.Submit(requestContext(c), services.ContactRequest{
		Name:    req.Name,
		Email:   req.Email,
		Subject: req.Subject,
		Message: req.Message,
	})
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Form submitted successfully"})
}

// RegisterRoutes registers the handler's routes
func (h *ContactHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/contact", h.HandleSubmit)
}
