package handlers

import (
	"net/http"

	"example.com/blocktix/internal/services"
	"example.com/blocktix/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// LedgerHandler handles purchases, resales, transfers and order lookups
type LedgerHandler struct {
	ledgerService *services.LedgerService
	tracer        tracing.Tracer
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(ledgerService *services.LedgerService, tracer tracing.Tracer) *LedgerHandler {
	RegisterValidations()
	return &LedgerHandler{
		ledgerService: ledgerService,
		tracer:        tracer,
	}
}

// PurchaseRequest is the body of POST /purchase
type PurchaseRequest struct {
	EventID      string   `json:"eventId"`
	Wallet       string   `json:"wallet" binding:"participant"`
	Quantity     *int     `json:"quantity"`
	Price        *float64 `json:"price" binding:"omitempty,gte=0"`
	CategoryName string   `json:"categoryName"`
}

// ResellRequest is the body of POST /resell
type ResellRequest struct {
	EventID      string   `json:"eventId"`
	Seller       string   `json:"seller" binding:"participant"`
	Buyer        string   `json:"buyer" binding:"participant"`
	Price        *float64 `json:"price" binding:"omitempty,gte=0"`
	CategoryName string   `json:"categoryName"`
}

// TransferRequest is the body of POST /transfer
type TransferRequest struct {
	EventID string `json:"eventId"`
	From    string `json:"from" binding:"participant"`
	To      string `json:"to" binding:"participant"`
}

// HandlePurchase sells tickets from primary inventory
func (h *LedgerHandler) HandlePurchase(c *gin.Context) {
	txn := nrgin.Transaction(c)

	var req PurchaseRequest
	if !bindJSON(c, &req, "Missing required fields") {
		return
	}

	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}
	h.tracer.AddAttribute(txn, "event_id", req.EventID)
	h.tracer.AddAttribute(txn, "quantity", quantity)

	segment := h.tracer.StartSpan("purchase", txn)
	result, err := h.ledgerService.Purchase(requestContext(c), services.PurchaseRequest{
		EventID:      req.EventID,
		Wallet:       req.Wallet,
		Quantity:     quantity,
		Price:        req.Price,
		CategoryName: req.CategoryName,
	})
	segment.End()
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}

	h.tracer.AddAttribute(txn, "order_id", result.OrderID)
	c.JSON(http.StatusCreated, gin.H{"success": true, "orderId": result.OrderID})
}

// HandleResell records a secondary sale
func (h *LedgerHandler) HandleResell(c *gin.Context) {
	var req ResellRequest
	if !bindJSON(c, &req, "Missing fields") {
		return
	}
	h.tracer.AddAttribute(nrgin.Transaction(c), "event_id", req.EventID)

	_, err := h.ledgerService.Resell(requestContext(c), services.ResellRequest{
		EventID:      req.EventID,
		Seller:       req.Seller,
		Buyer:        req.Buyer,
		Price:        req.Price,
		CategoryName: req.CategoryName,
	})
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// HandleTransfer records a free change of ownership
func (h *LedgerHandler) HandleTransfer(c *gin.Context) {
	var req TransferRequest
	if !bindJSON(c, &req, "Missing fields") {
		return
	}
	h.tracer.AddAttribute(nrgin.Transaction(c), "event_id", req.EventID)

	_, err := h.ledgerService.Transfer(requestContext(c), services.TransferRequest{
		EventID: req.EventID,
		From:    req.From,
		To:      req.To,
	})
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// HandleListOrders lists the purchases made by ?email=
func (h *LedgerHandler) HandleListOrders(c *gin.Context) {
	orders, err := h.ledgerService.OrdersByParticipant(requestContext(c), c.Query("email"))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// HandleGetOrder returns one purchase by order id
func (h *LedgerHandler) HandleGetOrder(c *gin.Context) {
	order, err := h.ledgerService.OrderByID(requestContext(c), c.Param("orderId"))
	if err != nil {
		WriteError(c, h.tracer, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// RegisterRoutes registers the handler's routes
func (h *LedgerHandler) RegisterRoutes(router gin.IRouter) {
	router.POST("/purchase", h.HandlePurchase)
	router.POST("/resell", h.HandleResell)
	router.POST("/transfer", h.HandleTransfer)
	router.GET("/orders", h.HandleListOrders)
	router.GET("/orders/:orderId", h.HandleGetOrder)
}
