// Package terminal exposes the live order, checkout and offline queue to
// the till UI over HTTP.
package terminal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/metrics"
	"pos-terminal/internal/middleware"
	"pos-terminal/internal/models"
	"pos-terminal/internal/remote"
	"pos-terminal/internal/services/checkout"
	"pos-terminal/internal/services/offline"
	"pos-terminal/internal/services/order"
	"pos-terminal/internal/services/realtime"
)

// HubStatus is the read side of the event hub
type HubStatus interface {
	State() realtime.State
}

type Connectivity interface {
	Online() bool
}

// Deps are the terminal components the API drives
type Deps struct {
	OutletID string
	StaffID  string
	Engine   *order.Engine
	Checkout *checkout.Coordinator
	Queue    *offline.Queue
	Sync     *offline.SyncManager
	Hub      HubStatus
	Online   Connectivity
	Metrics  *metrics.Metrics
}

type Handler struct {
	deps   Deps
	logger *logger.Logger
}

func NewHandler(deps Deps, log *logger.Logger) *Handler {
	return &Handler{deps: deps, logger: log}
}

// Router builds the gin engine serving the terminal API
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(h.logger))

	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
	if h.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.deps.Metrics.Handler()))
	}

	r.GET("/order", h.GetOrder)
	edits := r.Group("/order")
	{
		edits.POST("/items", h.AddItem)
		edits.DELETE("/items/:id", h.RemoveItem)
		edits.PATCH("/items/:id", h.UpdateQuantity)
		edits.PUT("/table", h.SetTable)
		edits.PUT("/discount", h.ApplyDiscount)
		edits.DELETE("", h.ClearOrder)
	}

	r.POST("/checkout", h.Checkout)
	r.GET("/pending", h.ListPending)
	r.POST("/pending/sync", h.SyncPending)
	return r
}

type addItemRequest struct {
	ID       string   `json:"id" binding:"required"`
	Name     string   `json:"name" binding:"required,max=100"`
	Price    *float64 `json:"price" binding:"required,gte=0"`
	Category string   `json:"category"`
}

type quantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type tableRequest struct {
	TableID *string `json:"table_id"`
}

type discountRequest struct {
	Amount *float64 `json:"amount" binding:"required,gte=0"`
}

func (h *Handler) GetOrder(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Engine.Snapshot())
}

func (h *Handler) AddItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, http.StatusBadRequest, err.Error())
		return
	}
	item := models.MenuItem{ID: req.ID, Name: req.Name, Price: *req.Price, Category: req.Category}
	c.JSON(http.StatusOK, h.deps.Engine.AddItem(item))
}

func (h *Handler) RemoveItem(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Engine.RemoveItem(c.Param("id")))
}

func (h *Handler) UpdateQuantity(c *gin.Context) {
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.deps.Engine.UpdateQuantity(c.Param("id"), *req.Quantity))
}

func (h *Handler) SetTable(c *gin.Context) {
	var req tableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.TableID != nil && *req.TableID == "" {
		req.TableID = nil
	}
	c.JSON(http.StatusOK, h.deps.Engine.SetTable(req.TableID))
}

func (h *Handler) ApplyDiscount(c *gin.Context) {
	var req discountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, h.deps.Engine.ApplyDiscount(*req.Amount))
}

func (h *Handler) ClearOrder(c *gin.Context) {
	h.deps.Engine.Clear()
	c.JSON(http.StatusOK, h.deps.Engine.Snapshot())
}

// Checkout handles POST /checkout. 201 when the backend accepted the
// order, 202 when it was queued for later sync.
func (h *Handler) Checkout(c *gin.Context) {
	requestID := middleware.RequestID(c)

	var payment models.Payment
	if err := c.ShouldBindJSON(&payment); err != nil {
		middleware.WriteError(c, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	res, err := h.deps.Checkout.Checkout(ctx, payment)
	if err != nil {
		var verr *checkout.ValidationError
		switch {
		case errors.Is(err, checkout.ErrInProgress):
			middleware.WriteError(c, http.StatusConflict, err.Error())
		case errors.Is(err, remote.ErrRejected):
			middleware.WriteError(c, http.StatusUnprocessableEntity, err.Error())
		case errors.As(err, &verr):
			middleware.WriteFieldError(c, verr.Field, verr.Message)
		default:
			h.logger.Error("checkout_failed", "Unexpected checkout error", requestID, err, nil)
			middleware.WriteError(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	status := http.StatusCreated
	if res.Outcome == checkout.OutcomeQueued {
		status = http.StatusAccepted
	}
	c.JSON(status, res)
}

func (h *Handler) ListPending(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Queue.List())
}

// SyncPending runs a drain now. A drain already running is reported as skipped.
func (h *Handler) SyncPending(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	c.JSON(http.StatusOK, h.deps.Sync.SyncPendingOrders(ctx))
}

type statusResponse struct {
	OutletID         string         `json:"outlet_id"`
	StaffID          string         `json:"staff_id"`
	Online           bool           `json:"online"`
	HubState         realtime.State `json:"hub_state"`
	PendingOrders    int            `json:"pending_orders"`
	CheckoutInFlight bool           `json:"checkout_in_flight"`
	ItemCount        int            `json:"item_count"`
}

func (h *Handler) Status(c *gin.Context) {
	resp := statusResponse{
		OutletID:      h.deps.OutletID,
		StaffID:       h.deps.StaffID,
		Online:        h.deps.Online.Online(),
		PendingOrders: h.deps.Queue.Len(),
		ItemCount:     h.deps.Engine.Snapshot().ItemCount(),
	}
	if h.deps.Hub != nil {
		resp.HubState = h.deps.Hub.State()
	}
	if h.deps.Checkout != nil {
		resp.CheckoutInFlight = h.deps.Checkout.InFlight()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "pos-terminal",
	})
}
