package intake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pos-terminal/internal/logger"
	"pos-terminal/internal/middleware"
	"pos-terminal/internal/models"
	"pos-terminal/internal/remote"
)

// Handler handles HTTP requests for the intake service
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

// Router builds the gin engine with request logging
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(h.logger))

	r.GET("/health", h.HealthCheck)
	api := r.Group("/api")
	{
		api.POST("/orders", h.CreateOrder)
		api.GET("/terminals", h.ListTerminals)
	}
	return r
}

// CreateOrder handles POST /api/orders. 201 for a new order, 200 when the
// Idempotency-Key was already accepted.
func (h *Handler) CreateOrder(c *gin.Context) {
	requestID := middleware.RequestID(c)

	if c.ContentType() != "application/json" {
		middleware.WriteError(c, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	var order models.Order
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&order); err != nil {
		h.logger.Error("validation_failed", "Failed to parse request body", requestID, err, nil)
		middleware.WriteError(c, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	clientRef := c.GetHeader(remote.IdempotencyHeader)
	accepted, created, err := h.service.CreateOrder(ctx, order, clientRef, requestID)
	if err != nil {
		var verr ValidationError
		if errors.As(err, &verr) {
			h.logger.Warn("validation_failed", "Order rejected", requestID, map[string]interface{}{
				"field":      verr.Field,
				"client_ref": clientRef,
			})
			middleware.WriteFieldError(c, verr.Field, verr.Error())
			return
		}
		middleware.WriteError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, accepted)
}

// ListTerminals handles GET /api/terminals
func (h *Handler) ListTerminals(c *gin.Context) {
	statuses, err := h.service.TerminalStatuses(c.Request.Context(), middleware.RequestID(c))
	if err != nil {
		middleware.WriteError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, statuses)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy := h.service.HealthCheck(ctx)
	response := gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "order-intake",
		"healthy":   healthy,
	}

	if !healthy {
		response["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}
