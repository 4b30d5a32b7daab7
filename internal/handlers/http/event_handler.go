package http

import (
	"errors"
	"net/http"
	"time"

	"orderlive/internal/core/domain"
	"orderlive/internal/core/ports"
	"orderlive/internal/infrastructure/monitoring"
	"orderlive/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingOrder   = errors.New("event requires an order payload")
	errMissingOrderID = errors.New("event requires an order_id")
	errMissingOrders  = errors.New("event requires a non-empty orders list")
)

// EventHandler is the ingest boundary: the order CRUD service calls these
// endpoints after each mutation and the gateway takes it from there.
type EventHandler struct {
	bus       ports.EventBus
	auth      ports.AuthService
	collector *monitoring.PrometheusCollector
	logs      *logger.ContextLogger
}

func NewEventHandler(
	bus ports.EventBus,
	auth ports.AuthService,
	collector *monitoring.PrometheusCollector,
	logs *logger.ContextLogger,
) *EventHandler {
	return &EventHandler{
		bus:       bus,
		auth:      auth,
		collector: collector,
		logs:      logs,
	}
}

func (h *EventHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/events", h.PublishEvent)
	api.POST("/notifications/emergency", h.PublishEmergency)
}

// SetupAuthRoutes registers the token endpoint used by the CRUD service to
// mint gateway credentials.
func (h *EventHandler) SetupAuthRoutes(api *gin.RouterGroup) {
	api.POST("/auth/token", h.IssueToken)
}

type orderPayload struct {
	ID           string  `json:"id" binding:"required"`
	CustomerName string  `json:"customer_name"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount"`
	Type         string  `json:"type"`
}

type publishEventRequest struct {
	Kind    string          `json:"kind" binding:"required"`
	OrderID string          `json:"order_id"`
	Order   *orderPayload   `json:"order"`
	Orders  []*orderPayload `json:"orders"`
}

func (h *EventHandler) PublishEvent(c *gin.Context) {
	var req publishEventRequest
	if err := c.BindJSON(&req); err != nil {
		h.collector.RecordIngestRequest("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := h.buildEvent(&req)
	if err != nil {
		h.collector.RecordIngestRequest("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.bus.Publish(c.Request.Context(), event); err != nil {
		h.collector.RecordIngestRequest("invalid_event")
		h.logs.WithError(err).Warn("rejected ingest event")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	h.collector.RecordIngestRequest("accepted")
	h.logs.WithContext(c).Info("event accepted",
		zap.String("kind", string(event.Kind)),
		zap.String("order_id", string(event.OrderID)),
	)
	c.JSON(http.StatusAccepted, gin.H{
		"kind":      event.Kind,
		"timestamp": event.Timestamp,
	})
}

func (h *EventHandler) buildEvent(req *publishEventRequest) (*domain.DomainEvent, error) {
	switch domain.EventKind(req.Kind) {
	case domain.EventOrderCreated:
		if req.Order == nil {
			return nil, errMissingOrder
		}
		return domain.NewOrderCreated(toOrder(req.Order)), nil
	case domain.EventOrderUpdated:
		if req.Order == nil {
			return nil, errMissingOrder
		}
		return domain.NewOrderUpdated(toOrder(req.Order)), nil
	case domain.EventOrderStatusChanged:
		if req.Order == nil {
			return nil, errMissingOrder
		}
		return domain.NewOrderStatusChanged(toOrder(req.Order)), nil
	case domain.EventOrderDeleted:
		if req.OrderID == "" {
			return nil, errMissingOrderID
		}
		return domain.NewOrderDeleted(domain.OrderID(req.OrderID)), nil
	case domain.EventOrdersBulkUpdated:
		if len(req.Orders) == 0 {
			return nil, errMissingOrders
		}
		orders := make([]*domain.Order, 0, len(req.Orders))
		for _, o := range req.Orders {
			orders = append(orders, toOrder(o))
		}
		return domain.NewOrdersBulkUpdated(orders), nil
	default:
		return nil, domain.ErrUnknownEventKind
	}
}

type emergencyRequest struct {
	Title   string `json:"title" binding:"required"`
	Message string `json:"message" binding:"required"`
}

func (h *EventHandler) PublishEmergency(c *gin.Context) {
	var req emergencyRequest
	if err := c.BindJSON(&req); err != nil {
		h.collector.RecordIngestRequest("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event := domain.NewEmergency(&domain.EmergencyNotice{
		Title:   req.Title,
		Message: req.Message,
	})
	if err := h.bus.Publish(c.Request.Context(), event); err != nil {
		h.collector.RecordIngestRequest("invalid_event")
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	h.collector.RecordIngestRequest("accepted")
	h.logs.WithContext(c).Info("emergency notification accepted",
		zap.String("title", req.Title),
	)
	c.JSON(http.StatusAccepted, gin.H{"timestamp": event.Timestamp})
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name" binding:"required"`
}

func (h *EventHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := h.auth.GenerateToken(req.UserID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func toOrder(p *orderPayload) *domain.Order {
	return &domain.Order{
		ID:           domain.OrderID(p.ID),
		CustomerName: p.CustomerName,
		Status:       domain.OrderStatus(p.Status),
		Amount:       p.Amount,
		Type:         p.Type,
		UpdatedAt:    time.Now(),
	}
}
