package handler

import (
	"net/http"
	"strings"

	"Lifeline/internal/auth"
	"Lifeline/internal/models"
	"Lifeline/internal/realtime"
	"Lifeline/internal/store"
	"Lifeline/pkg/errors"
	"Lifeline/pkg/logger"
	"Lifeline/pkg/middleware"
	"Lifeline/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handlers owns the HTTP surface: the websocket handshake, health, metrics
// and push subscription management. Everything realtime happens on the
// socket after the handshake.
type Handlers struct {
	db     *gorm.DB
	store  store.Store
	binder *auth.Binder
	hub    *realtime.Hub
}

func New(db *gorm.DB, st store.Store, binder *auth.Binder, hub *realtime.Hub) *Handlers {
	return &Handlers{db: db, store: st, binder: binder, hub: hub}
}

// Register mounts all routes on the router.
func (h *Handlers) Register(r *gin.Engine, rateLimit, metricsRoute string) {
	r.Use(middleware.RateLimiter(rateLimit))

	r.GET("/ws", h.Websocket)
	r.GET("/healthz", h.Health)
	if metricsRoute != "" {
		r.GET(metricsRoute, gin.WrapH(promhttp.Handler()))
	}

	r.POST("/push/subscribe", h.SubscribePush)
	r.DELETE("/push/subscribe", h.UnsubscribePush)
}

// Websocket authenticates the handshake and hands the connection to the hub.
func (h *Handlers) Websocket(c *gin.Context) {
	userID, err := h.bind(c)
	if err != nil {
		h.refuse(c, err)
		return
	}
	realtime.HandleWebSocket(h.hub, c.Writer, c.Request, userID)
}

// Health pings the database.
func (h *Handlers) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		logger.Error("health check failed", zap.Error(err))
		response.FailStatus(c, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	response.Success(c, "ok", gin.H{"connections": h.hub.ConnectionCount()})
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256DH string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// SubscribePush stores or re-enables a web push subscription.
func (h *Handlers) SubscribePush(c *gin.Context) {
	userID, err := h.bind(c)
	if err != nil {
		h.refuse(c, err)
		return
	}
	var req pushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, "invalid subscription payload", nil)
		return
	}
	sub := &models.PushSubscription{
		UserID:   userID,
		Endpoint: req.Endpoint,
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}
	if err := h.store.SavePushSubscription(c.Request.Context(), sub); err != nil {
		logger.Error("failed to save push subscription", zap.Uint("user_id", userID), zap.Error(err))
		response.FailStatus(c, http.StatusInternalServerError, "failed to save subscription")
		return
	}
	response.Success(c, "subscribed", nil)
}

type pushUnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// UnsubscribePush disables the given endpoint, or every one of the user's
// subscriptions when no endpoint is sent.
func (h *Handlers) UnsubscribePush(c *gin.Context) {
	userID, err := h.bind(c)
	if err != nil {
		h.refuse(c, err)
		return
	}
	var req pushUnsubscribeRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.store.DisablePushSubscriptions(c.Request.Context(), userID, req.Endpoint); err != nil {
		logger.Error("failed to disable push subscription", zap.Uint("user_id", userID), zap.Error(err))
		response.FailStatus(c, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	response.Success(c, "unsubscribed", nil)
}

// bind resolves the bearer token from the Authorization header or, for the
// websocket handshake where browsers cannot set headers, the token query
// parameter.
func (h *Handlers) bind(c *gin.Context) (uint, error) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return 0, errors.WithCode(errors.CodeUnauthorized, "missing token")
	}
	return h.binder.Bind(c.Request.Context(), token)
}

func (h *Handlers) refuse(c *gin.Context, err error) {
	switch errors.GetCode(err) {
	case errors.CodeDeviceMismatch:
		response.FailStatus(c, http.StatusConflict, "DEVICE_MISMATCH")
	default:
		response.FailStatus(c, http.StatusUnauthorized, "unauthorized")
	}
}
