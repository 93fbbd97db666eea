package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alertreminder/pkg/otel"
	"alertreminder/pkg/rbac"
)

// Pinger readyz 检查的依赖（*pgxpool.Pool）
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	alertHandler *AlertHandler,
	prefHandler *PreferenceHandler,
	adminHandler *AdminHandler,
	jwtSecret string,
	db Pinger,
) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))

	apiGroup := auth.Group("/api")
	{
		apiGroup.GET("/alerts", RequirePermission(rbac.PermissionReadAlert), alertHandler.List)
		apiGroup.GET("/alerts/:id", RequirePermission(rbac.PermissionReadAlert), alertHandler.Get)
		apiGroup.POST("/alerts", RequirePermission(rbac.PermissionWriteAlert), alertHandler.Create)
		apiGroup.PUT("/alerts/:id", RequirePermission(rbac.PermissionWriteAlert), alertHandler.Update)
		apiGroup.DELETE("/alerts/:id", RequirePermission(rbac.PermissionWriteAlert), alertHandler.Archive)
		apiGroup.POST("/alerts/:id/deliver", RequirePermission(rbac.PermissionDeliverAlert), alertHandler.Deliver)
		apiGroup.GET("/alerts/:id/deliveries", RequirePermission(rbac.PermissionWriteAlert), alertHandler.Deliveries)
		apiGroup.GET("/analytics", RequirePermission(rbac.PermissionReadAlert), alertHandler.Analytics)

		apiGroup.POST("/reminders/trigger", RequirePermission(rbac.PermissionTriggerReminders), adminHandler.TriggerReminders)

		my := apiGroup.Group("/my-alerts", RequirePermission(rbac.PermissionWritePreference))
		my.GET("", prefHandler.List)
		my.POST("/:alert_id/read", prefHandler.MarkRead)
		my.POST("/:alert_id/toggle-read", prefHandler.ToggleRead)
		my.POST("/:alert_id/snooze", prefHandler.Snooze)
	}

	admin := auth.Group("/admin", RequirePermission(rbac.PermissionWriteAlert))
	{
		admin.POST("/outbox/replay", adminHandler.ReplayOutboxEvent)
		admin.POST("/outbox/replay-failed", adminHandler.ReplayFailedEvents)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(addr string) error {
	return r.Engine.Run(addr)
}
