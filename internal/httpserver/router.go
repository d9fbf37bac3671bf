package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing dependency is reachable. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups the optional route sets; nil members are not mounted.
type Handlers struct {
	Reminders *ReminderHandler
	Push      *PushHandler
	Outbox    *OutboxHandler
}

type Router struct {
	Engine *gin.Engine
}

// NewRouter mounts health, readiness and metrics on every process, plus the given handlers.
func NewRouter(ready Pinger, h Handlers) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), MetricsMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		if ready == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := ready.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if h.Reminders != nil {
		h.Reminders.Register(r)
	}
	if h.Push != nil {
		h.Push.Register(r)
	}
	if h.Outbox != nil {
		h.Outbox.Register(r)
	}

	return &Router{Engine: r}
}

// Server wraps the router in an http.Server so it can be shut down gracefully.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
