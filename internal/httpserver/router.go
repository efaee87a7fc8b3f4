package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mailassist/internal/api"
	"mailassist/pkg/otel"
)

// Pinger 就绪检查依赖，*pgxpool.Pool 满足
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker 消息队列连接状态
type ConnChecker interface {
	IsConnected() bool
}

// Deps 路由依赖；为 nil 的检查项跳过
type Deps struct {
	DB        Pinger
	Publisher ConnChecker
	Queries   *api.EmailQueryHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(deps Deps) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if deps.DB != nil {
			if err := deps.DB.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if deps.Publisher != nil && !deps.Publisher.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if q := deps.Queries; q != nil {
		r.GET("/emails", q.GetEmails)
		r.GET("/emails/:id", q.GetEmail)
		r.POST("/emails/:id/review", q.Review)
		r.GET("/payments", q.GetPayments)
		r.GET("/search", q.Search)
	}

	return &Router{Engine: r}
}

// Serve 监听 addr 直到 ctx 取消，然后优雅关闭
func (r *Router) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
