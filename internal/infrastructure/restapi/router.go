package restapi

import (
	"net/http"
	"time"

	"portfolio_sync/internal/infrastructure/configloader"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers groups the API handlers mounted by SetupRouter.
type Handlers struct {
	Portfolio *PortfolioHandler
	History   *HistoryHandler
	Sessions  *SessionHandler
	Quotes    *QuoteHandler
}

// SetupRouter configures and returns the gin router.
func SetupRouter(cfg configloader.ServerConfig, h Handlers, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.Use(ZapLoggerMiddleware(logger))
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API v1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/portfolios/:owner", h.Portfolio.GetPortfolioHandler)

		v1.GET("/history/:owner", h.History.GetHistoryPageHandler)
		v1.POST("/history/:owner/more", h.History.LoadMoreHandler)
		v1.GET("/history/:owner/loaded", h.History.GetLoadedHandler)

		v1.GET("/sessions", h.Sessions.ListSessionsHandler)
		v1.POST("/sessions", h.Sessions.StartSessionHandler)
		v1.DELETE("/sessions/:id", h.Sessions.StopSessionHandler)

		v1.GET("/quotes", h.Quotes.ListQuotesHandler)
		v1.GET("/quotes/:asset", h.Quotes.GetQuoteHandler)
	}

	return router
}

// ZapLoggerMiddleware logs each request through zap.
func ZapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	l := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("clientIP", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			l.Error(c.Errors.String(), fields...)
			return
		}
		l.Debug("Request served", fields...)
	}
}
