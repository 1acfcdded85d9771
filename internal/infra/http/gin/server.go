package ginserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"
	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/config"
	"rentchat/internal/infra/obs"
)

type ChatHTTP interface {
	Send(c *gin.Context)
	Sync(c *gin.Context)
	Reset(c *gin.Context)
}

type Handlers struct {
	Chat ChatHTTP
	// SendLimiter guards the send route when set.
	SendLimiter gin.HandlerFunc
	Metrics     http.Handler
}

func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter builds the gin engine. Unknown verbs on known paths answer 405.
func NewRouter(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	router.NoMethod(func(c *gin.Context) {
		status, message := chatErrorStatus(domainchat.MethodNotAllowed(c.Request.Method, c.Request.URL.Path))
		c.JSON(status, gin.H{"error": message})
	})
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	if h.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.Metrics))
	}

	if h.Chat == nil {
		return router
	}
	api := router.Group("/api/chat")
	send := []gin.HandlerFunc{h.Chat.Send}
	if h.SendLimiter != nil {
		send = append([]gin.HandlerFunc{h.SendLimiter}, send...)
	}
	api.POST("/send", send...)
	api.POST("/sync", h.Chat.Sync)
	if cfg.DebugResetEnabled {
		api.POST("/debug/reset", h.Chat.Reset)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Idempotency-Key", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cc.AllowAllOrigins = true
		return cc
	}
	cc.AllowOrigins = origins
	return cc
}

// SendRateLimiter limits sends per client IP using store.
func SendRateLimiter(store ratelimit.Store) gin.HandlerFunc {
	return ratelimit.RateLimiter(store, &ratelimit.Options{
		KeyFunc: func(c *gin.Context) string {
			return c.ClientIP()
		},
		ErrorHandler: func(c *gin.Context, info ratelimit.Info) {
			retry := time.Until(info.ResetTime).Round(time.Second)
			if retry < time.Second {
				retry = time.Second
			}
			c.Header("Retry-After", fmt.Sprintf("%d", int(retry.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many messages, retry in " + retry.String()})
		},
	})
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
