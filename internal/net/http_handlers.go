package net

import (
	nethttp "net/http"
	"net/http/pprof"
	"time"

	"github.com/gin-gonic/gin"

	"towerdefense/server"
	"towerdefense/server/internal/observability"
	"towerdefense/server/internal/telemetry"
)

// StatusSource is the read-only view of the hub served over HTTP.
type StatusSource interface {
	Status() server.Status
	Diagnostics() server.Diagnostics
}

type HTTPHandlerConfig struct {
	// WebSocket serves /ws; nil leaves the route unmounted.
	WebSocket     nethttp.HandlerFunc
	ClientDir     string
	Logger        telemetry.Logger
	Observability observability.Config
	Clock         func() time.Time
}

type statusResponse struct {
	Rooms   int `json:"rooms"`
	Players int `json:"players"`
	Online  int `json:"online"`
}

type diagnosticsResponse struct {
	Status      string             `json:"status"`
	ServerTime  int64              `json:"serverTime"`
	Diagnostics server.Diagnostics `json:"diagnostics"`
}

// NewHTTPHandler builds the gin engine serving health, status, diagnostics
// and the websocket endpoint.
func NewHTTPHandler(hub StatusSource, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))

	engine.GET("/health", func(c *gin.Context) {
		c.String(nethttp.StatusOK, "ok")
	})

	engine.GET("/status", func(c *gin.Context) {
		status := hub.Status()
		c.JSON(nethttp.StatusOK, statusResponse{
			Rooms:   status.Rooms,
			Players: status.Players,
			Online:  status.Online,
		})
	})

	engine.GET("/diagnostics", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, diagnosticsResponse{
			Status:      "ok",
			ServerTime:  now().UnixMilli(),
			Diagnostics: hub.Diagnostics(),
		})
	})

	if cfg.WebSocket != nil {
		engine.GET("/ws", gin.WrapF(cfg.WebSocket))
	}

	if cfg.Observability.EnablePprof {
		debug := engine.Group("/debug/pprof")
		debug.GET("/", gin.WrapF(pprof.Index))
		debug.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		debug.GET("/profile", gin.WrapF(pprof.Profile))
		debug.GET("/symbol", gin.WrapF(pprof.Symbol))
		debug.POST("/symbol", gin.WrapF(pprof.Symbol))
		debug.GET("/trace", gin.WrapF(pprof.Trace))
		debug.GET("/:profile", func(c *gin.Context) {
			pprof.Handler(c.Param("profile")).ServeHTTP(c.Writer, c.Request)
		})
	}

	if cfg.ClientDir != "" {
		engine.NoRoute(gin.WrapH(nethttp.FileServer(nethttp.Dir(cfg.ClientDir))))
	}

	return engine
}

// requestLogger reports failed requests only; the websocket and status
// routes are polled too often to log every hit.
func requestLogger(logger telemetry.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if status := c.Writer.Status(); status >= nethttp.StatusInternalServerError {
			logger.Printf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, time.Since(start))
		}
	}
}
