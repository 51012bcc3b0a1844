package httpapi

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	logx "remindd/pkg/logx"
)

func newEngine(cfg Config, deps Deps, log logx.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), requestLogger(log))

	h := &handlers{reminders: deps.Reminders, log: log}

	e.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if deps.Health != nil {
			body["details"] = deps.Health()
		}
		c.JSON(http.StatusOK, body)
	})
	if deps.Metrics != nil {
		e.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := e.Group("/v1", bearerAuth(cfg.Token))
	{
		v1.POST("/reminders", h.createReminder)
		v1.GET("/reminders", h.listReminders)
		v1.GET("/reminders/:id", h.getReminder)
		v1.DELETE("/reminders/:id", h.cancelReminder)
		if deps.Deliveries != nil {
			v1.GET("/deliveries", func(c *gin.Context) { c.JSON(http.StatusOK, deps.Deliveries()) })
		}
	}

	if cfg.Pprof {
		dbg := e.Group("/debug/pprof", bearerAuth(cfg.Token))
		dbg.GET("/", gin.WrapF(pprof.Index))
		dbg.GET("/cmdline", gin.WrapF(pprof.Cmdline))
		dbg.GET("/profile", gin.WrapF(pprof.Profile))
		dbg.GET("/symbol", gin.WrapF(pprof.Symbol))
		dbg.GET("/trace", gin.WrapF(pprof.Trace))
		dbg.GET("/:name", func(c *gin.Context) { pprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request) })
	}
	return e
}

func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		const p = "Bearer "
		ah := c.GetHeader("Authorization")
		if strings.HasPrefix(ah, p) && subtle.ConstantTimeCompare([]byte(strings.TrimSpace(ah[len(p):])), []byte(tok)) == 1 {
			c.Next()
			return
		}
		c.Header("WWW-Authenticate", "Bearer")
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	}
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Info("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}
