package collector

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/pbxmon/internal/auth"
	"github.com/danmuck/pbxmon/internal/cache"
	"github.com/danmuck/pbxmon/internal/observability"
	"github.com/danmuck/pbxmon/internal/status"
)

// Router builds the HTTP surface: health and metrics open, /api behind
// the optional bearer token.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	if len(s.cfg.API.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.API.CORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "pbxmon-collector",
			"uptime":  time.Since(s.startedAt).String(),
			"targets": len(s.cfg.Targets),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	if token := strings.TrimSpace(s.cfg.API.AuthToken); token != "" {
		api.Use(bearerAuth(auth.StaticToken{Token: token}))
	}

	api.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.Build(s.TargetSpecs(), s.store))
	})

	api.GET("/targets", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"targets": s.pollStatuses()})
	})

	api.GET("/snapshots/:target", func(c *gin.Context) {
		name := c.Param("target")
		if !s.hasTarget(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown target"})
			return
		}
		entry := s.store.Load(name)
		if entry.State == cache.StateMissing {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot collected yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"state":    entry.State,
			"age":      entry.Age.String(),
			"fresh":    entry.Fresh,
			"snapshot": entry.Snapshot,
		})
	})

	return r
}

func bearerAuth(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}
		if err := validator.Validate(strings.TrimSpace(token)); err != nil {
			log.Warn().Str("client_ip", c.ClientIP()).Msg("api_auth_rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
