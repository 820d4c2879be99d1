package api

import (
	"github.com/gin-gonic/gin"

	"github.com/orhaniscoding/vlanctl/internal/config"
	"github.com/orhaniscoding/vlanctl/internal/metrics"
)

// NewRouter assembles the full Request Surface: CORS, request-id, metrics,
// rate limiting and auth middleware, followed by the allocate/release/
// segment-CRUD routes under /v1.
func NewRouter(h *Handlers, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(CORSMiddleware(cfg.CORS))
	r.Use(metrics.GinMiddleware())

	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	r.GET("/metrics", metrics.Handler())

	v1 := r.Group("/v1")
	v1.Use(AuthMiddleware(cfg.JWT))
	v1.Use(RateLimitMiddleware(50, 100))
	{
		v1.POST("/allocate", h.Allocate)
		v1.POST("/release", h.Release)

		segments := v1.Group("/segments")
		segments.GET("", h.ListSegments)
		segments.GET("/:id", h.GetSegment)
		segments.POST("", h.CreateSegment)
		segments.PATCH("/:id", h.UpdateSegment)
		segments.DELETE("/:id", h.DeleteSegment)
	}

	return r
}
