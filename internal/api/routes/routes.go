package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/hintline/internal/api/handlers"
	"github.com/yoockh/hintline/internal/api/middleware"
)

type Deps struct {
	Pipeline *handlers.PipelineHandler
	Session  *handlers.SessionHandler // nil when persistence is disabled
	WS       *handlers.WSHandler

	// JWTSecret enables bearer auth when set.
	JWTSecret string
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	api := r.Group("/")
	write := []gin.HandlerFunc{}
	if d.JWTSecret != "" {
		api.Use(middleware.JWTAuth(d.JWTSecret))
		write = append(write, middleware.RequireOperator())
	}
	w := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, write...), h)
	}

	api.GET("/pipeline", d.Pipeline.Status)
	api.POST("/pipeline/start", w(d.Pipeline.Start)...)
	api.POST("/pipeline/stop", w(d.Pipeline.Stop)...)
	api.POST("/pipeline/ask", w(d.Pipeline.Ask)...)
	api.POST("/pipeline/clear", w(d.Pipeline.Clear)...)
	api.PUT("/pipeline/auto", w(d.Pipeline.SetAuto)...)
	api.PUT("/pipeline/context", w(d.Pipeline.SetContext)...)

	api.GET("/hints", d.Pipeline.Hints)
	api.POST("/hints/prev", d.Pipeline.Prev)
	api.POST("/hints/next", d.Pipeline.Next)
	api.POST("/hints/select/:index", d.Pipeline.Select)

	if d.Session != nil {
		api.GET("/sessions", d.Session.List)
		api.GET("/sessions/:session_id", d.Session.Get)
		api.DELETE("/sessions/:session_id", w(d.Session.Delete)...)
	}

	api.GET("/ws/events", d.WS.Events)
}
