package routes

import (
	"github.com/halocore099/phone-repair-dashboard/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterSyncRoutes sets up the sync trigger and diagnostics routes.
func RegisterSyncRoutes(r *gin.Engine, sc *controllers.SyncController) {
	r.GET("/", sc.Root)
	r.GET("/health", sc.Health)
	r.GET("/test-db", sc.TestDB)

	debug := r.Group("/debug-sync")
	debug.GET("", sc.DebugSync)
	debug.GET("/limiter", sc.LimiterStats)
}
