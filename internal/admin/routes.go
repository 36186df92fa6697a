package admin

import (
	"log/slog"

	"github.com/Renetatomm/renetato-s-executor/internal/auth"
	"github.com/Renetatomm/renetato-s-executor/internal/config"
	"github.com/Renetatomm/renetato-s-executor/internal/db"
	"github.com/Renetatomm/renetato-s-executor/internal/keymanager"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, keys keymanager.Manager, dbService db.Service, cfg *config.Config, logger *slog.Logger) {
	handler := NewHandler(keys, dbService, logger)

	adminGroup := router.Group("/admin")
	adminGroup.Use(auth.OwnerOnlyMiddleware(cfg.Owner.IP))
	{
		adminGroup.GET("/keys", handler.ListKeysHandler)
		adminGroup.GET("/cooldowns", handler.ListCooldownsHandler)
		adminGroup.GET("/stats", handler.StatsHandler)
		adminGroup.GET("/events", handler.ListEventsHandler)
		adminGroup.POST("/sweep", handler.SweepHandler)
	}
}
