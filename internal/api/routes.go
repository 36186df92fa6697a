package api

import (
	"github.com/gin-gonic/gin"
)

// Prefixes the public routes are served under. The dashboard calls /api/..., older
// clients call the bare paths.
var prefixes = []string{"", "/api"}

// SetupRoutes registers the public routes. throttle, when non-nil, guards the validate endpoints.
func SetupRoutes(router *gin.Engine, handler *Handler, throttle gin.HandlerFunc) {
	router.GET("/healthz", handler.HealthHandler)

	for _, prefix := range prefixes {
		group := router.Group(prefix)
		{
			validate := []gin.HandlerFunc{handler.ValidateKeyHandler}
			plain := []gin.HandlerFunc{handler.ValidatePlainHandler}
			if throttle != nil {
				validate = append([]gin.HandlerFunc{throttle}, validate...)
				plain = append([]gin.HandlerFunc{throttle}, plain...)
			}

			group.POST("/keys/generate", handler.GenerateKeyHandler)
			group.POST("/keys/validate", validate...)
			group.GET("/validate", plain...)
			group.GET("/owner-check", handler.OwnerCheckHandler)
			group.GET("/commits", handler.CommitsHandler)
		}
	}
}
