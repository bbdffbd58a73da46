package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thebowwman/fleetcast/internals/auth"
	"github.com/thebowwman/fleetcast/internals/tracking"
)

type handlers struct {
	svc    *tracking.Service
	issuer *auth.Issuer
	log    *slog.Logger
}

func RegisterRoutes(r *gin.Engine, svc *tracking.Service, issuer *auth.Issuer, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	h := &handlers{svc: svc, issuer: issuer, log: log}

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	v1 := r.Group("/v1")
	v1.GET("/ws", h.handleWS)

	api := v1.Group("", h.authenticate)
	{
		api.POST("/drivers/:driverID/location", h.handlePostDriverLoc)
		api.GET("/drivers/:driverID/location", h.handleGetDriverLoc)
		api.DELETE("/drivers/:driverID/location", requireRole(auth.RoleDispatcher), h.handleClearDriverLoc)
		api.GET("/drivers/active", h.handleListActiveDrivers)
		api.GET("/drivers/nearby", h.handleNearbyDrivers)

		api.POST("/simulations", requireRole(auth.RoleDispatcher), h.handleStartSimulation)
		api.GET("/simulations", h.handleListSimulations)
		api.DELETE("/simulations/:tripID", requireRole(auth.RoleDispatcher), h.handleStopSimulation)
		api.POST("/simulations/:tripID/pause", requireRole(auth.RoleDispatcher), h.handlePauseSimulation)
		api.POST("/simulations/:tripID/resume", requireRole(auth.RoleDispatcher), h.handleResumeSimulation)

		api.POST("/geo/distance", h.handleDistance)
		api.POST("/geo/eta", h.handleETA)

		api.POST("/users/:userID/notifications", requireRole(auth.RoleDispatcher), h.handleNotify)
		api.GET("/hub/stats", h.handleHubStats)
	}
}
