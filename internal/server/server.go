package server

import (
	"fmt"
	"net/http"

	"github.com/doublewordai/arbiter/handlers/classify"
	"github.com/doublewordai/arbiter/pkg/configs"
	"github.com/doublewordai/arbiter/pkg/logger"
	"github.com/doublewordai/arbiter/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InitServer wires the routes and blocks serving until the listener fails.
func InitServer(appConfigs *configs.AppConfigs, handler *classify.Handler) {
	if appConfigs.Configs.ApplicationEnv != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(), middleware.RequestTelemetry())

	router.POST("/classify", handler.Classify)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/self", func(c *gin.Context) {
		c.String(http.StatusOK, "true")
	})

	address := fmt.Sprintf("%s:%d", appConfigs.Configs.ApplicationHost, appConfigs.Configs.ApplicationPort)
	logger.Info(fmt.Sprintf("arbiter started at http://%s", address))
	if err := router.Run(address); err != nil {
		logger.Panic("Failed to start arbiter application!", err)
	}
}
