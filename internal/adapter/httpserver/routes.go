package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	apiRatePerSecond = 50
	apiBurst         = 100
	apiBodyLimit     = "1M"
)

func (s *Server) registerRoutes() {
	s.echo.Use(correlationMiddleware)
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())
	s.echo.Use(tracingMiddleware)
	s.echo.Use(ErrorHandlingMiddleware())
	if s.httpMetrics != nil {
		s.echo.Use(s.httpMetrics.Middleware())
	}
	s.echo.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:      "",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         63072000, // 2 years; only sent over HTTPS
		ReferrerPolicy:     "no-referrer",
	}))

	s.registerHealthRoutes()
	s.registerWebSocketRoutes()
	s.registerAPIRoutes()
}

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api/v1",
		middleware.BodyLimit(apiBodyLimit),
		newRateLimiter(apiRatePerSecond, apiBurst),
		s.requireAPIKey,
	)

	notifications := api.Group("/notifications")
	notifications.POST("/order-status", s.handleOrderStatus)
	notifications.POST("/stock-alert", s.handleStockAlert)
	notifications.POST("/prescription", s.handlePrescription)
	notifications.POST("/delivery", s.handleDelivery)
	notifications.POST("/emergency", s.handleEmergency)
	notifications.POST("/user", s.handleUserNotification)
	notifications.POST("/bulk", s.handleBulkNotification)

	api.GET("/presence/:user_id", s.handlePresence)
	api.GET("/connections", s.handleConnections)
	if s.instances != nil {
		api.GET("/instances", s.handleInstances)
	}
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.InfoContext(c.Request().Context(), "Request", attrs...)
			return nil
		},
	})
}
