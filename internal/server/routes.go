package server

import (
	"net/http"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type bridgeStatusResponse struct {
	Version        string `json:"version"`
	TrackedDevices int    `json:"tracked_devices"`
	ProtocolsHint  string `json:"protocols_hint"`
	CaptureStatus  string `json:"capture_status"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.BridgeStatusHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) BridgeStatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.BridgeStatusRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}
	status, ok := res.(domain.BridgeStatusResponse)
	if !ok {
		return c.String(http.StatusServiceUnavailable, "status: FAIL")
	}
	return c.JSON(http.StatusOK, bridgeStatusResponse{
		Version:        status.Version,
		TrackedDevices: status.TrackedDevices,
		ProtocolsHint:  status.ProtocolsHint,
		CaptureStatus:  status.CaptureStatus,
	})
}
