package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/chitti/internal/config"
	authmw "github.com/chadiek/chitti/internal/middleware"
	"github.com/chadiek/chitti/internal/widget"
)

// Server bundles HTTP router and dependencies.
type Server struct {
	Router *echo.Echo
	Widget *widget.Handler
}

// New constructs the HTTP server with routes.
func New(cfg config.HTTPConfig, h *widget.Handler, log zerolog.Logger) *Server {
	e := NewEcho(log.With().Str("component", "http").Logger(), cfg.AllowedOrigins)

	// Health route
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/readyz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, h.Status())
	})

	// Widget socket
	token := cfg.AuthToken
	e.GET("/ws", echo.WrapHandler(h), authmw.TokenAuth(func() string { return token }))

	return &Server{Router: e, Widget: h}
}
