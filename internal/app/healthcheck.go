package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
	"github.com/specialistvlad/ortrain/internal/ctxlog"
)

// healthHandler reports that the launcher is alive.
func (a *App) healthHandler(c echo.Context) error {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Health check endpoint hit.", "remote_addr", c.Request().RemoteAddr, "path", c.Path())
	return c.String(http.StatusOK, "OK\n")
}

func echoLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "info":
		return log.INFO
	case "error":
		return log.ERROR
	default:
		return log.WARN
	}
}

func (a *App) newHealthcheckServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(echoLevel(a.config.LogLevel))
	e.GET("/health", a.healthHandler)
	return e
}

// startHealthcheckServer binds the port, then serves in the background.
func (a *App) startHealthcheckServer() error {
	logger := ctxlog.FromContext(a.ctx)
	logger.Debug("Configuring health check server.")

	addr := fmt.Sprintf(":%d", a.config.HealthcheckPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind health check server: %w", err)
	}

	e := a.newHealthcheckServer()
	e.Listener = ln
	a.httpServer = e

	go func() {
		logger.Info("🩺 Health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed unexpectedly", "error", err)
		}
	}()
	return nil
}

func (a *App) closeHealthcheckServer() error {
	logger := ctxlog.FromContext(a.ctx)
	if a.httpServer == nil {
		logger.Debug("Health check server was not running.")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), 5*time.Second)
	defer cancel()

	logger.Info("🩺 Shutting down health check server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Health check server shutdown failed", "error", err)
		return err
	}
	a.httpServer = nil
	return nil
}
