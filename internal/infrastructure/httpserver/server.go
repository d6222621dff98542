package httpserver

import (
	"net/http"
	"time"

	"github.com/wipmate/homectl/internal/infrastructure/config"
)

// New builds an HTTP server on addr with the shared timeout configuration.
func New(addr string, handler http.Handler, timeouts config.TimeoutConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       time.Duration(timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(timeouts.Idle) * time.Second,
	}
}
