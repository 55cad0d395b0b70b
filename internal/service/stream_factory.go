package service

import (
	"net/http"
	"time"

	"chatbridge/internal/models"
	"chatbridge/pkg/stream"

	"github.com/sirupsen/logrus"
)

// ServerClientFactory builds a fresh privileged provider client. Services
// call it once per operation and never retain the result.
type ServerClientFactory func() (stream.ServerClient, error)

// NewServerClientFactory returns a factory bound to the provider configuration
func NewServerClientFactory(cfg models.StreamConfig, logger *logrus.Logger) ServerClientFactory {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	return func() (stream.ServerClient, error) {
		return stream.NewClientWithLogger(cfg.APIBaseURL, cfg.APIKey, cfg.APISecret,
			&http.Client{Timeout: timeout}, logger)
	}
}
