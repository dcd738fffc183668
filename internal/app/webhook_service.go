package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/webhook"
)

// WebhookService wraps the webhook HTTP server.
type WebhookService struct {
	cfg    *config.Config
	server *webhook.Server
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(cfg *config.Config, target webhook.Target) *WebhookService {
	return &WebhookService{
		cfg:    cfg,
		server: webhook.NewServer(cfg.Webhook.Host, cfg.Webhook.Port, target),
	}
}

// Start begins the webhook server if enabled. A server that cannot listen is fatal.
func (s *WebhookService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.Webhook.Enabled {
		log.Debug().Msg("Webhook server disabled")
		return
	}

	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	}()
}
