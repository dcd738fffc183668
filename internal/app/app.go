// Package app wires configuration into running services.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/config"
)

// App owns the service container and the context that ends it.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelCauseFunc
}

// New builds every service without starting any of them.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg, nil)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// Start brings the services up. A fatal error from a server after startup cancels
// the app context, which releases Wait.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancelCause(ctx)

	onFatalError := func(err error) {
		log.Error().Err(err).Msg("Fatal error, initiating shutdown")
		a.cancel(err)
	}

	if err := a.services.Start(a.ctx, onFatalError); err != nil {
		a.cancel(err)
		return err
	}

	a.logStartup(log.Info()).Msg("roomd started")
	return nil
}

// logStartup describes which optional integrations are live.
func (a *App) logStartup(e *zerolog.Event) *zerolog.Event {
	e = e.Strs("rooms", a.services.Rooms.Names()).
		Str("timezone", a.services.Location.String()).
		Bool("sun", a.services.GeoCalc != nil).
		Bool("lua", a.services.Lua != nil).
		Bool("influx", a.services.Influx != nil)

	if a.cfg.MQTT.Enabled {
		e = e.Str("mqtt", a.cfg.MQTT.Broker)
	} else {
		e = e.Str("mqtt", "disabled")
	}
	if a.cfg.Webhook.Enabled {
		e = e.Str("webhook", fmt.Sprintf("%s:%d", a.cfg.Webhook.Host, a.cfg.Webhook.Port))
	}
	if a.cfg.Healthcheck.Enabled {
		e = e.Str("health", fmt.Sprintf("%s:%d", a.cfg.Healthcheck.Host, a.cfg.Healthcheck.Port))
	}
	return e
}

// Stop cancels the app context and shuts the services down in reverse order.
func (a *App) Stop() error {
	if a.cancel != nil {
		a.cancel(nil)
	}
	log.Info().Msg("Shutting down...")
	if a.services == nil {
		return nil
	}
	return a.services.Stop()
}

// Wait blocks until the app context ends and returns what ended it: nil for a
// signal or Stop, the error for a fatal service failure.
func (a *App) Wait() error {
	if a.ctx == nil {
		return nil
	}
	<-a.ctx.Done()
	if cause := context.Cause(a.ctx); !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()
	return ctx
}
