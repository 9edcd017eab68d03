package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Run starts polling, the MQTT bridge and the HTTP API, and blocks until ctx
// is cancelled or one of them fails.
func (h *MainHandler) Run(ctx context.Context) error {
	if h.Bridge != nil {
		if err := h.Bridge.Announce(); err != nil {
			h.Logger.Error().Err(err).Msg("announce failed")
		}
		if err := h.Bridge.Subscribe(ctx, h.Dispatcher); err != nil {
			return fmt.Errorf("subscribe to commands: %w", err)
		}
		defer func() {
			if err := h.Bridge.Close(); err != nil {
				h.Logger.Warn().Err(err).Msg("mqtt close")
			}
		}()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Scheduler.Run(ctx)
		return nil
	})
	if h.API != nil {
		g.Go(func() error {
			if err := h.API.ListenAndServe(ctx, h.Config.HTTP.Addr); err != nil {
				return fmt.Errorf("http api: %w", err)
			}
			return nil
		})
	}

	h.Logger.Info().
		Str("device", h.Config.Device.ID).
		Int("points", len(h.Dispatcher.Points())).
		Bool("mqtt", h.Bridge != nil).
		Bool("http", h.API != nil).
		Msg("adapter-modbus up")

	return g.Wait()
}
