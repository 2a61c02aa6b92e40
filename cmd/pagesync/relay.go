package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesync/record"
	"github.com/hazyhaar/pagesync/relay"
)

func newRelayCmd(a *app) *cobra.Command {
	var listen, recordPath string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Serve the WebSocket relay, the control API and MCP tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Relay.Listen = listen
			}
			if recordPath != "" {
				a.cfg.Relay.RecordPath = recordPath
			}
			return a.runRelay(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides relay.listen)")
	cmd.Flags().StringVar(&recordPath, "record", "", "SQLite recording database (overrides relay.record_path)")
	return cmd
}

func (a *app) runRelay(ctx context.Context) error {
	opts := []relay.HubOption{
		relay.WithLogger(a.logger),
		relay.WithSendBuffer(a.cfg.Relay.SendBuffer),
	}
	if a.cfg.Relay.RecordPath != "" {
		store, err := record.Open(a.cfg.Relay.RecordPath, record.WithMkdirAll(), record.WithLogger(a.logger))
		if err != nil {
			return fmt.Errorf("open recordings: %w", err)
		}
		defer store.Close()
		opts = append(opts, relay.WithStore(store))
	}

	hub := relay.NewHub(opts...)
	srv := &http.Server{
		Addr:              a.cfg.Relay.Listen,
		Handler:           relay.NewServer(hub, version, relay.WithInjectLimit(a.cfg.Relay.InjectLimit, a.cfg.Relay.InjectWindow)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("pagesync: relay listening", "addr", srv.Addr, "recording", a.cfg.Relay.RecordPath != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			hub.Close()
			return fmt.Errorf("relay: %w", err)
		}
	}

	a.logger.Info("pagesync: relay shutting down")
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
