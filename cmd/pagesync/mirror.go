package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/pagesync/browser"
	"github.com/hazyhaar/pagesync/config"
	"github.com/hazyhaar/pagesync/fetcher"
	"github.com/hazyhaar/pagesync/mirror"
	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/scheduler"
	"github.com/hazyhaar/pagesync/session"
	"github.com/hazyhaar/pagesync/transport"
)

func newMirrorCmd(a *app) *cobra.Command {
	var single config.MirrorConfig
	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Keep headless guest documents in sync through a relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if single.URL != "" {
				a.cfg.Mirrors = []config.MirrorConfig{single}
				if err := a.cfg.Normalize(); err != nil {
					return err
				}
			}
			if len(a.cfg.Mirrors) == 0 {
				return errors.New("mirror: no mirrors configured (use --config or --url)")
			}
			return a.runMirrors(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&single.URL, "url", "", "mirror a single page instead of the configured ones")
	cmd.Flags().StringVar(&single.Relay, "relay", "ws://localhost:8470/ws", "relay endpoint for --url")
	cmd.Flags().StringVar(&single.Session, "session", "", "session id for --url")
	cmd.Flags().StringVar(&single.Render, "render", "auto", "render mode for --url: auto, http, browser")
	return cmd
}

func (a *app) sessionOptions() []session.Option {
	s := a.cfg.Session
	return []session.Option{
		session.WithReadyTimeout(s.ReadyTimeout),
		session.WithLocationDelay(s.LocationDelay),
		session.WithScheduler(scheduler.Config{
			Frame:     scheduler.TimerFrame(s.Frame),
			MaxBuffer: s.MaxBuffer,
			Logger:    a.logger,
		}),
	}
}

func (a *app) sinks() []transport.Transport {
	var out []transport.Transport
	for _, sc := range a.cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, transport.NewStdout(nil))
		case "webhook":
			out = append(out, transport.NewWebhook(sc.URL,
				transport.WithWebhookRetries(sc.Retries),
				transport.WithWebhookLogger(a.logger)))
		default:
			a.logger.Warn("pagesync: unknown sink type", "type", sc.Type)
		}
	}
	return out
}

func (a *app) needsBrowser() bool {
	for _, m := range a.cfg.Mirrors {
		if m.Render != mirror.RenderHTTP {
			return true
		}
	}
	return false
}

func (a *app) runMirrors(ctx context.Context) error {
	var mgr *browser.Manager
	if a.needsBrowser() {
		stealth := browser.LevelHeadless
		if a.cfg.Browser.Stealth == "headful" {
			stealth = browser.LevelHeadful
		}
		mgr = browser.NewManager(browser.Config{
			RemoteURL:       a.cfg.Browser.Remote,
			RecycleInterval: a.cfg.Browser.RecycleInterval,
			Block:           a.cfg.Browser.Block,
			Stealth:         stealth,
			XvfbDisplay:     a.cfg.Browser.XvfbDisplay,
			Logger:          a.logger,
		})
		if err := mgr.Start(ctx); err != nil {
			a.logger.Warn("pagesync: browser unavailable, rendering over HTTP only", "error", err)
			mgr = nil
		} else {
			defer mgr.Close()
		}
	}

	sinks := transport.NewRouter(a.logger, a.sinks()...)
	defer sinks.Close()
	f := fetcher.New(fetcher.WithLogger(a.logger))

	var wg sync.WaitGroup
	errs := make([]error, len(a.cfg.Mirrors))
	for i, mc := range a.cfg.Mirrors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loader := mirror.NewLoader(mc.Render, f, mgr, mc.Width, mc.Height, a.logger)
			errs[i] = a.runMirror(ctx, mc, loader, sinks)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// runMirror dials the relay and runs one mirror until ctx is done or the
// relay connection drops.
func (a *app) runMirror(ctx context.Context, mc config.MirrorConfig, loader mirror.Loader, sinks transport.Transport) error {
	endpoint, err := relayURL(mc.Relay, mc.Session, mc.ID)
	if err != nil {
		return fmt.Errorf("mirror %s: %w", mc.ID, err)
	}
	logger := a.logger.With("mirror", mc.ID)

	var ws *transport.WebSocket
	m := mirror.New(mirror.Config{
		ID:                mc.ID,
		URL:               mc.URL,
		Session:           mc.Session,
		Width:             mc.Width,
		Height:            mc.Height,
		SameParent:        mc.SameParent,
		SnapshotInterval:  mc.SnapshotInterval,
		SnapshotDir:       mc.SnapshotDir,
		SanitizeSnapshots: mc.SanitizeSnapshots,
		Controller:        a.sessionOptions(),
		Logger:            a.logger,
	}, loader, transport.NewCallback(func(ctx context.Context, msg protocol.Message) error {
		return ws.Send(ctx, msg)
	}))

	ws, err = transport.DialWebSocket(ctx, endpoint, func(msg protocol.Message) {
		m.Receive(msg)
		if err := sinks.Send(ctx, msg); err != nil {
			logger.Debug("pagesync: sink failed", "error", err)
		}
	}, transport.WithWebSocketLogger(logger))
	if err != nil {
		return fmt.Errorf("mirror %s: %w", mc.ID, err)
	}
	defer ws.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ws.Done():
			logger.Warn("pagesync: relay connection closed", "error", ws.Err())
			cancel()
		case <-runCtx.Done():
		}
	}()
	return m.Run(runCtx)
}
