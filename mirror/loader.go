package mirror

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/pagesync/browser"
	"github.com/hazyhaar/pagesync/fetcher"
)

// Loader acquires a page.
type Loader interface {
	Load(ctx context.Context, url string) (*fetcher.Page, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, url string) (*fetcher.Page, error)

func (f LoaderFunc) Load(ctx context.Context, url string) (*fetcher.Page, error) { return f(ctx, url) }

// Render modes.
const (
	RenderAuto    = "auto"
	RenderHTTP    = "http"
	RenderBrowser = "browser"
)

// NewLoader returns the loader for mode. mgr may be nil, in which case
// auto falls back to HTTP and browser fails.
func NewLoader(mode string, f *fetcher.Fetcher, mgr *browser.Manager, width, height int, logger *slog.Logger) Loader {
	if logger == nil {
		logger = slog.Default()
	}
	render := func(ctx context.Context, url string) (*fetcher.Page, error) {
		if mgr == nil {
			return nil, fmt.Errorf("mirror: browser rendering unavailable for %s", url)
		}
		return browser.Render(ctx, mgr, url, browser.RenderOptions{Width: width, Height: height})
	}
	switch mode {
	case RenderHTTP:
		return LoaderFunc(f.Fetch)
	case RenderBrowser:
		return LoaderFunc(render)
	}
	return LoaderFunc(func(ctx context.Context, url string) (*fetcher.Page, error) {
		page, err := f.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		if page.Sufficient || mgr == nil {
			return page, nil
		}
		logger.Info("mirror: escalating to browser", "url", url)
		rendered, err := render(ctx, url)
		if err != nil {
			logger.Warn("mirror: browser render failed, keeping static page", "url", url, "error", err)
			return page, nil
		}
		return rendered, nil
	})
}
