package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/google/uuid"

	"github.com/hazyhaar/pagesync/fetcher"
)

// DefaultRenderTimeout bounds navigation and load.
const DefaultRenderTimeout = 30 * time.Second

// RenderOptions controls one render.
type RenderOptions struct {
	Width, Height int // viewport, default 1024x768
	Timeout       time.Duration
}

// collectSheets flattens the linked stylesheets, @import rules included,
// into CSS text keyed by the link href as written.
const collectSheets = `() => {
	const flatten = (sheet) => {
		let out = [];
		try {
			for (const r of sheet.cssRules) {
				if (r.styleSheet) { out.push(flatten(r.styleSheet)); continue; }
				out.push(r.cssText);
			}
		} catch (e) {}
		return out.join("\n");
	};
	return JSON.stringify(Array.from(document.querySelectorAll('link[rel="stylesheet"]'))
		.filter(l => l.sheet)
		.map(l => ({href: l.getAttribute("href"), css: flatten(l.sheet)})));
}`

type sheetText struct {
	Href string `json:"href"`
	CSS  string `json:"css"`
}

// Render loads pageURL in a stealth tab and returns the rendered markup with
// its stylesheets as a Page.
func Render(ctx context.Context, mgr *Manager, pageURL string, opts RenderOptions) (*fetcher.Page, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1024, 768
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRenderTimeout
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer page.Close()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		mgr.cfg.Logger.Warn("browser: set viewport failed", "error", err)
	}

	if len(mgr.cfg.Block) > 0 {
		router := blockResources(page, mgr.cfg.Block)
		defer router.Stop()
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	p := page.Context(navCtx)
	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := p.WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load", "url", pageURL, "error", err)
	}

	markup, err := p.Eval(`() => "<!DOCTYPE html>" + document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	info, err := p.Info()
	if err != nil {
		return nil, fmt.Errorf("browser: page info: %w", err)
	}

	sheets := make(map[string]string)
	if res, err := p.Eval(collectSheets); err != nil {
		mgr.cfg.Logger.Debug("browser: collect stylesheets", "url", pageURL, "error", err)
	} else {
		var list []sheetText
		if err := json.Unmarshal([]byte(res.Value.Str()), &list); err == nil {
			for _, s := range list {
				if s.Href != "" {
					sheets[s.Href] = s.CSS
				}
			}
		}
	}

	id, _ := uuid.NewV7()
	mgr.cfg.Logger.Debug("browser: rendered", "url", info.URL, "sheets", len(sheets))
	return &fetcher.Page{
		ID:          id.String(),
		URL:         info.URL,
		HTML:        []byte(markup.Value.Str()),
		StatusCode:  200,
		Sufficient:  true,
		FetchedAt:   time.Now().UTC(),
		StyleSheets: sheets,
	}, nil
}

func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	block := make(map[string]bool, len(types))
	for _, t := range types {
		block[strings.ToLower(t)] = true
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if shouldBlock(block, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

// shouldBlock maps CDP resource types to configured names. Stylesheets
// are never blocked: the specificity engine needs them.
func shouldBlock(block map[string]bool, resType string) bool {
	switch lower := strings.ToLower(resType); lower {
	case "image":
		return block["images"] || block["image"]
	case "font":
		return block["fonts"] || block["font"]
	case "media":
		return block["media"]
	case "stylesheet":
		return false
	default:
		return block[lower]
	}
}
