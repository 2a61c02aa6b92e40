// Package fetcher implements the HTTP-only acquisition path of guest
// documents: one GET for the page plus its linked and imported stylesheets,
// no JavaScript.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/google/uuid"

	"github.com/hazyhaar/pagesync/dom/htmldoc"
	"github.com/hazyhaar/pagesync/specificity"
)

const (
	maxPageBytes   = 10 << 20
	maxSheetBytes  = 2 << 20
	maxSheets      = 64
	maxImportDepth = 8
)

// ErrStatus is returned for a non-2xx page response.
type ErrStatus struct {
	URL  string
	Code int
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("fetcher: %s: status %d", e.URL, e.Code)
}

// Page is a fetched document.
type Page struct {
	ID         string
	URL        string // final URL after redirects
	HTML       []byte
	StatusCode int
	ETag       string
	LastMod    string
	Sufficient bool // enough static content, no browser needed
	FetchedAt  time.Time
	// StyleSheets maps link hrefs (as written) and absolute @import URLs to
	// their CSS text.
	StyleSheets map[string]string
}

// Document parses the page into an in-memory document with its stylesheets
// registered.
func (p *Page) Document(opts ...htmldoc.Option) (*htmldoc.Document, error) {
	base := []htmldoc.Option{htmldoc.WithURL(p.URL)}
	for href, text := range p.StyleSheets {
		base = append(base, htmldoc.WithStyleSheet(href, text))
	}
	return htmldoc.Parse(bytes.NewReader(p.HTML), append(base, opts...)...)
}

// Fetcher performs HTTP GETs and produces Pages.
type Fetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher with sensible defaults.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; pagesync/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and the stylesheets it references. Stylesheet failures
// are logged and skipped.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	body, resp, err := f.get(ctx, pageURL, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", maxPageBytes)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ErrStatus{URL: pageURL, Code: resp.StatusCode}
	}

	id, _ := uuid.NewV7()
	page := &Page{
		ID:          id.String(),
		URL:         resp.Request.URL.String(),
		HTML:        body,
		StatusCode:  resp.StatusCode,
		ETag:        resp.Header.Get("ETag"),
		LastMod:     resp.Header.Get("Last-Modified"),
		Sufficient:  IsSufficient(body),
		FetchedAt:   time.Now().UTC(),
		StyleSheets: make(map[string]string),
	}
	f.collectStyleSheets(ctx, page)

	f.logger.Debug("fetcher: fetched",
		"url", page.URL, "status", resp.StatusCode,
		"size", len(body), "sheets", len(page.StyleSheets), "sufficient", page.Sufficient)
	return page, nil
}

// Head performs a HEAD request to check ETag/Last-Modified without
// downloading.
func (f *Fetcher) Head(ctx context.Context, pageURL string) (etag, lastMod string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("fetcher: head request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetcher: head do: %w", err)
	}
	resp.Body.Close()
	return resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

func (f *Fetcher) get(ctx context.Context, target, accept string, limit int64) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetcher: do: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, nil, fmt.Errorf("fetcher: read body: %w", err)
	}
	return body, resp, nil
}

func (f *Fetcher) collectStyleSheets(ctx context.Context, page *Page) {
	base, err := url.Parse(page.URL)
	if err != nil {
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.HTML))
	if err != nil {
		f.logger.Debug("fetcher: parse for stylesheets", "url", page.URL, "error", err)
		return
	}
	visited := make(map[string]bool)
	doc.Find("link[href]").Each(func(_ int, s *goquery.Selection) {
		if !strings.EqualFold(strings.TrimSpace(s.AttrOr("rel", "")), "stylesheet") {
			return
		}
		href := s.AttrOr("href", "")
		if href == "" || len(page.StyleSheets) >= maxSheets {
			return
		}
		abs, ok := resolve(base, href)
		if !ok {
			return
		}
		text, ok := f.fetchSheet(ctx, abs)
		if !ok {
			return
		}
		page.StyleSheets[href] = text
		visited[abs.String()] = true
		f.collectImports(ctx, page, abs, text, visited, 1)
	})
}

func (f *Fetcher) collectImports(ctx context.Context, page *Page, sheetURL *url.URL, text string, visited map[string]bool, depth int) {
	if depth > maxImportDepth {
		return
	}
	sheet, err := parser.Parse(text)
	if err != nil {
		f.logger.Debug("fetcher: parse stylesheet", "url", sheetURL.String(), "error", err)
		return
	}
	for _, r := range sheet.Rules {
		if r.Kind != css.AtRule || r.Name != "@import" || len(page.StyleSheets) >= maxSheets {
			continue
		}
		href, _ := specificity.ParseImport(r.Prelude)
		abs, ok := resolve(sheetURL, href)
		if !ok || visited[abs.String()] {
			continue
		}
		visited[abs.String()] = true
		imported, ok := f.fetchSheet(ctx, abs)
		if !ok {
			continue
		}
		page.StyleSheets[abs.String()] = imported
		f.collectImports(ctx, page, abs, imported, visited, depth+1)
	}
}

func (f *Fetcher) fetchSheet(ctx context.Context, u *url.URL) (string, bool) {
	body, resp, err := f.get(ctx, u.String(), "text/css,*/*;q=0.1", maxSheetBytes)
	if err != nil {
		f.logger.Debug("fetcher: stylesheet", "url", u.String(), "error", err)
		return "", false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Debug("fetcher: stylesheet", "url", u.String(), "status", resp.StatusCode)
		return "", false
	}
	return string(body), true
}

func resolve(base *url.URL, ref string) (*url.URL, bool) {
	if ref == "" {
		return nil, false
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(r)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	return abs, true
}
