// Package mirror runs a headless guest: it loads a page into an in-memory
// document, binds a session controller to it and keeps it in sync through a
// transport. Navigation replayed from the host swaps the document and its
// controller.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/spf13/afero"

	"github.com/hazyhaar/pagesync/dom/htmldoc"
	"github.com/hazyhaar/pagesync/protocol"
	"github.com/hazyhaar/pagesync/session"
	"github.com/hazyhaar/pagesync/specificity"
	"github.com/hazyhaar/pagesync/transport"
)

// Config configures a Mirror.
type Config struct {
	ID               string
	URL              string
	Session          string
	Width, Height    int
	SameParent       bool
	SnapshotInterval time.Duration
	SnapshotDir      string
	// FS receives snapshots. Default: the OS filesystem.
	FS afero.Fs
	// SanitizeSnapshots strips scripts and event handler attributes from
	// snapshot markup. The live document is never sanitized.
	SanitizeSnapshots bool
	// Controller options applied to every controller the mirror creates.
	Controller []session.Option
	Logger     *slog.Logger
}

// Mirror is a headless guest document.
type Mirror struct {
	cfg    Config
	loader Loader
	tr     transport.Transport
	logger *slog.Logger
	policy *bluemonday.Policy
	navCh  chan string

	mu       sync.Mutex
	doc      *htmldoc.Document
	ctrl     *session.Controller
	loads    int
	snapshot int
}

// New creates a mirror loading pages with loader and talking through tr.
// Inbound messages reach it through Receive.
func New(cfg Config, loader Loader, tr transport.Transport) *Mirror {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1024, 768
	}
	if cfg.ID == "" {
		cfg.ID = "mirror"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	m := &Mirror{
		cfg:    cfg,
		loader: loader,
		tr:     tr,
		logger: cfg.Logger.With("mirror", cfg.ID),
		navCh:  make(chan string, 1),
	}
	if cfg.SanitizeSnapshots {
		m.policy = snapshotPolicy()
	}
	return m
}

// snapshotPolicy keeps the user-content subset plus the form controls and
// the id, class and style attributes a replayed page relies on.
func snapshotPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("html", "head", "body", "title", "section", "article", "nav", "header", "footer", "main")
	p.AllowAttrs("id", "class", "style").Globally()
	p.AllowAttrs("type", "name", "value", "checked", "disabled", "placeholder").OnElements("input", "button")
	p.AllowAttrs("name", "multiple", "disabled").OnElements("select")
	p.AllowAttrs("value", "selected").OnElements("option")
	p.AllowAttrs("for").OnElements("label")
	p.AllowAttrs("name", "rows", "cols").OnElements("textarea")
	p.AllowElements("form", "input", "button", "select", "option", "label", "textarea")
	return p
}

// Receive hands an inbound message to the current controller.
func (m *Mirror) Receive(msg protocol.Message) {
	m.mu.Lock()
	ctrl := m.ctrl
	m.mu.Unlock()
	if ctrl != nil {
		ctrl.Receive(msg)
	}
}

// Run loads the configured URL and serves navigations and snapshots until
// ctx is done.
func (m *Mirror) Run(ctx context.Context) error {
	if err := m.load(ctx, m.cfg.URL); err != nil {
		return err
	}
	defer m.dispose()

	var tick <-chan time.Time
	if m.cfg.SnapshotInterval > 0 && m.cfg.SnapshotDir != "" {
		t := time.NewTicker(m.cfg.SnapshotInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case url := <-m.navCh:
			if err := m.load(ctx, url); err != nil {
				m.logger.Warn("mirror: navigation failed", "url", url, "error", err)
			}
		case <-tick:
			if _, err := m.Snapshot(); err != nil {
				m.logger.Warn("mirror: snapshot failed", "error", err)
			}
		}
	}
}

// navigate is the document navigator. It runs inside event replay, so the
// swap happens asynchronously on the Run goroutine; only the latest pending
// URL is kept.
func (m *Mirror) navigate(url string) {
	for {
		select {
		case m.navCh <- url:
			return
		default:
		}
		select {
		case <-m.navCh:
		default:
		}
	}
}

func (m *Mirror) load(ctx context.Context, url string) error {
	page, err := m.loader.Load(ctx, url)
	if err != nil {
		return fmt.Errorf("mirror: load %s: %w", url, err)
	}
	doc, err := page.Document(
		htmldoc.WithViewport(float64(m.cfg.Width), float64(m.cfg.Height)),
		htmldoc.WithNavigator(m.navigate),
	)
	if err != nil {
		return fmt.Errorf("mirror: parse %s: %w", url, err)
	}

	m.mu.Lock()
	m.loads++
	docID := fmt.Sprintf("%s-%d", m.cfg.ID, m.loads)
	m.mu.Unlock()

	opts := append([]session.Option{
		session.WithOptions(protocol.Options{SessionID: m.cfg.Session, DocumentID: docID, SameParent: m.cfg.SameParent}),
		session.WithLogger(m.logger),
		session.WithEngine(specificity.NewEngine(specificity.WithLogger(m.logger))),
		session.WithContext(ctx),
	}, m.cfg.Controller...)
	ctrl := session.New(doc, m.tr, opts...)

	m.mu.Lock()
	oldDoc, oldCtrl := m.doc, m.ctrl
	m.doc, m.ctrl = doc, ctrl
	m.mu.Unlock()

	if oldDoc != nil {
		oldDoc.Unload()
	}
	if oldCtrl != nil {
		oldCtrl.Dispose()
	}
	m.logger.Info("mirror: loaded", "url", page.URL, "document", docID, "sheets", len(page.StyleSheets))
	return nil
}

func (m *Mirror) dispose() {
	m.mu.Lock()
	doc, ctrl := m.doc, m.ctrl
	m.doc, m.ctrl = nil, nil
	m.mu.Unlock()
	if doc != nil {
		doc.Unload()
	}
	if ctrl != nil {
		ctrl.Dispose()
	}
}

// Document returns the current document.
func (m *Mirror) Document() *htmldoc.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc
}

// Controller returns the current controller.
func (m *Mirror) Controller() *session.Controller {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctrl
}

// Snapshot writes the current markup to SnapshotDir and returns the file
// path.
func (m *Mirror) Snapshot() (string, error) {
	m.mu.Lock()
	doc := m.doc
	m.snapshot++
	n := m.snapshot
	m.mu.Unlock()
	if doc == nil {
		return "", fmt.Errorf("mirror: no document")
	}
	if m.cfg.SnapshotDir == "" {
		return "", fmt.Errorf("mirror: no snapshot directory")
	}
	markup, err := doc.Render()
	if err != nil {
		return "", fmt.Errorf("mirror: render: %w", err)
	}
	if m.policy != nil {
		markup = m.policy.SanitizeBytes(markup)
	}
	if err := m.cfg.FS.MkdirAll(m.cfg.SnapshotDir, 0o755); err != nil {
		return "", fmt.Errorf("mirror: mkdir: %w", err)
	}
	name := fmt.Sprintf("%s-%s-%04d.html", m.cfg.ID, time.Now().UTC().Format("20060102T150405"), n)
	path := filepath.Join(m.cfg.SnapshotDir, name)
	if err := afero.WriteFile(m.cfg.FS, path, markup, 0o644); err != nil {
		return "", fmt.Errorf("mirror: write snapshot: %w", err)
	}
	m.logger.Debug("mirror: snapshot", "path", path, "size", len(markup))
	return path, nil
}
