package specificity

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/pagesync/dom"
)

// PseudoHover is the pseudo-class token the hover channel emulates.
const PseudoHover = ":hover"

// Engine computes and applies pseudo-state overrides. One Engine serves one
// document; its cache outlives the channels that use it.
type Engine struct {
	cache  *Cache
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

type engineConfig struct {
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// WithTTL sets the cache TTL.
func WithTTL(d time.Duration) EngineOption {
	return func(c *engineConfig) { c.ttl = d }
}

// WithClock sets the cache clock.
func WithClock(now func() time.Time) EngineOption {
	return func(c *engineConfig) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) { c.logger = l }
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	var cfg engineConfig
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Engine{cache: NewCache(cfg.ttl, cfg.now), logger: cfg.logger}
}

// Cache returns the engine's cache.
func (e *Engine) Cache() *Cache { return e.cache }

// HoverStyles returns the properties the :hover state would change on el.
// refresh is set on hover-enter only so that hover-leave reverts exactly
// what enter applied.
func (e *Engine) HoverStyles(el dom.Element, key string, refresh bool, idx *Index) Overrides {
	return e.cache.GetOrCompute(key, refresh, func() Overrides {
		return computeOverrides(el, idx, PseudoHover)
	})
}

// ApplyHoverIn writes the hover values onto el's inline style.
func (e *Engine) ApplyHoverIn(el dom.Element, key string, idx *Index) {
	o := e.HoverStyles(el, key, true, idx)
	st := el.Style()
	for prop, v := range o {
		st.Set(prop, v.Hover)
	}
	if len(o) > 0 {
		e.logger.Debug("specificity: hover in", "target", key, "properties", len(o))
	}
}

// ApplyHoverOut restores the original inline values on el.
func (e *Engine) ApplyHoverOut(el dom.Element, key string, idx *Index) {
	o := e.HoverStyles(el, key, false, idx)
	st := el.Style()
	for prop, v := range o {
		st.Set(prop, v.Original)
	}
}

func computeOverrides(el dom.Element, idx *Index, pseudo string) Overrides {
	matches := idx.MatchedRules(el, pseudo)

	// Walk from lowest to highest priority so the cascade winner is last.
	pseudoDecls := make(map[string]Declaration)
	var order []string
	for i := len(matches) - 1; i >= 0; i-- {
		for _, d := range matches[i].Rule.Declarations {
			prev, ok := pseudoDecls[d.Property]
			if ok && prev.Important && !d.Important {
				continue
			}
			if !ok {
				order = append(order, d.Property)
			}
			pseudoDecls[d.Property] = d
		}
	}

	out := make(Overrides)
	st := el.Style()
	for _, prop := range order {
		d := pseudoDecls[prop]
		base, baseImportant := idx.cascaded(el, prop)
		if base == d.Value || (baseImportant && !d.Important) {
			continue
		}
		inline := st.Get(prop)
		if inline != "" {
			continue
		}
		if el.ComputedStyle(prop) == d.Value {
			continue
		}
		out[prop] = Override{Original: inline, Hover: d.Value}
	}
	return out
}
