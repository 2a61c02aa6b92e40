package browser

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestShouldBlock(t *testing.T) {
	block := map[string]bool{"images": true, "fonts": true, "stylesheets": true, "xhr": true}
	tests := []struct {
		typ  string
		want bool
	}{
		{"Image", true},
		{"Font", true},
		{"Media", false},
		{"Stylesheet", false},
		{"XHR", true},
		{"Document", false},
	}
	for _, tt := range tests {
		if got := shouldBlock(block, tt.typ); got != tt.want {
			t.Errorf("shouldBlock(%q): got %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.Stealth != LevelHeadless || c.RecycleInterval != 4*time.Hour || c.XvfbDisplay != ":99" || c.Logger == nil {
		t.Errorf("defaults: got %+v", c)
	}
}

func TestRenderWithoutBrowser(t *testing.T) {
	m := NewManager(Config{})
	if _, err := Render(context.Background(), m, "http://example.invalid", RenderOptions{}); err == nil {
		t.Error("Render without Start: want error")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("Start after Close: want error")
	}
}

// TestRenderChrome needs a local Chrome; set PAGESYNC_CHROME=1 to run it.
func TestRenderChrome(t *testing.T) {
	if os.Getenv("PAGESYNC_CHROME") == "" {
		t.Skip("PAGESYNC_CHROME not set")
	}
	m := NewManager(Config{Block: []string{"images"}})
	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Close()

	page, err := Render(ctx, m, "data:text/html,<p id=x>hello</p>", RenderOptions{Width: 800, Height: 600})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	doc, err := page.Document()
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if doc.QuerySelector("#x") == nil {
		t.Error("rendered document lost #x")
	}
}
