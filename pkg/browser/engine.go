// Package browser manages a bounded pool of isolated browser contexts and the
// capture helpers (screenshots, responsive presets, accessibility scan) built on it.
package browser

import "context"

// Engine owns the browser process.
type Engine interface {
	// Launch starts the browser. ctx bounds start-up only; the browser outlives it.
	Launch(ctx context.Context) error

	// NewContext opens an isolated browsing context (own cookies and storage).
	NewContext(ctx context.Context) (Context, error)

	// Close terminates the browser process.
	Close() error
}

// Context is an isolated browsing session. Pages opened in it share its storage.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is one tab.
type Page interface {
	SetViewport(ctx context.Context, width, height int) error
	Navigate(ctx context.Context, url string) error

	// Screenshot returns a full-page PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Evaluate runs a script and decodes its JSON-serialisable result into out.
	Evaluate(ctx context.Context, script string, out any) error

	Close() error
}
