package browser

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/remote"
)

// DefaultNavigationTimeout bounds one navigation plus screenshot.
const DefaultNavigationTimeout = 30 * time.Second

const service = "browser"

//go:embed a11y.js
var accessibilityScript string

// Viewport is a named screen size.
type Viewport struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

var (
	Mobile  = Viewport{Name: "mobile", Width: 320, Height: 568}
	Tablet  = Viewport{Name: "tablet", Width: 768, Height: 1024}
	Desktop = Viewport{Name: "desktop", Width: 1440, Height: 900}
)

// Presets are the responsive capture sizes, smallest first.
var Presets = []Viewport{Mobile, Tablet, Desktop}

// Screenshot is a captured PNG on disk.
type Screenshot struct {
	Viewport Viewport `json:"viewport"`
	Path     string   `json:"path"`
	Bytes    int      `json:"bytes"`
}

// PresetCapture is one responsive slot. Each slot succeeds or fails on its own.
type PresetCapture struct {
	Viewport Viewport                  `json:"viewport"`
	Result   remote.Result[Screenshot] `json:"result"`
}

// Issue is one accessibility finding.
type Issue struct {
	Rule     string `json:"rule"`
	Selector string `json:"selector"`
	Message  string `json:"message"`
}

// AccessibilityReport summarises a page scan.
type AccessibilityReport struct {
	URL    string  `json:"url"`
	Issues []Issue `json:"issues"`
}

// Passed reports whether the scan found nothing.
func (r AccessibilityReport) Passed() bool {
	return len(r.Issues) == 0
}

// Count returns the number of issues for rule.
func (r AccessibilityReport) Count(rule string) int {
	n := 0
	for _, is := range r.Issues {
		if is.Rule == rule {
			n++
		}
	}
	return n
}

// Capturer runs page-level operations on pooled contexts.
type Capturer struct {
	pool       *Pool
	navTimeout time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewCapturer builds a Capturer over pool.
func NewCapturer(pool *Pool, navTimeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Capturer {
	if navTimeout <= 0 {
		navTimeout = DefaultNavigationTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Capturer{pool: pool, navTimeout: navTimeout, logger: logger.With("component", "capture"), metrics: m}
}

// Capture loads target at vp and writes a full-page PNG to path.
func (c *Capturer) Capture(ctx context.Context, target string, vp Viewport, path string) remote.Result[Screenshot] {
	const op = "browser.capture"
	start := time.Now()

	if err := validateURL(target); err != nil {
		return finish(c, op, start, remote.Fail[Screenshot](err))
	}

	var png []byte
	err := c.pool.WithPage(ctx, func(page Page) error {
		navCtx, cancel := context.WithTimeout(ctx, c.navTimeout)
		defer cancel()

		if err := page.SetViewport(navCtx, vp.Width, vp.Height); err != nil {
			return fmt.Errorf("set viewport %s: %w", vp.Name, err)
		}
		if err := page.Navigate(navCtx, target); err != nil {
			return fmt.Errorf("navigate to %s: %w", target, err)
		}
		data, err := page.Screenshot(navCtx)
		if err != nil {
			return fmt.Errorf("screenshot: %w", err)
		}
		png = data
		return nil
	})
	if err != nil {
		return finish(c, op, start, remote.Fail[Screenshot](remote.Wrap(op, err)))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return finish(c, op, start, remote.Fail[Screenshot](remote.Errorf(remote.KindInternal, op, "create screenshot dir: %v", err)))
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return finish(c, op, start, remote.Fail[Screenshot](remote.Errorf(remote.KindInternal, op, "write screenshot: %v", err)))
	}

	c.logger.Debug("screenshot captured", "url", target, "viewport", vp.Name, "path", path)
	return finish(c, op, start, remote.OK(Screenshot{Viewport: vp, Path: path, Bytes: len(png)}))
}

// CaptureResponsive captures target at every preset concurrently, writing
// <dir>/<name>-<preset>.png. Each preset holds its own lease and result slot.
func (c *Capturer) CaptureResponsive(ctx context.Context, target, dir, name string) []PresetCapture {
	out := make([]PresetCapture, len(Presets))

	var g errgroup.Group
	for i, vp := range Presets {
		g.Go(func() error {
			path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", name, vp.Name))
			out[i] = PresetCapture{Viewport: vp, Result: c.Capture(ctx, target, vp, path)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ScanAccessibility checks target for images without alt text, unlabeled form
// fields and skipped heading levels.
func (c *Capturer) ScanAccessibility(ctx context.Context, target string) remote.Result[AccessibilityReport] {
	const op = "browser.scan_accessibility"
	start := time.Now()

	if err := validateURL(target); err != nil {
		return finish(c, op, start, remote.Fail[AccessibilityReport](err))
	}

	report := AccessibilityReport{URL: target}
	err := c.pool.WithPage(ctx, func(page Page) error {
		navCtx, cancel := context.WithTimeout(ctx, c.navTimeout)
		defer cancel()

		if err := page.Navigate(navCtx, target); err != nil {
			return fmt.Errorf("navigate to %s: %w", target, err)
		}
		var issues []Issue
		if err := page.Evaluate(navCtx, accessibilityScript, &issues); err != nil {
			return fmt.Errorf("evaluate accessibility script: %w", err)
		}
		report.Issues = issues
		return nil
	})
	if err != nil {
		return finish(c, op, start, remote.Fail[AccessibilityReport](remote.Wrap(op, err)))
	}
	if report.Issues == nil {
		report.Issues = []Issue{}
	}
	return finish(c, op, start, remote.OK(report))
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return remote.Errorf(remote.KindInvalidInput, "browser.validate_url", "%q is not an http(s) URL", raw)
	}
	return nil
}

func finish[T any](c *Capturer, op string, start time.Time, r remote.Result[T]) remote.Result[T] {
	elapsed := time.Since(start)
	c.metrics.ObserveRemote(service, op, r.Kind, elapsed)
	if !r.Success {
		c.logger.Warn("browser operation failed", "op", op, "kind", r.Kind, "error", r.Error, "duration", elapsed)
	}
	return r
}
