package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ChromeConfig controls the chromedp engine.
type ChromeConfig struct {
	Headless bool

	// WSURL connects to an already running browser's DevTools endpoint instead
	// of spawning a local Chrome.
	WSURL string

	// ExecPath overrides Chrome discovery.
	ExecPath string
}

// ChromeEngine drives Chrome over the DevTools protocol.
type ChromeEngine struct {
	cfg ChromeConfig

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
}

// NewChromeEngine returns an engine that is not yet launched.
func NewChromeEngine(cfg ChromeConfig) *ChromeEngine {
	return &ChromeEngine{cfg: cfg}
}

// Launch starts (or attaches to) the browser.
func (e *ChromeEngine) Launch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browserCtx != nil {
		return nil
	}

	// The browser must outlive ctx, so its contexts hang off Background.
	var allocCtx context.Context
	var cancelAlloc context.CancelFunc
	if e.cfg.WSURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), e.cfg.WSURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", e.cfg.Headless),
			chromedp.Flag("hide-scrollbars", true),
			chromedp.Flag("force-color-profile", "srgb"),
			chromedp.DisableGPU,
		)
		if e.cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(e.cfg.ExecPath))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	if err := startTarget(ctx, browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return err
	}

	e.browserCtx = browserCtx
	e.cancelBrowser = cancelBrowser
	e.cancelAlloc = cancelAlloc
	return nil
}

// NewContext opens a new incognito-style browser context.
func (e *ChromeEngine) NewContext(ctx context.Context) (Context, error) {
	e.mu.Lock()
	parent := e.browserCtx
	e.mu.Unlock()
	if parent == nil {
		return nil, errors.New("chrome engine is not launched")
	}

	cctx, cancel := chromedp.NewContext(parent, chromedp.WithNewBrowserContext())
	if err := startTarget(ctx, cctx); err != nil {
		cancel()
		return nil, err
	}
	return &chromeContext{ctx: cctx, cancel: cancel}, nil
}

// Close shuts the browser down. Remote browsers are only disconnected.
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(e.browserCtx)
	e.cancelBrowser()
	e.cancelAlloc()
	e.browserCtx = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type chromeContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *chromeContext) NewPage(ctx context.Context) (Page, error) {
	// A child of a context that already has a target opens a new tab in the
	// same browser context.
	pctx, cancel := chromedp.NewContext(c.ctx)
	if err := startTarget(ctx, pctx); err != nil {
		cancel()
		return nil, err
	}
	return &chromePage{ctx: pctx, cancel: cancel}, nil
}

func (c *chromeContext) Close() error {
	c.cancel()
	return nil
}

type chromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (p *chromePage) SetViewport(ctx context.Context, width, height int) error {
	mobile := width < 768
	return runBounded(ctx, p.ctx,
		emulation.SetDeviceMetricsOverride(int64(width), int64(height), 1, mobile),
	)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return runBounded(ctx, p.ctx, chromedp.Navigate(url))
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := runBounded(ctx, p.ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Evaluate(ctx context.Context, script string, out any) error {
	return runBounded(ctx, p.ctx, chromedp.Evaluate(script, out))
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}

// startTarget performs the first Run on a chromedp context, which allocates its
// browser or tab. That Run must use the chromedp context itself: a derived
// context would tie the target's lifetime to the derived one.
func startTarget(ctx, target context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(target) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runBounded runs actions on a chromedp target context while honouring the
// caller's cancellation and deadline. Cancelling the derived context aborts the
// actions without closing the tab.
func runBounded(ctx, target context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(target)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	return err
}
