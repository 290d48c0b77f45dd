// Package browsertest provides an in-memory browser.Engine for tests.
package browsertest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gnana997/designflow/pkg/browser"
)

// Engine is a fake browser. Zero value is usable.
type Engine struct {
	// LaunchDelay and LaunchErr shape Launch.
	LaunchDelay time.Duration
	LaunchErr   error

	// NavigateFunc decides the outcome of a navigation. Nil always succeeds.
	NavigateFunc func(ctx context.Context, url string) error

	// Issues is returned by every Evaluate call.
	Issues any

	// Fill colours screenshots. Defaults to opaque white.
	Fill color.Color

	Launches      atomic.Int32
	ContextsMade  atomic.Int32
	PagesOpened   atomic.Int32
	ContextsAlive atomic.Int32
	PeakAlive     atomic.Int32
	Closed        atomic.Bool

	mu sync.Mutex
}

var _ browser.Engine = (*Engine)(nil)

func (e *Engine) Launch(ctx context.Context) error {
	e.Launches.Add(1)
	if e.LaunchDelay > 0 {
		select {
		case <-time.After(e.LaunchDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if e.LaunchErr != nil {
		return e.LaunchErr
	}
	e.Closed.Store(false)
	return nil
}

func (e *Engine) NewContext(context.Context) (browser.Context, error) {
	if e.Closed.Load() {
		return nil, errors.New("engine closed")
	}
	e.ContextsMade.Add(1)
	alive := e.ContextsAlive.Add(1)

	e.mu.Lock()
	if alive > e.PeakAlive.Load() {
		e.PeakAlive.Store(alive)
	}
	e.mu.Unlock()

	return &Context{engine: e}, nil
}

func (e *Engine) Close() error {
	e.Closed.Store(true)
	return nil
}

// Context is a fake browsing context.
type Context struct {
	engine *Engine
	closed atomic.Bool
}

func (c *Context) NewPage(context.Context) (browser.Page, error) {
	if c.closed.Load() {
		return nil, errors.New("context closed")
	}
	c.engine.PagesOpened.Add(1)
	return &Page{engine: c.engine, width: 1280, height: 720}, nil
}

func (c *Context) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.engine.ContextsAlive.Add(-1)
	}
	return nil
}

// Page is a fake tab.
type Page struct {
	engine        *Engine
	width, height int
}

func (p *Page) SetViewport(_ context.Context, width, height int) error {
	p.width, p.height = width, height
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.engine.NavigateFunc != nil {
		return p.engine.NavigateFunc(ctx, url)
	}
	return nil
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	fill := p.engine.Fill
	if fill == nil {
		fill = color.White
	}
	return SolidPNG(p.width, p.height, fill)
}

func (p *Page) Evaluate(_ context.Context, _ string, out any) error {
	issues := p.engine.Issues
	if issues == nil {
		issues = []any{}
	}
	data, err := json.Marshal(issues)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (p *Page) Close() error { return nil }

// SolidPNG encodes a w×h image filled with c.
func SolidPNG(w, h int, c color.Color) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HangUntilDone is a NavigateFunc that blocks until ctx ends, simulating a
// navigation that never completes.
func HangUntilDone(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}
