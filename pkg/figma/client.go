// Package figma is the design-file adapter: a rate-limited, cached client for the
// Figma REST API plus the pure tree helpers (frame lookup, token analysis,
// component extraction, locator parsing) built on the raw document.
package figma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/gnana997/designflow/pkg/cache"
	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/remote"
)

const (
	DefaultBaseURL      = "https://api.figma.com"
	DefaultTimeout      = 30 * time.Second
	DefaultRawTTL       = 2 * time.Minute
	DefaultAggregateTTL = 10 * time.Minute

	service = "figma"
)

// Config controls Client behavior.
type Config struct {
	Token   string
	BaseURL string

	// Timeout bounds each exported call, cache fills included.
	Timeout time.Duration

	// RawTTL applies to fetched files, AggregateTTL to tokens and components.
	RawTTL       time.Duration
	AggregateTTL time.Duration

	// RequestsPerSecond and Burst configure the client-side limiter.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RawTTL <= 0 {
		c.RawTTL = DefaultRawTTL
	}
	if c.AggregateTTL <= 0 {
		c.AggregateTTL = DefaultAggregateTTL
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
}

// Client talks to the Figma REST API. It is safe for concurrent use.
type Client struct {
	cfg     Config
	cache   *cache.Cache
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient builds a client. A nil cache gets a private default-sized one.
func NewClient(cfg Config, c *cache.Cache, logger *slog.Logger, m *metrics.Metrics) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if c == nil {
		c = cache.New(cache.Config{}, logger)
	}
	return &Client{
		cfg:     cfg,
		cache:   c,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger.With("component", "figma"),
		metrics: m,
	}
}

// FetchFile returns file metadata and the raw document tree.
func (c *Client) FetchFile(ctx context.Context, fileKey string) remote.Result[File] {
	const op = "figma.fetch_file"
	start := time.Now()

	if fileKey == "" {
		return finish(c, op, start, remote.Failf[File](remote.KindInvalidInput, "%s: file key is required", op))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	file, err := c.file(ctx, fileKey)
	if err != nil {
		return finish(c, op, start, remote.Fail[File](remote.Wrap(op, err)))
	}
	return finish(c, op, start, remote.OK(file))
}

// FetchFrame resolves one node of the file into a Frame.
func (c *Client) FetchFrame(ctx context.Context, fileKey, nodeID string) remote.Result[Frame] {
	const op = "figma.fetch_frame"
	start := time.Now()

	if nodeID == "" {
		return finish(c, op, start, remote.Failf[Frame](remote.KindInvalidInput, "%s: node id is required", op))
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	file, err := c.file(ctx, fileKey)
	if err != nil {
		return finish(c, op, start, remote.Fail[Frame](remote.Wrap(op, err)))
	}
	node, ok := FindNode(&file.Document, nodeID)
	if !ok {
		return finish(c, op, start, remote.Fail[Frame](
			remote.Errorf(remote.KindNotFound, op, "design node %q not found in file %q", nodeID, fileKey)))
	}
	return finish(c, op, start, remote.OK(toFrame(node)))
}

// FetchImages asks the API to render nodeIDs and returns nodeID -> image URL.
// Nodes the API could not render are omitted.
func (c *Client) FetchImages(ctx context.Context, fileKey string, nodeIDs []string, format string, scale float64) remote.Result[map[string]string] {
	const op = "figma.fetch_images"
	start := time.Now()

	if len(nodeIDs) == 0 {
		return finish(c, op, start, remote.Failf[map[string]string](remote.KindInvalidInput, "%s: at least one node id is required", op))
	}
	if format == "" {
		format = "png"
	}
	if scale <= 0 {
		scale = 1
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	q := url.Values{}
	q.Set("ids", strings.Join(nodeIDs, ","))
	q.Set("format", format)
	q.Set("scale", strconv.FormatFloat(scale, 'f', -1, 64))

	var resp struct {
		Err    *string            `json:"err"`
		Images map[string]*string `json:"images"`
	}
	if err := c.getJSON(ctx, op, "/v1/images/"+url.PathEscape(fileKey), q, &resp); err != nil {
		return finish(c, op, start, remote.Fail[map[string]string](err))
	}
	if resp.Err != nil && *resp.Err != "" {
		return finish(c, op, start, remote.Failf[map[string]string](remote.KindInvalidInput, "%s: %s", op, *resp.Err))
	}

	images := make(map[string]string, len(resp.Images))
	for id, u := range resp.Images {
		if u != nil && *u != "" {
			images[id] = *u
		}
	}
	return finish(c, op, start, remote.OK(images))
}

// AnalyzeTokens aggregates design tokens over the whole file.
func (c *Client) AnalyzeTokens(ctx context.Context, fileKey string) remote.Result[Tokens] {
	const op = "figma.analyze_tokens"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	tokens, err := cache.GetOrLoad(ctx, c.cache, "figma:tokens:"+fileKey, c.cfg.AggregateTTL,
		func(ctx context.Context) (Tokens, error) {
			file, err := c.file(ctx, fileKey)
			if err != nil {
				return Tokens{}, err
			}
			return AnalyzeTokens(&file.Document), nil
		})
	if err != nil {
		return finish(c, op, start, remote.Fail[Tokens](remote.Wrap(op, err)))
	}
	return finish(c, op, start, remote.OK(tokens))
}

// ExtractComponents lists the COMPONENT nodes of the file.
func (c *Client) ExtractComponents(ctx context.Context, fileKey string) remote.Result[[]Component] {
	const op = "figma.extract_components"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	components, err := cache.GetOrLoad(ctx, c.cache, "figma:components:"+fileKey, c.cfg.AggregateTTL,
		func(ctx context.Context) ([]Component, error) {
			file, err := c.file(ctx, fileKey)
			if err != nil {
				return nil, err
			}
			return ExtractComponents(&file.Document), nil
		})
	if err != nil {
		return finish(c, op, start, remote.Fail[[]Component](remote.Wrap(op, err)))
	}
	return finish(c, op, start, remote.OK(components))
}

// file returns the cached document, fetching it on a miss.
func (c *Client) file(ctx context.Context, fileKey string) (File, error) {
	if fileKey == "" {
		return File{}, remote.Errorf(remote.KindInvalidInput, "figma.fetch_file", "file key is required")
	}
	return cache.GetOrLoad(ctx, c.cache, "figma:file:"+fileKey, c.cfg.RawTTL,
		func(ctx context.Context) (File, error) {
			var f File
			if err := c.getJSON(ctx, "figma.fetch_file", "/v1/files/"+url.PathEscape(fileKey), nil, &f); err != nil {
				return File{}, err
			}
			f.Key = fileKey
			return f, nil
		})
}

// getJSON performs one rate-limited GET and decodes the body into out.
// Every failure comes back as a *remote.Error.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return remote.Wrap(op, fmt.Errorf("rate limiter: %w", limiterErr(ctx, err)))
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return remote.Errorf(remote.KindInvalidInput, op, "build request: %v", err)
	}
	req.Header.Set("X-Figma-Token", c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("figma request", "op", op, "path", path)
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return remote.Wrap(op, err)
	}
	defer resp.Body.Close()

	if kind := remote.KindFromStatus(resp.StatusCode); kind != "" {
		return statusError(op, kind, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return remote.Wrap(op, ctx.Err())
		}
		return remote.Errorf(remote.KindInternal, op, "malformed response: %v", err)
	}
	return nil
}

// limiterErr reports a wait that would overrun the deadline as a timeout.
func limiterErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := ctx.Deadline(); ok {
		return errors.Join(err, context.DeadlineExceeded)
	}
	return err
}

func statusError(op string, kind remote.Kind, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Status  int    `json:"status"`
		Err     string `json:"err"`
		Message string `json:"message"`
	}
	detail := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Err != "":
			detail = payload.Err
		case payload.Message != "":
			detail = payload.Message
		}
	}

	msg := fmt.Sprintf("%s (HTTP %d)", kind.Describe(), resp.StatusCode)
	if detail != "" {
		msg += ": " + detail
	}
	if kind == remote.KindRateLimited {
		if after := resp.Header.Get("Retry-After"); after != "" {
			msg += "; retry after " + after + "s"
		}
	}
	return &remote.Error{Kind: kind, Op: op, Message: msg}
}

// finish records metrics and logs failures for one exported call.
func finish[T any](c *Client, op string, start time.Time, r remote.Result[T]) remote.Result[T] {
	elapsed := time.Since(start)
	c.metrics.ObserveRemote(service, op, r.Kind, elapsed)
	if !r.Success {
		c.logger.Warn("figma call failed", "op", op, "kind", r.Kind, "error", r.Error, "duration", elapsed)
	}
	return r
}
