package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/gnana997/designflow/pkg/browser"
	"github.com/gnana997/designflow/pkg/cache"
	"github.com/gnana997/designflow/pkg/codegen"
	"github.com/gnana997/designflow/pkg/config"
	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/githost"
	mcpserver "github.com/gnana997/designflow/pkg/mcp"
	"github.com/gnana997/designflow/pkg/mcplog"
	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/parser"
	"github.com/gnana997/designflow/pkg/util"
	"github.com/gnana997/designflow/pkg/visual"
	"github.com/gnana997/designflow/pkg/workflow"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
	redisKeyPrefix  = "designflow:"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, root, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runServe(ctx context.Context, root *rootOptions, in io.Reader, out io.Writer) error {
	cfg, err := config.Load(config.Options{Dir: root.dir})
	if err != nil {
		return err
	}
	if root.logLevel != "" {
		cfg.LogLevel = root.logLevel
	}

	// stdout carries protocol frames; logs go to stderr only.
	logCfg := util.DefaultLoggerConfig()
	logCfg.Level = util.LogLevel(cfg.LogLevel)
	logCfg.Format = util.LogFormat(cfg.LogFormat)
	logger := util.NewLogger(logCfg)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	logger.Debug("configuration loaded", "config", cfg.Redacted())

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	go a.sweepLoop(ctx)

	logger.Info("designflow serving on stdio",
		"version", version,
		"repository", cfg.GitHubOwner+"/"+cfg.GitHubRepo,
		"output_dir", cfg.OutputDir,
	)
	if err := a.server.ServeStdio(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("designflow stopped")
	return nil
}

// app owns every long-lived component of the server process.
type app struct {
	logger *slog.Logger

	metrics   *metrics.Metrics
	toolLog   *mcplog.Logger
	redis     *redis.Client
	cache     *cache.Cache
	pool      *browser.Pool
	baselines *visual.BaselineStore
	parsers   *parser.ParserManager
	server    *mcpserver.Server
	ops       *metrics.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger, metrics: metrics.New()}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()

	var err error
	if a.toolLog, err = mcplog.Open(cfg.Resolve(cfg.ToolLog)); err != nil {
		return nil, err
	}

	cacheCfg := cache.Config{MaxEntries: cfg.CacheMaxEntries, KeyPrefix: redisKeyPrefix}
	if cfg.CacheRedisAddr != "" {
		client, rerr := cache.NewRedisClient(ctx, cfg.CacheRedisAddr)
		if rerr != nil {
			logger.Warn("redis unavailable, caching in memory only", "addr", cfg.CacheRedisAddr, "error", rerr)
		} else {
			a.redis = client
			cacheCfg.Redis = client
		}
	}
	a.cache = cache.New(cacheCfg, logger)

	design := figma.NewClient(figma.Config{
		Token:   cfg.FigmaToken,
		BaseURL: cfg.FigmaAPIURL,
		Timeout: cfg.RequestTimeout,
	}, a.cache, logger, a.metrics)

	host, err := githost.NewClient(githost.Config{
		Token:   cfg.GitHubToken,
		Owner:   cfg.GitHubOwner,
		Repo:    cfg.GitHubRepo,
		BaseURL: cfg.GitHubAPIURL,
		Timeout: cfg.RequestTimeout,
	}, logger, a.metrics)
	if err != nil {
		return nil, err
	}

	engine := browser.NewChromeEngine(browser.ChromeConfig{
		Headless: cfg.BrowserHeadless,
		WSURL:    cfg.BrowserWSURL,
		ExecPath: cfg.BrowserPath,
	})
	a.pool = browser.NewPool(engine, browser.PoolConfig{}, logger, a.metrics)
	capturer := browser.NewCapturer(a.pool, cfg.BrowserTimeout, logger, a.metrics)

	if a.baselines, err = visual.NewBaselineStore(cfg.Resolve(cfg.BaselineDir), logger); err != nil {
		return nil, err
	}
	if werr := a.baselines.Watch(); werr != nil {
		logger.Warn("baseline watcher disabled", "error", werr)
	}
	comparer := visual.NewComparer(a.baselines, logger, a.metrics)

	a.parsers = parser.NewParserManager(logger)
	generator, err := codegen.NewGenerator(a.parsers)
	if err != nil {
		return nil, err
	}

	repoPrefix := cfg.RepoPrefix
	if repoPrefix == "" {
		repoPrefix = cfg.OutputDir
	}
	orch, err := workflow.New(workflow.Deps{
		Design:    design,
		Host:      host,
		Generator: generator,
		Writer:    codegen.Writer{},
		Tester:    capturer,
		Comparer:  comparer,
		Baselines: a.baselines,
		Logger:    logger,
		Metrics:   a.metrics,
	}, workflow.Config{
		BaseBranch:    cfg.BaseBranch,
		OutputDir:     cfg.Resolve(cfg.OutputDir),
		RepoPrefix:    repoPrefix,
		ScreenshotDir: cfg.Resolve(cfg.ScreenshotDir),
		Threshold:     cfg.Threshold,
		ImportRoot:    cfg.ImportRoot,
	})
	if err != nil {
		return nil, err
	}

	if a.server, err = mcpserver.NewServer(orch, mcpserver.Options{
		Version: version,
		Logger:  logger,
		ToolLog: a.toolLog,
		Metrics: a.metrics,
	}); err != nil {
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		a.ops = metrics.NewServer(cfg.MetricsAddr, a.metrics, a.health, logger)
		if _, err := a.ops.Start(); err != nil {
			a.ops = nil
			return nil, fmt.Errorf("metrics listener: %w", err)
		}
	}
	built = true
	return a, nil
}

// health backs /healthz.
func (a *app) health() map[string]string {
	pool := a.pool.Stats()
	cacheStats := a.cache.Stats()
	baselines := a.baselines.Stats()
	return map[string]string{
		"browser":          pool.State,
		"browser_leased":   strconv.Itoa(pool.Leased),
		"cache_entries":    strconv.Itoa(cacheStats.Entries),
		"cache_redis":      strconv.FormatBool(a.redis != nil),
		"baselines_cached": strconv.Itoa(baselines.Cached),
	}
}

// sweepLoop drops expired cache entries until ctx is done.
func (a *app) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.cache.Sweep(); n > 0 {
				a.logger.Debug("cache sweep", "expired", n)
			}
		}
	}
}

// close releases everything newApp acquired. It tolerates a partially built app.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.ops != nil {
		if err := a.ops.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics listener shutdown", "error", err)
		}
	}
	if a.pool != nil {
		if err := a.pool.Shutdown(ctx); err != nil {
			a.logger.Warn("browser pool shutdown", "error", err)
		}
	}
	if a.baselines != nil {
		if err := a.baselines.Close(); err != nil {
			a.logger.Warn("baseline watcher close", "error", err)
		}
	}
	if a.parsers != nil {
		_ = a.parsers.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if err := a.toolLog.Close(); err != nil {
		a.logger.Warn("tool log close", "error", err)
	}
}
