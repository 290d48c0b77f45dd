// Package workflow composes the design, source-hosting and browser adapters
// into the generate, visual-test and change-request workflows.
package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/remote"
	"github.com/gnana997/designflow/pkg/visual"
)

// Workflow names, used in logs and metrics.
const (
	WorkflowGenerate      = "generate_and_commit"
	WorkflowVisualTest    = "visual_test"
	WorkflowChangeRequest = "open_change_request"
	WorkflowAnalyze       = "analyze_design"
	WorkflowCreateBranch  = "create_branch"
	WorkflowRepository    = "repository_info"
	WorkflowBaselines     = "list_baselines"
)

// Defaults applied by New when Config leaves a field empty.
const (
	DefaultBaseBranch    = "main"
	DefaultOutputDir     = "src/components"
	DefaultScreenshotDir = ".designflow/screenshots"
)

// Config holds project defaults for every workflow.
type Config struct {
	// BaseBranch is branched from and targeted by pull requests.
	BaseBranch string
	// OutputDir is where artifacts are written locally.
	OutputDir string
	// RepoPrefix is the repository directory artifacts are committed under.
	// Empty means OutputDir.
	RepoPrefix string
	// ScreenshotDir receives candidate, responsive and diff images.
	ScreenshotDir string
	// Threshold is the default per-pixel tolerance for visual regression.
	Threshold float64
	// ImportRoot is used in the usage snippet of pull request bodies.
	ImportRoot string
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.BaseBranch == "" {
		c.BaseBranch = DefaultBaseBranch
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.RepoPrefix == "" {
		c.RepoPrefix = c.OutputDir
	}
	c.RepoPrefix = strings.Trim(strings.ReplaceAll(c.RepoPrefix, `\`, "/"), "/")
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = DefaultScreenshotDir
	}
	if c.Threshold <= 0 {
		c.Threshold = visual.DefaultThreshold
	}
	if c.ImportRoot == "" {
		c.ImportRoot = "./" + c.RepoPrefix
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Deps are the collaborators an Orchestrator drives. Design, Host, Generator
// and Writer are required. The browser-side deps are only needed by VisualTest.
type Deps struct {
	Design    DesignSource
	Host      SourceHost
	Generator Generator
	Writer    ArtifactWriter

	Tester    Tester
	Comparer  Comparer
	Baselines Baselines

	Runs    *RunStore
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Orchestrator runs workflows. It is safe for concurrent use; each call owns
// its own Context.
type Orchestrator struct {
	design    DesignSource
	host      SourceHost
	generator Generator
	writer    ArtifactWriter
	tester    Tester
	comparer  Comparer
	baselines Baselines
	runs      *RunStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	cfg       Config
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	var missing []string
	if deps.Design == nil {
		missing = append(missing, "design source")
	}
	if deps.Host == nil {
		missing = append(missing, "source host")
	}
	if deps.Generator == nil {
		missing = append(missing, "generator")
	}
	if deps.Writer == nil {
		missing = append(missing, "artifact writer")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("workflow: missing %s", strings.Join(missing, ", "))
	}

	cfg.applyDefaults()
	if deps.Runs == nil {
		deps.Runs = NewRunStore()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	return &Orchestrator{
		design:    deps.Design,
		host:      deps.Host,
		generator: deps.Generator,
		writer:    deps.Writer,
		tester:    deps.Tester,
		comparer:  deps.Comparer,
		baselines: deps.Baselines,
		runs:      deps.Runs,
		logger:    deps.Logger.With("component", "workflow"),
		metrics:   deps.Metrics,
		cfg:       cfg,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Runs returns the store of recorded test results.
func (o *Orchestrator) Runs() *RunStore { return o.runs }

// DefaultBranchName is feature/<lowercase name>-YYYYMMDD.
func DefaultBranchName(component string, now time.Time) string {
	return fmt.Sprintf("feature/%s-%s", strings.ToLower(component), now.Format("20060102"))
}

// CommitMessage is the message used for generated component commits.
func CommitMessage(component, frameName, nodeID string) string {
	return fmt.Sprintf("feat(%s): generate component from design frame %q (%s)", component, frameName, nodeID)
}

// finish converts a panic into an Internal failure, then records the outcome.
// It must be deferred directly by each entry point.
func finish[T any](o *Orchestrator, workflow string, start time.Time, out *remote.Result[T]) {
	if r := recover(); r != nil {
		o.logger.Error("workflow panicked", "workflow", workflow, "panic", r, "stack", string(debug.Stack()))
		*out = remote.Failf[T](remote.KindInternal, "%s: unexpected failure: %v", workflow, r)
	}

	o.metrics.ObserveWorkflow(workflow, out.Kind)
	if out.Success {
		o.logger.Info("workflow finished", "workflow", workflow, "duration", time.Since(start))
	} else {
		o.logger.Warn("workflow failed", "workflow", workflow, "kind", out.Kind, "error", out.Error, "duration", time.Since(start))
	}
}

// slot wraps one fanned-out step so that a panic fails only that slot. The
// returned func never returns an error, so an errgroup always waits for every
// sibling.
func slot[T any](o *Orchestrator, name string, out *remote.Result[T], fn func() remote.Result[T]) func() error {
	return func() error {
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("workflow step panicked", "step", name, "panic", r, "stack", string(debug.Stack()))
				*out = remote.Failf[T](remote.KindInternal, "%s: unexpected failure: %v", name, r)
			}
		}()
		*out = fn()
		return nil
	}
}

func invalid[T any](format string, args ...any) remote.Result[T] {
	return remote.Failf[T](remote.KindInvalidInput, format, args...)
}

var errNotConfigured = errors.New("browser testing is not configured")
