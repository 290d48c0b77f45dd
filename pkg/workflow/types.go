package workflow

import (
	"context"

	"github.com/gnana997/designflow/pkg/browser"
	"github.com/gnana997/designflow/pkg/codegen"
	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/githost"
	"github.com/gnana997/designflow/pkg/remote"
	"github.com/gnana997/designflow/pkg/visual"
)

// Context carries one workflow invocation. It is owned by the call that
// created it and is not shared between workflows.
type Context struct {
	FileKey       string       `json:"file_key"`
	NodeID        string       `json:"node_id"`
	ComponentName string       `json:"component_name"`
	OutputDir     string       `json:"output_dir,omitempty"`
	Branch        string       `json:"branch,omitempty"`
	BaseBranch    string       `json:"base_branch,omitempty"`
	TestResults   []TestResult `json:"test_results,omitempty"`
}

// TestResult is one independent check from a visual test run.
type TestResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Error   string `json:"error,omitempty"`
	Details any    `json:"details,omitempty"`
}

// GenerateResult is the outcome of generate-and-commit.
type GenerateResult struct {
	Artifact  codegen.Artifact `json:"artifact"`
	Frame     figma.Frame      `json:"frame"`
	Tokens    figma.Tokens     `json:"tokens"`
	Branch    githost.Branch   `json:"branch"`
	CommitSHA string           `json:"commit_sha"`
	CommitURL string           `json:"commit_url,omitempty"`
	Files     []string         `json:"files"`   // repository paths
	Written   []string         `json:"written"` // local paths
}

// VisualReport is the outcome of a visual test run.
type VisualReport struct {
	Component  string             `json:"component"`
	URL        string             `json:"url"`
	Results    []TestResult       `json:"results"`
	Passed     int                `json:"passed"`
	Failed     int                `json:"failed"`
	Comparison *visual.Comparison `json:"comparison,omitempty"`
	Summary    string             `json:"summary"`
}

// ChangeRequestOptions tune the pull request opened for a component.
type ChangeRequestOptions struct {
	Title string
	Draft bool
}

// DesignAnalysis reports each slot of analyze-design on its own.
type DesignAnalysis struct {
	FileKey    string                           `json:"file_key"`
	NodeID     string                           `json:"node_id,omitempty"`
	URL        string                           `json:"url"`
	Frame      *remote.Result[figma.Frame]      `json:"frame,omitempty"`
	Tokens     remote.Result[figma.Tokens]      `json:"tokens"`
	Components remote.Result[[]figma.Component] `json:"components"`
}

// RepositoryOverview pairs repository metadata with its branches.
type RepositoryOverview struct {
	Repository githost.Repository                  `json:"repository"`
	Branches   remote.Result[[]githost.BranchInfo] `json:"branches"`
}

// DesignSource is the design-file adapter.
type DesignSource interface {
	FetchFrame(ctx context.Context, fileKey, nodeID string) remote.Result[figma.Frame]
	FetchImages(ctx context.Context, fileKey string, nodeIDs []string, format string, scale float64) remote.Result[map[string]string]
	AnalyzeTokens(ctx context.Context, fileKey string) remote.Result[figma.Tokens]
	ExtractComponents(ctx context.Context, fileKey string) remote.Result[[]figma.Component]
}

// SourceHost is the source-hosting adapter.
type SourceHost interface {
	CreateBranch(ctx context.Context, name, base string) remote.Result[githost.Branch]
	CreateCommit(ctx context.Context, branch string, files []githost.File, message string) remote.Result[githost.Commit]
	CreatePullRequest(ctx context.Context, in githost.PullRequestInput) remote.Result[githost.PullRequest]
	ListBranches(ctx context.Context) remote.Result[[]githost.BranchInfo]
	RepositoryInfo(ctx context.Context) remote.Result[githost.Repository]
}

// Tester drives the browser.
type Tester interface {
	Capture(ctx context.Context, url string, vp browser.Viewport, path string) remote.Result[browser.Screenshot]
	CaptureResponsive(ctx context.Context, url, dir, name string) []browser.PresetCapture
	ScanAccessibility(ctx context.Context, url string) remote.Result[browser.AccessibilityReport]
}

// Comparer diffs two screenshots.
type Comparer interface {
	Compare(ctx context.Context, basePath, candidatePath string, threshold float64) remote.Result[visual.Comparison]
}

// Baselines stores reference screenshots by test name.
type Baselines interface {
	Path(name string) string
	Exists(name string) bool
	Establish(name, candidatePath string) (string, error)
	List(pattern string) ([]string, error)
}

// Generator renders an artifact from a frame and its file's tokens.
type Generator interface {
	Generate(name string, frame figma.Frame, tokens figma.Tokens) (codegen.Artifact, error)
}

// ArtifactWriter persists an artifact under root.
type ArtifactWriter interface {
	Write(root string, a codegen.Artifact) ([]string, error)
}
