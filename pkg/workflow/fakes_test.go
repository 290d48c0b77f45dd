package workflow_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gnana997/designflow/pkg/browser"
	"github.com/gnana997/designflow/pkg/codegen"
	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/githost"
	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/parser"
	"github.com/gnana997/designflow/pkg/remote"
	"github.com/gnana997/designflow/pkg/visual"
	"github.com/gnana997/designflow/pkg/workflow"
)

var fixedNow = time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)

// recorder keeps the order in which fakes were called.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) index(prefix string) int {
	for i, c := range r.list() {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}

type fakeDesign struct {
	rec *recorder

	frame      func(fileKey, nodeID string) remote.Result[figma.Frame]
	tokens     func(fileKey string) remote.Result[figma.Tokens]
	images     func(fileKey string, ids []string) remote.Result[map[string]string]
	components func(fileKey string) remote.Result[[]figma.Component]
}

func newFakeDesign(rec *recorder) *fakeDesign {
	return &fakeDesign{
		rec: rec,
		frame: func(_, nodeID string) remote.Result[figma.Frame] {
			return remote.OK(figma.Frame{
				ID:              nodeID,
				Name:            "Hero Button",
				Type:            "FRAME",
				Width:           320,
				Height:          80,
				BackgroundColor: figma.DefaultBackground,
			})
		},
		tokens: func(string) remote.Result[figma.Tokens] {
			return remote.OK(figma.Tokens{})
		},
		images: func(fileKey string, ids []string) remote.Result[map[string]string] {
			out := make(map[string]string, len(ids))
			for _, id := range ids {
				out[id] = "https://images.example/" + fileKey + "/" + id + ".png"
			}
			return remote.OK(out)
		},
		components: func(string) remote.Result[[]figma.Component] {
			return remote.OK([]figma.Component{{ID: "3:4", Name: "Button"}})
		},
	}
}

func (d *fakeDesign) FetchFrame(_ context.Context, fileKey, nodeID string) remote.Result[figma.Frame] {
	d.rec.add("fetch_frame %s %s", fileKey, nodeID)
	return d.frame(fileKey, nodeID)
}

func (d *fakeDesign) FetchImages(_ context.Context, fileKey string, ids []string, format string, scale float64) remote.Result[map[string]string] {
	d.rec.add("fetch_images %s %s %s %v", fileKey, strings.Join(ids, ","), format, scale)
	return d.images(fileKey, ids)
}

func (d *fakeDesign) AnalyzeTokens(_ context.Context, fileKey string) remote.Result[figma.Tokens] {
	d.rec.add("analyze_tokens %s", fileKey)
	return d.tokens(fileKey)
}

func (d *fakeDesign) ExtractComponents(_ context.Context, fileKey string) remote.Result[[]figma.Component] {
	d.rec.add("extract_components %s", fileKey)
	return d.components(fileKey)
}

type fakeHost struct {
	rec *recorder

	mu      sync.Mutex
	commits []commitCall
	prs     []githost.PullRequestInput

	branchResult func(name string) remote.Result[githost.Branch]
	commitResult func() remote.Result[githost.Commit]
	branchList   func() remote.Result[[]githost.BranchInfo]
	repo         func() remote.Result[githost.Repository]
}

type commitCall struct {
	Branch  string
	Files   []githost.File
	Message string
}

func newFakeHost(rec *recorder) *fakeHost {
	return &fakeHost{
		rec: rec,
		branchResult: func(name string) remote.Result[githost.Branch] {
			return remote.OK(githost.Branch{Name: name, BaseSHA: "base123"})
		},
		commitResult: func() remote.Result[githost.Commit] {
			return remote.OK(githost.Commit{SHA: "c0ffee", URL: "https://git.example/commit/c0ffee"})
		},
		branchList: func() remote.Result[[]githost.BranchInfo] {
			return remote.OK([]githost.BranchInfo{{Name: "main", SHA: "base123", Protected: true}})
		},
		repo: func() remote.Result[githost.Repository] {
			return remote.OK(githost.Repository{FullName: "acme/web", DefaultBranch: "main"})
		},
	}
}

func (h *fakeHost) CreateBranch(_ context.Context, name, base string) remote.Result[githost.Branch] {
	h.rec.add("create_branch %s %s", name, base)
	return h.branchResult(name)
}

func (h *fakeHost) CreateCommit(_ context.Context, branch string, files []githost.File, message string) remote.Result[githost.Commit] {
	h.rec.add("create_commit %s", branch)
	h.mu.Lock()
	h.commits = append(h.commits, commitCall{Branch: branch, Files: files, Message: message})
	h.mu.Unlock()
	return h.commitResult()
}

func (h *fakeHost) CreatePullRequest(_ context.Context, in githost.PullRequestInput) remote.Result[githost.PullRequest] {
	h.rec.add("create_pull_request %s %s", in.Head, in.Base)
	h.mu.Lock()
	h.prs = append(h.prs, in)
	n := len(h.prs)
	h.mu.Unlock()
	return remote.OK(githost.PullRequest{Number: n, URL: fmt.Sprintf("https://git.example/pull/%d", n), Title: in.Title, Draft: in.Draft})
}

func (h *fakeHost) ListBranches(context.Context) remote.Result[[]githost.BranchInfo] {
	h.rec.add("list_branches")
	return h.branchList()
}

func (h *fakeHost) RepositoryInfo(context.Context) remote.Result[githost.Repository] {
	h.rec.add("repository_info")
	return h.repo()
}

type fakeTester struct {
	capture func(vp browser.Viewport, path string) remote.Result[browser.Screenshot]
	issues  []browser.Issue

	// enter gates CaptureResponsive and ScanAccessibility when set.
	enter func() bool
}

func newFakeTester() *fakeTester {
	return &fakeTester{
		capture: func(vp browser.Viewport, path string) remote.Result[browser.Screenshot] {
			return remote.OK(browser.Screenshot{Viewport: vp, Path: path, Bytes: 128})
		},
	}
}

func (f *fakeTester) Capture(_ context.Context, _ string, vp browser.Viewport, path string) remote.Result[browser.Screenshot] {
	return f.capture(vp, path)
}

func (f *fakeTester) CaptureResponsive(_ context.Context, _, dir, name string) []browser.PresetCapture {
	entered := f.enter == nil || f.enter()
	out := make([]browser.PresetCapture, len(browser.Presets))
	for i, vp := range browser.Presets {
		if !entered {
			out[i] = browser.PresetCapture{Viewport: vp, Result: remote.Failf[browser.Screenshot](remote.KindTimeout, "ran alone")}
			continue
		}
		path := filepath.Join(dir, name+"-"+vp.Name+".png")
		out[i] = browser.PresetCapture{Viewport: vp, Result: remote.OK(browser.Screenshot{Viewport: vp, Path: path})}
	}
	return out
}

func (f *fakeTester) ScanAccessibility(_ context.Context, url string) remote.Result[browser.AccessibilityReport] {
	if f.enter != nil && !f.enter() {
		return remote.Failf[browser.AccessibilityReport](remote.KindTimeout, "ran alone")
	}
	return remote.OK(browser.AccessibilityReport{URL: url, Issues: f.issues})
}

// barrier releases its callers once n of them are waiting at the same time.
// A caller that waits longer than the timeout gets false.
type barrier struct {
	mu      sync.Mutex
	n       int
	waiting int
	all     chan struct{}
	timeout time.Duration
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, all: make(chan struct{}), timeout: 2 * time.Second}
}

func (b *barrier) arrive() bool {
	b.mu.Lock()
	b.waiting++
	if b.waiting == b.n {
		close(b.all)
	}
	b.mu.Unlock()

	select {
	case <-b.all:
		return true
	case <-time.After(b.timeout):
		return false
	}
}

type fakeComparer struct {
	similarity float64
}

func (c *fakeComparer) Compare(_ context.Context, base, cand string, threshold float64) remote.Result[visual.Comparison] {
	return remote.OK(visual.Comparison{
		BaselinePath:  base,
		CandidatePath: cand,
		DiffPath:      visual.DiffPath(cand),
		Similarity:    c.similarity,
		TotalPixels:   100,
		DiffPixels:    int(100 - c.similarity),
		Threshold:     threshold,
		Passed:        c.similarity >= 100-threshold*100,
	})
}

type fakeBaselines struct {
	mu    sync.Mutex
	names map[string]string
}

func newFakeBaselines(names ...string) *fakeBaselines {
	b := &fakeBaselines{names: make(map[string]string)}
	for _, n := range names {
		b.names[n] = b.Path(n)
	}
	return b
}

func (b *fakeBaselines) Path(name string) string { return "/baselines/" + name + ".png" }

func (b *fakeBaselines) Exists(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.names[name]
	return ok
}

func (b *fakeBaselines) Establish(name, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[name] = b.Path(name)
	return b.names[name], nil
}

func (b *fakeBaselines) List(string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.names))
	for n := range b.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(string, figma.Frame, figma.Tokens) (codegen.Artifact, error) {
	panic("template exploded")
}

type harness struct {
	rec       *recorder
	design    *fakeDesign
	host      *fakeHost
	tester    *fakeTester
	comparer  *fakeComparer
	baselines *fakeBaselines
	metrics   *metrics.Metrics
	deps      workflow.Deps
	cfg       workflow.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := &recorder{}
	gen, err := codegen.NewGenerator(parser.NewParserManager(nil))
	require.NoError(t, err)

	h := &harness{
		rec:       rec,
		design:    newFakeDesign(rec),
		host:      newFakeHost(rec),
		tester:    newFakeTester(),
		comparer:  &fakeComparer{similarity: 100},
		baselines: newFakeBaselines(),
		metrics:   metrics.New(),
	}
	h.deps = workflow.Deps{
		Design:    h.design,
		Host:      h.host,
		Generator: gen,
		Writer:    codegen.Writer{},
		Tester:    h.tester,
		Comparer:  h.comparer,
		Baselines: h.baselines,
		Metrics:   h.metrics,
	}
	h.cfg = workflow.Config{
		ScreenshotDir: t.TempDir(),
		Now:           func() time.Time { return fixedNow },
	}
	return h
}

func (h *harness) orchestrator(t *testing.T) *workflow.Orchestrator {
	t.Helper()
	o, err := workflow.New(h.deps, h.cfg)
	require.NoError(t, err)
	return o
}
