package workflow

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gnana997/designflow/pkg/browser"
	"github.com/gnana997/designflow/pkg/codegen"
	"github.com/gnana997/designflow/pkg/remote"
	"github.com/gnana997/designflow/pkg/visual"
)

// Names of the visual test slots.
const (
	TestVisualRegression = "visual-regression"
	TestResponsivePrefix = "responsive-"
	TestAccessibility    = "accessibility"
	TestDesignReference  = "design-reference"
)

// regression is the outcome of the visual regression slot.
type regression struct {
	Candidate   string             `json:"candidate"`
	Baseline    string             `json:"baseline"`
	Established bool               `json:"baseline_established"`
	Comparison  *visual.Comparison `json:"comparison,omitempty"`
}

// VisualTest runs four independent checks against targetURL concurrently:
// visual regression at the desktop preset, responsive captures, an
// accessibility scan and a design reference render. Each check reports its
// own outcome; one failing never marks another failed.
//
// threshold <= 0 uses the configured default. The flattened results are stored
// on wc and recorded in the run store under the component name.
func (o *Orchestrator) VisualTest(ctx context.Context, wc *Context, targetURL string, threshold float64) (res remote.Result[VisualReport]) {
	start := time.Now()
	defer finish(o, WorkflowVisualTest, start, &res)

	if o.tester == nil || o.comparer == nil || o.baselines == nil {
		return remote.Fail[VisualReport](&remote.Error{Kind: remote.KindInternal, Op: WorkflowVisualTest, Err: errNotConfigured, Message: errNotConfigured.Error()})
	}
	if wc == nil || wc.ComponentName == "" {
		return invalid[VisualReport]("a component name is required")
	}
	name, err := codegen.ComponentName(wc.ComponentName)
	if err != nil {
		return invalid[VisualReport]("%v", err)
	}
	wc.ComponentName = name
	if u, err := url.Parse(targetURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid[VisualReport]("%q is not an http(s) URL", targetURL)
	}
	if threshold <= 0 {
		threshold = o.cfg.Threshold
	}
	if threshold > 1 {
		return invalid[VisualReport]("threshold %v is outside 0..1", threshold)
	}

	log := o.logger.With("workflow", WorkflowVisualTest, "component", name, "url", targetURL)
	log.Info("running visual tests", "threshold", threshold)

	var (
		reg        remote.Result[regression]
		responsive remote.Result[[]browser.PresetCapture]
		a11y       remote.Result[browser.AccessibilityReport]
		images     remote.Result[map[string]string]
		g          errgroup.Group
	)
	g.Go(slot(o, TestVisualRegression, &reg, func() remote.Result[regression] {
		return o.regression(ctx, name, targetURL, threshold)
	}))
	g.Go(slot(o, "responsive", &responsive, func() remote.Result[[]browser.PresetCapture] {
		dir := filepath.Join(o.cfg.ScreenshotDir, "responsive")
		return remote.OK(o.tester.CaptureResponsive(ctx, targetURL, dir, name))
	}))
	g.Go(slot(o, TestAccessibility, &a11y, func() remote.Result[browser.AccessibilityReport] {
		return o.tester.ScanAccessibility(ctx, targetURL)
	}))
	withReference := wc.FileKey != "" && wc.NodeID != ""
	if withReference {
		g.Go(slot(o, TestDesignReference, &images, func() remote.Result[map[string]string] {
			return o.design.FetchImages(ctx, wc.FileKey, []string{wc.NodeID}, "png", 1)
		}))
	}
	_ = g.Wait()

	report := VisualReport{Component: name, URL: targetURL}
	report.Results = append(report.Results, regressionResult(reg))
	if reg.Success {
		report.Comparison = reg.Data.Comparison
	}
	report.Results = append(report.Results, responsiveResults(responsive)...)
	report.Results = append(report.Results, accessibilityResult(a11y))
	if withReference {
		report.Results = append(report.Results, referenceResult(images, wc.NodeID))
	}

	for _, r := range report.Results {
		if r.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	report.Summary = Summarize(report.Results)

	wc.TestResults = report.Results
	o.runs.Record(name, targetURL, report.Results, o.cfg.Now())

	log.Info("visual tests finished", "passed", report.Passed, "failed", report.Failed)
	return remote.OK(report)
}

// regression captures the desktop candidate, then either establishes the
// baseline on first run or compares against it.
func (o *Orchestrator) regression(ctx context.Context, name, targetURL string, threshold float64) remote.Result[regression] {
	candidate := filepath.Join(o.cfg.ScreenshotDir, name+".png")
	shot := o.tester.Capture(ctx, targetURL, browser.Desktop, candidate)
	if !shot.Success {
		return remote.Forward[regression](shot)
	}

	baselineName := name + "-" + browser.Desktop.Name
	if !o.baselines.Exists(baselineName) {
		path, err := o.baselines.Establish(baselineName, shot.Data.Path)
		if err != nil {
			return remote.Failf[regression](remote.KindInternal, "establish baseline: %v", err)
		}
		return remote.OK(regression{Candidate: shot.Data.Path, Baseline: path, Established: true})
	}

	base := o.baselines.Path(baselineName)
	cmp := o.comparer.Compare(ctx, base, shot.Data.Path, threshold)
	if !cmp.Success {
		return remote.Forward[regression](cmp)
	}
	return remote.OK(regression{Candidate: shot.Data.Path, Baseline: base, Comparison: &cmp.Data})
}

func regressionResult(r remote.Result[regression]) TestResult {
	if !r.Success {
		return TestResult{Name: TestVisualRegression, Error: r.String()}
	}
	if r.Data.Established {
		return TestResult{Name: TestVisualRegression, Passed: true, Details: r.Data}
	}
	tr := TestResult{Name: TestVisualRegression, Passed: r.Data.Comparison.Passed, Details: r.Data}
	if !tr.Passed {
		c := r.Data.Comparison
		tr.Error = fmt.Sprintf("similarity %.2f%% is below %.2f%% (%d of %d pixels differ, diff at %s)",
			c.Similarity, 100-c.Threshold*100, c.DiffPixels, c.TotalPixels, c.DiffPath)
	}
	return tr
}

func responsiveResults(r remote.Result[[]browser.PresetCapture]) []TestResult {
	if !r.Success {
		out := make([]TestResult, len(browser.Presets))
		for i, vp := range browser.Presets {
			out[i] = TestResult{Name: TestResponsivePrefix + vp.Name, Error: r.String()}
		}
		return out
	}
	out := make([]TestResult, len(r.Data))
	for i, pc := range r.Data {
		tr := TestResult{Name: TestResponsivePrefix + pc.Viewport.Name, Passed: pc.Result.Success}
		if pc.Result.Success {
			tr.Details = pc.Result.Data
		} else {
			tr.Error = pc.Result.String()
		}
		out[i] = tr
	}
	return out
}

func accessibilityResult(r remote.Result[browser.AccessibilityReport]) TestResult {
	if !r.Success {
		return TestResult{Name: TestAccessibility, Error: r.String()}
	}
	tr := TestResult{Name: TestAccessibility, Passed: r.Data.Passed(), Details: r.Data}
	if !tr.Passed {
		tr.Error = fmt.Sprintf("%d accessibility issue(s) found", len(r.Data.Issues))
	}
	return tr
}

func referenceResult(r remote.Result[map[string]string], nodeID string) TestResult {
	if !r.Success {
		return TestResult{Name: TestDesignReference, Error: r.String()}
	}
	u, ok := r.Data[nodeID]
	if !ok {
		return TestResult{Name: TestDesignReference, Error: fmt.Sprintf("no render returned for node %s", nodeID)}
	}
	return TestResult{Name: TestDesignReference, Passed: true, Details: map[string]string{"image_url": u}}
}

// ListBaselines returns baseline names matching pattern.
func (o *Orchestrator) ListBaselines(pattern string) (res remote.Result[[]string]) {
	start := time.Now()
	defer finish(o, WorkflowBaselines, start, &res)

	if o.baselines == nil {
		return remote.Fail[[]string](&remote.Error{Kind: remote.KindInternal, Op: WorkflowBaselines, Err: errNotConfigured, Message: errNotConfigured.Error()})
	}
	names, err := o.baselines.List(pattern)
	if err != nil {
		return invalid[[]string]("%v", err)
	}
	return remote.OK(names)
}
