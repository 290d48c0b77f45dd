package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gnana997/designflow/pkg/codegen"
	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/githost"
	"github.com/gnana997/designflow/pkg/remote"
)

// NoTestsSummary is the summary used when no test results are available.
const NoTestsSummary = "No tests were executed."

// Summarize renders pass/fail counts followed by one line per test.
func Summarize(results []TestResult) string {
	if len(results) == 0 {
		return NoTestsSummary
	}
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d passed, %d failed (%d total)\n", passed, len(results)-passed, len(results))
	for _, r := range results {
		mark := "PASS"
		if !r.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "\n- %s %s", mark, r.Name)
		if r.Error != "" {
			fmt.Fprintf(&b, ": %s", r.Error)
		}
	}
	return b.String()
}

// DefaultTitle is the pull request title used when none is given.
func DefaultTitle(component string) string {
	return fmt.Sprintf("feat(%s): add %s component", component, component)
}

// ChangeRequestBody renders the pull request description for a component.
func ChangeRequestBody(wc *Context, summary, usage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Component\n\n`%s`\n\n", wc.ComponentName)

	b.WriteString("## Design source\n\n")
	fmt.Fprintf(&b, "- File key: `%s`\n", wc.FileKey)
	if wc.NodeID != "" {
		fmt.Fprintf(&b, "- Node id: `%s`\n", wc.NodeID)
	}
	if wc.FileKey != "" {
		fmt.Fprintf(&b, "- Link: %s\n", figma.Locator{FileKey: wc.FileKey, NodeID: wc.NodeID}.URL())
	}

	fmt.Fprintf(&b, "\n## Test results\n\n%s\n", summary)
	fmt.Fprintf(&b, "\n## Usage\n\n```tsx\n%s\n```\n", strings.TrimRight(usage, "\n"))
	return b.String()
}

// OpenChangeRequest opens a pull request from wc.Branch into the base branch.
// When wc carries no test results, the latest recorded run for the component
// is used instead. An empty summary is not an error.
func (o *Orchestrator) OpenChangeRequest(ctx context.Context, wc *Context, opts ChangeRequestOptions) (res remote.Result[githost.PullRequest]) {
	start := time.Now()
	defer finish(o, WorkflowChangeRequest, start, &res)

	if wc == nil || wc.ComponentName == "" {
		return invalid[githost.PullRequest]("a component name is required")
	}
	name, err := codegen.ComponentName(wc.ComponentName)
	if err != nil {
		return invalid[githost.PullRequest]("%v", err)
	}
	wc.ComponentName = name
	if wc.Branch == "" {
		return invalid[githost.PullRequest]("a head branch is required")
	}
	if wc.BaseBranch == "" {
		wc.BaseBranch = o.cfg.BaseBranch
	}
	if wc.Branch == wc.BaseBranch {
		return invalid[githost.PullRequest]("head and base are both %q", wc.Branch)
	}

	results := wc.TestResults
	if len(results) == 0 {
		if run, ok := o.runs.Latest(wc.ComponentName); ok {
			o.logger.Debug("using recorded test run", "component", wc.ComponentName, "run", run.ID)
			results = run.Results
		}
	}

	title := strings.TrimSpace(opts.Title)
	if title == "" {
		title = DefaultTitle(wc.ComponentName)
	}
	body := ChangeRequestBody(wc, Summarize(results), codegen.Usage(codegen.Artifact{Name: wc.ComponentName, Path: wc.ComponentName}, o.cfg.ImportRoot))

	return o.host.CreatePullRequest(ctx, githost.PullRequestInput{
		Title: title,
		Body:  body,
		Head:  wc.Branch,
		Base:  wc.BaseBranch,
		Draft: opts.Draft,
	})
}
