package workflow

import (
	"context"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gnana997/designflow/pkg/codegen"
	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/githost"
	"github.com/gnana997/designflow/pkg/remote"
)

// GenerateAndCommit fetches the frame and tokens while creating the branch,
// generates the component, writes it under wc.OutputDir and commits it to the
// branch.
//
// Any failure among the three concurrent steps aborts before generation and
// is reported in the order frame, tokens, branch. A failed commit leaves the
// new branch in place.
func (o *Orchestrator) GenerateAndCommit(ctx context.Context, wc *Context) (res remote.Result[GenerateResult]) {
	start := time.Now()
	defer finish(o, WorkflowGenerate, start, &res)

	if wc == nil {
		return invalid[GenerateResult]("workflow context is required")
	}
	if wc.FileKey == "" || wc.NodeID == "" {
		return invalid[GenerateResult]("a design file key and node id are required")
	}
	name, err := codegen.ComponentName(wc.ComponentName)
	if err != nil {
		return invalid[GenerateResult]("%v", err)
	}
	wc.ComponentName = name
	if wc.OutputDir == "" {
		wc.OutputDir = o.cfg.OutputDir
	}
	if wc.BaseBranch == "" {
		wc.BaseBranch = o.cfg.BaseBranch
	}
	if wc.Branch == "" {
		wc.Branch = DefaultBranchName(name, o.cfg.Now())
	}

	log := o.logger.With("workflow", WorkflowGenerate, "component", name, "file", wc.FileKey, "node", wc.NodeID)
	log.Info("generating component", "branch", wc.Branch, "base", wc.BaseBranch)

	var (
		frame  remote.Result[figma.Frame]
		tokens remote.Result[figma.Tokens]
		branch remote.Result[githost.Branch]
		g      errgroup.Group
	)
	g.Go(slot(o, "fetch_frame", &frame, func() remote.Result[figma.Frame] {
		return o.design.FetchFrame(ctx, wc.FileKey, wc.NodeID)
	}))
	g.Go(slot(o, "analyze_tokens", &tokens, func() remote.Result[figma.Tokens] {
		return o.design.AnalyzeTokens(ctx, wc.FileKey)
	}))
	g.Go(slot(o, "create_branch", &branch, func() remote.Result[githost.Branch] {
		return o.host.CreateBranch(ctx, wc.Branch, wc.BaseBranch)
	}))
	_ = g.Wait()

	switch {
	case !frame.Success:
		return remote.Forward[GenerateResult](frame)
	case !tokens.Success:
		return remote.Forward[GenerateResult](tokens)
	case !branch.Success:
		return remote.Forward[GenerateResult](branch)
	}

	artifact, err := o.generator.Generate(name, frame.Data, tokens.Data)
	if err != nil {
		return remote.Failf[GenerateResult](remote.KindInternal, "generate %s: %v", name, err)
	}

	written, err := o.writer.Write(wc.OutputDir, artifact)
	if err != nil {
		return remote.Failf[GenerateResult](remote.KindInternal, "write %s: %v", name, err)
	}

	files := artifact.Files(o.repoPrefix(wc))
	commitFiles := make([]githost.File, len(files))
	repoPaths := make([]string, len(files))
	for i, f := range files {
		commitFiles[i] = githost.File{Path: f.Path, Content: f.Content}
		repoPaths[i] = f.Path
	}

	commit := o.host.CreateCommit(ctx, wc.Branch, commitFiles, CommitMessage(name, frame.Data.Name, wc.NodeID))
	if !commit.Success {
		log.Warn("commit failed, branch left in place", "branch", wc.Branch, "error", commit.Error)
		return remote.Forward[GenerateResult](commit)
	}

	log.Info("component committed", "sha", commit.Data.SHA, "files", len(repoPaths))
	return remote.OK(GenerateResult{
		Artifact:  artifact,
		Frame:     frame.Data,
		Tokens:    tokens.Data,
		Branch:    branch.Data,
		CommitSHA: commit.Data.SHA,
		CommitURL: commit.Data.URL,
		Files:     repoPaths,
		Written:   written,
	})
}

// repoPrefix is the configured prefix, or the call's output dir when it was
// overridden with a relative path.
func (o *Orchestrator) repoPrefix(wc *Context) string {
	if wc.OutputDir != "" && wc.OutputDir != o.cfg.OutputDir && !filepath.IsAbs(wc.OutputDir) && !strings.HasPrefix(wc.OutputDir, "..") {
		return strings.Trim(path.Clean(strings.ReplaceAll(wc.OutputDir, `\`, "/")), "/")
	}
	return o.cfg.RepoPrefix
}

// CreateBranch creates name from base, defaulting base to the configured branch.
func (o *Orchestrator) CreateBranch(ctx context.Context, name, base string) (res remote.Result[githost.Branch]) {
	start := time.Now()
	defer finish(o, WorkflowCreateBranch, start, &res)

	if strings.TrimSpace(name) == "" {
		return invalid[githost.Branch]("branch name is required")
	}
	if base == "" {
		base = o.cfg.BaseBranch
	}
	return o.host.CreateBranch(ctx, name, base)
}
