package workflow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gnana997/designflow/pkg/figma"
	"github.com/gnana997/designflow/pkg/githost"
	"github.com/gnana997/designflow/pkg/remote"
)

// AnalyzeDesign fetches tokens and components for the file, and the frame when
// loc names a node, concurrently. Slots fail independently; the call fails only
// when every slot failed.
func (o *Orchestrator) AnalyzeDesign(ctx context.Context, loc figma.Locator) (res remote.Result[DesignAnalysis]) {
	start := time.Now()
	defer finish(o, WorkflowAnalyze, start, &res)

	if loc.FileKey == "" {
		return invalid[DesignAnalysis]("a design file key is required")
	}

	var (
		frame      remote.Result[figma.Frame]
		tokens     remote.Result[figma.Tokens]
		components remote.Result[[]figma.Component]
		g          errgroup.Group
	)
	if loc.NodeID != "" {
		g.Go(slot(o, "fetch_frame", &frame, func() remote.Result[figma.Frame] {
			return o.design.FetchFrame(ctx, loc.FileKey, loc.NodeID)
		}))
	}
	g.Go(slot(o, "analyze_tokens", &tokens, func() remote.Result[figma.Tokens] {
		return o.design.AnalyzeTokens(ctx, loc.FileKey)
	}))
	g.Go(slot(o, "extract_components", &components, func() remote.Result[[]figma.Component] {
		return o.design.ExtractComponents(ctx, loc.FileKey)
	}))
	_ = g.Wait()

	out := DesignAnalysis{
		FileKey:    loc.FileKey,
		NodeID:     loc.NodeID,
		URL:        loc.URL(),
		Tokens:     tokens,
		Components: components,
	}
	if loc.NodeID != "" {
		out.Frame = &frame
	}

	if !tokens.Success && !components.Success && (out.Frame == nil || !frame.Success) {
		// Tokens and components read the same file, so its failure is the cause.
		return remote.Forward[DesignAnalysis](tokens)
	}
	return remote.OK(out)
}

// RepositoryInfo returns repository metadata with its branch listing. A failed
// listing is reported inside the overview.
func (o *Orchestrator) RepositoryInfo(ctx context.Context) (res remote.Result[RepositoryOverview]) {
	start := time.Now()
	defer finish(o, WorkflowRepository, start, &res)

	var (
		repo     remote.Result[githost.Repository]
		branches remote.Result[[]githost.BranchInfo]
		g        errgroup.Group
	)
	g.Go(slot(o, "repository", &repo, func() remote.Result[githost.Repository] {
		return o.host.RepositoryInfo(ctx)
	}))
	g.Go(slot(o, "list_branches", &branches, func() remote.Result[[]githost.BranchInfo] {
		return o.host.ListBranches(ctx)
	}))
	_ = g.Wait()

	if !repo.Success {
		return remote.Forward[RepositoryOverview](repo)
	}
	return remote.OK(RepositoryOverview{Repository: repo.Data, Branches: branches})
}
