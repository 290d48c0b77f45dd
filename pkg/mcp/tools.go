package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Tool names.
const (
	ToolGenerateComponent  = "generate_component"
	ToolTestImplementation = "test_implementation"
	ToolCreatePullRequest  = "create_pull_request"
	ToolAnalyzeDesign      = "analyze_design"
	ToolCreateBranch       = "create_branch"
	ToolListBaselines      = "list_baselines"
	ToolRepositoryInfo     = "repository_info"
)

const (
	designDesc = "Figma file key or share URL (https://www.figma.com/design/<key>/...). A node-id in the URL is used unless node_id is given."
	nodeDesc   = "Design node id, either 1:2 or the URL form 1-2."
	nameDesc   = "Component name. Normalised to PascalCase."
)

func generateComponentTool() mcp.Tool {
	return mcp.NewTool(ToolGenerateComponent,
		mcp.WithDescription("Generate a React component from a design frame, write it to the output directory and commit it to a new branch."),
		mcp.WithString("design", mcp.Required(), mcp.Description(designDesc)),
		mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
		mcp.WithString("node_id", mcp.Description(nodeDesc)),
		mcp.WithString("output_dir", mcp.Description("Local output directory. Defaults to the project setting.")),
		mcp.WithString("branch", mcp.Description("Branch to create. Defaults to feature/<name>-YYYYMMDD.")),
		mcp.WithString("base_branch", mcp.Description("Branch to start from. Defaults to the project setting.")),
		mcp.WithDestructiveHintAnnotation(false),
	)
}

func testImplementationTool() mcp.Tool {
	return mcp.NewTool(ToolTestImplementation,
		mcp.WithDescription("Run visual regression, responsive, accessibility and design reference checks against a running page. Each check passes or fails on its own."),
		mcp.WithString("design", mcp.Required(), mcp.Description(designDesc)),
		mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL where the component is rendered.")),
		mcp.WithString("node_id", mcp.Description(nodeDesc)),
		mcp.WithNumber("threshold",
			mcp.Description("Per-pixel colour tolerance between 0 and 1. Defaults to 0.1."),
			mcp.Min(0),
			mcp.Max(1),
		),
	)
}

func createPullRequestTool() mcp.Tool {
	return mcp.NewTool(ToolCreatePullRequest,
		mcp.WithDescription("Open a pull request for a generated component, including the latest test results for it."),
		mcp.WithString("name", mcp.Required(), mcp.Description(nameDesc)),
		mcp.WithString("branch", mcp.Required(), mcp.Description("Head branch holding the component.")),
		mcp.WithString("design", mcp.Required(), mcp.Description(designDesc)),
		mcp.WithString("node_id", mcp.Description(nodeDesc)),
		mcp.WithString("base_branch", mcp.Description("Branch to merge into. Defaults to the project setting.")),
		mcp.WithString("title", mcp.Description("Pull request title. Defaults to feat(<name>): add <name> component.")),
		mcp.WithBoolean("draft", mcp.Description("Open as a draft.")),
	)
}

func analyzeDesignTool() mcp.Tool {
	return mcp.NewTool(ToolAnalyzeDesign,
		mcp.WithDescription("Summarise a design file: tokens, components and, when a node is given, its frame."),
		mcp.WithString("design", mcp.Required(), mcp.Description(designDesc)),
		mcp.WithString("node_id", mcp.Description(nodeDesc)),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func createBranchTool() mcp.Tool {
	return mcp.NewTool(ToolCreateBranch,
		mcp.WithDescription("Create a branch in the configured repository."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Branch name.")),
		mcp.WithString("base_branch", mcp.Description("Branch to start from. Defaults to the project setting.")),
	)
}

func listBaselinesTool() mcp.Tool {
	return mcp.NewTool(ToolListBaselines,
		mcp.WithDescription("List stored baseline screenshots."),
		mcp.WithString("pattern", mcp.Description("Glob relative to the baseline directory, ** allowed. Defaults to **/*.png.")),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}

func repositoryInfoTool() mcp.Tool {
	return mcp.NewTool(ToolRepositoryInfo,
		mcp.WithDescription("Describe the configured repository and list its branches."),
		mcp.WithReadOnlyHintAnnotation(true),
	)
}
