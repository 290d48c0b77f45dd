package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gnana997/designflow/pkg/config"
	mcpserver "github.com/gnana997/designflow/pkg/mcp"
)

// AgentDef defines how to detect and configure one AI agent.
type AgentDef struct {
	ID          string
	DisplayName string
	Method      string                  // "cli" or "file"
	Binary      string                  // for CLI agents: binary name on PATH
	DirMarkers  []string                // for file-based: dirs that indicate presence
	ConfigPath  func(dir string) string // returns resolved config file path
	ServersKey  string                  // JSON key: "servers" (VS Code) or "mcpServers" (others)
	NeedsScope  bool                    // whether to prompt for project/user scope
	ExtraFields map[string]string       // extra JSON fields (e.g. "type": "stdio" for VS Code)
}

// DetectedAgent is an agent found on the system.
type DetectedAgent struct {
	Def            AgentDef
	AlreadySetup   bool
	ResolvedConfig string // resolved config path for file-based agents
}

// setupOptions holds parsed flags for the setup command.
type setupOptions struct {
	auto    bool
	skipEnv bool
	skipMCP bool
	dir     string
}

// requiredTokens are prompted for and stored in .env.
var requiredTokens = []string{"FIGMA_ACCESS_TOKEN", "GITHUB_TOKEN"}

// Replaceable for testing.
var lookPathFunc = exec.LookPath
var statFunc = os.Stat
var runCommandFunc = func(dir, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// agentRegistry lists all supported agents in display order.
var agentRegistry = []AgentDef{
	{
		ID: "claude_code", DisplayName: "Claude Code",
		Method: "cli", Binary: "claude", NeedsScope: true,
	},
	{
		ID: "openai_codex", DisplayName: "OpenAI Codex",
		Method: "cli", Binary: "codex", NeedsScope: true,
	},
	{
		ID: "vscode_copilot", DisplayName: "VS Code Copilot",
		Method: "file", DirMarkers: []string{".vscode"},
		ConfigPath:  func(dir string) string { return filepath.Join(dir, ".vscode", "mcp.json") },
		ServersKey:  "servers",
		ExtraFields: map[string]string{"type": "stdio"},
	},
	{
		ID: "cursor", DisplayName: "Cursor",
		Method: "file", DirMarkers: []string{".cursor"},
		ConfigPath: func(dir string) string { return filepath.Join(dir, ".cursor", "mcp.json") },
		ServersKey: "mcpServers",
	},
	{
		ID: "claude_desktop", DisplayName: "Claude Desktop",
		Method:     "file",
		ConfigPath: func(string) string { return claudeDesktopConfigPath() },
		ServersKey: "mcpServers",
	},
}

// claudeDesktopConfigPath returns the OS-specific Claude Desktop config path.
func claudeDesktopConfigPath() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Claude", "claude_desktop_config.json")
	default: // linux
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json")
	}
}

func newSetupCommand(root *rootOptions) *cobra.Command {
	opts := setupOptions{}
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Store API tokens in .env and register the server with detected AI agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.dir = root.dir
			if opts.dir == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				opts.dir = wd
			}
			return executeSetup(cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.auto, "auto", false, "Configure every detected agent without prompting")
	cmd.Flags().BoolVar(&opts.skipEnv, "skip-env", false, "Do not prompt for API tokens")
	cmd.Flags().BoolVar(&opts.skipMCP, "skip-agents", false, "Do not register with AI agents")
	return cmd
}

// detectAgents scans the system for installed/accessible AI agents.
func detectAgents(dir string) []DetectedAgent {
	var detected []DetectedAgent

	for _, def := range agentRegistry {
		switch def.Method {
		case "cli":
			if _, err := lookPathFunc(def.Binary); err == nil {
				d := DetectedAgent{Def: def}
				d.AlreadySetup = isAlreadyConfigured(filepath.Join(dir, ".mcp.json"), "mcpServers")
				detected = append(detected, d)
			}

		case "file":
			found := false
			configPath := ""

			// Project-level agents are present when their directory is.
			for _, marker := range def.DirMarkers {
				if _, err := statFunc(filepath.Join(dir, marker)); err == nil {
					found = true
					if def.ConfigPath != nil {
						configPath = def.ConfigPath(dir)
					}
					break
				}
			}

			// Agents without markers count when their config directory exists.
			if !found && len(def.DirMarkers) == 0 && def.ConfigPath != nil {
				configPath = def.ConfigPath(dir)
				if _, err := statFunc(filepath.Dir(configPath)); err == nil {
					found = true
				}
			}

			if found {
				d := DetectedAgent{Def: def, ResolvedConfig: configPath}
				if configPath != "" {
					d.AlreadySetup = isAlreadyConfigured(configPath, def.ServersKey)
				}
				detected = append(detected, d)
			}
		}
	}

	return detected
}

// isAlreadyConfigured checks if a designflow entry exists in a JSON config file.
func isAlreadyConfigured(configPath, serversKey string) bool {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return false
	}
	var cfg map[string]any
	if err := json.Unmarshal(data, &cfg); err != nil {
		return false
	}
	servers, ok := cfg[serversKey].(map[string]any)
	if !ok {
		return false
	}
	_, exists := servers[mcpserver.ServerName]
	return exists
}

// serverEntry returns the MCP server config object for designflow.
func serverEntry(extra map[string]string) map[string]any {
	entry := map[string]any{
		"command": "designflow",
		"args":    []any{"serve"},
	}
	for k, v := range extra {
		entry[k] = v
	}
	return entry
}

// mergeServerEntry reads existing JSON (or creates new), adds a designflow
// entry under serversKey, and returns the merged JSON bytes.
// Returns nil, nil if designflow is already configured.
func mergeServerEntry(existing []byte, serversKey string, extra map[string]string) ([]byte, error) {
	cfg := make(map[string]any)
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	servers, ok := cfg[serversKey].(map[string]any)
	if !ok {
		servers = make(map[string]any)
	}
	if _, exists := servers[mcpserver.ServerName]; exists {
		return nil, nil
	}

	servers[mcpserver.ServerName] = serverEntry(extra)
	cfg[serversKey] = servers

	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// configureCLIAgent runs `<binary> mcp add` with the chosen scope.
func configureCLIAgent(dir string, def AgentDef, scope string) error {
	args := []string{"mcp", "add"}
	if scope != "" {
		args = append(args, "--scope", scope)
	}
	args = append(args, mcpserver.ServerName, "--", "designflow", "serve")
	return runCommandFunc(dir, def.Binary, args...)
}

// configureFileAgent reads, merges, and writes the JSON config file.
func configureFileAgent(def AgentDef, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	var existing []byte
	if data, err := os.ReadFile(configPath); err == nil {
		existing = data
	}

	merged, err := mergeServerEntry(existing, def.ServersKey, def.ExtraFields)
	if err != nil {
		return err
	}
	if merged == nil {
		return nil
	}
	return os.WriteFile(configPath, merged, 0o644)
}

// --- Tokens ---

// storeTokens prompts for each missing token and writes them to <dir>/.env,
// preserving any other keys already there. It reports whether the file changed.
func storeTokens(r *bufio.Reader, w io.Writer, dir string, auto bool) (bool, error) {
	path := filepath.Join(dir, config.DotEnvFile)
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		values = map[string]string{}
	} else if err != nil {
		return false, fmt.Errorf("read %s: %w", config.DotEnvFile, err)
	}

	changed := false
	for _, key := range requiredTokens {
		if strings.TrimSpace(values[key]) != "" {
			fmt.Fprintf(w, "  * %s already set in %s\n", key, config.DotEnvFile)
			continue
		}
		if auto {
			fmt.Fprintf(w, "  ! %s is not set; add it to %s or the environment\n", key, config.DotEnvFile)
			continue
		}
		token := promptLine(r, w, fmt.Sprintf("%s (enter to skip):", key))
		if token == "" {
			fmt.Fprintf(w, "  skipped\n")
			continue
		}
		values[key] = token
		changed = true
	}

	if !changed {
		return false, nil
	}
	if err := godotenv.Write(values, path); err != nil {
		return false, fmt.Errorf("write %s: %w", config.DotEnvFile, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return false, err
	}
	fmt.Fprintf(w, "  + tokens saved to %s\n", path)
	return true, nil
}

// --- Interactive prompts ---

// promptLine prints a question and returns the trimmed answer, "" on EOF.
func promptLine(r *bufio.Reader, w io.Writer, question string) string {
	fmt.Fprintf(w, "%s ", question)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

// promptYesNo prints a question and reads Y/n. Returns true for yes (default).
func promptYesNo(r *bufio.Reader, w io.Writer, question string) bool {
	answer := strings.ToLower(promptLine(r, w, question))
	return answer == "" || answer == "y" || answer == "yes"
}

// promptScope prints scope options and reads 1/2/3.
// Returns "project", "user", or "" (skip).
func promptScope(r *bufio.Reader, w io.Writer, agentName string) string {
	fmt.Fprintf(w, "\n%s: add the designflow MCP server?\n", agentName)
	fmt.Fprintln(w, "  [1] Project scope (shared with team)")
	fmt.Fprintln(w, "  [2] User scope (personal, global)")
	fmt.Fprintln(w, "  [3] Skip")
	switch promptLine(r, w, "  >") {
	case "1", "":
		return "project"
	case "2":
		return "user"
	default:
		return ""
	}
}

// --- Orchestration ---

// executeSetup contains the testable core logic, parameterized on I/O.
func executeSetup(in io.Reader, w io.Writer, opts setupOptions) error {
	r := bufio.NewReader(in)

	if !opts.skipEnv {
		fmt.Fprintln(w, "API tokens:")
		if _, err := storeTokens(r, w, opts.dir, opts.auto); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	if opts.skipMCP {
		return nil
	}

	detected := detectAgents(opts.dir)
	if len(detected) == 0 {
		fmt.Fprintln(w, "No supported AI agents detected.")
		return nil
	}

	fmt.Fprintln(w, "Detected AI agents:")
	for _, d := range detected {
		if d.AlreadySetup {
			fmt.Fprintf(w, "  * %s (already configured)\n", d.Def.DisplayName)
		} else {
			fmt.Fprintf(w, "  * %s\n", d.Def.DisplayName)
		}
	}
	fmt.Fprintln(w)

	if !opts.auto {
		if !promptYesNo(r, w, "Configure agents? [Y/n]") {
			return nil
		}
	}

	for _, d := range detected {
		if d.AlreadySetup {
			fmt.Fprintf(w, "\n%s: already configured, skipping\n", d.Def.DisplayName)
			continue
		}
		configureOneAgent(r, w, d, opts)
	}
	return nil
}

func configureOneAgent(r *bufio.Reader, w io.Writer, d DetectedAgent, opts setupOptions) {
	switch d.Def.Method {
	case "cli":
		scope := "project"
		if !opts.auto && d.Def.NeedsScope {
			scope = promptScope(r, w, d.Def.DisplayName)
			if scope == "" {
				fmt.Fprintf(w, "  skipped\n")
				return
			}
		}
		if err := configureCLIAgent(opts.dir, d.Def, scope); err != nil {
			fmt.Fprintf(w, "  ! %s: failed: %v\n", d.Def.DisplayName, err)
			return
		}
		fmt.Fprintf(w, "  + %s configured (scope: %s)\n", d.Def.DisplayName, scope)

	case "file":
		if !opts.auto {
			if !promptYesNo(r, w, fmt.Sprintf("\n%s: add to %s? [Y/n]", d.Def.DisplayName, d.ResolvedConfig)) {
				fmt.Fprintf(w, "  skipped\n")
				return
			}
		}
		if err := configureFileAgent(d.Def, d.ResolvedConfig); err != nil {
			fmt.Fprintf(w, "  ! %s: failed: %v\n", d.Def.DisplayName, err)
			return
		}
		fmt.Fprintf(w, "  + %s configured (%s)\n", d.Def.DisplayName, d.ResolvedConfig)
	}
}
