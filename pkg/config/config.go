// Package config loads server settings from .env, the project file and the
// environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Paths relative to the project directory.
const (
	ProjectFile = ".designflow/config.yaml"
	DotEnvFile  = ".env"
)

// Defaults for settings that have no envDefault.
const (
	DefaultOutputDir     = "src/components"
	DefaultBaselineDir   = ".designflow/baselines"
	DefaultScreenshotDir = ".designflow/screenshots"
	DefaultBaseBranch    = "main"
	DefaultThreshold     = 0.1
)

// Project is the optional per-repository file.
type Project struct {
	OutputDir     string  `yaml:"output_dir"`
	BaselineDir   string  `yaml:"baseline_dir"`
	ScreenshotDir string  `yaml:"screenshot_dir"`
	BaseBranch    string  `yaml:"base_branch"`
	Threshold     float64 `yaml:"threshold"`
	RepoPrefix    string  `yaml:"repo_prefix"`
	ImportRoot    string  `yaml:"import_root"`
}

// Config is read once at start-up and not modified afterwards.
type Config struct {
	FigmaToken  string `env:"FIGMA_ACCESS_TOKEN"`
	FigmaAPIURL string `env:"FIGMA_API_URL"`

	GitHubToken  string `env:"GITHUB_TOKEN"`
	GitHubOwner  string `env:"GITHUB_OWNER"`
	GitHubRepo   string `env:"GITHUB_REPO"`
	GitHubAPIURL string `env:"GITHUB_API_URL"`

	BrowserHeadless bool          `env:"BROWSER_HEADLESS" envDefault:"true"`
	BrowserTimeout  time.Duration `env:"BROWSER_TIMEOUT" envDefault:"30s"`
	BrowserWSURL    string        `env:"BROWSER_WS_URL"`
	BrowserPath     string        `env:"BROWSER_PATH"`

	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"512"`
	CacheRedisAddr  string        `env:"CACHE_REDIS_ADDR"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	ToolLog     string `env:"DESIGNFLOW_TOOL_LOG"`
	MetricsAddr string `env:"METRICS_ADDR"`

	// Project settings. The environment overrides the project file.
	OutputDir     string  `env:"DESIGNFLOW_OUTPUT_DIR"`
	BaselineDir   string  `env:"DESIGNFLOW_BASELINE_DIR"`
	ScreenshotDir string  `env:"DESIGNFLOW_SCREENSHOT_DIR"`
	BaseBranch    string  `env:"DESIGNFLOW_BASE_BRANCH"`
	Threshold     float64 `env:"VISUAL_THRESHOLD"`
	RepoPrefix    string  `env:"DESIGNFLOW_REPO_PREFIX"`
	ImportRoot    string  `env:"DESIGNFLOW_IMPORT_ROOT"`

	// Dir is the project directory everything was loaded from.
	Dir string
}

// Options control Load. The zero value loads from the working directory and
// the process environment.
type Options struct {
	Dir string
	// Environ replaces the process environment when non-nil.
	Environ map[string]string
	// Remote returns the origin URL of the repository in dir. Nil runs git.
	Remote func(dir string) (string, error)
}

// Load resolves the configuration. It does not validate it.
func Load(opts Options) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: working directory: %w", err)
		}
		dir = wd
	}

	environ, err := environment(dir, opts.Environ)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Dir: dir}
	project, err := LoadProject(dir)
	if err != nil {
		return nil, err
	}
	if project != nil {
		cfg.OutputDir = project.OutputDir
		cfg.BaselineDir = project.BaselineDir
		cfg.ScreenshotDir = project.ScreenshotDir
		cfg.BaseBranch = project.BaseBranch
		cfg.Threshold = project.Threshold
		cfg.RepoPrefix = project.RepoPrefix
		cfg.ImportRoot = project.ImportRoot
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()

	if cfg.GitHubOwner == "" || cfg.GitHubRepo == "" {
		remote := opts.Remote
		if remote == nil {
			remote = GitRemote
		}
		if u, err := remote(dir); err == nil {
			if owner, repo, ok := ParseRemote(u); ok {
				if cfg.GitHubOwner == "" {
					cfg.GitHubOwner = owner
				}
				if cfg.GitHubRepo == "" {
					cfg.GitHubRepo = repo
				}
			}
		}
	}
	return cfg, nil
}

// environment merges <dir>/.env under the given or process environment.
// A missing .env file is not an error.
func environment(dir string, environ map[string]string) (map[string]string, error) {
	merged := map[string]string{}
	dotenv, err := godotenv.Read(filepath.Join(dir, DotEnvFile))
	switch {
	case err == nil:
		for k, v := range dotenv {
			merged[k] = v
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", DotEnvFile, err)
	}

	if environ == nil {
		environ = env.ToMap(os.Environ())
	}
	for k, v := range environ {
		merged[k] = v
	}
	return merged, nil
}

// LoadProject reads <dir>/.designflow/config.yaml. A missing file returns nil.
func LoadProject(dir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, ProjectFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", ProjectFile, err)
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", ProjectFile, err)
	}
	return &p, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.BaselineDir == "" {
		c.BaselineDir = DefaultBaselineDir
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = DefaultScreenshotDir
	}
	if c.BaseBranch == "" {
		c.BaseBranch = DefaultBaseBranch
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
}

// Resolve makes a project-relative path absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.FigmaToken) == "" {
		errs = append(errs, errors.New("FIGMA_ACCESS_TOKEN is required"))
	}
	if strings.TrimSpace(c.GitHubToken) == "" {
		errs = append(errs, errors.New("GITHUB_TOKEN is required"))
	}
	if c.GitHubOwner == "" || c.GitHubRepo == "" {
		errs = append(errs, errors.New("GITHUB_OWNER and GITHUB_REPO are required when the origin remote is not a GitHub repository"))
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("VISUAL_THRESHOLD must be in (0, 1], got %v", c.Threshold))
	}
	if c.BrowserTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BROWSER_TIMEOUT must be positive, got %s", c.BrowserTimeout))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.CacheMaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_MAX_ENTRIES must be positive, got %d", c.CacheMaxEntries))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	out.FigmaToken = redact(out.FigmaToken)
	out.GitHubToken = redact(out.GitHubToken)
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}
