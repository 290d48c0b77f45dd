// Package githost is the source-hosting adapter. It wraps the GitHub REST API
// (branches, atomic multi-file commits, pull requests) behind remote.Result.
package githost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/gnana997/designflow/pkg/metrics"
	"github.com/gnana997/designflow/pkg/remote"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultBaseBranch = "main"

	service = "github"
)

// Config controls Client behavior.
type Config struct {
	Token string
	Owner string
	Repo  string

	// BaseURL overrides the API root, e.g. for GitHub Enterprise or tests.
	BaseURL string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	gh      *github.Client
	owner   string
	repo    string
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewClient builds a client for one repository.
func NewClient(cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("repository owner and name are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	gh := github.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", cfg.BaseURL, err)
		}
		gh.BaseURL = u
	}

	return &Client{
		gh:      gh,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "github", "repo", cfg.Owner+"/"+cfg.Repo),
		metrics: m,
	}, nil
}

// FullName returns "owner/repo".
func (c *Client) FullName() string {
	return c.owner + "/" + c.repo
}

// CreateBranch creates refs/heads/name at the current head of base.
// An existing branch is a Conflict and is never retried.
func (c *Client) CreateBranch(ctx context.Context, name, base string) remote.Result[Branch] {
	const op = "github.create_branch"
	start := time.Now()

	if name == "" {
		return finish(c, op, start, remote.Failf[Branch](remote.KindInvalidInput, "%s: branch name is required", op))
	}
	if base == "" {
		base = DefaultBaseBranch
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	baseRef, resp, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+base)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return finish(c, op, start, remote.Fail[Branch](
				remote.Errorf(remote.KindNotFound, op, "base branch %q not found in %s", base, c.FullName())))
		}
		return finish(c, op, start, remote.Fail[Branch](classify(op, err)))
	}
	sha := baseRef.GetObject().GetSHA()

	_, _, err = c.gh.Git.CreateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		return finish(c, op, start, remote.Fail[Branch](classify(op, err)))
	}

	c.logger.Info("branch created", "branch", name, "base", base, "sha", sha)
	return finish(c, op, start, remote.OK(Branch{Name: name, BaseSHA: sha}))
}

// CreateCommit writes files as one commit on branch.
//
// Blobs, the tree and the commit object are created first; the branch ref is
// moved last with a non-forced update. A failure before that step leaves the ref
// untouched, so nothing new becomes reachable from the branch.
func (c *Client) CreateCommit(ctx context.Context, branch string, files []File, message string) remote.Result[Commit] {
	const op = "github.create_commit"
	start := time.Now()

	if branch == "" {
		return finish(c, op, start, remote.Failf[Commit](remote.KindInvalidInput, "%s: branch is required", op))
	}
	if len(files) == 0 {
		return finish(c, op, start, remote.Failf[Commit](remote.KindInvalidInput, "%s: no files to commit", op))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	head, resp, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return finish(c, op, start, remote.Fail[Commit](
				remote.Errorf(remote.KindNotFound, op, "branch %q not found in %s", branch, c.FullName())))
		}
		return finish(c, op, start, remote.Fail[Commit](classify(op, err)))
	}
	headSHA := head.GetObject().GetSHA()

	parent, _, err := c.gh.Git.GetCommit(ctx, c.owner, c.repo, headSHA)
	if err != nil {
		return finish(c, op, start, remote.Fail[Commit](classify(op, err)))
	}

	entries := make([]*github.TreeEntry, 0, len(files))
	paths := make([]string, 0, len(files))
	for _, f := range files {
		blob, _, err := c.gh.Git.CreateBlob(ctx, c.owner, c.repo, &github.Blob{
			Content:  github.String(f.Content),
			Encoding: github.String("utf-8"),
		})
		if err != nil {
			return finish(c, op, start, remote.Fail[Commit](classify(op+" blob "+f.Path, err)))
		}
		entries = append(entries, &github.TreeEntry{
			Path: github.String(f.Path),
			Mode: github.String("100644"),
			Type: github.String("blob"),
			SHA:  blob.SHA,
		})
		paths = append(paths, f.Path)
	}

	tree, _, err := c.gh.Git.CreateTree(ctx, c.owner, c.repo, parent.GetTree().GetSHA(), entries)
	if err != nil {
		return finish(c, op, start, remote.Fail[Commit](classify(op, err)))
	}

	commit, _, err := c.gh.Git.CreateCommit(ctx, c.owner, c.repo, &github.Commit{
		Message: github.String(message),
		Tree:    &github.Tree{SHA: tree.SHA},
		Parents: []*github.Commit{{SHA: github.String(headSHA)}},
	}, nil)
	if err != nil {
		return finish(c, op, start, remote.Fail[Commit](classify(op, err)))
	}

	_, _, err = c.gh.Git.UpdateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: commit.SHA},
	}, false)
	if err != nil {
		return finish(c, op, start, remote.Fail[Commit](classify(op, err)))
	}

	c.logger.Info("commit created", "branch", branch, "sha", commit.GetSHA(), "files", len(files))
	return finish(c, op, start, remote.OK(Commit{
		SHA:    commit.GetSHA(),
		Branch: branch,
		Files:  paths,
		URL:    commit.GetHTMLURL(),
	}))
}

// CreatePullRequest opens a pull request from in.Head into in.Base.
func (c *Client) CreatePullRequest(ctx context.Context, in PullRequestInput) remote.Result[PullRequest] {
	const op = "github.create_pull_request"
	start := time.Now()

	if in.Head == "" || in.Title == "" {
		return finish(c, op, start, remote.Failf[PullRequest](remote.KindInvalidInput, "%s: title and head branch are required", op))
	}
	if in.Base == "" {
		in.Base = DefaultBaseBranch
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.String(in.Title),
		Head:  github.String(in.Head),
		Base:  github.String(in.Base),
		Body:  github.String(in.Body),
		Draft: github.Bool(in.Draft),
	})
	if err != nil {
		return finish(c, op, start, remote.Fail[PullRequest](classify(op, err)))
	}

	c.logger.Info("pull request opened", "number", pr.GetNumber(), "head", in.Head, "base", in.Base)
	return finish(c, op, start, remote.OK(PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Title:  pr.GetTitle(),
		Draft:  pr.GetDraft(),
	}))
}

// ListBranches returns every branch, following pagination.
func (c *Client) ListBranches(ctx context.Context) remote.Result[[]BranchInfo] {
	const op = "github.list_branches"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var out []BranchInfo
	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, c.owner, c.repo, opts)
		if err != nil {
			return finish(c, op, start, remote.Fail[[]BranchInfo](classify(op, err)))
		}
		for _, b := range branches {
			out = append(out, BranchInfo{
				Name:      b.GetName(),
				SHA:       b.GetCommit().GetSHA(),
				Protected: b.GetProtected(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return finish(c, op, start, remote.OK(out))
}

// RepositoryInfo describes the configured repository.
func (c *Client) RepositoryInfo(ctx context.Context) remote.Result[Repository] {
	const op = "github.repository_info"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	repo, _, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return finish(c, op, start, remote.Fail[Repository](classify(op, err)))
	}
	return finish(c, op, start, remote.OK(Repository{
		FullName:      repo.GetFullName(),
		DefaultBranch: repo.GetDefaultBranch(),
		Private:       repo.GetPrivate(),
		URL:           repo.GetHTMLURL(),
		Description:   repo.GetDescription(),
	}))
}

// classify converts a go-github error into a *remote.Error.
func classify(op string, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return remote.Errorf(remote.KindRateLimited, op, "rate limited until %s", rateErr.Rate.Reset.Format(time.RFC3339))
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		msg := "secondary rate limit hit"
		if d := abuseErr.GetRetryAfter(); d > 0 {
			msg += fmt.Sprintf("; retry after %s", d)
		}
		return remote.Errorf(remote.KindRateLimited, op, "%s", msg)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		kind := remote.KindFromStatus(status)
		if status == http.StatusUnprocessableEntity && isConflictMessage(respErr.Message) {
			kind = remote.KindConflict
		}
		msg := fmt.Sprintf("%s (HTTP %d)", kind.Describe(), status)
		if respErr.Message != "" {
			msg += ": " + respErr.Message
		}
		return &remote.Error{Kind: kind, Op: op, Message: msg, Err: err}
	}

	return remote.Wrap(op, err)
}

func isConflictMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "not a fast forward")
}

func finish[T any](c *Client, op string, start time.Time, r remote.Result[T]) remote.Result[T] {
	elapsed := time.Since(start)
	c.metrics.ObserveRemote(service, op, r.Kind, elapsed)
	if !r.Success {
		c.logger.Warn("github call failed", "op", op, "kind", r.Kind, "error", r.Error, "duration", elapsed)
	}
	return r
}
