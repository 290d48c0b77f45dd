package config

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

// GitRemote returns the URL of the origin remote of the repository at dir.
func GitRemote(dir string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "remote", "get-url", "origin")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git remote get-url origin: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ParseRemote extracts owner and repository from a GitHub remote in any of
// the https, ssh:// or scp-like forms.
func ParseRemote(remote string) (owner, repo string, ok bool) {
	remote = strings.TrimSpace(remote)
	var path string
	switch {
	case strings.Contains(remote, "://"):
		u, err := url.Parse(remote)
		if err != nil || !isGitHubHost(u.Hostname()) {
			return "", "", false
		}
		path = u.Path
	case strings.Contains(remote, "@") && strings.Contains(remote, ":"):
		// git@github.com:owner/repo.git
		hostPart, p, _ := strings.Cut(remote, ":")
		_, host, _ := strings.Cut(hostPart, "@")
		if !isGitHubHost(host) {
			return "", "", false
		}
		path = p
	default:
		return "", "", false
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	owner, repo, found := strings.Cut(path, "/")
	if !found || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", false
	}
	return owner, repo, true
}

func isGitHubHost(host string) bool {
	host = strings.ToLower(host)
	return host == "github.com" || strings.HasSuffix(host, ".github.com")
}
