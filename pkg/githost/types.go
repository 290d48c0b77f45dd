package githost

// File is one path/content pair to commit.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Branch is the result of a branch creation.
type Branch struct {
	Name    string `json:"name"`
	BaseSHA string `json:"base_sha"`
}

// Commit is the result of an atomic multi-file commit.
type Commit struct {
	SHA    string   `json:"sha"`
	Branch string   `json:"branch"`
	Files  []string `json:"files"`
	URL    string   `json:"url,omitempty"`
}

// PullRequestInput describes a change request to open.
type PullRequestInput struct {
	Title string
	Body  string
	Head  string
	Base  string
	Draft bool
}

// PullRequest is an opened change request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Draft  bool   `json:"draft"`
}

// BranchInfo is one entry of a branch listing.
type BranchInfo struct {
	Name      string `json:"name"`
	SHA       string `json:"sha"`
	Protected bool   `json:"protected"`
}

// Repository describes the configured repository.
type Repository struct {
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	URL           string `json:"url"`
	Description   string `json:"description,omitempty"`
}
