// Package codehost provides the GitHub client used by fix PRs and the
// reasoning oracle's repository tools.
//
// All operations target the single repository named in the configuration.
// The client is safe for concurrent use.
package codehost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/rcad/internal/config"
)

// ErrNotConfigured is returned when the GitHub token, owner, or repo is missing.
var ErrNotConfigured = errors.New("codehost: github integration not configured")

// Client wraps go-github for the configured owner/repo pair.
type Client struct {
	gh     *github.Client
	owner  string
	repo   string
	logger *zap.Logger

	mu            sync.Mutex
	defaultBranch string
}

// New creates a GitHub client from configuration. The context is used only
// for the OAuth2 transport; per-call contexts govern individual requests.
func New(ctx context.Context, cfg config.GitHubConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
	tc := oauth2.NewClient(ctx, ts)
	gh := github.NewClient(tc)

	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base URL %q: %w", cfg.BaseURL, err)
		}
		gh.BaseURL = base
	}

	return &Client{
		gh:     gh,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		logger: logger.Named("codehost"),
	}, nil
}

// Configured reports whether the client can reach a real repository.
func (c *Client) Configured() bool {
	return c.owner != "" && c.repo != ""
}

// Owner returns the configured repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the configured repository name.
func (c *Client) Repo() string { return c.repo }

// GetFileContents fetches a file at the given ref and returns its decoded
// text. An empty ref reads the repository's default branch.
func (c *Client) GetFileContents(ctx context.Context, path, ref string) (_ string, err error) {
	defer observeCall("get_contents", &err)()
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	fileContent, _, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{
		Ref: ref,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get file content for %s: %w", path, err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("%s is a directory, not a file", path)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode file content for %s: %w", path, err)
	}
	return content, nil
}

// CreateBranch creates a new branch pointing at the head of from. An empty
// from uses the repository's default branch. Creating a branch that already
// exists returns the GitHub 422 unmodified.
func (c *Client) CreateBranch(ctx context.Context, branch, from string) (err error) {
	defer observeCall("create_branch", &err)()
	if !c.Configured() {
		return ErrNotConfigured
	}

	if from == "" {
		from, err = c.DefaultBranch(ctx)
		if err != nil {
			return err
		}
	}

	base, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+from)
	if err != nil {
		return fmt.Errorf("failed to resolve branch %s: %w", from, err)
	}

	_, _, err = c.gh.Git.CreateRef(ctx, c.owner, c.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: base.Object.SHA},
	})
	if err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	c.logger.Info("branch created",
		zap.String("branch", branch),
		zap.String("from", from),
	)
	return nil
}

// CommitFile creates or updates a single file on a branch and returns the
// commit SHA. The create/update split follows the contents API: updates must
// carry the blob SHA of the file they replace.
func (c *Client) CommitFile(ctx context.Context, branch, path, message string, content []byte) (_ string, err error) {
	defer observeCall("commit_file", &err)()
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	var blobSHA string
	existing, _, resp, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{
		Ref: branch,
	})
	switch {
	case err == nil && existing != nil:
		blobSHA = existing.GetSHA()
	case err == nil:
		return "", fmt.Errorf("%s is a directory, not a file", path)
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		// New file.
	default:
		return "", fmt.Errorf("failed to stat %s on %s: %w", path, branch, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}

	var res *github.RepositoryContentResponse
	if blobSHA == "" {
		res, _, err = c.gh.Repositories.CreateFile(ctx, c.owner, c.repo, path, opts)
	} else {
		opts.SHA = github.String(blobSHA)
		res, _, err = c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, path, opts)
	}
	if err != nil {
		return "", fmt.Errorf("failed to commit %s to %s: %w", path, branch, err)
	}

	c.logger.Info("file committed",
		zap.String("path", path),
		zap.String("branch", branch),
		zap.String("sha", res.Commit.GetSHA()),
	)
	return res.Commit.GetSHA(), nil
}

// PullRequestSpec describes a pull request to open.
type PullRequestSpec struct {
	Title string
	Head  string
	// Base defaults to the repository's default branch.
	Base string
	Body string
	// Reviewers are requested best-effort; a failed reviewer request does
	// not fail the pull request.
	Reviewers []string
}

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Branch string `json:"branch"`
}

// OpenPullRequest opens a pull request from spec.Head into spec.Base.
func (c *Client) OpenPullRequest(ctx context.Context, spec PullRequestSpec) (_ *PullRequest, err error) {
	defer observeCall("open_pull_request", &err)()
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	base := spec.Base
	if base == "" {
		base, err = c.DefaultBranch(ctx)
		if err != nil {
			return nil, err
		}
	}

	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.String(spec.Title),
		Head:  github.String(spec.Head),
		Base:  github.String(base),
		Body:  github.String(spec.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	if len(spec.Reviewers) > 0 {
		_, _, rerr := c.gh.PullRequests.RequestReviewers(ctx, c.owner, c.repo, pr.GetNumber(), github.ReviewersRequest{
			Reviewers: spec.Reviewers,
		})
		if rerr != nil {
			c.logger.Warn("reviewer request failed",
				zap.Int("pr_number", pr.GetNumber()),
				zap.Strings("reviewers", spec.Reviewers),
				zap.Error(rerr),
			)
		}
	}

	c.logger.Info("pull request opened",
		zap.Int("pr_number", pr.GetNumber()),
		zap.String("head", spec.Head),
		zap.String("base", base),
	)
	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Branch: spec.Head,
	}, nil
}

// Check is one CI check run attached to a pull request head.
type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// PRStatus is a point-in-time snapshot of a pull request and its CI state.
type PRStatus struct {
	Number          int        `json:"pr_number"`
	State           string     `json:"state"` // open, closed, or merged
	Mergeable       bool       `json:"mergeable"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	Checks          []Check    `json:"checks"`
	AllChecksPassed bool       `json:"all_checks_passed"`
	CanMerge        bool       `json:"can_merge"`
	CreatedAt       time.Time  `json:"created_at"`
	MergedAt        *time.Time `json:"merged_at,omitempty"`
}

// GetPullRequestStatus fetches a pull request and the check runs on its head
// commit. A PR with no check runs reports AllChecksPassed true.
func (c *Client) GetPullRequestStatus(ctx context.Context, number int) (_ *PRStatus, err error) {
	defer observeCall("pr_status", &err)()
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	pr, _, err := c.gh.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request %d: %w", number, err)
	}

	state := pr.GetState()
	if pr.GetMerged() {
		state = "merged"
	}

	status := &PRStatus{
		Number:    number,
		State:     state,
		Mergeable: pr.GetMergeable(),
		URL:       pr.GetHTMLURL(),
		Title:     pr.GetTitle(),
		Checks:    []Check{},
		CreatedAt: pr.GetCreatedAt().Time,
	}
	if merged := pr.MergedAt; merged != nil {
		t := merged.Time
		status.MergedAt = &t
	}

	allPassed := true
	if sha := pr.GetHead().GetSHA(); sha != "" {
		runs, _, err := c.gh.Checks.ListCheckRunsForRef(ctx, c.owner, c.repo, sha, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list check runs for pull request %d: %w", number, err)
		}
		for _, run := range runs.CheckRuns {
			status.Checks = append(status.Checks, Check{
				Name:       run.GetName(),
				Status:     run.GetStatus(),
				Conclusion: run.GetConclusion(),
			})
			if !checkPassed(run) {
				allPassed = false
			}
		}
	}

	status.AllChecksPassed = allPassed
	status.CanMerge = state == "open" && status.Mergeable && allPassed
	return status, nil
}

func checkPassed(run *github.CheckRun) bool {
	if run.GetStatus() != "completed" {
		return false
	}
	switch run.GetConclusion() {
	case "success", "neutral", "skipped":
		return true
	}
	return false
}

// DefaultBranch returns the repository's default branch, cached after the
// first lookup.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.defaultBranch != "" {
		return c.defaultBranch, nil
	}

	repo, _, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", fmt.Errorf("failed to get repository %s/%s: %w", c.owner, c.repo, err)
	}
	branch := repo.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}
	c.defaultBranch = branch
	return branch, nil
}
