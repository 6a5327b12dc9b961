package oracle

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/fyrsmithlabs/rcad/internal/codehost"
	"github.com/fyrsmithlabs/rcad/internal/sentry"
)

// IssueSource is the slice of the Sentry client the oracle tools need.
type IssueSource interface {
	IssueDetails(ctx context.Context, issueID string) (*sentry.IssueDetails, error)
}

// CodeHost is the slice of the code-host client the oracle tools need.
type CodeHost interface {
	GetFileContents(ctx context.Context, path, ref string) (string, error)
	CreateBranch(ctx context.Context, branch, from string) error
	CommitFile(ctx context.Context, branch, path, message string, content []byte) (string, error)
	OpenPullRequest(ctx context.Context, spec codehost.PullRequestSpec) (*codehost.PullRequest, error)
	GetPullRequestStatus(ctx context.Context, number int) (*codehost.PRStatus, error)
}

// toolset executes oracle tool calls against the Sentry and code-host
// clients. Tool results are JSON or short human-readable confirmations;
// tool errors are returned to the oracle as error results, not
// terminated conversations.
type toolset struct {
	issues IssueSource
	code   CodeHost
}

// analysisTools is the read-only toolset for root-cause analysis.
func analysisTools() []anthropic.ToolUnionParam {
	return wrapTools([]anthropic.ToolParam{
		issueDetailsTool(),
		fileContentsTool(),
	})
}

// prTools is the toolset for the pull-request round-trip.
func prTools() []anthropic.ToolUnionParam {
	return wrapTools([]anthropic.ToolParam{
		fileContentsTool(),
		createBranchTool(),
		commitFileTool(),
		openPullRequestTool(),
		prStatusTool(),
	})
}

func wrapTools(params []anthropic.ToolParam) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(params))
	for i := range params {
		// Copy before taking the address: params[i] is reused by the loop.
		tool := params[i]
		tools[i] = anthropic.ToolUnionParam{OfTool: &tool}
	}
	return tools
}

func issueDetailsTool() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        "get_issue_details",
		Description: anthropic.String("Get full details for a Sentry issue: title, culprit, event and user counts, metadata, tags, and recent activity"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"issue_id": map[string]interface{}{
					"type":        "string",
					"description": "Sentry issue ID",
				},
			},
			Required: []string{"issue_id"},
		},
	}
}

func fileContentsTool() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        "get_file_contents",
		Description: anthropic.String("Read a file from the repository"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the repository root",
				},
				"ref": map[string]interface{}{
					"type":        "string",
					"description": "Branch, tag, or commit to read from; defaults to the default branch",
				},
			},
			Required: []string{"path"},
		},
	}
}

func createBranchTool() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        "create_branch",
		Description: anthropic.String("Create a new branch in the repository"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"branch": map[string]interface{}{
					"type":        "string",
					"description": "Name of the branch to create",
				},
				"from": map[string]interface{}{
					"type":        "string",
					"description": "Branch to fork from; defaults to the default branch",
				},
			},
			Required: []string{"branch"},
		},
	}
}

func commitFileTool() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        "commit_file",
		Description: anthropic.String("Create or update a single file on a branch with a commit message"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"branch": map[string]interface{}{
					"type":        "string",
					"description": "Branch to commit to",
				},
				"path": map[string]interface{}{
					"type":        "string",
					"description": "File path relative to the repository root",
				},
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Commit message",
				},
				"content": map[string]interface{}{
					"type":        "string",
					"description": "Full new contents of the file",
				},
			},
			Required: []string{"branch", "path", "message", "content"},
		},
	}
}

func openPullRequestTool() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        "open_pull_request",
		Description: anthropic.String("Open a pull request and optionally request reviewers"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"title": map[string]interface{}{
					"type":        "string",
					"description": "Pull request title",
				},
				"head": map[string]interface{}{
					"type":        "string",
					"description": "Branch containing the changes",
				},
				"base": map[string]interface{}{
					"type":        "string",
					"description": "Branch to merge into; defaults to the default branch",
				},
				"body": map[string]interface{}{
					"type":        "string",
					"description": "Pull request description in markdown",
				},
				"reviewers": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "GitHub usernames to request review from",
				},
			},
			Required: []string{"title", "head", "body"},
		},
	}
}

func prStatusTool() anthropic.ToolParam {
	return anthropic.ToolParam{
		Name:        "get_pr_status",
		Description: anthropic.String("Get the state, mergeability, and check results of a pull request"),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties: map[string]interface{}{
				"pr_number": map[string]interface{}{
					"type":        "number",
					"description": "Pull request number",
				},
			},
			Required: []string{"pr_number"},
		},
	}
}

// execute runs one tool call and returns its result text.
func (t *toolset) execute(ctx context.Context, name string, input interface{}) (string, error) {
	args, err := decodeToolInput(input)
	if err != nil {
		return "", err
	}

	switch name {
	case "get_issue_details":
		return t.getIssueDetails(ctx, args)
	case "get_file_contents":
		return t.getFileContents(ctx, args)
	case "create_branch":
		return t.createBranch(ctx, args)
	case "commit_file":
		return t.commitFile(ctx, args)
	case "open_pull_request":
		return t.openPullRequest(ctx, args)
	case "get_pr_status":
		return t.prStatus(ctx, args)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
}

// decodeToolInput normalizes the SDK's tool input, which arrives as a
// decoded map or as raw JSON depending on the response path.
func decodeToolInput(input interface{}) (map[string]interface{}, error) {
	switch v := input.(type) {
	case map[string]interface{}:
		return v, nil
	case []byte:
		var args map[string]interface{}
		if err := json.Unmarshal(v, &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool input: %w", err)
		}
		return args, nil
	case json.RawMessage:
		var args map[string]interface{}
		if err := json.Unmarshal(v, &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool input: %w", err)
		}
		return args, nil
	default:
		return nil, fmt.Errorf("invalid tool input format: expected map[string]interface{}, []byte, or json.RawMessage, got %T", input)
	}
}

func (t *toolset) getIssueDetails(ctx context.Context, args map[string]interface{}) (string, error) {
	issueID, _ := args["issue_id"].(string)
	if issueID == "" {
		return "", fmt.Errorf("issue_id is required")
	}

	details, err := t.issues.IssueDetails(ctx, issueID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch issue %s: %w", issueID, err)
	}

	out, err := json.Marshal(details)
	if err != nil {
		return "", fmt.Errorf("failed to encode issue details: %w", err)
	}
	return string(out), nil
}

func (t *toolset) getFileContents(ctx context.Context, args map[string]interface{}) (string, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	ref, _ := args["ref"].(string)

	return t.code.GetFileContents(ctx, path, ref)
}

func (t *toolset) createBranch(ctx context.Context, args map[string]interface{}) (string, error) {
	branch, _ := args["branch"].(string)
	if branch == "" {
		return "", fmt.Errorf("branch is required")
	}
	from, _ := args["from"].(string)

	if err := t.code.CreateBranch(ctx, branch, from); err != nil {
		return "", err
	}
	return fmt.Sprintf("created branch %s", branch), nil
}

func (t *toolset) commitFile(ctx context.Context, args map[string]interface{}) (string, error) {
	branch, _ := args["branch"].(string)
	path, _ := args["path"].(string)
	message, _ := args["message"].(string)
	content, _ := args["content"].(string)
	if branch == "" || path == "" || message == "" {
		return "", fmt.Errorf("branch, path, and message are required")
	}

	sha, err := t.code.CommitFile(ctx, branch, path, message, []byte(content))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("committed %s to %s as %s", path, branch, sha), nil
}

func (t *toolset) openPullRequest(ctx context.Context, args map[string]interface{}) (string, error) {
	var spec codehost.PullRequestSpec
	spec.Title, _ = args["title"].(string)
	spec.Head, _ = args["head"].(string)
	spec.Base, _ = args["base"].(string)
	spec.Body, _ = args["body"].(string)
	if spec.Title == "" || spec.Head == "" {
		return "", fmt.Errorf("title and head are required")
	}
	spec.Reviewers = stringSlice(args["reviewers"])

	pr, err := t.code.OpenPullRequest(ctx, spec)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(pr)
	if err != nil {
		return "", fmt.Errorf("failed to encode pull request: %w", err)
	}
	return string(out), nil
}

func (t *toolset) prStatus(ctx context.Context, args map[string]interface{}) (string, error) {
	number, ok := args["pr_number"].(float64)
	if !ok || number <= 0 {
		return "", fmt.Errorf("pr_number is required")
	}

	status, err := t.code.GetPullRequestStatus(ctx, int(number))
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(status)
	if err != nil {
		return "", fmt.Errorf("failed to encode pull request status: %w", err)
	}
	return string(out), nil
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
