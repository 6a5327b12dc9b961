package oracle

import (
	"fmt"
	"strings"
)

// minPatternContextLen gates the learned-patterns section. Below this
// length the pattern text is a bare header with no bodies and only
// dilutes the prompt.
const minPatternContextLen = 50

// analysisSystemPrompt is static so the API can cache it as a prompt
// prefix across analyses. Everything issue-specific lives in the user
// message, variable parts last.
const analysisSystemPrompt = `You are an automated root-cause analysis agent for production errors reported by Sentry.

## Workflow

### Phase 1: Investigation
1. Call get_issue_details to fetch the issue with its metadata, tags, and recent activity.
2. Extract the essentials:
   - error_type (for example KeyError, IntegrityError, TimeoutError)
   - error_message
   - file_path, line_number, function_name (from the culprit or metadata)
   - when the error last occurred

### Phase 2: Code and Context
1. Call get_file_contents to read the affected file.
2. Build the evidence object: summarize the stack trace, record event and
   user counts, and note any infrastructure or session signals present in
   the issue data. Integrations without data get empty objects, never
   missing fields.
3. Score infrastructure_correlation (0.0 to 1.0) and user_impact_score
   (0.0 to 100.0) from the evidence you gathered.

### Phase 3: Root Cause and Fix
1. Determine the root cause as a human-readable explanation.
2. Score fix_confidence:
   - 0.8 or higher: clear error with an obvious fix
   - 0.5 to 0.8: clear error, some uncertainty in the fix
   - below 0.5: unclear or complex, unsafe to fix automatically
3. If fix_confidence is at least 0.5, write a minimal fix: the affected
   function only, never the whole file.
4. Write test cases covering the fix: smoke, regression, and edge_case.

### Phase 4: Result
Do NOT create a pull request or modify any repository. Respond with ONLY a
JSON object, no markdown fences and no surrounding prose:

{
  "error_type": "KeyError",
  "error_message": "'user_id'",
  "file_path": "api/users.py",
  "line_number": 42,
  "function_name": "get_user",
  "root_cause": "The handler reads user_id from the request body without checking that it is present.",
  "fix_confidence": 0.85,
  "fix_code": "def get_user(request):\n    ...",
  "test_cases": [
    {"name": "test_get_user_missing_id", "code": "def test_get_user_missing_id():\n    ...", "type": "regression"}
  ],
  "matched_pattern": false,
  "evidence": {
    "stack_trace_summary": "KeyError raised in get_user at api/users.py:42",
    "infrastructure": {},
    "user_sessions": {},
    "code_context": {}
  },
  "infrastructure_correlation": 0.0,
  "user_impact_score": 35.0
}

Rules:
- fix_code contains the fixed function only, not the entire file.
- Always include the evidence object; use empty objects where no data exists.
- If learned patterns are provided and one matches this error, set
  matched_pattern to true and reuse the proven fix approach.`

// analysisUserPrompt assembles the per-issue message. Learned patterns
// come first: within a batch the pattern text is byte-identical, so
// leading with it keeps the cacheable prefix long and pushes the only
// varying line to the end.
func analysisUserPrompt(req AnalyzeRequest, patterns string) string {
	var b strings.Builder
	if len(patterns) > minPatternContextLen {
		label := req.ErrorType
		if label == "" {
			label = "All Errors"
		}
		fmt.Fprintf(&b, "## Learned Patterns for %s\n%s\n\n", label, patterns)
	}
	fmt.Fprintf(&b, "Analyze Sentry issue %s from organization %s.\n", req.IssueID, req.Organization)
	return b.String()
}

const prSystemPrompt = `You are opening a GitHub pull request for an automatically generated bug fix. The analysis, fix, and tests are provided; your job is to land them on a branch and open the PR using the tools.

## Tasks
1. Create a branch with create_branch. Name it fix/{error-type}-{function-name}:
   lowercase, the "error" suffix dropped from the type, underscores replaced
   with hyphens, at most 50 characters total.
2. Read the affected file with get_file_contents and apply the fix to the
   affected function only, leaving the rest of the file untouched. Commit the
   full updated file with commit_file.
3. Commit the tests. If the project has an existing test file for the affected
   module, add the new tests to it (test_strategy "added_to_existing");
   otherwise create one following the project's conventions (test_strategy
   "created_new").
4. Open the pull request with open_pull_request. Title: Fix: {error_type} in
   {function_name}. The body must cover the root cause, what changed, and how
   to verify it, and must end with the marker line you were given. Request
   reviewers only when the repository makes ownership obvious; otherwise leave
   them empty.
5. Respond with ONLY a JSON object, no markdown fences and no surrounding
   prose:

{
  "branch": "fix/keyerror-get-user",
  "commits": [
    {"path": "api/users.py", "message": "Fix KeyError in get_user"},
    {"path": "tests/test_users.py", "message": "Add regression tests for get_user"}
  ],
  "pr_number": 123,
  "pr_url": "https://github.com/acme/widgets/pull/123",
  "reviewers": [],
  "test_file": "tests/test_users.py",
  "test_strategy": "created_new"
}

Actually create the branch, the commits, and the pull request with the tools.
Do not respond with a plan.`

// prUserPrompt assembles the analysis context for the PR round-trip.
func prUserPrompt(req PRRequest, repo, marker string) string {
	r := req.Result

	var b strings.Builder
	b.WriteString("Create the pull request for this analyzed production error.\n\n")
	b.WriteString("## Analysis\n")
	fmt.Fprintf(&b, "- Issue: %s\n", req.IssueID)
	if req.SentryURL != "" {
		fmt.Fprintf(&b, "- Sentry: %s\n", req.SentryURL)
	}
	fmt.Fprintf(&b, "- Repository: %s\n", repo)
	fmt.Fprintf(&b, "- Error type: %s\n", r.ErrorType)
	if r.ErrorMessage != "" {
		fmt.Fprintf(&b, "- Error message: %s\n", r.ErrorMessage)
	}
	fmt.Fprintf(&b, "- File: %s (function %s, line %d)\n", r.FilePath, r.FunctionName, r.LineNumber)
	fmt.Fprintf(&b, "- Fix confidence: %.0f%%\n", r.FixConfidence*100)
	fmt.Fprintf(&b, "- Root cause: %s\n", r.RootCause)
	if marker != "" {
		fmt.Fprintf(&b, "- Marker line for the PR body: %s\n", marker)
	}

	b.WriteString("\n## Fix\n```\n")
	b.WriteString(strings.TrimRight(r.FixCode, "\n"))
	b.WriteString("\n```\n")

	if tests := r.TestCode(); tests != "" {
		b.WriteString("\n## Tests\n```\n")
		b.WriteString(strings.TrimRight(tests, "\n"))
		b.WriteString("\n```\n")
	}

	return b.String()
}
