package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/config"
)

const analysisResultJSON = `{
	"error_type": "KeyError",
	"error_message": "'user_id'",
	"file_path": "api/users.py",
	"line_number": 42,
	"function_name": "get_user",
	"root_cause": "request body read without a presence check",
	"fix_confidence": 0.85,
	"fix_code": "def get_user(request):\n    user_id = request.get('user_id')\n",
	"test_cases": [
		{"name": "test_missing_id", "code": "def test_missing_id():\n    assert True", "type": "regression"}
	],
	"matched_pattern": false,
	"evidence": {
		"stack_trace_summary": "KeyError in get_user at api/users.py:42",
		"infrastructure": {},
		"user_sessions": {},
		"code_context": {}
	},
	"infrastructure_correlation": 0.0,
	"user_impact_score": 35.0
}`

// scriptedAPI plays back canned Messages API responses and records every
// request body for inspection.
type scriptedAPI struct {
	t         *testing.T
	mu        sync.Mutex
	responses []string
	requests  []map[string]interface{}
}

func newScriptedAPI(t *testing.T, responses ...string) *scriptedAPI {
	return &scriptedAPI{t: t, responses: responses}
}

func (s *scriptedAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))

		s.mu.Lock()
		s.requests = append(s.requests, req)
		if len(s.responses) == 0 {
			s.mu.Unlock()
			http.Error(w, `{"type":"error","error":{"type":"api_error","message":"script exhausted"}}`, http.StatusInternalServerError)
			return
		}
		next := s.responses[0]
		s.responses = s.responses[1:]
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(next))
	}
}

func (s *scriptedAPI) request(i int) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Greater(s.t, len(s.requests), i)
	return s.requests[i]
}

func (s *scriptedAPI) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// requestJSON re-marshals a recorded request for substring assertions.
func (s *scriptedAPI) requestJSON(i int) string {
	out, err := json.Marshal(s.request(i))
	require.NoError(s.t, err)
	return string(out)
}

type toolCall struct {
	name  string
	input map[string]interface{}
}

func call(name string, input map[string]interface{}) toolCall {
	return toolCall{name: name, input: input}
}

func messageJSON(stopReason string, content []map[string]interface{}) string {
	msg := map[string]interface{}{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-sonnet-4-5-20250929",
		"content":       content,
		"stop_reason":   stopReason,
		"stop_sequence": nil,
		"usage": map[string]interface{}{
			"input_tokens":            100,
			"output_tokens":           50,
			"cache_read_input_tokens": 25,
		},
	}
	out, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return string(out)
}

func endTurn(text string) string {
	return messageJSON("end_turn", []map[string]interface{}{
		{"type": "text", "text": text},
	})
}

func toolUse(thinking string, calls ...toolCall) string {
	var content []map[string]interface{}
	if thinking != "" {
		content = append(content, map[string]interface{}{"type": "text", "text": thinking})
	}
	for i, c := range calls {
		content = append(content, map[string]interface{}{
			"type":  "tool_use",
			"id":    fmt.Sprintf("toolu_%d", i+1),
			"name":  c.name,
			"input": c.input,
		})
	}
	return messageJSON("tool_use", content)
}

type fakePatterns struct {
	mu     sync.Mutex
	all    string
	byType map[string]string
	calls  []string
}

func (f *fakePatterns) GetAllPatterns(context.Context) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "all")
	return f.all
}

func (f *fakePatterns) GetPatternsByErrorType(_ context.Context, errorType string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "type:"+errorType)
	return f.byType[errorType]
}

func (f *fakePatterns) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestOracle(t *testing.T, api *scriptedAPI, code *fakeCodeHost, mutate ...func(*Options)) *Anthropic {
	t.Helper()

	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	opts := Options{
		Config: config.OracleConfig{
			Model:              "claude-sonnet-4-5-20250929",
			APIKey:             config.NewSecret("test-key"),
			MaxTokens:          4096,
			MaxAnalysisTurns:   5,
			MaxAdminTurns:      5,
			ThinkingPreviewLen: 200,
		},
		Repo:     "acme/widgets",
		PRMarker: "[rcad]",
		Issues:   &fakeIssueSource{details: testIssueDetails()},
		Code:     code,
		Logger:   zap.NewNop(),
		ClientOptions: []option.RequestOption{
			option.WithBaseURL(srv.URL),
			option.WithMaxRetries(0),
		},
	}
	for _, m := range mutate {
		m(&opts)
	}

	o, err := NewAnthropic(opts)
	require.NoError(t, err)
	return o
}

func collectEvents(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var got []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %d events", len(got))
		}
	}
}

func TestNewAnthropic_Validation(t *testing.T) {
	base := Options{
		Config: config.OracleConfig{
			Model:  "claude-sonnet-4-5-20250929",
			APIKey: config.NewSecret("key"),
		},
		Issues: &fakeIssueSource{},
		Code:   &fakeCodeHost{},
	}

	t.Run("valid", func(t *testing.T) {
		o, err := NewAnthropic(base)
		require.NoError(t, err)
		assert.Equal(t, 20, o.cfg.MaxAnalysisTurns)
		assert.Equal(t, 5, o.cfg.MaxAdminTurns)
		assert.Equal(t, 8192, o.cfg.MaxTokens)
	})

	t.Run("missing api key", func(t *testing.T) {
		opts := base
		opts.Config.APIKey = config.Secret{}
		_, err := NewAnthropic(opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api key")
	})

	t.Run("missing model", func(t *testing.T) {
		opts := base
		opts.Config.Model = ""
		_, err := NewAnthropic(opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "model")
	})

	t.Run("missing code host", func(t *testing.T) {
		opts := base
		opts.Code = nil
		_, err := NewAnthropic(opts)
		require.Error(t, err)
	})
}

func TestAnalyze_ToolLoop(t *testing.T) {
	api := newScriptedAPI(t,
		toolUse("Let me fetch the issue first", call("get_issue_details", map[string]interface{}{"issue_id": "12345"})),
		toolUse("", call("get_file_contents", map[string]interface{}{"path": "api/users.py"})),
		endTurn(analysisResultJSON),
	)
	code := &fakeCodeHost{files: map[string]string{
		"api/users.py": "def get_user(request):\n    return request['user_id']\n",
	}}
	patterns := &fakePatterns{all: "KeyError: guard dict access with .get and a default. Seen 4 times, avg confidence 0.82."}
	o := newTestOracle(t, api, code, func(opts *Options) { opts.Patterns = patterns })

	events, err := o.Analyze(context.Background(), AnalyzeRequest{IssueID: "12345", Organization: "acme"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	require.NotEmpty(t, got)
	assert.Equal(t, EventStatus, got[0].Type)
	assert.Equal(t, "Analyzing Sentry issue 12345...", got[0].Message)

	var thinking []string
	for _, ev := range got {
		if ev.Type == EventThinking {
			thinking = append(thinking, ev.Message)
		}
	}
	assert.Equal(t, []string{"Let me fetch the issue first"}, thinking)

	last := got[len(got)-1]
	require.Equal(t, EventResult, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "KeyError", last.Result.ErrorType)
	assert.Equal(t, "get_user", last.Result.FunctionName)
	assert.InDelta(t, 0.85, last.Result.FixConfidence, 1e-9)
	require.Len(t, last.Result.TestCases, 1)
	assert.Equal(t, "regression", last.Result.TestCases[0].Type)

	require.Equal(t, 3, api.requestCount())

	first := api.requestJSON(0)
	assert.Contains(t, first, "root-cause analysis")
	assert.Contains(t, first, "Learned Patterns for All Errors")
	assert.Contains(t, first, "Analyze Sentry issue 12345 from organization acme.")
	assert.Contains(t, first, `"get_issue_details"`)
	assert.Contains(t, first, `"get_file_contents"`)

	// Second turn carries the issue details back as a tool result.
	second := api.requestJSON(1)
	assert.Contains(t, second, "tool_result")
	assert.Contains(t, second, "toolu_1")
	assert.Contains(t, second, "ACME-1")
	messages := api.request(1)["messages"].([]interface{})
	assert.Len(t, messages, 3)

	assert.Equal(t, []string{"all"}, patterns.recorded())
}

func TestAnalyze_TypedPatterns(t *testing.T) {
	api := newScriptedAPI(t, endTurn(analysisResultJSON))
	patterns := &fakePatterns{byType: map[string]string{
		"KeyError": "KeyError: use .get with a default. Confirmed by two merged fixes.",
	}}
	o := newTestOracle(t, api, &fakeCodeHost{}, func(opts *Options) { opts.Patterns = patterns })

	events, err := o.Analyze(context.Background(), AnalyzeRequest{IssueID: "12345", Organization: "acme", ErrorType: "KeyError"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	require.Equal(t, EventResult, got[len(got)-1].Type)
	assert.Equal(t, []string{"type:KeyError"}, patterns.recorded())
	assert.Contains(t, api.requestJSON(0), "Learned Patterns for KeyError")
}

func TestAnalyze_RequiresIssueID(t *testing.T) {
	o := newTestOracle(t, newScriptedAPI(t), &fakeCodeHost{})
	_, err := o.Analyze(context.Background(), AnalyzeRequest{Organization: "acme"})
	require.Error(t, err)
}

func TestAnalyze_ParseFailure(t *testing.T) {
	api := newScriptedAPI(t, endTurn("I was unable to determine the root cause for this issue."))
	o := newTestOracle(t, api, &fakeCodeHost{})

	events, err := o.Analyze(context.Background(), AnalyzeRequest{IssueID: "12345", Organization: "acme"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	last := got[len(got)-1]
	require.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "Failed to parse analysis result")
}

func TestAnalyze_InvalidResult(t *testing.T) {
	api := newScriptedAPI(t, endTurn(`{"error_type": "KeyError", "fix_confidence": 0.9}`))
	o := newTestOracle(t, api, &fakeCodeHost{})

	events, err := o.Analyze(context.Background(), AnalyzeRequest{IssueID: "12345", Organization: "acme"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	last := got[len(got)-1]
	require.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "root_cause")
}

func TestAnalyze_TurnCapExceeded(t *testing.T) {
	api := newScriptedAPI(t,
		toolUse("Investigating", call("get_issue_details", map[string]interface{}{"issue_id": "12345"})),
		toolUse("Still investigating", call("get_file_contents", map[string]interface{}{"path": "api/users.py"})),
	)
	code := &fakeCodeHost{files: map[string]string{"api/users.py": "pass"}}
	o := newTestOracle(t, api, code, func(opts *Options) { opts.Config.MaxAnalysisTurns = 2 })

	events, err := o.Analyze(context.Background(), AnalyzeRequest{IssueID: "12345", Organization: "acme"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	last := got[len(got)-1]
	require.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "exceeded maximum turns (2)")
	assert.Equal(t, 2, api.requestCount())
}

func TestAnalyze_ToolErrorContinues(t *testing.T) {
	api := newScriptedAPI(t,
		toolUse("", call("get_file_contents", map[string]interface{}{"path": "missing.py"})),
		endTurn(analysisResultJSON),
	)
	o := newTestOracle(t, api, &fakeCodeHost{files: map[string]string{}})

	events, err := o.Analyze(context.Background(), AnalyzeRequest{IssueID: "12345", Organization: "acme"})
	require.NoError(t, err)
	got := collectEvents(t, events)

	// The failed read is surfaced to the oracle, not fatal to the run.
	require.Equal(t, EventResult, got[len(got)-1].Type)
	second := api.requestJSON(1)
	assert.Contains(t, second, `"is_error":true`)
	assert.Contains(t, second, "missing.py not found")
}

func TestAnalyze_CancelledMidConversation(t *testing.T) {
	firstResponse := toolUse("Checking the issue", call("get_issue_details", map[string]interface{}{"issue_id": "12345"}))

	var served int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		n := served
		served++
		mu.Unlock()
		if n == 0 {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(firstResponse))
			return
		}
		// Hold the second call until the client gives up.
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	o, err := NewAnthropic(Options{
		Config: config.OracleConfig{
			Model:  "claude-sonnet-4-5-20250929",
			APIKey: config.NewSecret("test-key"),
		},
		Issues: &fakeIssueSource{details: testIssueDetails()},
		Code:   &fakeCodeHost{},
		Logger: zap.NewNop(),
		ClientOptions: []option.RequestOption{
			option.WithBaseURL(srv.URL),
			option.WithMaxRetries(0),
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := o.Analyze(ctx, AnalyzeRequest{IssueID: "12345", Organization: "acme"})
	require.NoError(t, err)

	// Wait for the first turn's thinking preview, then cancel.
	var got []Event
	for ev := range events {
		got = append(got, ev)
		if ev.Type == EventThinking {
			cancel()
		}
	}
	cancel()

	// No terminal event: the caller decides what a cancellation means.
	for _, ev := range got {
		assert.NotEqual(t, EventResult, ev.Type)
		assert.NotEqual(t, EventError, ev.Type)
	}
}

func TestCreateFixPR_RoundTrip(t *testing.T) {
	prJSON := `{
		"branch": "fix/keyerror-get-user",
		"commits": [
			{"path": "api/users.py", "message": "Fix KeyError in get_user"},
			{"path": "tests/test_users.py", "message": "Add regression tests for get_user"}
		],
		"pr_number": 101,
		"pr_url": "https://github.com/acme/widgets/pull/101",
		"reviewers": [],
		"test_file": "tests/test_users.py",
		"test_strategy": "created_new"
	}`

	api := newScriptedAPI(t,
		toolUse("",
			call("create_branch", map[string]interface{}{"branch": "fix/keyerror-get-user"}),
			call("get_file_contents", map[string]interface{}{"path": "api/users.py", "ref": "fix/keyerror-get-user"}),
		),
		toolUse("",
			call("commit_file", map[string]interface{}{
				"branch":  "fix/keyerror-get-user",
				"path":    "api/users.py",
				"message": "Fix KeyError in get_user",
				"content": "def get_user(request):\n    user_id = request.get('user_id')\n",
			}),
			call("commit_file", map[string]interface{}{
				"branch":  "fix/keyerror-get-user",
				"path":    "tests/test_users.py",
				"message": "Add regression tests for get_user",
				"content": "def test_missing_id():\n    assert True\n",
			}),
			call("open_pull_request", map[string]interface{}{
				"title": "Fix: KeyError in get_user",
				"head":  "fix/keyerror-get-user",
				"body":  "Fixes the unguarded read.\n\n[rcad]",
			}),
		),
		endTurn(prJSON),
	)
	code := &fakeCodeHost{files: map[string]string{
		"api/users.py": "def get_user(request):\n    return request['user_id']\n",
	}}
	o := newTestOracle(t, api, code)

	analysis, err := Parse[Result](analysisResultJSON)
	require.NoError(t, err)

	res, err := o.CreateFixPR(context.Background(), PRRequest{
		IssueID:   "12345",
		SentryURL: "https://sentry.io/organizations/acme/issues/12345/",
		Result:    &analysis,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/acme/widgets/pull/101", res.URL)
	assert.Equal(t, 101, res.Number)
	assert.Equal(t, "fix/keyerror-get-user", res.Branch)
	assert.Equal(t, []string{"api/users.py", "tests/test_users.py"}, res.Files)
	assert.Equal(t, "created_new", res.TestStrategy)

	assert.Equal(t, []string{"fix/keyerror-get-user"}, code.branches)
	require.Len(t, code.commits, 2)
	assert.Equal(t, "tests/test_users.py", code.commits[1].path)
	require.Len(t, code.prs, 1)
	assert.Equal(t, "Fix: KeyError in get_user", code.prs[0].Title)
	assert.Contains(t, code.prs[0].Body, "[rcad]")

	// The prompt hands the oracle the repository, the marker, and the fix.
	first := api.requestJSON(0)
	assert.Contains(t, first, "acme/widgets")
	assert.Contains(t, first, "[rcad]")
	assert.Contains(t, first, "request.get")
	assert.Equal(t, 3, api.requestCount())
}

func TestCreateFixPR_MalformedResponse(t *testing.T) {
	api := newScriptedAPI(t, endTurn("The pull request has been created successfully."))
	o := newTestOracle(t, api, &fakeCodeHost{})

	analysis, err := Parse[Result](analysisResultJSON)
	require.NoError(t, err)

	_, err = o.CreateFixPR(context.Background(), PRRequest{IssueID: "12345", Result: &analysis})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedOracleResponse)
}

func TestCreateFixPR_IncompleteResponse(t *testing.T) {
	api := newScriptedAPI(t, endTurn(`{"branch": "fix/keyerror-get-user"}`))
	o := newTestOracle(t, api, &fakeCodeHost{})

	analysis, err := Parse[Result](analysisResultJSON)
	require.NoError(t, err)

	_, err = o.CreateFixPR(context.Background(), PRRequest{IssueID: "12345", Result: &analysis})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedOracleResponse)
}

func TestCreateFixPR_RequiresResult(t *testing.T) {
	o := newTestOracle(t, newScriptedAPI(t), &fakeCodeHost{})
	_, err := o.CreateFixPR(context.Background(), PRRequest{IssueID: "12345"})
	require.Error(t, err)
}

func TestThinkingPreview_Truncates(t *testing.T) {
	a := &Anthropic{cfg: config.OracleConfig{ThinkingPreviewLen: 10}}
	blocks := []anthropic.ContentBlockUnion{{Type: "text", Text: "0123456789ABCDEF"}}
	assert.Equal(t, "0123456789...", a.thinkingPreview(blocks))

	short := []anthropic.ContentBlockUnion{{Type: "text", Text: "  brief  "}}
	assert.Equal(t, "brief", a.thinkingPreview(short))
}
