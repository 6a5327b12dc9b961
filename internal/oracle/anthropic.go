package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/config"
	"github.com/fyrsmithlabs/rcad/internal/logging"
)

// eventBuffer keeps the oracle from stalling on a slow event reader.
const eventBuffer = 16

// PatternSource supplies learned-pattern context for analysis prompts.
// Within a batch the returned text must be identical across calls so the
// prompt prefix stays cacheable.
type PatternSource interface {
	GetAllPatterns(ctx context.Context) string
	GetPatternsByErrorType(ctx context.Context, errorType string) string
}

// Options configures the Anthropic-backed oracle.
type Options struct {
	Config config.OracleConfig
	// Repo is the owner/name slug of the repository fixes land in.
	Repo string
	// PRMarker is the line appended to PR bodies so webhook feedback can
	// be routed back to this system.
	PRMarker string
	Issues   IssueSource
	Code     CodeHost
	Patterns PatternSource
	Logger   *zap.Logger
	// ClientOptions extends the underlying API client, primarily so tests
	// can point it at a local server.
	ClientOptions []option.RequestOption
}

// Anthropic implements Oracle on the Anthropic Messages API.
type Anthropic struct {
	client   *anthropic.Client
	cfg      config.OracleConfig
	tools    *toolset
	patterns PatternSource
	repo     string
	marker   string
	logger   *zap.Logger
}

var _ Oracle = (*Anthropic)(nil)

// NewAnthropic builds the oracle. The turn caps and token limit default
// to safe values when unset: a zero cap would otherwise end every
// conversation before its first call.
func NewAnthropic(opts Options) (*Anthropic, error) {
	if !opts.Config.APIKey.IsSet() {
		return nil, errors.New("oracle: api key not configured")
	}
	if opts.Config.Model == "" {
		return nil, errors.New("oracle: model not configured")
	}
	if opts.Issues == nil || opts.Code == nil {
		return nil, errors.New("oracle: issue source and code host are required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cfg := opts.Config
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.MaxAnalysisTurns <= 0 {
		cfg.MaxAnalysisTurns = 20
	}
	if cfg.MaxAdminTurns <= 0 {
		cfg.MaxAdminTurns = 5
	}
	if cfg.ThinkingPreviewLen <= 0 {
		cfg.ThinkingPreviewLen = 200
	}

	clientOpts := append(
		[]option.RequestOption{option.WithAPIKey(opts.Config.APIKey.Value())},
		opts.ClientOptions...,
	)
	client := anthropic.NewClient(clientOpts...)

	return &Anthropic{
		client:   &client,
		cfg:      cfg,
		tools:    &toolset{issues: opts.Issues, code: opts.Code},
		patterns: opts.Patterns,
		repo:     opts.Repo,
		marker:   opts.PRMarker,
		logger:   opts.Logger,
	}, nil
}

// Analyze starts the analysis conversation in the background and returns
// its event stream.
func (a *Anthropic) Analyze(ctx context.Context, req AnalyzeRequest) (<-chan Event, error) {
	if req.IssueID == "" {
		return nil, errors.New("oracle: issue id required")
	}

	events := make(chan Event, eventBuffer)
	go a.runAnalysis(ctx, req, events)
	return events, nil
}

func (a *Anthropic) runAnalysis(ctx context.Context, req AnalyzeRequest, events chan<- Event) {
	defer close(events)
	logger := logging.For(ctx, a.logger)

	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	emit(Event{Type: EventStatus, Message: fmt.Sprintf("Analyzing Sentry issue %s...", req.IssueID)})

	var patterns string
	if a.patterns != nil {
		if req.ErrorType != "" {
			patterns = a.patterns.GetPatternsByErrorType(ctx, req.ErrorType)
		} else {
			patterns = a.patterns.GetAllPatterns(ctx)
		}
	}

	text, turns, err := a.converse(ctx,
		analysisSystemPrompt,
		analysisUserPrompt(req, patterns),
		analysisTools(),
		a.cfg.MaxAnalysisTurns,
		emit,
	)
	conversationTurns.WithLabelValues("analysis").Observe(float64(turns))
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-flight. No terminal event: the caller owns
			// the cancellation message.
			conversationsTotal.WithLabelValues("analysis", "cancelled").Inc()
			return
		}
		conversationsTotal.WithLabelValues("analysis", "error").Inc()
		logger.Error("analysis conversation failed",
			zap.String("issue_id", req.IssueID),
			zap.Int("turns", turns),
			zap.Error(err))
		emit(Event{Type: EventError, Message: fmt.Sprintf("Analysis failed: %v", err)})
		return
	}

	result, err := Parse[Result](text)
	if err == nil {
		err = result.Validate()
	}
	if err != nil {
		conversationsTotal.WithLabelValues("analysis", "malformed").Inc()
		logger.Error("analysis result rejected",
			zap.String("issue_id", req.IssueID),
			zap.Error(err))
		emit(Event{Type: EventError, Message: fmt.Sprintf("Failed to parse analysis result: %v", err)})
		return
	}

	conversationsTotal.WithLabelValues("analysis", "ok").Inc()
	logger.Info("analysis complete",
		zap.String("issue_id", req.IssueID),
		zap.String("error_type", result.ErrorType),
		zap.Float64("fix_confidence", result.FixConfidence),
		zap.Int("turns", turns))
	emit(Event{Type: EventResult, Result: &result})
}

// CreateFixPR runs the pull-request round-trip for a completed analysis.
func (a *Anthropic) CreateFixPR(ctx context.Context, req PRRequest) (*PRResult, error) {
	if req.Result == nil {
		return nil, errors.New("oracle: analysis result required")
	}

	text, turns, err := a.converse(ctx,
		prSystemPrompt,
		prUserPrompt(req, a.repo, a.marker),
		prTools(),
		a.cfg.MaxAdminTurns,
		nil,
	)
	conversationTurns.WithLabelValues("create_pr").Observe(float64(turns))
	if err != nil {
		conversationsTotal.WithLabelValues("create_pr", "error").Inc()
		return nil, err
	}

	wire, err := Parse[prWire](text)
	if err != nil {
		conversationsTotal.WithLabelValues("create_pr", "malformed").Inc()
		return nil, err
	}
	res := wire.toResult()
	if err := res.Validate(); err != nil {
		conversationsTotal.WithLabelValues("create_pr", "malformed").Inc()
		return nil, err
	}

	conversationsTotal.WithLabelValues("create_pr", "ok").Inc()
	logging.For(ctx, a.logger).Info("fix pull request opened",
		zap.String("issue_id", req.IssueID),
		zap.Int("pr_number", res.Number),
		zap.String("branch", res.Branch),
		zap.Int("turns", turns))
	return res, nil
}

// converse runs one turn-capped tool-use conversation and returns the
// oracle's final text. Intermediate assistant text on tool-use turns is
// forwarded through emit as thinking previews when emit is non-nil.
func (a *Anthropic) converse(
	ctx context.Context,
	system, user string,
	tools []anthropic.ToolUnionParam,
	maxTurns int,
	emit func(Event),
) (string, int, error) {
	history := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
	}

	for turn := 0; turn < maxTurns; turn++ {
		// Cancellation is checked before every call: each turn is a
		// fresh spend, and a cancelled analysis must not start one.
		if err := ctx.Err(); err != nil {
			return "", turn, err
		}

		resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.cfg.Model),
			MaxTokens: int64(a.cfg.MaxTokens),
			System:    []anthropic.TextBlockParam{{Text: system}},
			Messages:  history,
			Tools:     tools,
		})
		if err != nil {
			return "", turn, fmt.Errorf("oracle call failed: %w", err)
		}
		recordUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.CacheReadInputTokens)

		switch resp.StopReason {
		case "end_turn":
			return collectText(resp.Content), turn + 1, nil

		case "tool_use":
			history = append(history, resp.ToParam())

			if emit != nil {
				if preview := a.thinkingPreview(resp.Content); preview != "" {
					emit(Event{Type: EventThinking, Message: preview})
				}
			}

			results := a.runTools(ctx, resp.Content)
			if len(results) == 0 {
				return "", turn + 1, errors.New("oracle stopped for tool use without any tool calls")
			}
			history = append(history, anthropic.NewUserMessage(results...))

		default:
			return "", turn + 1, fmt.Errorf("unexpected stop reason: %s", resp.StopReason)
		}
	}

	return "", maxTurns, fmt.Errorf("conversation exceeded maximum turns (%d)", maxTurns)
}

// runTools executes every tool call in a response. Tool failures become
// error results for the oracle to react to rather than ending the
// conversation.
func (a *Anthropic) runTools(ctx context.Context, blocks []anthropic.ContentBlockUnion) []anthropic.ContentBlockParamUnion {
	var results []anthropic.ContentBlockParamUnion
	for _, block := range blocks {
		switch variant := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			out, err := a.tools.execute(ctx, variant.Name, variant.Input)
			isError := err != nil
			if isError {
				out = err.Error()
				toolCalls.WithLabelValues(variant.Name, "error").Inc()
				a.logger.Warn("oracle tool call failed",
					zap.String("tool", variant.Name),
					zap.Error(err))
			} else {
				toolCalls.WithLabelValues(variant.Name, "ok").Inc()
				a.logger.Debug("oracle tool call",
					zap.String("tool", variant.Name),
					zap.Int("result_len", len(out)))
			}
			results = append(results, anthropic.NewToolResultBlock(variant.ID, out, isError))
		}
	}
	return results
}

// thinkingPreview truncates the response's text blocks for a progress
// event.
func (a *Anthropic) thinkingPreview(blocks []anthropic.ContentBlockUnion) string {
	preview := strings.TrimSpace(collectText(blocks))
	if preview == "" {
		return ""
	}
	if runes := []rune(preview); len(runes) > a.cfg.ThinkingPreviewLen {
		preview = string(runes[:a.cfg.ThinkingPreviewLen]) + "..."
	}
	return preview
}

func collectText(blocks []anthropic.ContentBlockUnion) string {
	var text strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return text.String()
}

// prWire is the JSON shape the oracle returns from the PR round-trip.
type prWire struct {
	Branch       string     `json:"branch"`
	Commits      []prCommit `json:"commits"`
	PRNumber     int        `json:"pr_number"`
	PRURL        string     `json:"pr_url"`
	Reviewers    []string   `json:"reviewers"`
	TestFile     string     `json:"test_file"`
	TestStrategy string     `json:"test_strategy"`
}

type prCommit struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (w prWire) toResult() *PRResult {
	files := make([]string, 0, len(w.Commits))
	for _, c := range w.Commits {
		if c.Path != "" {
			files = append(files, c.Path)
		}
	}
	return &PRResult{
		URL:          w.PRURL,
		Number:       w.PRNumber,
		Branch:       w.Branch,
		Files:        files,
		Reviewers:    w.Reviewers,
		TestFile:     w.TestFile,
		TestStrategy: w.TestStrategy,
	}
}
