package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/llm/prompts"
	"github.com/pavelanni/examforge/internal/metrics"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/scoring"
)

// DefaultTimeout bounds one collaborator call.
const DefaultTimeout = 3 * time.Minute

// Config holds the settings shared by all providers.
type Config struct {
	Variant prompts.PromptVariant
	Timeout time.Duration
	RPS     float64
}

// Option configures a provider client.
type Option func(*Config)

// WithVariant selects the grading prompt variant.
func WithVariant(v prompts.PromptVariant) Option { return func(c *Config) { c.Variant = v } }

// WithTimeout bounds each call. Zero or negative keeps DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing calls per second. Zero disables the limit.
func WithRateLimit(rps float64) Option { return func(c *Config) { c.RPS = rps } }

// NewConfig applies opts over the defaults and loads the prompt templates.
func NewConfig(opts ...Option) (Config, error) {
	cfg := Config{Variant: prompts.PromptStandard, Timeout: DefaultTimeout}
	for _, o := range opts {
		o(&cfg)
	}
	if !prompts.IsValidVariant(string(cfg.Variant)) {
		return Config{}, &model.InvalidConfigError{Field: "prompt_variant", Reason: "must be strict, standard or lenient"}
	}
	if err := prompts.LoadDefault(); err != nil {
		return Config{}, fmt.Errorf("load prompts: %w", err)
	}
	return cfg, nil
}

// Guard applies the call timeout and rate limit, records metrics and turns
// failures into *model.ExternalServiceError.
type Guard struct {
	provider string
	timeout  time.Duration
	limiter  *rate.Limiter
}

// NewGuard returns a Guard for provider.
func NewGuard(provider string, cfg Config) *Guard {
	g := &Guard{provider: provider, timeout: cfg.Timeout}
	if cfg.RPS > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS)))
	}
	return g
}

// Do runs fn under the guard. fn returns the raw response text, which is
// kept as the error trace on failure.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			metrics.ObserveLLM(g.provider, op, start, err)
			return "", g.wrap(op, "", err)
		}
	}

	raw, err := fn(ctx)
	metrics.ObserveLLM(g.provider, op, start, err)
	if err != nil {
		slog.Warn("collaborator call failed", "provider", g.provider, "op", op, "error", err)
		return raw, g.wrap(op, raw, err)
	}
	slog.Debug("collaborator response", "provider", g.provider, "op", op, "raw", raw)
	return raw, nil
}

// Fail wraps a post-processing failure of op, such as an unparsable
// response.
func (g *Guard) Fail(op, raw string, err error) error {
	return g.wrap(op, raw, err)
}

func (g *Guard) wrap(op, raw string, err error) error {
	var extErr *model.ExternalServiceError
	if errors.As(err, &extErr) {
		return err
	}
	return &model.ExternalServiceError{Service: g.provider, Op: op, Trace: raw, Err: err}
}

// ParseGrade decodes a grading response.
func ParseGrade(raw string) (scoring.GradeResult, error) {
	var res scoring.GradeResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &res); err != nil {
		return scoring.GradeResult{}, fmt.Errorf("parse grading response: %w", err)
	}
	return res, nil
}

// ParseTranscript decodes a transcription response.
func ParseTranscript(raw string) (ingest.Transcript, error) {
	var tr ingest.Transcript
	if err := json.Unmarshal([]byte(stripFences(raw)), &tr); err != nil {
		return ingest.Transcript{}, fmt.Errorf("parse transcription response: %w", err)
	}
	return tr, nil
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// GradePrompt builds the grading prompt for req.
func GradePrompt(variant prompts.PromptVariant, req scoring.GradeRequest) (string, error) {
	kind := "short answer"
	if req.Type == model.QuestionLong {
		kind = "long answer"
	}
	return prompts.BuildGradePrompt(variant, prompts.GradeData{
		Kind:            kind,
		QuestionNumber:  req.QuestionNumber,
		Question:        req.Guide.Prompt,
		ReferenceAnswer: req.Guide.ReferenceAnswer,
		MaxMarks:        req.Guide.Marks,
		Answer:          req.Answer,
	})
}

// History returns the system prompt and the turns that precede a new chat
// message: the comparison request, the original feedback, then the
// session's own turns.
func History(s *model.FeedbackSession) (string, []model.ChatTurn, error) {
	system, err := prompts.CompareSystemPrompt()
	if err != nil {
		return "", nil, err
	}
	compare, err := prompts.BuildComparePrompt(s.TeacherScript, s.StudentScript)
	if err != nil {
		return "", nil, err
	}
	turns := make([]model.ChatTurn, 0, len(s.Turns)+2)
	turns = append(turns,
		model.ChatTurn{Role: model.RoleUser, Text: compare, At: s.CreatedAt},
		model.ChatTurn{Role: model.RoleAssistant, Text: s.OriginFeedback, At: s.CreatedAt},
	)
	turns = append(turns, s.Turns...)
	return system, turns, nil
}
