// Package gemini implements the grading, chat and transcription
// collaborators on Google's Gemini models.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/llm"
	"github.com/pavelanni/examforge/internal/llm/prompts"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/scoring"
)

// Provider is the metrics and error label of this client.
const Provider = "gemini"

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

const (
	roleUser  = "user"
	roleModel = "model"
)

var errNoContent = errors.New("gemini returned no content")

// Client talks to the Gemini API.
type Client struct {
	client    *genai.Client
	modelName string
	variant   prompts.PromptVariant
	guard     *llm.Guard
}

// New creates a Gemini client authenticated with apiKey.
func New(ctx context.Context, apiKey, modelName string, opts ...llm.Option) (*Client, error) {
	if apiKey == "" {
		return nil, &model.InvalidConfigError{Field: "llm_key", Reason: "is required for the gemini provider"}
	}
	cfg, err := llm.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &model.ExternalServiceError{Service: Provider, Op: "create client", Err: err}
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Client{
		client:    client,
		modelName: modelName,
		variant:   cfg.Variant,
		guard:     llm.NewGuard(Provider, cfg),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// GradeAnswer asks the model to mark one descriptive answer.
func (c *Client) GradeAnswer(ctx context.Context, req scoring.GradeRequest) (scoring.GradeResult, error) {
	const op = "grade answer"
	prompt, err := llm.GradePrompt(c.variant, req)
	if err != nil {
		return scoring.GradeResult{}, err
	}

	m := c.newModel("", true, 0.1)
	raw, err := c.guard.Do(ctx, op, func(ctx context.Context) (string, error) {
		resp, err := m.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		return responseText(resp)
	})
	if err != nil {
		return scoring.GradeResult{}, err
	}

	res, err := llm.ParseGrade(raw)
	if err != nil {
		return scoring.GradeResult{}, c.guard.Fail(op, raw, err)
	}
	return res, nil
}

// Compare returns feedback on a student's script against the teacher's.
func (c *Client) Compare(ctx context.Context, teacherScript, studentScript string) (string, error) {
	system, err := prompts.CompareSystemPrompt()
	if err != nil {
		return "", err
	}
	user, err := prompts.BuildComparePrompt(teacherScript, studentScript)
	if err != nil {
		return "", err
	}

	m := c.newModel(system, false, 0.3)
	return c.guard.Do(ctx, "compare scripts", func(ctx context.Context) (string, error) {
		resp, err := m.GenerateContent(ctx, genai.Text(user))
		if err != nil {
			return "", err
		}
		return responseText(resp)
	})
}

// Reply answers a follow-up message in a feedback session.
func (c *Client) Reply(ctx context.Context, s *model.FeedbackSession, message string) (string, error) {
	system, turns, err := llm.History(s)
	if err != nil {
		return "", err
	}

	cs := c.newModel(system, false, 0.3).StartChat()
	cs.History = history(turns)
	return c.guard.Do(ctx, "reply", func(ctx context.Context) (string, error) {
		resp, err := cs.SendMessage(ctx, genai.Text(message))
		if err != nil {
			return "", err
		}
		return responseText(resp)
	})
}

// Transcribe reads a scanned answer sheet.
func (c *Client) Transcribe(ctx context.Context, mimeType string, data []byte) (ingest.Transcript, error) {
	const op = "transcribe"
	prompt, err := prompts.TranscribePrompt()
	if err != nil {
		return ingest.Transcript{}, err
	}

	m := c.newModel("", true, 0)
	raw, err := c.guard.Do(ctx, op, func(ctx context.Context) (string, error) {
		resp, err := m.GenerateContent(ctx, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		return responseText(resp)
	})
	if err != nil {
		return ingest.Transcript{}, err
	}

	tr, err := llm.ParseTranscript(raw)
	if err != nil {
		return ingest.Transcript{}, c.guard.Fail(op, raw, err)
	}
	return tr, nil
}

func (c *Client) newModel(system string, jsonMode bool, temperature float32) *genai.GenerativeModel {
	m := c.client.GenerativeModel(c.modelName)
	configureModel(m, system, jsonMode, temperature)
	return m
}

func configureModel(m *genai.GenerativeModel, system string, jsonMode bool, temperature float32) {
	m.SetTemperature(temperature)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if jsonMode {
		m.ResponseMIMEType = "application/json"
	}
}

// history maps session turns to Gemini chat contents.
func history(turns []model.ChatTurn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := roleUser
		if t.Role == model.RoleAssistant {
			role = roleModel
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Text)}})
	}
	return out
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errNoContent
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errNoContent
	}
	return text, nil
}
