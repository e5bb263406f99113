// Package llm talks to OpenAI-compatible chat completion APIs. It grades
// descriptive answers, compares scripts, carries feedback conversations and
// transcribes scanned answer sheets.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/examforge/internal/ingest"
	"github.com/pavelanni/examforge/internal/llm/prompts"
	"github.com/pavelanni/examforge/internal/model"
	"github.com/pavelanni/examforge/internal/scoring"
)

// Provider is the metrics and error label of this client.
const Provider = "openai"

var errNoChoices = errors.New("LLM returned no choices")

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	guard   *Guard
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, opts ...Option) (*Client, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: cfg.Variant,
		guard:   NewGuard(Provider, cfg),
	}, nil
}

// GradeAnswer asks the model to mark one descriptive answer.
func (c *Client) GradeAnswer(ctx context.Context, req scoring.GradeRequest) (scoring.GradeResult, error) {
	const op = "grade answer"
	prompt, err := GradePrompt(c.variant, req)
	if err != nil {
		return scoring.GradeResult{}, err
	}

	raw, err := c.guard.Do(ctx, op, func(ctx context.Context) (string, error) {
		return c.complete(ctx, []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		}, true, 0.1)
	})
	if err != nil {
		return scoring.GradeResult{}, err
	}

	res, err := ParseGrade(raw)
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
	return c.guard.Do(ctx, "compare scripts", func(ctx context.Context) (string, error) {
		return c.complete(ctx, []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		}, false, 0.3)
	})
}

// Reply answers a follow-up message in a feedback session.
func (c *Client) Reply(ctx context.Context, s *model.FeedbackSession, message string) (string, error) {
	system, turns, err := History(s)
	if err != nil {
		return "", err
	}

	chatMsgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == model.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: message})

	return c.guard.Do(ctx, "reply", func(ctx context.Context) (string, error) {
		return c.complete(ctx, chatMsgs, false, 0.3)
	})
}

// Transcribe reads a scanned answer sheet through a vision-capable model.
func (c *Client) Transcribe(ctx context.Context, mimeType string, data []byte) (ingest.Transcript, error) {
	const op = "transcribe"
	prompt, err := prompts.TranscribePrompt()
	if err != nil {
		return ingest.Transcript{}, err
	}
	url := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	raw, err := c.guard.Do(ctx, op, func(ctx context.Context) (string, error) {
		return c.complete(ctx, []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    url,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}}, true, 0)
	})
	if err != nil {
		return ingest.Transcript{}, err
	}

	tr, err := ParseTranscript(raw)
	if err != nil {
		return ingest.Transcript{}, c.guard.Fail(op, raw, err)
	}
	return tr, nil
}

func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessage, jsonMode bool, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: temperature,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
