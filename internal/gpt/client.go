// internal/gpt/client.go
package gpt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"gold-bot/pkg/logger"
)

// Turn is one message of a conversation fed back to the model as context.
type Turn struct {
	Role    string
	Content string
}

const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Classification is the oracle's verdict on a user message.
type Classification struct {
	IsRelevant bool    `json:"is_relevant"`
	Confidence float64 `json:"confidence"`
	Reply      string  `json:"reply"`
	Summary    string  `json:"summary"`
	// Source is "model" or "keywords".
	Source string `json:"-"`
}

const (
	SourceModel    = "model"
	SourceKeywords = "keywords"
)

const systemPrompt = `Ты консультант сервиса покупки физического золота.
Отвечай пользователю кратко и по делу на его языке.
Определи, хочет ли пользователь купить золото или узнать условия покупки.
Ответь строго JSON объектом:
{"is_relevant": bool, "confidence": число от 0 до 1, "reply": "ответ пользователю", "summary": "краткая суть запроса"}`

type Client struct {
	client *openai.Client
	model  string
	logger *logger.Logger
}

func NewClient(apiKey string, l *logger.Logger) *Client {
	return &Client{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
		logger: l,
	}
}

// NewClientWithBaseURL points the client at an OpenAI compatible endpoint.
func NewClientWithBaseURL(apiKey, baseURL string, l *logger.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.GPT4oMini,
		logger: l,
	}
}

func (c *Client) WithModel(model string) *Client {
	if model != "" {
		c.model = model
	}
	return c
}

// Classify asks the model whether text expresses purchase intent. It does not
// fail: any API or decoding error degrades to keyword matching.
func (c *Client) Classify(ctx context.Context, text string, history []Turn) Classification {
	cls, err := c.classifyWithModel(ctx, text, history)
	if err != nil {
		c.logger.Warnw("Classifier unavailable, falling back to keywords", "error", err)
		return ClassifyKeywords(text)
	}
	return cls
}

func (c *Client) classifyWithModel(ctx context.Context, text string, history []Turn) (Classification, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   500,
		Temperature: 0.2,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Classification{}, err
	}
	if len(resp.Choices) == 0 {
		return Classification{}, errors.New("no response from GPT API")
	}

	var cls Classification
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return Classification{}, fmt.Errorf("decode classification: %w", err)
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return Classification{}, fmt.Errorf("confidence %v out of range", cls.Confidence)
	}
	cls.Source = SourceModel
	return cls, nil
}
