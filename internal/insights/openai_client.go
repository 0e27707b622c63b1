package insights

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/rjenkins/airmarket/internal/config"
	"github.com/rjenkins/airmarket/internal/market"
	"github.com/rjenkins/airmarket/pkg/logger"
)

// TextGenerator produces narrative text from a prompt pair. The
// production implementation is OpenAIClient; tests substitute fakes.
type TextGenerator interface {
	Complete(ctx context.Context, systemPrompt, userInput string) (string, error)
	Name() string
}

// OpenAIClient talks to the chat completions API. Every call carries a
// hard timeout so a slow upstream can never stall insight generation.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	logger      *logger.Logger
}

// NewOpenAIClient creates a chat completions client from config.
func NewOpenAIClient(cfg config.InsightsConfig, log *logger.Logger) *OpenAIClient {
	return &OpenAIClient{
		client:      openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     time.Duration(cfg.TimeoutSecs) * time.Second,
		logger:      log.Named("openai"),
	}
}

// Name identifies the generator in persisted insights.
func (c *OpenAIClient) Name() string {
	return c.model
}

// Complete sends one chat completion request and returns the raw
// response text.
func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userInput string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userInput),
		},
		Temperature: openai.Float(c.temperature),
	})
	if err != nil {
		return "", &market.InsightGenerationError{Reason: "chat completion request failed", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &market.InsightGenerationError{Reason: "chat completion returned no choices"}
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", &market.InsightGenerationError{Reason: "chat completion returned empty content"}
	}

	c.logger.Debug("Chat completion finished",
		logger.String("model", c.model),
		logger.Duration("elapsed", time.Since(start)),
		logger.Int("content_length", len(content)))

	return content, nil
}

var _ TextGenerator = (*OpenAIClient)(nil)
