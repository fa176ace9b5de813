package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/infrastructure/resilience"
)

const (
	operationChat  = "openai_chat"
	operationEmbed = "openai_embed"
)

const systemPrompt = "You answer questions about policy documents using only the provided evidence."

// chatTemperature is the smallest positive float32. go-openai drops a zero
// temperature from the request, which leaves the server default of 1.0.
const chatTemperature = math.SmallestNonzeroFloat32

type Client struct {
	client     *goopenai.Client
	chatModel  string
	embedModel string
	executor   *resilience.Executor
}

// New returns a client for the OpenAI API or a compatible server at baseURL.
func New(apiKey, baseURL, chatModel, embedModel string, executor *resilience.Executor) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "openai client", fmt.Errorf("api key is empty"))
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if executor == nil {
		executor = resilience.NewExecutor(resilience.BreakerOnly(resilience.DefaultConfig()))
	}
	return &Client{
		client:     goopenai.NewClientWithConfig(cfg),
		chatModel:  chatModel,
		embedModel: embedModel,
		executor:   executor,
	}, nil
}

func (c *Client) Model() string {
	return c.chatModel
}

func (c *Client) BreakerState() string {
	return c.executor.State(operationChat)
}

// Complete sends the prompt as a single user turn at near-zero temperature.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var content string
	err := c.executor.Execute(ctx, operationChat, func(callCtx context.Context) error {
		resp, err := c.client.CreateChatCompletion(callCtx, goopenai.ChatCompletionRequest{
			Model: c.chatModel,
			Messages: []goopenai.ChatCompletionMessage{
				{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: goopenai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: chatTemperature,
		})
		if err != nil {
			return fmt.Errorf("create chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			content = ""
			return nil
		}
		content = resp.Choices[0].Message.Content
		return nil
	}, classifyOpenAIError)
	if err != nil {
		return "", wrapTemporaryIfNeeded("openai chat", err)
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := c.executor.Execute(ctx, operationEmbed, func(callCtx context.Context) error {
		resp, err := c.client.CreateEmbeddings(callCtx, goopenai.EmbeddingRequest{
			Input: []string{text},
			Model: goopenai.EmbeddingModel(c.embedModel),
		})
		if err != nil {
			return fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) == 0 {
			embedding = nil
			return nil
		}
		embedding = resp.Data[0].Embedding
		return nil
	}, classifyOpenAIError)
	if err != nil {
		return nil, wrapTemporaryIfNeeded("openai embed", err)
	}
	if len(embedding) == 0 {
		return nil, domain.WrapError(domain.ErrEmbeddingMissing, "openai embed", fmt.Errorf("empty embedding result"))
	}
	return embedding, nil
}

func classifyOpenAIError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if errors.Is(err, context.DeadlineExceeded) || resilience.IsCircuitOpen(err) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}

	if status := statusCode(err); status != 0 {
		if isRetryableHTTPStatus(status) {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func statusCode(err error) int {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyOpenAIError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
