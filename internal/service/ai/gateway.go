package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"accordgo/internal/config"
)

// Error taxonomy for completion failures. Handlers map these to HTTP codes.
var (
	ErrRateLimited  = errors.New("upstream rate limited")
	ErrUnauthorized = errors.New("upstream unauthorized")
	ErrProvider     = errors.New("provider error")
)

// ChatModel is the narrow slice of the eino model surface the gateway needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// RetryPolicy governs retries on transient upstream rate limiting. Only
// rate-limit failures are retried; everything else propagates immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy retries up to 3 attempts total, backing off 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// Gateway wraps the configured chat model behind a uniform Complete call
// shared by all five assist actions.
type Gateway struct {
	chatModel ChatModel
	retry     RetryPolicy
}

// NewGateway builds the provider's chat model from config and wraps it.
func NewGateway(cfg *config.Config, provider string, retry RetryPolicy) (*Gateway, error) {
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var (
		chatModel ChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(context.Background(), &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(context.Background(), &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(context.Background(), &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return NewGatewayWithModel(chatModel, retry), nil
}

// NewGatewayWithModel wraps an already-built model, used by tests.
func NewGatewayWithModel(chatModel ChatModel, retry RetryPolicy) *Gateway {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = time.Second
	}
	return &Gateway{chatModel: chatModel, retry: retry}
}

// Complete runs one completion and returns the response text. Rate-limit
// failures are retried with exponential backoff until attempts run out, then
// surface as ErrRateLimited.
func (g *Gateway) Complete(ctx context.Context, messages []*schema.Message) (string, error) {
	delay := g.retry.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		resp, err := g.chatModel.Generate(ctx, messages)
		if err == nil {
			if resp == nil || strings.TrimSpace(resp.Content) == "" {
				return "", fmt.Errorf("%w: empty completion", ErrProvider)
			}
			return resp.Content, nil
		}
		lastErr = classify(err)
		if !errors.Is(lastErr, ErrRateLimited) || attempt == g.retry.MaxAttempts {
			return "", lastErr
		}
		if err := sleep(ctx, delay); err != nil {
			return "", err
		}
		delay *= 2
	}
	return "", lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classify folds arbitrary provider errors into the gateway taxonomy. The
// eino model components surface upstream HTTP failures as formatted errors,
// so matching is on status code and message substrings.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "quota"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "authentication"):
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	default:
		return fmt.Errorf("%w: %v", ErrProvider, err)
	}
}
