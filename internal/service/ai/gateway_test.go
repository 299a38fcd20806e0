package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type stubModel struct {
	responses []string
	errs      []error
	calls     int
}

func (s *stubModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	var content string
	if idx < len(s.responses) {
		content = s.responses[idx]
	}
	return &schema.Message{Role: schema.Assistant, Content: content}, nil
}

func testPrompt() []*schema.Message {
	return RephrasePrompt("you never listen to me")
}

func TestCompleteReturnsText(t *testing.T) {
	stub := &stubModel{responses: []string{"a calm reply"}}
	gw := NewGatewayWithModel(stub, DefaultRetryPolicy())

	got, err := gw.Complete(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "a calm reply" {
		t.Fatalf("unexpected completion %q", got)
	}
	if stub.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", stub.calls)
	}
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	stub := &stubModel{
		errs:      []error{fmt.Errorf("status 429 Too Many Requests"), fmt.Errorf("rate limit exceeded"), nil},
		responses: []string{"", "", "third time lucky"},
	}
	gw := NewGatewayWithModel(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	got, err := gw.Complete(context.Background(), testPrompt())
	if err != nil {
		t.Fatalf("complete after retries: %v", err)
	}
	if got != "third time lucky" {
		t.Fatalf("unexpected completion %q", got)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", stub.calls)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	stub := &stubModel{errs: []error{
		fmt.Errorf("429"), fmt.Errorf("429"), fmt.Errorf("429"),
	}}
	gw := NewGatewayWithModel(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

	_, err := gw.Complete(context.Background(), testPrompt())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if stub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", stub.calls)
	}
}

func TestCompleteDoesNotRetryOtherErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unauthorized", fmt.Errorf("401 unauthorized"), ErrUnauthorized},
		{"bad key", fmt.Errorf("invalid api key"), ErrUnauthorized},
		{"server error", fmt.Errorf("500 internal server error"), ErrProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubModel{errs: []error{tc.err, nil}, responses: []string{"", "never reached"}}
			gw := NewGatewayWithModel(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})

			_, err := gw.Complete(context.Background(), testPrompt())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if stub.calls != 1 {
				t.Fatalf("non-rate-limit errors must not retry, got %d calls", stub.calls)
			}
		})
	}
}

func TestCompleteRejectsEmptyCompletion(t *testing.T) {
	stub := &stubModel{responses: []string{"   "}}
	gw := NewGatewayWithModel(stub, DefaultRetryPolicy())

	_, err := gw.Complete(context.Background(), testPrompt())
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider for empty completion, got %v", err)
	}
}

func TestCompleteHonorsContextDuringBackoff(t *testing.T) {
	stub := &stubModel{errs: []error{fmt.Errorf("429"), fmt.Errorf("429"), fmt.Errorf("429")}}
	gw := NewGatewayWithModel(stub, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gw.Complete(ctx, testPrompt())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation during backoff, got %v", err)
	}
}
