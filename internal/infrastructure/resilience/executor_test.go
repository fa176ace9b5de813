package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/sony/gobreaker/v2"
)

func fastRetryConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	}
}

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(fastRetryConfig())

	attempts := 0
	errTemp := domain.WrapError(domain.ErrTemporary, "embed", errors.New("connection reset"))
	err := exec.Execute(context.Background(), "embed_query", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, TemporaryClassifier)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastRetryConfig())

	attempts := 0
	errPermanent := errors.New("model not found")
	err := exec.Execute(context.Background(), "embed_query", func(context.Context) error {
		attempts++
		return errPermanent
	}, TemporaryClassifier)
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteAppliesAttemptTimeout(t *testing.T) {
	cfg := fastRetryConfig()
	cfg.RetryMaxAttempts = 1
	cfg.AttemptTimeout = 5 * time.Millisecond
	exec := NewExecutor(cfg)

	err := exec.Execute(context.Background(), "embed_query", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, TemporaryClassifier)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	})

	var mu sync.Mutex
	var transitions []string
	exec.WithStateListener(func(_, from, to string) {
		mu.Lock()
		transitions = append(transitions, from+"->"+to)
		mu.Unlock()
	})

	errTemp := domain.WrapError(domain.ErrTemporary, "generate", errors.New("503"))
	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "generate", func(context.Context) error {
			return errTemp
		}, TemporaryClassifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "generate", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, TemporaryClassifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected open circuit to be temporary, got %v", err)
	}
	if got := exec.State("generate"); got != "open" {
		t.Fatalf("expected open state, got %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Fatalf("unexpected transitions: %v", transitions)
	}
}

func TestCancellationIsNotRecordedAsFailure(t *testing.T) {
	class := TemporaryClassifier(context.Canceled)
	if class.Retryable || class.RecordFailure {
		t.Fatalf("unexpected classification for cancellation: %+v", class)
	}
}

func TestStateUnknownOperationIsClosed(t *testing.T) {
	exec := NewExecutor(DefaultConfig())
	if got := exec.State("never"); got != "closed" {
		t.Fatalf("expected closed, got %q", got)
	}
}

func TestBreakerOnlyDisablesRetries(t *testing.T) {
	cfg := BreakerOnly(DefaultConfig())
	if cfg.RetryMaxAttempts != 1 {
		t.Fatalf("expected single attempt, got %d", cfg.RetryMaxAttempts)
	}
	if !cfg.BreakerEnabled {
		t.Fatalf("expected breaker to stay enabled")
	}
}
