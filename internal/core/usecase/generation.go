package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/policy-rag/internal/core/domain"
	"github.com/kirillkom/policy-rag/internal/core/ports"
)

// DisabledAnswerText is returned instead of calling a backend when generation
// is switched off.
const DisabledAnswerText = "(generation disabled)"

type GenerationPolicy struct {
	MaxAttempts      int
	AttemptTimeout   time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	MaxCharsPerChunk int
	Disabled         bool
}

func DefaultGenerationPolicy() GenerationPolicy {
	return GenerationPolicy{
		MaxAttempts:      3,
		AttemptTimeout:   60 * time.Second,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       4 * time.Second,
		Multiplier:       2,
		MaxCharsPerChunk: 1200,
	}
}

func (p GenerationPolicy) normalize() GenerationPolicy {
	def := DefaultGenerationPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxCharsPerChunk <= 0 {
		p.MaxCharsPerChunk = def.MaxCharsPerChunk
	}
	return p
}

// GenerationClient runs a bounded retry loop around a completion backend.
type GenerationClient struct {
	backend ports.GenerationBackend
	policy  GenerationPolicy
}

func NewGenerationClient(backend ports.GenerationBackend, policy GenerationPolicy) *GenerationClient {
	return &GenerationClient{backend: backend, policy: policy.normalize()}
}

func (g *GenerationClient) Generate(ctx context.Context, question string, evidence []domain.EvidenceChunk) domain.GenerationOutcome {
	if g.policy.Disabled {
		return domain.GenerationOutcome{
			Text:      DisabledAnswerText,
			Citations: extractCitations("", evidence),
		}
	}
	if g.backend == nil {
		return domain.GenerationOutcome{
			Reason: domain.AbstainGenerationUnavailable,
			Err:    errNoGenerationBackend,
		}
	}

	prompt := buildAnswerPrompt(question, evidence, g.policy.MaxCharsPerChunk)
	backoff := g.policy.InitialBackoff
	attempts := 0
	var lastErr error

	for attempts < g.policy.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return cancelledOutcome(attempts, err)
		}
		attempts++

		text, err := g.attempt(ctx, prompt)
		if err == nil {
			text = strings.TrimSpace(text)
			if text == "" {
				return domain.GenerationOutcome{
					Attempts: attempts,
					Reason:   domain.AbstainGenerationUnavailable,
					Err:      fmt.Errorf("generation returned empty output"),
				}
			}
			return domain.GenerationOutcome{
				Text:      text,
				Citations: extractCitations(text, evidence),
				Attempts:  attempts,
			}
		}
		lastErr = err

		if ctx.Err() != nil {
			return cancelledOutcome(attempts, ctx.Err())
		}
		if !isRetryableGenerationError(err) {
			slog.Warn("generation_failed", "attempt", attempts, "retryable", false, "error", err)
			break
		}
		if attempts >= g.policy.MaxAttempts {
			break
		}

		wait := min(backoff, g.policy.MaxBackoff)
		slog.Warn("retry_attempt",
			"operation", "generate_answer",
			"attempt", attempts,
			"max_attempts", g.policy.MaxAttempts,
			"backoff_ms", float64(wait.Microseconds())/1000.0,
			"error", err,
		)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return cancelledOutcome(attempts, ctx.Err())
			case <-timer.C:
			}
		}
		backoff = min(time.Duration(float64(backoff)*g.policy.Multiplier), g.policy.MaxBackoff)
	}

	return domain.GenerationOutcome{
		Attempts: attempts,
		Reason:   domain.AbstainGenerationUnavailable,
		Err:      lastErr,
	}
}

func (g *GenerationClient) attempt(ctx context.Context, prompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.policy.AttemptTimeout)
	defer cancel()

	text, err := g.backend.Complete(attemptCtx, prompt)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return "", domain.WrapError(domain.ErrTemporary, "generation attempt", err)
	}
	return text, err
}

var errNoGenerationBackend = errors.New("no generation backend configured")

func isRetryableGenerationError(err error) bool {
	return domain.IsKind(err, domain.ErrTemporary)
}

func cancelledOutcome(attempts int, err error) domain.GenerationOutcome {
	return domain.GenerationOutcome{
		Attempts: attempts,
		Reason:   domain.AbstainRequestCancelled,
		Err:      err,
	}
}
