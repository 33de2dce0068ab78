// Package ratelimit wraps an llmdriver.Provider with an adaptive
// tokens-per-minute budget: it estimates the cost of each outgoing request,
// blocks until capacity is available, and backs off its effective budget
// when the wrapped Provider reports a rate-limited ProviderError.
//
// Grounded on features/model/middleware/ratelimit.go's AIMD token-bucket
// design, adapted from model.Client's Complete/Stream pair to the single
// llmdriver.Provider.StreamChat call and narrowed to a process-local
// limiter: SPEC_FULL.md has no cluster-coordination component for the
// teacher's Pulse-replicated-map budget sharing to attach to (see
// DESIGN.md's dropped-dependency entry for goa.design/pulse).
package ratelimit

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/llmdriver"
	"github.com/metricloop/agentrt/message"
)

// Limiter applies an AIMD-style adaptive token bucket in front of a
// llmdriver.Provider. Construct one per process and share it across every
// Agent's Driver so concurrent runs draw from the same budget.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewLimiter constructs a Limiter with an initial and maximum
// tokens-per-minute budget. maxTPM is clamped up to initialTPM if lower.
func NewLimiter(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a Provider that enforces l's budget before delegating to
// next.
func (l *Limiter) Wrap(next llmdriver.Provider) llmdriver.Provider {
	return &limitedProvider{next: next, limiter: l}
}

type limitedProvider struct {
	next    llmdriver.Provider
	limiter *Limiter
}

func (p *limitedProvider) StreamChat(ctx context.Context, req llmdriver.Request) (llmdriver.Streamer, error) {
	if err := p.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := p.next.StreamChat(ctx, req)
	p.limiter.observe(err)
	return stream, err
}

func (l *Limiter) wait(ctx context.Context, req llmdriver.Request) error {
	return l.limiter.WaitN(ctx, estimateTokens(req))
}

func (l *Limiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	var provErr *agenterrors.ProviderError
	if errors.As(err, &provErr) && provErr.Kind == agenterrors.ProviderErrorKindRateLimited {
		l.backoff()
	}
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setRateLocked(newTPM)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setRateLocked(newTPM)
}

func (l *Limiter) setRateLocked(tpm float64) {
	if tpm == l.currentTPM {
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens is a cheap heuristic over message content length, not a
// real tokenizer; it exists to give the limiter a relative cost signal
// between requests, not an exact count.
func estimateTokens(req llmdriver.Request) int {
	chars := 0
	for _, m := range req.Messages {
		switch v := m.(type) {
		case message.Developer:
			chars += len(v.Content)
		case message.User:
			chars += len(v.Content)
		case message.Assistant:
			chars += len(v.Content)
		case message.Tool:
			chars += len(v.Content)
		}
	}
	if chars <= 0 {
		return 500
	}
	return chars/3 + 500
}
