// Package llmdrivertest provides a deterministic, in-memory Provider stand-in
// for driver, executor, and agent-level tests, grounded on the teacher's
// runtime/agent/engine/inmem pattern: a non-durable substitute for an
// external dependency that replays canned output instead of talking to a
// real service.
package llmdrivertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/metricloop/agentrt/llmdriver"
)

// Script is one canned response: a sequence of chunks to replay for the Nth
// call to StreamChat (if the provider is asked for more calls than scripts
// were supplied, the last script repeats).
type Script struct {
	Chunks []llmdriver.Chunk
	// Err, if set, makes StreamChat itself fail (a transport-level failure,
	// distinct from a Chunk carrying a non-empty FinishReason).
	Err error
}

// Provider replays Scripts in order across successive StreamChat calls. It
// records every Request it was asked to stream, so tests can assert on the
// messages/tools sent for each turn.
type Provider struct {
	mu       sync.Mutex
	scripts  []Script
	callIdx  int
	Requests []llmdriver.Request
}

// New constructs a Provider that replays scripts in order.
func New(scripts ...Script) *Provider {
	return &Provider{scripts: scripts}
}

func (p *Provider) StreamChat(ctx context.Context, req llmdriver.Request) (llmdriver.Streamer, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	if len(p.scripts) == 0 {
		p.mu.Unlock()
		return nil, fmt.Errorf("llmdrivertest: no scripts configured")
	}
	idx := p.callIdx
	if idx >= len(p.scripts) {
		idx = len(p.scripts) - 1
	}
	p.callIdx++
	script := p.scripts[idx]
	p.mu.Unlock()

	if script.Err != nil {
		return nil, script.Err
	}
	return &stream{chunks: script.Chunks}, nil
}

type stream struct {
	chunks []llmdriver.Chunk
	pos    int
}

func (s *stream) Next(ctx context.Context) (llmdriver.Chunk, error) {
	select {
	case <-ctx.Done():
		return llmdriver.Chunk{}, ctx.Err()
	default:
	}
	if s.pos >= len(s.chunks) {
		// A well-formed script always ends with a FinishReason chunk; a
		// caller that keeps reading past it is a test bug, not a real EOF
		// condition this fake needs to model.
		return llmdriver.Chunk{FinishReason: "stop"}, nil
	}
	c := s.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *stream) Close() error { return nil }
