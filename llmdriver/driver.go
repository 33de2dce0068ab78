// Package llmdriver implements the LLM Driver (SPEC_FULL.md §4.5): it opens
// a streaming chat-completion request against a pluggable Provider,
// assembles incremental chunks into one Assistant message, forwards
// progress events to the Event Bus, and feeds every chunk to the Streaming
// Parser.
//
// Grounded on runtime/agent/model/model.go's Streamer/Chunk contract and
// runtime/agent/runtime/helpers.go's chunk-to-message assembly loop, with
// the provider-agnostic Chunk shape generalized from Anthropic- and
// OpenAI-specific deltas to the wire contract in SPEC_FULL.md §6.
package llmdriver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/message"
	"github.com/metricloop/agentrt/streamparser"
	"github.com/metricloop/agentrt/telemetry"
)

// Request is what the Driver sends to a Provider for one streaming call.
type Request struct {
	ModelID  string
	Messages []message.Message
	Tools    []map[string]any
}

// ToolCallDelta is the tool-call portion of one Chunk, present only while
// the model is declaring or extending a tool call.
type ToolCallDelta struct {
	// Index is the provider's position for this tool call within the
	// current assistant turn, stable across chunks that extend the same
	// call.
	Index int
	// ID is populated on the chunk that starts a new tool call and empty on
	// subsequent chunks that only extend its arguments.
	ID string
	// Name is populated on the chunk that starts a new tool call.
	Name string
	// ArgumentsDelta is the next fragment of the call's JSON arguments
	// string.
	ArgumentsDelta string
}

// Chunk is one incremental delta from a Provider's streaming response,
// matching the provider-agnostic contract in SPEC_FULL.md §6.
type Chunk struct {
	ContentDelta string
	ToolCall     *ToolCallDelta
	FinishReason string // "", "stop", or "tool_calls"
}

// Streamer yields a Provider's response one Chunk at a time. Once the
// underlying stream is exhausted, Next returns a Chunk with FinishReason
// "stop" and a nil error; callers stop reading once a non-empty
// FinishReason chunk is returned.
type Streamer interface {
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// Provider issues a streaming chat-completion call. Concrete adapters live
// in subpackages (anthropicprovider, openaiprovider, bedrockprovider); a
// deterministic fake lives in llmdrivertest for unit tests.
type Provider interface {
	StreamChat(ctx context.Context, req Request) (Streamer, error)
}

// Driver assembles Provider chunks into Assistant messages and forwards
// progress onto an Event Bus.
type Driver struct {
	provider       Provider
	bus            *eventbus.Bus
	logger         telemetry.Logger
	tracer         telemetry.Tracer
	metrics        telemetry.Metrics
	requestTimeout time.Duration
}

// New constructs a Driver. requestTimeout <= 0 disables the per-call
// deadline (tests commonly do this with a fake provider that never hangs).
func New(provider Provider, bus *eventbus.Bus, logger telemetry.Logger, tracer telemetry.Tracer, metrics telemetry.Metrics, requestTimeout time.Duration) *Driver {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Driver{provider: provider, bus: bus, logger: logger, tracer: tracer, metrics: metrics, requestTimeout: requestTimeout}
}

// Outcome is what Run hands back once the provider stream ends.
type Outcome struct {
	Assistant message.Assistant
	// Cancelled is true when ctx was cancelled before the stream finished;
	// Assistant is the zero value and must not be appended to the Thread.
	Cancelled bool
}

// seqFunc hands out the next monotonic sequence number for bus events
// within one run; the Agent owns the counter and passes it down so every
// component in a run shares one sequence space.
type seqFunc func() uint64

// Run opens one streaming call, assembles the response, and publishes
// progress on the bus. It returns agenterrors.ErrCancelled if ctx is
// cancelled mid-stream, or a *agenterrors.ProviderError if the stream fails.
func (d *Driver) Run(ctx context.Context, runID string, nextSeq seqFunc, req Request) (Outcome, error) {
	ctx, span := d.tracer.Start(ctx, "llmdriver.Run")
	defer span.End()

	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	stream, err := d.provider.StreamChat(ctx, req)
	if err != nil {
		return d.failStream(ctx, runID, nextSeq, err)
	}
	defer stream.Close()

	parser := streamparser.NewParser()
	assistantID := uuid.NewString()
	var content []byte
	type pendingCall struct {
		id, name string
		args     []byte
	}
	calls := make(map[int]*pendingCall)
	order := make([]int, 0, 4)
	initial := true
	finishReason := ""

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				d.publishDone(runID, nextSeq(), true)
				return Outcome{Cancelled: true}, agenterrors.ErrCancelled
			}
			return d.failStream(ctx, runID, nextSeq, ctx.Err())
		default:
		}

		chunk, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				d.publishDone(runID, nextSeq(), true)
				return Outcome{Cancelled: true}, agenterrors.ErrCancelled
			}
			return d.failStream(ctx, runID, nextSeq, err)
		}

		if chunk.ContentDelta != "" {
			content = append(content, chunk.ContentDelta...)
			d.publish(runID, nextSeq(), message.Assistant{
				ID: assistantID, Content: chunk.ContentDelta, Progress: message.InProgress, Initial: initial,
			})
			initial = false
			for _, a := range parser.ContentDelta(chunk.ContentDelta) {
				d.publish(runID, nextSeq(), a)
			}
		}

		if tc := chunk.ToolCall; tc != nil {
			pc, seen := calls[tc.Index]
			if !seen {
				pc = &pendingCall{id: tc.ID, name: tc.Name}
				calls[tc.Index] = pc
				order = append(order, tc.Index)
				for _, a := range parser.ToolCallStart(pc.id, pc.name) {
					d.publish(runID, nextSeq(), a)
				}
			}
			if tc.ArgumentsDelta != "" {
				pc.args = append(pc.args, tc.ArgumentsDelta...)
				for _, a := range parser.ToolCallArgsDelta(pc.id, pc.name, tc.ArgumentsDelta) {
					d.publish(runID, nextSeq(), a)
				}
			}
		}

		if chunk.FinishReason != "" {
			finishReason = chunk.FinishReason
			break
		}
	}

	for _, idx := range order {
		pc := calls[idx]
		for _, a := range parser.Finalize(pc.id, pc.name) {
			d.publish(runID, nextSeq(), a)
		}
	}

	toolCalls := make([]message.ToolCall, 0, len(order))
	for _, idx := range order {
		pc := calls[idx]
		toolCalls = append(toolCalls, message.ToolCall{ID: pc.id, FunctionName: pc.name, ArgumentsJSON: string(pc.args)})
	}

	assistant := message.Assistant{
		ID:        assistantID,
		Content:   string(content),
		ToolCalls: toolCalls,
		Progress:  message.Complete,
	}
	d.publish(runID, nextSeq(), assistant)
	d.metrics.RecordTimer("agent_driver_call_duration", time.Since(start), "finish_reason", finishReason)

	return Outcome{Assistant: assistant}, nil
}

func (d *Driver) publish(runID string, seq uint64, payload eventbus.Payload) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{RunID: runID, Sequence: seq, Payload: payload})
}

func (d *Driver) publishDone(runID string, seq uint64, cancelled bool) {
	d.publish(runID, seq, message.Done{Cancelled: cancelled})
}

func (d *Driver) failStream(ctx context.Context, runID string, nextSeq seqFunc, err error) (Outcome, error) {
	var provErr *agenterrors.ProviderError
	if !errors.As(err, &provErr) {
		kind := agenterrors.ProviderErrorKindUnknown
		if errors.Is(err, context.DeadlineExceeded) {
			kind = agenterrors.ProviderErrorKindTimeout
		}
		provErr = agenterrors.NewProviderError("unknown", "StreamChat", 0, kind, "", false, err)
	}
	d.logger.Error(ctx, "provider stream failed", "error", provErr.Error(), "run_id", runID)
	d.publish(runID, nextSeq(), eventbus.Error{Kind: "provider", Detail: provErr.Error()})
	return Outcome{}, provErr
}
