// Package toolexec implements the Tool Executor Loop (SPEC_FULL.md §4.6):
// given the tool calls from one completed Assistant message, it looks each
// one up in the Tool Registry, validates its arguments, executes it, and
// reassembles Tool result messages in the original call order regardless of
// completion order.
//
// Concurrency is grounded on the teacher's runtime/agent/runtime/tool_calls.go
// futureInfo/toolCallBatch pattern (dispatch a batch, collect results into a
// slice indexed by original position), simplified from Temporal futures to
// golang.org/x/sync/errgroup's bounded, in-process goroutine group — the
// teacher's own declared (if previously only indirect) concurrency dependency.
package toolexec

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/message"
	"github.com/metricloop/agentrt/schema"
	"github.com/metricloop/agentrt/state"
	"github.com/metricloop/agentrt/telemetry"
	"github.com/metricloop/agentrt/tools"
)

// seqFunc hands out the next monotonic bus sequence number for one run; see
// llmdriver.seqFunc for the shared-counter rationale. Loop serializes its own
// calls into nextSeq with an internal mutex since, unlike the Driver, it may
// call into it from several goroutines at once.
type seqFunc func() uint64

// Loop executes one batch of tool calls against a Registry.
type Loop struct {
	registry    *tools.Registry
	validator   *schema.Validator
	bus         *eventbus.Bus
	logger      telemetry.Logger
	tracer      telemetry.Tracer
	metrics     telemetry.Metrics
	concurrency int
}

// New constructs a Loop. concurrency <= 0 disables the bound (unlimited
// in-flight calls, capped only by len(calls) in a given batch).
func New(registry *tools.Registry, validator *schema.Validator, bus *eventbus.Bus, logger telemetry.Logger, tracer telemetry.Tracer, metrics telemetry.Metrics, concurrency int) *Loop {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Loop{registry: registry, validator: validator, bus: bus, logger: logger, tracer: tracer, metrics: metrics, concurrency: concurrency}
}

// Outcome is what Run hands back once every call in the batch has completed.
type Outcome struct {
	// Messages holds one Complete Tool message per call, in the same order
	// as the calls passed to Run.
	Messages []message.Tool
	// Terminated reports whether any call's tool name appears in the active
	// mode's terminating tool set, per SPEC_FULL.md §4.6 step 5.
	Terminated bool
}

// Run executes calls concurrently (bounded by the Loop's concurrency limit),
// against snap (the state snapshot the calls were gated against) and facade
// (the narrow state read/write capability given to tool Executors). It
// returns once every call has a Tool result, in original call order.
func (l *Loop) Run(ctx context.Context, runID string, nextSeq seqFunc, calls []message.ToolCall, snap state.Snapshot, facade tools.AgentStateFacade, terminatingTools map[string]struct{}) (Outcome, error) {
	ctx, span := l.tracer.Start(ctx, "toolexec.Run")
	defer span.End()

	if len(calls) == 0 {
		return Outcome{}, nil
	}

	safeSeq := &syncSeq{next: nextSeq}
	results := make([]message.Tool, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	if l.concurrency > 0 {
		g.SetLimit(l.concurrency)
	}

	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = l.execute(gctx, runID, safeSeq, call, snap, facade)
			return nil
		})
	}
	// Every execute() call recovers its own errors into an error Tool
	// message rather than returning one, so g.Wait() never actually fails;
	// it only blocks until the batch is done.
	_ = g.Wait()

	terminated := false
	for _, call := range calls {
		if _, ok := terminatingTools[call.FunctionName]; ok {
			terminated = true
			break
		}
	}

	return Outcome{Messages: results, Terminated: terminated}, nil
}

func (l *Loop) execute(ctx context.Context, runID string, seq *syncSeq, call message.ToolCall, snap state.Snapshot, facade tools.AgentStateFacade) message.Tool {
	start := time.Now()

	descriptor, ok := l.registry.Lookup(call.FunctionName)
	if !ok || !descriptor.Gate(snap) {
		err := agenterrors.NewGateViolation(call.ID, call.FunctionName)
		l.logger.Warn(ctx, "tool call rejected by gate", "tool", call.FunctionName, "tool_call_id", call.ID)
		l.metrics.IncCounter("agent_tool_calls_total", 1, "tool", call.FunctionName, "outcome", "gate_violation")
		return l.finish(runID, seq, call, "", err.Error(), true)
	}

	params, err := l.validator.ValidateJSON(descriptor.Name, []byte(call.ArgumentsJSON))
	if err != nil {
		parseErr := agenterrors.NewParseError(call.ID, call.FunctionName, call.ArgumentsJSON, err)
		l.logger.Warn(ctx, "tool call arguments failed validation", "tool", call.FunctionName, "tool_call_id", call.ID, "error", err.Error())
		l.metrics.IncCounter("agent_tool_calls_total", 1, "tool", call.FunctionName, "outcome", "parse_error")
		return l.finish(runID, seq, call, "", parseErr.Error(), true)
	}

	result, err := descriptor.Execute(tools.ExecContext{
		ToolCallID: call.ID,
		Params:     params,
		State:      facade,
		Emit: func(payload any) {
			l.publishInterim(runID, seq, call, payload)
		},
	})
	l.metrics.RecordTimer("agent_tool_call_duration", time.Since(start), "tool", call.FunctionName)
	if err != nil {
		toolErr := agenterrors.NewToolError(call.ID, call.FunctionName, err)
		l.logger.Error(ctx, "tool execution failed", "tool", call.FunctionName, "tool_call_id", call.ID, "error", err.Error())
		l.metrics.IncCounter("agent_tool_calls_total", 1, "tool", call.FunctionName, "outcome", "error")
		return l.finish(runID, seq, call, "", toolErr.Error(), true)
	}

	content, err := encodeResult(result)
	if err != nil {
		toolErr := agenterrors.NewToolError(call.ID, call.FunctionName, fmt.Errorf("encode result: %w", err))
		l.logger.Error(ctx, "tool result encoding failed", "tool", call.FunctionName, "tool_call_id", call.ID, "error", err.Error())
		l.metrics.IncCounter("agent_tool_calls_total", 1, "tool", call.FunctionName, "outcome", "error")
		return l.finish(runID, seq, call, "", toolErr.Error(), true)
	}

	l.metrics.IncCounter("agent_tool_calls_total", 1, "tool", call.FunctionName, "outcome", "success")
	return l.finish(runID, seq, call, content, "", false)
}

func (l *Loop) finish(runID string, seq *syncSeq, call message.ToolCall, content, errContent string, isError bool) message.Tool {
	out := content
	if isError {
		out = errContent
	}
	msg := message.Tool{
		ID:         call.ID,
		Name:       call.FunctionName,
		Content:    out,
		ToolCallID: call.ID,
		Progress:   message.Complete,
		IsError:    isError,
	}
	l.publish(runID, seq.nextLocked(), msg)
	return msg
}

func (l *Loop) publishInterim(runID string, seq *syncSeq, call message.ToolCall, payload any) {
	content, err := encodeResult(payload)
	if err != nil {
		content = fmt.Sprintf("%v", payload)
	}
	l.publish(runID, seq.nextLocked(), message.Tool{
		ID:         call.ID,
		Name:       call.FunctionName,
		Content:    content,
		ToolCallID: call.ID,
		Progress:   message.InProgress,
	})
}

func (l *Loop) publish(runID string, seq uint64, payload eventbus.Payload) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventbus.Event{RunID: runID, Sequence: seq, Payload: payload})
}

func encodeResult(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// syncSeq serializes concurrent callers of a shared seqFunc, which the
// Driver only ever calls from a single goroutine but the Loop calls from
// every in-flight tool's goroutine.
type syncSeq struct {
	mu   sync.Mutex
	next seqFunc
}

func (s *syncSeq) nextLocked() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next()
}
