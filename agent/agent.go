// Package agent implements the public façade (SPEC_FULL.md §4.8): the Agent
// object composes the Mode Controller, LLM Driver, and Tool Executor Loop
// into the per-turn data flow described in §2 — Mode Controller → LLM Driver
// → (tool calls?) → Tool Executor Loop → loop, or terminate — over one
// user/session-scoped thread and state store.
//
// Grounded on runtime/agent/runtime/runtime.go and client.go's public
// operation surface (construct once, run many times, single active run per
// handle), adapted from the teacher's Temporal-workflow-backed client to a
// single in-process goroutine per run, per SPEC_FULL.md's explicit non-goal
// of reintroducing durable-workflow semantics.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/llmdriver"
	"github.com/metricloop/agentrt/message"
	"github.com/metricloop/agentrt/mode"
	"github.com/metricloop/agentrt/schema"
	"github.com/metricloop/agentrt/state"
	"github.com/metricloop/agentrt/telemetry"
	"github.com/metricloop/agentrt/toolexec"
	"github.com/metricloop/agentrt/tools"
)

// Deps bundles the collaborators an Agent composes. Table and Provider are
// required; the telemetry fields default to no-ops when nil, matching the
// constructor conventions of the components themselves.
type Deps struct {
	// Provider issues the streaming chat-completion calls the LLM Driver
	// wraps.
	Provider llmdriver.Provider
	// Table supplies the per-mode prompt/model/tools/terminators the Mode
	// Controller applies; builtintools.Table(modelID) is the default.
	Table mode.Table
	// Validator backs both the Tool Registry's at-registration schema check
	// and the Tool Executor Loop's per-call argument validation. A fresh
	// schema.NewValidator() is used if nil.
	Validator *schema.Validator

	BusCapacity     int
	ToolConcurrency int
	RequestTimeout  time.Duration

	Logger  telemetry.Logger
	Tracer  telemetry.Tracer
	Metrics telemetry.Metrics
}

// Agent is the public façade over one (user, session) conversation.
// Constructed once per session and reused across turns; state and the
// thread persist across runs within the Agent's lifetime (SPEC_FULL.md §3
// "Lifecycle").
type Agent struct {
	userID    string
	sessionID string

	thread *message.Thread
	state  *state.State

	registry   *tools.Registry
	controller *mode.Controller
	driver     *llmdriver.Driver
	loop       *toolexec.Loop
	bus        *eventbus.Bus
	logger     telemetry.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc

	seq uint64 // owned by the single active run's goroutine; see nextSeq.
}

// New constructs an Agent for (userID, sessionID), seeding AgentState with
// initialState (which may be nil; SPEC_FULL.md §6 "Persisted state layout"
// expects a caller to rehydrate prior state here since the core assumes no
// durability of its own).
func New(userID, sessionID string, initialState map[string]any, deps Deps) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	validator := deps.Validator
	if validator == nil {
		validator = schema.NewValidator()
	}

	bus := eventbus.New(deps.BusCapacity)
	bus.OnLag(func(skipped int) {
		logger.Debug(context.Background(), "subscriber lagging", "skipped", skipped, "session_id", sessionID)
	})

	registry := tools.NewRegistry(validator)

	return &Agent{
		userID:     userID,
		sessionID:  sessionID,
		thread:     message.NewThread(uuid.NewString(), userID),
		state:      state.New(initialState),
		registry:   registry,
		controller: mode.NewController(registry, deps.Table, bus, logger),
		driver:     llmdriver.New(deps.Provider, bus, logger, tracer, metrics, deps.RequestTimeout),
		loop:       toolexec.New(registry, validator, bus, logger, tracer, metrics, deps.ToolConcurrency),
		bus:        bus,
		logger:     logger,
	}
}

// AppendUserMessage appends text as a User message and records it in
// AgentState as user_prompt, driving the §6 state-to-mode function. Every
// call after the conversation's first marks is_follow_up, so a later run
// that observes an AgentState with no fresh user_prompt (e.g. because a tool
// cleared it) does not incorrectly fall back to Initializing — see
// DESIGN.md's Open Question decision for is_follow_up.
func (a *Agent) AppendUserMessage(text string) {
	isFollowUp := a.thread.Len() > 0
	a.thread.Append(message.User{Content: text})
	a.state.Set("user_prompt", text)
	if isFollowUp {
		a.state.Set("is_follow_up", true)
	}
}

// Subscribe registers a new event subscriber. Callers must subscribe before
// calling Run to avoid missing that run's early events (SPEC_FULL.md §4.1).
// The returned func unsubscribes.
func (a *Agent) Subscribe() (<-chan eventbus.Event, func()) {
	return a.bus.Subscribe()
}

// Cancel cooperatively aborts the currently active run, if any. It is a
// no-op if no run is active.
func (a *Agent) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Shutdown drains the Agent and closes its Event Bus, emitting a final Done
// to every subscriber and releasing them. The Agent must not be used after
// Shutdown returns.
func (a *Agent) Shutdown(ctx context.Context) {
	a.Cancel()
	a.bus.Close(ctx, "", a.nextSeq(), false)
}

// Run executes SPEC_FULL.md §4.7→§4.5→§4.6 to completion: Mode Controller
// picks a mode, the LLM Driver issues one streaming call, and if the
// assistant message carries tool calls, the Tool Executor Loop runs them and
// control loops back to the Mode Controller. Run returns when a terminating
// tool fires, the assistant finishes with no tool calls, the provider fails,
// or ctx is cancelled.
//
// At most one Run is active per Agent; a concurrent call returns
// agenterrors.ErrBusy without emitting any event, per SPEC_FULL.md §4.8's
// single-active-run invariant.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return agenterrors.ErrBusy
	}
	a.running = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.seq = 0
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.cancel = nil
		a.mu.Unlock()
		cancel()
	}()

	runID := uuid.NewString()

	for {
		snap := a.state.Snapshot()
		result := a.controller.Transition(runCtx, snap, runID, a.nextSeq())

		req := llmdriver.Request{
			ModelID:  result.ModelID,
			Messages: a.threadWithPrompt(result.Prompt),
			Tools:    a.registry.EnabledSchemas(snap),
		}

		outcome, err := a.driver.Run(runCtx, runID, a.nextSeq, req)
		if err != nil {
			if errors.Is(err, agenterrors.ErrCancelled) {
				// The driver already published Done{Cancelled: true}.
				return err
			}
			// The driver published an Error event; this Agent still owes
			// subscribers the terminal Done per SPEC_FULL.md §7.
			a.publish(runID, message.Done{Cancelled: false})
			return err
		}

		a.thread.Append(outcome.Assistant)

		if len(outcome.Assistant.ToolCalls) == 0 {
			a.publish(runID, message.Done{Cancelled: false})
			return nil
		}

		toolOutcome, err := a.loop.Run(runCtx, runID, a.nextSeq, outcome.Assistant.ToolCalls, a.state.Snapshot(), a.state, result.TerminatingTools)
		if err != nil {
			// Every recoverable failure is folded into an error Tool message
			// by the loop itself; Run only returns an error for a
			// programmer mistake (e.g. a nil registry), which has no
			// recovery path here.
			a.publish(runID, message.Done{Cancelled: false})
			return fmt.Errorf("agent: tool executor loop: %w", err)
		}
		select {
		case <-runCtx.Done():
			// Tool executors ignore cancellation (ExecContext carries no
			// context), so the batch above may have completed anyway; per
			// SPEC_FULL.md §5 its results are discarded rather than
			// appended once the run is known to be cancelled.
			a.publish(runID, message.Done{Cancelled: true})
			return agenterrors.ErrCancelled
		default:
		}

		for _, m := range toolOutcome.Messages {
			a.thread.Append(m)
		}

		if toolOutcome.Terminated {
			a.publish(runID, message.Done{Cancelled: false})
			return nil
		}
	}
}

// threadWithPrompt builds the message slice sent to the provider: the
// active mode's prompt as a leading Developer message, followed by the
// thread's own history. The Developer message is never appended to the
// Thread itself, so each Transition's prompt replaces the one before it
// without needing an in-place edit of an otherwise append-only log.
func (a *Agent) threadWithPrompt(prompt string) []message.Message {
	history := a.thread.Snapshot()
	out := make([]message.Message, 0, len(history)+1)
	out = append(out, message.Developer{Content: prompt})
	out = append(out, history...)
	return out
}

func (a *Agent) publish(runID string, payload eventbus.Payload) {
	a.bus.Publish(eventbus.Event{RunID: runID, Sequence: a.nextSeq(), Payload: payload})
}

// nextSeq hands out the next monotonic sequence number for the active run.
// It is called directly by the Mode Controller and LLM Driver from Run's own
// goroutine, and indirectly by the Tool Executor Loop's internal mutex
// wrapper from its batch of worker goroutines — never concurrently with
// Run's own goroutine, since Run blocks on loop.Run until the batch
// completes.
func (a *Agent) nextSeq() uint64 {
	a.seq++
	return a.seq
}
