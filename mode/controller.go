package mode

import (
	"context"

	"github.com/metricloop/agentrt/eventbus"
	"github.com/metricloop/agentrt/message"
	"github.com/metricloop/agentrt/state"
	"github.com/metricloop/agentrt/telemetry"
	"github.com/metricloop/agentrt/tools"
)

// ToolLoader registers a mode's tools into a freshly-cleared Registry.
type ToolLoader func(r *tools.Registry)

// Configuration is one mode's bundle of prompt, model, tools, and
// terminating-tool set (SPEC_FULL.md §3 "Mode").
type Configuration struct {
	Prompt           string
	ModelID          string
	ToolLoader       ToolLoader
	TerminatingTools map[string]struct{}
}

// Table maps every Mode to its Configuration. The Agent owns one Table,
// populated at construction (the built-in defaults come from the
// builtintools package; callers may substitute their own).
type Table map[Mode]Configuration

// Controller applies §4.7: before every driver iteration it snapshots
// state, decides a mode, and atomically swaps the registry, prompt, and
// model to that mode's configuration.
type Controller struct {
	registry *tools.Registry
	table    Table
	bus      *eventbus.Bus
	logger   telemetry.Logger

	current Mode
}

// NewController constructs a Controller over registry, using table to
// resolve mode configurations. bus and logger may be nil-equivalent no-ops.
func NewController(registry *tools.Registry, table Table, bus *eventbus.Bus, logger telemetry.Logger) *Controller {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Controller{registry: registry, table: table, bus: bus, logger: logger}
}

// Result is what one Transition call hands back to the Agent: the prompt to
// install as the thread's leading Developer message, and the model id to
// issue the next driver call against.
type Result struct {
	Mode             Mode
	Prompt           string
	ModelID          string
	TerminatingTools map[string]struct{}
}

// Transition runs one full §4.7 cycle against snap: decide the mode, clear
// and repopulate the registry via that mode's tool_loader, and return the
// prompt/model/terminators the caller must apply to the thread and driver
// request. runID and seq are used only to stamp the informational
// ModeChanged event; seq is advanced by the caller's own sequencing scheme,
// so Transition takes the next sequence number rather than owning one.
func (c *Controller) Transition(ctx context.Context, snap state.Snapshot, runID string, seq uint64) Result {
	next := Decide(snap)
	cfg, ok := c.table[next]
	if !ok {
		// An unconfigured mode degrades to an empty tool set rather than
		// panicking; the driver will simply see no tools for this turn.
		cfg = Configuration{ModelID: "", TerminatingTools: map[string]struct{}{}}
	}

	c.registry.Clear()
	if cfg.ToolLoader != nil {
		cfg.ToolLoader(c.registry)
	}

	from := c.current
	c.current = next

	c.logger.Info(ctx, "mode transition", "from", string(from), "to", string(next), "run_id", runID)
	if c.bus != nil {
		c.bus.Publish(eventbus.Event{
			RunID:    runID,
			Sequence: seq,
			Payload:  eventbus.ModeChanged{From: string(from), To: string(next)},
		})
	}

	terminators := cfg.TerminatingTools
	if terminators == nil {
		terminators = map[string]struct{}{}
	}
	return Result{Mode: next, Prompt: cfg.Prompt, ModelID: cfg.ModelID, TerminatingTools: terminators}
}

// Current returns the mode most recently decided by Transition, or the zero
// Mode before the first transition.
func (c *Controller) Current() Mode { return c.current }

// DeveloperPrompt builds the Developer message the caller should install (or
// replace) as the thread's leading message for this mode, per §4.7 step 3
// ("replacing any prior developer message the controller itself installed").
func DeveloperPrompt(prompt string) message.Developer {
	return message.Developer{Content: prompt}
}
