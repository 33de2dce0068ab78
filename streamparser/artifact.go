// Package streamparser implements the progressive JSON recovery procedure
// described in SPEC_FULL.md §4.4: it converts a sequence of partial provider
// chunks into a sequence of typed, progressively-complete ProgressiveArtifact
// events (File, Plan, ReasoningStep, ToolCallStart, ToolCallComplete).
//
// The assembly discipline (one in-flight buffer per tool call, emit on every
// meaningful delta) is grounded on features/model/anthropic/stream.go's
// per-content-block chunk processor; the repair/closure algorithm itself has
// no direct teacher analogue, since the teacher's providers deliver
// structurally complete deltas and only the model layer reassembles them.
package streamparser

import "sync/atomic"

// Artifact is implemented by every ProgressiveArtifact variant. Like
// message.Message, the interface is sealed to this package's variants.
type Artifact interface {
	isArtifact()
	Seq() uint64
}

type base struct {
	seq uint64
}

func (b base) Seq() uint64 { return b.seq }

// Line is one newline-delimited line recovered from a streamed text field
// (typically yml_content), 1-indexed to match how the source document reads.
type Line struct {
	Number int
	Text   string
}

// File reports the progressively-assembled state of one file argument in a
// write_metric_file-shaped tool call. Complete is true once the file's
// yml_content value has been closed by a terminating quote in the provider
// stream.
type File struct {
	base
	ID       string
	FileType string
	FileName string
	Version  int
	Lines    []Line
	Complete bool
}

func (File) isArtifact() {}

// Plan reports the progressively-assembled markdown content of a
// create_plan tool call.
type Plan struct {
	base
	MarkdownSoFar string
}

func (Plan) isArtifact() {}

// ReasoningStep reports one chunk of free-text assistant content, i.e. model
// reasoning/narration that is not itself a tool call argument.
type ReasoningStep struct {
	base
	TextChunk string
}

func (ReasoningStep) isArtifact() {}

// ToolCallStart reports that the model has begun declaring a new tool call.
type ToolCallStart struct {
	base
	ToolName string
	ID       string
}

func (ToolCallStart) isArtifact() {}

// ToolCallComplete reports that a tool call's arguments have finished
// streaming: either the argument buffer closed into well-formed JSON, or the
// provider signalled end-of-stream for this message, whichever happened
// first. Exactly one ToolCallComplete is emitted per tool-call id.
type ToolCallComplete struct {
	base
	ToolName      string
	ID            string
	ResultSummary string
}

func (ToolCallComplete) isArtifact() {}

// sequencer hands out monotonically increasing sequence numbers for one run.
type sequencer struct {
	n atomic.Uint64
}

func (s *sequencer) next() uint64 { return s.n.Add(1) }
