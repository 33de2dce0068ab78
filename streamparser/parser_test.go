package streamparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallArgsDelta_ProgressiveFileLines(t *testing.T) {
	p := NewParser()

	p.ToolCallStart("call-1", "write_metric_file")

	first := p.ToolCallArgsDelta("call-1", "write_metric_file", `{"files":[{"name":"m1","yml_content":"name: M1\n`)
	require.Len(t, first, 1)
	f1, ok := first[0].(File)
	require.True(t, ok)
	assert.Equal(t, "m1", f1.FileName)
	assert.False(t, f1.Complete)
	require.Len(t, f1.Lines, 1)
	assert.Equal(t, Line{Number: 1, Text: "name: M1"}, f1.Lines[0])

	second := p.ToolCallArgsDelta("call-1", "write_metric_file", `sql: SELECT 1"}]}`)
	require.Len(t, second, 2) // File update + ToolCallComplete, since the buffer now closes.
	f2, ok := second[0].(File)
	require.True(t, ok)
	assert.True(t, f2.Complete)
	require.Len(t, f2.Lines, 2)
	assert.Equal(t, Line{Number: 1, Text: "name: M1"}, f2.Lines[0])
	assert.Equal(t, Line{Number: 2, Text: "sql: SELECT 1"}, f2.Lines[1])

	_, ok = second[1].(ToolCallComplete)
	assert.True(t, ok)
}

func TestToolCallArgsDelta_NoEmitOnUnchangedContent(t *testing.T) {
	p := NewParser()
	p.ToolCallStart("call-1", "write_metric_file")

	p.ToolCallArgsDelta("call-1", "write_metric_file", `{"files":[{"name":"m1","yml_content":"no newline yet`)
	again := p.ToolCallArgsDelta("call-1", "write_metric_file", ``)
	assert.Empty(t, again)
}

func TestToolCallComplete_IsIdempotent(t *testing.T) {
	p := NewParser()
	p.ToolCallStart("call-1", "done")

	artifacts := p.ToolCallArgsDelta("call-1", "done", `{}`)
	require.Len(t, artifacts, 1)
	_, ok := artifacts[0].(ToolCallComplete)
	require.True(t, ok)

	// Feeding more identical bytes must not re-emit ToolCallComplete.
	again := p.ToolCallArgsDelta("call-1", "done", ``)
	assert.Empty(t, again)

	finalized := p.Finalize("call-1", "done")
	assert.Empty(t, finalized)
}

func TestFinalize_ForcesCompletionOnTruncatedStream(t *testing.T) {
	p := NewParser()
	p.ToolCallStart("call-1", "create_plan")
	p.ToolCallArgsDelta("call-1", "create_plan", `{"markdown":"partial plan, no closing quote`)

	artifacts := p.Finalize("call-1", "create_plan")
	require.Len(t, artifacts, 1)
	_, ok := artifacts[0].(ToolCallComplete)
	assert.True(t, ok)
}

func TestScanMarkdown_ProgressivePlan(t *testing.T) {
	p := NewParser()
	p.ToolCallStart("call-1", "create_plan")

	a1 := p.ToolCallArgsDelta("call-1", "create_plan", `{"markdown":"## Step 1`)
	require.Len(t, a1, 1)
	plan, ok := a1[0].(Plan)
	require.True(t, ok)
	assert.Equal(t, "## Step 1", plan.MarkdownSoFar)

	a2 := p.ToolCallArgsDelta("call-1", "create_plan", `\n## Step 2"}`)
	require.Len(t, a2, 2)
	plan2, ok := a2[0].(Plan)
	require.True(t, ok)
	assert.Equal(t, "## Step 1\n## Step 2", plan2.MarkdownSoFar)
}

func TestContentDelta_EmitsReasoningStep(t *testing.T) {
	p := NewParser()
	artifacts := p.ContentDelta("thinking about the catalog")
	require.Len(t, artifacts, 1)
	step, ok := artifacts[0].(ReasoningStep)
	require.True(t, ok)
	assert.Equal(t, "thinking about the catalog", step.TextChunk)
}

func TestContentDelta_EmptyIsNoop(t *testing.T) {
	p := NewParser()
	assert.Empty(t, p.ContentDelta(""))
}

func TestSequenceNumbers_AreMonotonic(t *testing.T) {
	p := NewParser()
	var seqs []uint64
	for _, a := range p.ToolCallStart("call-1", "done") {
		seqs = append(seqs, a.Seq())
	}
	for _, a := range p.ToolCallArgsDelta("call-1", "done", `{}`) {
		seqs = append(seqs, a.Seq())
	}
	for i := 1; i < len(seqs); i++ {
		assert.Greater(t, seqs[i], seqs[i-1])
	}
}

func TestRepair_ClosesOpenStringsArraysObjects(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"open object", `{"a":1`, `{"a":1}`},
		{"open array", `{"a":[1,2`, `{"a":[1,2]}`},
		{"open string", `{"a":"hel`, `{"a":"hel"}`},
		{"trailing backslash", `{"a":"hel\`, `{"a":"hel"}`},
		{"already closed", `{"a":1}`, `{"a":1}`},
		{"nested", `{"a":{"b":[1,{"c":2`, `{"a":{"b":[1,{"c":2}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, string(Repair(tc.in)))
		})
	}
}
