package streamparser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// fileFieldPattern captures one {"name": "...", "yml_content": "..."} object
// directly out of raw, possibly-truncated JSON text, without requiring the
// enclosing document to be well-formed. The content class already excludes
// a bare, unescaped quote, so a greedy match naturally stops at the value's
// closing quote when one is present, or at the end of the buffer when it
// isn't; the trailing group captures that closing quote if the match found
// one, distinguishing a complete value from a still-streaming one.
var fileFieldPattern = regexp.MustCompile(`"name"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"yml_content"\s*:\s*"((?:[^"\\]|\\.)*)("?)`)

// markdownFieldPattern does the same for create_plan's markdown argument.
var markdownFieldPattern = regexp.MustCompile(`"markdown"\s*:\s*"((?:[^"\\]|\\.)*)("?)`)

// callState is the in-flight assembly state for one tool call's arguments.
type callState struct {
	toolName string
	raw      strings.Builder
	done     bool

	// fileVersions tracks how many times each file index (by order of
	// appearance in the "files" array) has been emitted, so Version
	// increments monotonically as more of yml_content streams in.
	fileVersions  []int
	lastFileEmit  []string // last emitted Lines-derived text, to suppress no-op re-emission
	markdownEmitted string
}

// Parser converts per-tool-call argument deltas and free assistant text into
// ProgressiveArtifact events for one run. A Parser is not safe for concurrent
// use by multiple goroutines; the LLM Driver owns one Parser per in-flight
// assistant message and feeds it from a single goroutine.
type Parser struct {
	seq sequencer

	mu    sync.Mutex
	calls map[string]*callState
}

// NewParser constructs an empty Parser.
func NewParser() *Parser {
	return &Parser{calls: make(map[string]*callState)}
}

// ContentDelta reports one chunk of free assistant text (model reasoning or
// narration outside of any tool call) as a ReasoningStep artifact.
func (p *Parser) ContentDelta(text string) []Artifact {
	if text == "" {
		return nil
	}
	return []Artifact{ReasoningStep{base: base{seq: p.seq.next()}, TextChunk: text}}
}

// ToolCallStart records that a new tool call has begun and emits its
// ToolCallStart artifact. Calling it twice for the same id resets the
// buffer, matching a provider that restarts a content block.
func (p *Parser) ToolCallStart(id, toolName string) []Artifact {
	p.mu.Lock()
	p.calls[id] = &callState{toolName: toolName}
	p.mu.Unlock()

	return []Artifact{ToolCallStart{base: base{seq: p.seq.next()}, ToolName: toolName, ID: id}}
}

// ToolCallArgsDelta appends delta to the named call's argument buffer and
// returns whatever artifacts that addition newly makes visible: zero or more
// File/Plan updates, and at most one ToolCallComplete if the buffer's
// arguments just became well-formed JSON for the first time.
func (p *Parser) ToolCallArgsDelta(id, toolName string, delta string) []Artifact {
	p.mu.Lock()
	cs, ok := p.calls[id]
	if !ok {
		cs = &callState{toolName: toolName}
		p.calls[id] = cs
	}
	cs.raw.WriteString(delta)
	raw := cs.raw.String()
	p.mu.Unlock()

	var artifacts []Artifact
	artifacts = append(artifacts, p.scanFiles(id, cs, raw)...)
	artifacts = append(artifacts, p.scanMarkdown(cs, raw)...)

	if !cs.done && json.Valid([]byte(raw)) {
		artifacts = append(artifacts, p.complete(id, cs, raw))
	}
	return artifacts
}

// Finalize forces completion of the named call if it has not already
// completed naturally, used when the provider signals end-of-stream before
// the argument buffer closed on its own (SPEC_FULL.md §4.4's "whichever
// happens first" completion rule). It is idempotent: a call already marked
// complete returns nil.
func (p *Parser) Finalize(id, toolName string) []Artifact {
	p.mu.Lock()
	cs, ok := p.calls[id]
	if !ok {
		cs = &callState{toolName: toolName}
		p.calls[id] = cs
	}
	raw := cs.raw.String()
	p.mu.Unlock()

	if cs.done {
		return nil
	}
	return []Artifact{p.complete(id, cs, raw)}
}

func (p *Parser) complete(id string, cs *callState, raw string) Artifact {
	cs.done = true
	return ToolCallComplete{
		base:          base{seq: p.seq.next()},
		ToolName:      cs.toolName,
		ID:            id,
		ResultSummary: summarize(cs.toolName, raw),
	}
}

func summarize(toolName, raw string) string {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return fmt.Sprintf("%s: unparsed arguments", toolName)
	}
	return fmt.Sprintf("%s: %d argument field(s)", toolName, len(decoded))
}

// scanFiles extracts every {"name", "yml_content"} pair present in raw and
// emits a File artifact for each index whose recovered text has grown since
// the last emission.
func (p *Parser) scanFiles(id string, cs *callState, raw string) []Artifact {
	matches := fileFieldPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	for len(cs.fileVersions) < len(matches) {
		cs.fileVersions = append(cs.fileVersions, 0)
		cs.lastFileEmit = append(cs.lastFileEmit, "")
	}

	var artifacts []Artifact
	for i, m := range matches {
		name := unescapeJSONFragment(m[1])
		content := unescapeJSONFragment(m[2])
		closed := m[3] == `"`

		text := content
		if !closed {
			text = completeLinesOnly(content)
		}
		if text == cs.lastFileEmit[i] {
			continue
		}
		cs.lastFileEmit[i] = text
		cs.fileVersions[i]++

		artifacts = append(artifacts, File{
			base:     base{seq: p.seq.next()},
			ID:       fmt.Sprintf("%s-%d", id, i),
			FileType: "metric",
			FileName: name,
			Version:  cs.fileVersions[i],
			Lines:    toLines(text),
			Complete: closed,
		})
	}
	return artifacts
}

func (p *Parser) scanMarkdown(cs *callState, raw string) []Artifact {
	m := markdownFieldPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	content := unescapeJSONFragment(m[1])
	if content == cs.markdownEmitted {
		return nil
	}
	cs.markdownEmitted = content
	return []Artifact{Plan{base: base{seq: p.seq.next()}, MarkdownSoFar: content}}
}

// completeLinesOnly drops the trailing line fragment of s if it is not yet
// terminated by a newline, since it may still grow with the next delta.
func completeLinesOnly(s string) string {
	idx := strings.LastIndexByte(s, '\n')
	if idx < 0 {
		return ""
	}
	return s[:idx]
}

func toLines(s string) []Line {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	lines := make([]Line, 0, len(parts))
	for i, text := range parts {
		lines = append(lines, Line{Number: i + 1, Text: text})
	}
	return lines
}

// unescapeJSONFragment decodes standard JSON string escapes in a fragment
// captured by a regex rather than a full JSON string token. Wrapping the
// fragment in quotes and delegating to encoding/json keeps the escape table
// (\n, \t, \uXXXX, ...) in one place instead of reimplementing it.
func unescapeJSONFragment(fragment string) string {
	if fragment == "" {
		return ""
	}
	var decoded string
	if err := json.Unmarshal([]byte(`"`+fragment+`"`), &decoded); err != nil {
		// The fragment may end mid-escape-sequence if the regex's match
		// stopped between a backslash and its pair; retry with that last
		// byte dropped.
		if strings.HasSuffix(fragment, `\`) {
			return unescapeJSONFragment(fragment[:len(fragment)-1])
		}
		return fragment
	}
	return decoded
}
