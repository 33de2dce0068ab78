// Package message defines the thread and message types exchanged between an
// Agent and a chat-completion provider. Messages form a tagged union over a
// small set of variants (developer, user, assistant, tool) plus a terminal
// Done sentinel; Thread is the ordered, append-only log of those messages for
// one conversation.
package message

import "time"

// Progress reports how complete an in-flight Assistant or Tool message is.
// Providers stream assistant content incrementally; InProgress messages carry
// partial state and are superseded by a later Complete message with the same
// correlation identity.
type Progress string

const (
	// InProgress marks a message fragment that will be followed by further
	// fragments or a terminal Complete message.
	InProgress Progress = "in_progress"
	// Complete marks the final, authoritative version of a message.
	Complete Progress = "complete"
)

// ToolCall is one function invocation requested by the model inside an
// Assistant message. Arguments arrive as a raw JSON string because the
// provider may deliver it incrementally before it is valid JSON; see the
// streamparser package for how partial arguments are interpreted.
type ToolCall struct {
	// ID correlates this call to the eventual Tool result message.
	ID string
	// FunctionName is the tool name as declared in its JSON schema.
	FunctionName string
	// ArgumentsJSON is the (possibly partial) JSON-encoded arguments string.
	ArgumentsJSON string
}

// Message is implemented by every message variant. The interface is sealed:
// only types defined in this package may implement it, so a type switch over
// Message is exhaustive with respect to the variants enumerated here.
type Message interface {
	isMessage()
	// Kind identifies the concrete variant for logging, serialization, and
	// type switches that do not need the message's fields.
	Kind() Kind
}

// Kind names a concrete Message variant.
type Kind string

const (
	KindDeveloper Kind = "developer"
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindTool      Kind = "tool"
	KindDone      Kind = "done"
)

// Developer carries system/instruction text. The Agent does not append it to
// a Thread: on every turn it prepends a Developer message holding the active
// mode's prompt to the messages it sends the provider (see the agent package).
type Developer struct {
	Content string
}

func (Developer) isMessage() {}
func (Developer) Kind() Kind { return KindDeveloper }

// User carries human input appended by the caller before a run.
type User struct {
	Content string
	// Name optionally disambiguates the speaker in multi-user threads.
	Name string
}

func (User) isMessage() {}
func (User) Kind() Kind { return KindUser }

// Assistant carries model output: free text content, zero or more tool
// calls, or both. Progress distinguishes a streaming fragment from the final
// version appended to the Thread.
type Assistant struct {
	// ID identifies this assistant message when the provider supplies one.
	ID string
	// Content is the free-text portion of the reply, if any.
	Content string
	// ToolCalls is the ordered list of function invocations requested by the
	// model, if any.
	ToolCalls []ToolCall
	// Progress reports whether this is a streaming fragment or the final
	// version.
	Progress Progress
	// Initial marks the first fragment emitted for this assistant turn,
	// letting subscribers distinguish "starting a new reply" from
	// "continuing one already in progress".
	Initial bool
	// Name optionally identifies which persona/agent produced this message.
	Name string
}

func (Assistant) isMessage() {}
func (Assistant) Kind() Kind { return KindAssistant }

// Tool carries the result of one tool call, correlated to the originating
// Assistant tool call by ToolCallID. A Tool message with Progress ==
// InProgress reports an interim update from a tool that streams its own
// output; exactly one Progress == Complete message is emitted per tool call.
type Tool struct {
	// ID identifies this result message when the caller assigns one.
	ID string
	// Name is the tool's own identifier, echoed for convenience.
	Name string
	// Content is the JSON-serializable tool output, or an error description
	// when the call failed (see agenterrors for the error taxonomy this
	// feeds).
	Content string
	// ToolCallID correlates this result to the Assistant message's ToolCall.
	ToolCallID string
	// Progress reports whether this is an interim update or the final
	// result.
	Progress Progress
	// IsError marks Content as an error description rather than a
	// successful result. The model can read IsError messages and try again.
	IsError bool
}

func (Tool) isMessage() {}
func (Tool) Kind() Kind { return KindTool }

// Done is the terminal sentinel appended to a run's event stream, never to a
// Thread. It is a Message only so the same sealed interface can describe
// both thread contents and event payloads (see the eventbus package).
type Done struct {
	// Cancelled reports whether the run ended via cooperative cancellation
	// rather than normal completion.
	Cancelled bool
}

func (Done) isMessage() {}
func (Done) Kind() Kind { return KindDone }

// Thread is the ordered, append-only log of messages exchanged in one
// session with a provider. Threads may be reused across turns; the runtime
// never rewrites prior entries, only appends.
type Thread struct {
	ID        string
	UserID    string
	Messages  []Message
	createdAt time.Time
}

// NewThread constructs an empty Thread for the given user and thread id.
func NewThread(id, userID string) *Thread {
	return &Thread{ID: id, UserID: userID, createdAt: time.Now()}
}

// Append adds msg to the end of the thread. It is the only way thread
// contents change; existing entries are never modified or removed.
func (t *Thread) Append(msg Message) {
	t.Messages = append(t.Messages, msg)
}

// Len returns the number of messages currently in the thread.
func (t *Thread) Len() int { return len(t.Messages) }

// Snapshot returns a shallow copy of the thread's messages slice, safe for a
// caller to range over while the original thread continues to be appended
// to by another goroutine's subsequent turn (Thread itself assumes a single
// writer per run, per the concurrency model in SPEC_FULL.md §5).
func (t *Thread) Snapshot() []Message {
	out := make([]Message, len(t.Messages))
	copy(out, t.Messages)
	return out
}

// ToolCallIndex returns, for every Assistant message in the thread, the set
// of tool-call IDs it declared: the set a Tool message's ToolCallID must
// belong to under the tool-result correlation invariant. Nothing in this
// module calls it; Append does not check the invariant.
func (t *Thread) ToolCallIndex() map[string]struct{} {
	ids := make(map[string]struct{})
	for _, m := range t.Messages {
		a, ok := m.(Assistant)
		if !ok {
			continue
		}
		for _, tc := range a.ToolCalls {
			ids[tc.ID] = struct{}{}
		}
	}
	return ids
}
