// Package anthropicprovider adapts github.com/anthropics/anthropic-sdk-go's
// Messages streaming API to the llmdriver.Provider contract.
//
// Grounded on features/model/anthropic/client.go (request encoding:
// messages, tools, system prompt) and features/model/anthropic/stream.go
// (the background-goroutine-plus-buffered-channel streamer shape and its
// per-content-block chunk processor), narrowed to the driver's
// provider-agnostic text/tool-call Chunk shape instead of the teacher's
// richer Part/Chunk union (thinking blocks, cache checkpoints, and usage
// accounting are out of SPEC_FULL.md's scope).
package anthropicprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/llmdriver"
	"github.com/metricloop/agentrt/message"
)

// Adapter implements llmdriver.Provider against the Anthropic Messages API.
type Adapter struct {
	client           sdk.Client
	defaultMaxTokens int64
}

// New constructs an Adapter. baseURL overrides the SDK's default endpoint
// when non-empty (used for testing against a local fake). defaultMaxTokens
// is used for every request since SPEC_FULL.md's Request carries no
// per-call token budget.
func New(apiKey, baseURL string, defaultMaxTokens int64) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 4096
	}
	return &Adapter{client: sdk.NewClient(opts...), defaultMaxTokens: defaultMaxTokens}
}

// StreamChat opens a streaming Messages call and adapts its SSE events into
// llmdriver.Chunk values.
func (a *Adapter) StreamChat(ctx context.Context, req llmdriver.Request) (llmdriver.Streamer, error) {
	params, err := a.buildParams(req)
	if err != nil {
		return nil, agenterrors.NewProviderError("anthropic", "StreamChat", 0, agenterrors.ProviderErrorKindInvalidRequest, "", false, err)
	}
	stream := a.client.Messages.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, translateError(err)
	}
	return newStreamer(ctx, stream), nil
}

func (a *Adapter) buildParams(req llmdriver.Request) (*sdk.MessageNewParams, error) {
	if req.ModelID == "" {
		return nil, errors.New("anthropicprovider: model id is required")
	}

	var system []sdk.TextBlockParam
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch v := m.(type) {
		case message.Developer:
			if v.Content != "" {
				system = append(system, sdk.TextBlockParam{Text: v.Content})
			}
		case message.User:
			if v.Content != "" {
				conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(v.Content)))
			}
		case message.Assistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(v.ToolCalls))
			if v.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(v.Content))
			}
			for _, tc := range v.ToolCalls {
				var input map[string]any
				if tc.ArgumentsJSON != "" {
					if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &input); err != nil {
						return nil, fmt.Errorf("anthropicprovider: tool call %s has invalid arguments: %w", tc.ID, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.FunctionName))
			}
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case message.Tool:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewToolResultBlock(v.ToolCallID, v.Content, v.IsError)))
		case message.Done:
			// Never part of a request: Done is an event-layer sentinel only.
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropicprovider: at least one user/assistant message is required")
	}

	tools, err := buildTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.ModelID),
		MaxTokens: a.defaultMaxTokens,
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

// buildTools translates the Tool Registry's OpenAI-style schema objects
// ({name, description, parameters}) into Anthropic tool params.
func buildTools(schemas []map[string]any) ([]sdk.ToolUnionParam, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		name, _ := s["name"].(string)
		if name == "" {
			return nil, errors.New("anthropicprovider: tool schema missing name")
		}
		description, _ := s["description"].(string)
		params, _ := s["parameters"].(map[string]any)

		schema := sdk.ToolInputSchemaParam{}
		if params != nil {
			schema.ExtraFields = params
		}
		u := sdk.ToolUnionParamOfTool(schema, name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(description)
		}
		out = append(out, u)
	}
	return out, nil
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := agenterrors.ProviderErrorKindUnknown
		switch apiErr.StatusCode {
		case 401, 403:
			kind = agenterrors.ProviderErrorKindAuth
		case 429:
			kind = agenterrors.ProviderErrorKindRateLimited
		case 400, 422:
			kind = agenterrors.ProviderErrorKindInvalidRequest
		case 500, 502, 503, 504:
			kind = agenterrors.ProviderErrorKindUnavailable
		}
		return agenterrors.NewProviderError("anthropic", "StreamChat", apiErr.StatusCode, kind, apiErr.Code, kind == agenterrors.ProviderErrorKindRateLimited || kind == agenterrors.ProviderErrorKindUnavailable, err)
	}
	return agenterrors.NewProviderError("anthropic", "StreamChat", 0, agenterrors.ProviderErrorKindUnknown, "", false, err)
}

// streamer adapts an Anthropic SSE stream to llmdriver.Streamer, running the
// SDK's synchronous Next()/Current() loop on a background goroutine and
// delivering translated chunks over a buffered channel — the same shape as
// the teacher's anthropicStreamer.
type streamer struct {
	ctx            context.Context
	cancel         context.CancelFunc
	stream         *ssestream.Stream[sdk.MessageStreamEventUnion]
	chunks         chan llmdriver.Chunk
	errCh          chan error
	lastStopReason string
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan llmdriver.Chunk, 32), errCh: make(chan error, 1)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	toolBlocks := make(map[int64]*toolBuffer)
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
				toolBlocks[ev.Index] = &toolBuffer{id: tu.ID, name: tu.Name}
				s.send(llmdriver.Chunk{ToolCall: &llmdriver.ToolCallDelta{Index: int(ev.Index), ID: tu.ID, Name: tu.Name}})
			}
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					s.send(llmdriver.Chunk{ContentDelta: delta.Text})
				}
			case sdk.InputJSONDelta:
				if delta.PartialJSON != "" {
					if _, ok := toolBlocks[ev.Index]; ok {
						s.send(llmdriver.Chunk{ToolCall: &llmdriver.ToolCallDelta{Index: int(ev.Index), ArgumentsDelta: delta.PartialJSON}})
					}
				}
			}
		case sdk.ContentBlockStopEvent:
			delete(toolBlocks, ev.Index)
		case sdk.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				s.lastStopReason = finishReasonFor(string(ev.Delta.StopReason))
			}
		case sdk.MessageStopEvent:
			s.send(llmdriver.Chunk{FinishReason: s.lastStopReasonOrDefault()})
		}
	}
	if err := s.stream.Err(); err != nil {
		select {
		case s.errCh <- err:
		default:
		}
	}
}

func (s *streamer) send(c llmdriver.Chunk) {
	select {
	case s.chunks <- c:
	case <-s.ctx.Done():
	}
}

func (s *streamer) lastStopReasonOrDefault() string {
	if s.lastStopReason == "" {
		return "stop"
	}
	return s.lastStopReason
}

func finishReasonFor(anthropicStopReason string) string {
	if anthropicStopReason == "tool_use" {
		return "tool_calls"
	}
	return "stop"
}

func (s *streamer) Next(ctx context.Context) (llmdriver.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		select {
		case err := <-s.errCh:
			return llmdriver.Chunk{}, translateError(err)
		default:
			return llmdriver.Chunk{FinishReason: "stop"}, nil
		}
	case <-ctx.Done():
		return llmdriver.Chunk{}, ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

type toolBuffer struct {
	id   string
	name string
}
