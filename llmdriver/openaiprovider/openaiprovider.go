// Package openaiprovider adapts github.com/openai/openai-go's Chat
// Completions streaming API to the llmdriver.Provider contract, for
// OpenAI-compatible endpoints.
//
// Grounded on the request/response shape of
// features/model/openai/client.go (message role mapping, tool schema
// encoding, tool-call argument parsing) carried over from its
// non-streaming go-openai-based adapter to the teacher's own declared
// github.com/openai/openai-go dependency's streaming surface, since the
// driver needs incremental chunks rather than one final response.
package openaiprovider

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/llmdriver"
	"github.com/metricloop/agentrt/message"
)

// Adapter implements llmdriver.Provider against an OpenAI-compatible Chat
// Completions endpoint.
type Adapter struct {
	client openai.Client
}

// New constructs an Adapter. baseURL overrides the SDK's default endpoint
// when non-empty, letting this adapter target any OpenAI-compatible proxy.
func New(apiKey, baseURL string) *Adapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Adapter{client: openai.NewClient(opts...)}
}

func (a *Adapter) StreamChat(ctx context.Context, req llmdriver.Request) (llmdriver.Streamer, error) {
	params, err := buildParams(req)
	if err != nil {
		return nil, agenterrors.NewProviderError("openai", "StreamChat", 0, agenterrors.ProviderErrorKindInvalidRequest, "", false, err)
	}
	stream := a.client.Chat.Completions.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, translateError(err)
	}
	return newStreamer(ctx, stream), nil
}

func buildParams(req llmdriver.Request) (*openai.ChatCompletionNewParams, error) {
	if req.ModelID == "" {
		return nil, errors.New("openaiprovider: model id is required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch v := m.(type) {
		case message.Developer:
			if v.Content != "" {
				messages = append(messages, openai.SystemMessage(v.Content))
			}
		case message.User:
			if v.Content != "" {
				messages = append(messages, openai.UserMessage(v.Content))
			}
		case message.Assistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if v.Content != "" {
				asst.Content.OfString = openai.String(v.Content)
			}
			for _, tc := range v.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.FunctionName,
						Arguments: tc.ArgumentsJSON,
					},
				})
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case message.Tool:
			messages = append(messages, openai.ToolMessage(v.Content, v.ToolCallID))
		case message.Done:
			// Event-layer sentinel only; never part of a request.
		}
	}
	if len(messages) == 0 {
		return nil, errors.New("openaiprovider: at least one message is required")
	}

	tools, err := buildTools(req.Tools)
	if err != nil {
		return nil, err
	}

	params := &openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.ModelID),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, nil
}

func buildTools(schemas []map[string]any) ([]openai.ChatCompletionToolParam, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(schemas))
	for _, s := range schemas {
		name, _ := s["name"].(string)
		if name == "" {
			return nil, errors.New("openaiprovider: tool schema missing name")
		}
		description, _ := s["description"].(string)
		params, _ := s["parameters"].(map[string]any)
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        name,
				Description: openai.String(description),
				Parameters:  shared.FunctionParameters(params),
			},
		})
	}
	return out, nil
}

func translateError(err error) error {
	var apiErr *openai.Error
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
		return agenterrors.NewProviderError("openai", "StreamChat", apiErr.StatusCode, kind, apiErr.Code, kind == agenterrors.ProviderErrorKindRateLimited || kind == agenterrors.ProviderErrorKindUnavailable, err)
	}
	return agenterrors.NewProviderError("openai", "StreamChat", 0, agenterrors.ProviderErrorKindUnknown, "", false, err)
}

// streamer adapts an OpenAI chat-completion-chunk SSE stream to
// llmdriver.Streamer. Unlike the Anthropic adapter, OpenAI delivers each
// tool call's name and id on its first delta and leaves them empty on
// subsequent argument-only deltas, distinguished by ToolCalls[].Index.
type streamer struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	seen   map[int64]struct{}
}

func newStreamer(_ context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) *streamer {
	return &streamer{stream: stream, seen: make(map[int64]struct{})}
}

func (s *streamer) Next(ctx context.Context) (llmdriver.Chunk, error) {
	select {
	case <-ctx.Done():
		return llmdriver.Chunk{}, ctx.Err()
	default:
	}

	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return llmdriver.Chunk{}, translateError(err)
		}
		return llmdriver.Chunk{FinishReason: "stop"}, nil
	}

	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return s.Next(ctx)
	}
	choice := chunk.Choices[0]

	if len(choice.Delta.ToolCalls) > 0 {
		tc := choice.Delta.ToolCalls[0]
		idx := tc.Index
		if _, ok := s.seen[idx]; !ok {
			s.seen[idx] = struct{}{}
			return llmdriver.Chunk{ToolCall: &llmdriver.ToolCallDelta{
				Index: int(idx), ID: tc.ID, Name: tc.Function.Name, ArgumentsDelta: tc.Function.Arguments,
			}}, nil
		}
		return llmdriver.Chunk{ToolCall: &llmdriver.ToolCallDelta{Index: int(idx), ArgumentsDelta: tc.Function.Arguments}}, nil
	}

	if choice.Delta.Content != "" {
		return llmdriver.Chunk{ContentDelta: choice.Delta.Content}, nil
	}

	if choice.FinishReason != "" {
		reason := "stop"
		if choice.FinishReason == "tool_calls" {
			reason = "tool_calls"
		}
		return llmdriver.Chunk{FinishReason: reason}, nil
	}
	return s.Next(ctx)
}

func (s *streamer) Close() error {
	return s.stream.Close()
}
