// Package bedrockprovider adapts the AWS Bedrock Converse streaming API to
// the llmdriver.Provider contract.
//
// Grounded on features/model/bedrock/client.go (ConverseStream input
// construction, message/tool encoding, rate-limit detection via
// smithy.APIError/ResponseError) and features/model/bedrock/stream.go (the
// background-goroutine chunk processor driven by
// bedrockruntime.ConverseStreamEventStream's event channel), narrowed to the
// driver's provider-agnostic text/tool-call Chunk shape.
package bedrockprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/metricloop/agentrt/agenterrors"
	"github.com/metricloop/agentrt/llmdriver"
	"github.com/metricloop/agentrt/message"
)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter needs,
// letting tests substitute a fake.
type RuntimeClient interface {
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Adapter implements llmdriver.Provider against the Bedrock Converse API.
type Adapter struct {
	runtime          RuntimeClient
	defaultMaxTokens int32
}

// New constructs an Adapter around an already-configured Bedrock runtime
// client (region, credentials, and endpoint are the caller's concern).
func New(runtime RuntimeClient, defaultMaxTokens int32) *Adapter {
	if defaultMaxTokens <= 0 {
		defaultMaxTokens = 4096
	}
	return &Adapter{runtime: runtime, defaultMaxTokens: defaultMaxTokens}
}

func (a *Adapter) StreamChat(ctx context.Context, req llmdriver.Request) (llmdriver.Streamer, error) {
	input, err := a.buildInput(req)
	if err != nil {
		return nil, agenterrors.NewProviderError("bedrock", "ConverseStream", 0, agenterrors.ProviderErrorKindInvalidRequest, "", false, err)
	}
	out, err := a.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}
	return newStreamer(ctx, out.GetStream()), nil
}

func (a *Adapter) buildInput(req llmdriver.Request) (*bedrockruntime.ConverseStreamInput, error) {
	if req.ModelID == "" {
		return nil, errors.New("bedrockprovider: model id is required")
	}

	messages, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, errors.New("bedrockprovider: at least one user/assistant message is required")
	}

	toolConfig, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(req.ModelID),
		Messages: messages,
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(a.defaultMaxTokens),
		},
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	return input, nil
}

func encodeMessages(msgs []message.Message) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	conversation := make([]brtypes.Message, 0, len(msgs))

	for _, m := range msgs {
		switch v := m.(type) {
		case message.Developer:
			if v.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Content})
			}
		case message.User:
			if v.Content == "" {
				continue
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: v.Content}},
			})
		case message.Assistant:
			blocks := make([]brtypes.ContentBlock, 0, 1+len(v.ToolCalls))
			if v.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Content})
			}
			for _, tc := range v.ToolCalls {
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.FunctionName),
					Input:     lazyDocument(tc.ArgumentsJSON),
				}})
			}
			if len(blocks) > 0 {
				conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
			}
		case message.Tool:
			conversation = append(conversation, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(v.ToolCallID),
					Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: v.Content}},
					Status:    toolResultStatus(v.IsError),
				}}},
			})
		case message.Done:
			// Never part of a request: Done is an event-layer sentinel only.
		}
	}
	return conversation, system, nil
}

func toolResultStatus(isError bool) brtypes.ToolResultStatus {
	if isError {
		return brtypes.ToolResultStatusError
	}
	return brtypes.ToolResultStatusSuccess
}

// lazyDocument wraps a raw JSON arguments string (possibly empty) as a
// Bedrock document.Interface, matching encodeMessages' tool_use Input field.
func lazyDocument(rawJSON string) document.Interface {
	if rawJSON == "" {
		rawJSON = "{}"
	}
	return document.NewLazyDocument(rawAnyFromJSON(rawJSON))
}

func encodeTools(schemas []map[string]any) (*brtypes.ToolConfiguration, error) {
	if len(schemas) == 0 {
		return nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(schemas))
	for _, s := range schemas {
		name, _ := s["name"].(string)
		if name == "" {
			return nil, errors.New("bedrockprovider: tool schema missing name")
		}
		description, _ := s["description"].(string)
		params, _ := s["parameters"].(map[string]any)
		spec := brtypes.ToolSpecification{
			Name:        aws.String(name),
			Description: aws.String(description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(params)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, nil
}

func translateError(err error) error {
	kind := agenterrors.ProviderErrorKindUnknown
	retryable := false
	var status int

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind, retryable = agenterrors.ProviderErrorKindRateLimited, true
		case "AccessDeniedException", "UnauthorizedException":
			kind = agenterrors.ProviderErrorKindAuth
		case "ValidationException":
			kind = agenterrors.ProviderErrorKindInvalidRequest
		case "ServiceUnavailableException", "ModelTimeoutException", "InternalServerException":
			kind, retryable = agenterrors.ProviderErrorKindUnavailable, true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
		if status == 429 {
			kind, retryable = agenterrors.ProviderErrorKindRateLimited, true
		}
	}
	return agenterrors.NewProviderError("bedrock", "ConverseStream", status, kind, "", retryable, err)
}

// streamer adapts a Bedrock ConverseStreamEventStream to llmdriver.Streamer,
// running the SDK's event channel consumer on a background goroutine and
// delivering translated chunks over a buffered channel, the same shape as
// the teacher's bedrockStreamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream
	chunks chan llmdriver.Chunk

	errMu    sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan llmdriver.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer s.stream.Close()

	toolBlocks := make(map[int32]*toolBuffer)
	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(translateError(err))
				} else {
					s.setErr(nil)
				}
				return
			}
			if err := s.handle(event, toolBlocks); err != nil {
				s.setErr(err)
				return
			}
		}
	}
}

func (s *streamer) handle(event brtypes.ConverseStreamOutput, toolBlocks map[int32]*toolBuffer) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := ptrValue(ev.Value.ContentBlockIndex)
		if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			tu := start.Value
			if tu.ToolUseId == nil || *tu.ToolUseId == "" {
				return fmt.Errorf("bedrockprovider: tool use block missing tool_use_id")
			}
			if tu.Name == nil || *tu.Name == "" {
				return fmt.Errorf("bedrockprovider: tool use block %q missing name", *tu.ToolUseId)
			}
			tb := &toolBuffer{id: *tu.ToolUseId, name: *tu.Name}
			toolBlocks[idx] = tb
			return s.send(llmdriver.Chunk{ToolCall: &llmdriver.ToolCallDelta{Index: int(idx), ID: tb.id, Name: tb.name}})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := ptrValue(ev.Value.ContentBlockIndex)
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return s.send(llmdriver.Chunk{ContentDelta: delta.Value})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if delta.Value.Input == nil || *delta.Value.Input == "" {
				return nil
			}
			if _, ok := toolBlocks[idx]; !ok {
				return nil
			}
			return s.send(llmdriver.Chunk{ToolCall: &llmdriver.ToolCallDelta{Index: int(idx), ArgumentsDelta: *delta.Value.Input}})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		delete(toolBlocks, ptrValue(ev.Value.ContentBlockIndex))
		return nil
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		return s.send(llmdriver.Chunk{FinishReason: finishReasonFor(ev.Value.StopReason)})
	}
	return nil
}

func (s *streamer) send(c llmdriver.Chunk) error {
	select {
	case s.chunks <- c:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *streamer) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.finalErr
}

func finishReasonFor(stopReason brtypes.StopReason) string {
	if stopReason == brtypes.StopReasonToolUse {
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
		if err := s.err(); err != nil {
			return llmdriver.Chunk{}, translateIfNeeded(err)
		}
		return llmdriver.Chunk{FinishReason: "stop"}, nil
	case <-ctx.Done():
		return llmdriver.Chunk{}, ctx.Err()
	}
}

func translateIfNeeded(err error) error {
	var provErr *agenterrors.ProviderError
	if errors.As(err, &provErr) {
		return err
	}
	return translateError(err)
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

type toolBuffer struct {
	id   string
	name string
}

func ptrValue(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

// rawAnyFromJSON is a placeholder decode step for tool_use Input documents;
// arguments arrive from message.ToolCall.ArgumentsJSON as a JSON object
// string and Bedrock's document.Interface wants the decoded value, not the
// raw string.
func rawAnyFromJSON(rawJSON string) any {
	var v any
	if err := json.Unmarshal([]byte(rawJSON), &v); err != nil {
		return map[string]any{}
	}
	return v
}
