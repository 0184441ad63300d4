package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rs/zerolog/log"

	"conductor/internal/config"
	"conductor/internal/fault"
)

// OpenAIClient implements Provider on the OpenAI chat-completions API.
// A custom BaseURL points it at compatible self-hosted servers.
type OpenAIClient struct {
	sdk   sdk.Client
	model string
}

func NewOpenAI(cfg config.LLMConfig) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIClient{sdk: sdk.NewClient(opts...), model: cfg.Model}
}

func (c *OpenAIClient) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.pickModel(model)),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Msg("openai_chat_error")
		return Message{}, fmt.Errorf("openai chat: %w: %w", fault.ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, fmt.Errorf("openai chat: no choices: %w", fault.ErrProviderUnavailable)
	}
	choice := resp.Choices[0].Message
	out := Message{Role: "assistant", Content: choice.Content}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func (c *OpenAIClient) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(c.pickModel(model)),
		Messages: adaptMessages(msgs),
	}
	if len(tools) > 0 {
		params.Tools = adaptSchemas(tools)
	}
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	// Tool calls arrive incrementally; accumulate per index and flush at end.
	calls := map[int64]*ToolCall{}
	argBuf := map[int64]*strings.Builder{}
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			h.OnDelta(delta.Content)
		}
		for _, tc := range delta.ToolCalls {
			cur, ok := calls[tc.Index]
			if !ok {
				cur = &ToolCall{ID: tc.ID, Name: tc.Function.Name}
				calls[tc.Index] = cur
				argBuf[tc.Index] = &strings.Builder{}
			}
			if tc.Function.Name != "" {
				cur.Name = tc.Function.Name
			}
			argBuf[tc.Index].WriteString(tc.Function.Arguments)
		}
	}
	if err := stream.Err(); err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Msg("openai_stream_error")
		return fmt.Errorf("openai stream: %w: %w", fault.ErrProviderUnavailable, err)
	}
	for idx, tc := range calls {
		tc.Args = json.RawMessage(argBuf[idx].String())
		h.OnToolCall(*tc)
	}
	return nil
}

func (c *OpenAIClient) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func adaptMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		case "tool":
			out = append(out, sdk.ToolMessage(m.Content, m.ToolID))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}

func adaptSchemas(tools []ToolSchema) []sdk.ChatCompletionToolUnionParam {
	out := make([]sdk.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		def := sdk.FunctionDefinitionParam{
			Name:        t.Name,
			Description: sdk.String(t.Description),
			Parameters:  t.Parameters,
		}
		out = append(out, sdk.ChatCompletionFunctionTool(def))
	}
	return out
}
