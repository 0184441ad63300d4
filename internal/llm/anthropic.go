package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/rs/zerolog/log"

	"conductor/internal/config"
	"conductor/internal/fault"
)

const anthropicMaxTokens = 4096

// AnthropicClient implements Provider on the Anthropic messages API.
type AnthropicClient struct {
	sdk   anthropic.Client
	model string
}

func NewAnthropic(cfg config.LLMConfig) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.AnthropicKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicClient{sdk: anthropic.NewClient(opts...), model: model}
}

func (c *AnthropicClient) Chat(ctx context.Context, msgs []Message, tools []ToolSchema, model string) (Message, error) {
	sys, converted, err := anthropicMessages(msgs)
	if err != nil {
		return Message{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.pickModel(model)),
		Messages:  converted,
		System:    sys,
		Tools:     anthropicTools(tools),
		MaxTokens: anthropicMaxTokens,
	}
	resp, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Msg("anthropic_chat_error")
		return Message{}, fmt.Errorf("anthropic chat: %w: %w", fault.ErrProviderUnavailable, err)
	}
	return anthropicResult(resp), nil
}

func (c *AnthropicClient) ChatStream(ctx context.Context, msgs []Message, tools []ToolSchema, model string, h StreamHandler) error {
	sys, converted, err := anthropicMessages(msgs)
	if err != nil {
		return err
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.pickModel(model)),
		Messages:  converted,
		System:    sys,
		Tools:     anthropicTools(tools),
		MaxTokens: anthropicMaxTokens,
	}
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	var acc anthropic.Message
	for stream.Next() {
		event := stream.Current()
		_ = acc.Accumulate(event)
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if d, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				h.OnDelta(d.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		log.Error().Err(err).Str("model", string(params.Model)).Msg("anthropic_stream_error")
		return fmt.Errorf("anthropic stream: %w: %w", fault.ErrProviderUnavailable, err)
	}
	for _, tc := range anthropicResult(&acc).ToolCalls {
		h.OnToolCall(tc)
	}
	return nil
}

func (c *AnthropicClient) pickModel(model string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return c.model
}

func anthropicMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam, error) {
	if len(msgs) == 0 {
		return nil, nil, fault.Input("messages required")
	}
	var system []anthropic.TextBlockParam
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch strings.ToLower(strings.TrimSpace(m.Role)) {
		case "system":
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			blocks := []anthropic.ContentBlockParamUnion{}
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for i, tc := range m.ToolCalls {
				id := strings.TrimSpace(tc.ID)
				if id == "" {
					id = fmt.Sprintf("call-%d", i+1)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(id, decodeArgs(tc.Args), tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		case "tool":
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolID, m.Content, false)))
		default:
			return nil, nil, fault.Input("unsupported role %q", m.Role)
		}
	}
	return system, out, nil
}

func anthropicTools(tools []ToolSchema) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		props, _ := t.Parameters["properties"].(map[string]any)
		var required []string
		if rs, ok := t.Parameters["required"].([]string); ok {
			required = rs
		}
		param := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       constant.ValueOf[constant.Object](),
				Properties: props,
				Required:   required,
			},
		}
		if t.Description != "" {
			param.Description = anthropic.String(t.Description)
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func anthropicResult(resp *anthropic.Message) Message {
	if resp == nil {
		return Message{}
	}
	var sb strings.Builder
	var calls []ToolCall
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case anthropic.ToolUseBlock:
			calls = append(calls, ToolCall{ID: v.ID, Name: v.Name, Args: json.RawMessage(v.Input)})
		}
	}
	return Message{Role: "assistant", Content: sb.String(), ToolCalls: calls}
}

func decodeArgs(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	// tool_use.input must be a valid dictionary
	return map[string]any{}
}
