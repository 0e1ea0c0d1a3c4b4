package generation

import (
	"context"
	"errors"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/jmakela/tome/pkg/api"
)

// Options configures the OpenAI-backed generator.
type Options struct {
	// Model is the chat model name, e.g. "gpt-4o".
	Model string

	// APIKey authenticates against the API.
	APIKey string

	// BaseURL overrides the API endpoint; useful for compatible providers
	// and local servers. Empty means the official endpoint.
	BaseURL string

	// Temperature is passed through when > 0.
	Temperature float64
}

// OpenAIGenerator implements api.Generator using the official openai-go
// SDK (chat completions).
type OpenAIGenerator struct {
	model       string
	temperature float64
	opts        []option.RequestOption
}

var _ api.Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator validates the options and returns a generator.
func NewOpenAIGenerator(cfg Options) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIGenerator{
		model:       cfg.Model,
		temperature: cfg.Temperature,
		opts:        opts,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req api.GenerationRequest) (string, error) {
	client := openai.NewClient(g.opts...)

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(g.model),
		Messages: chatMessages(req.Messages),
	}
	if g.temperature > 0 {
		params.Temperature = openai.Float(g.temperature)
	}

	resp, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func chatMessages(messages []api.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		m = reviewerAsUser(m)
		switch m.Role {
		case api.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case api.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// reviewerAsUser maps the reviewer role onto a user message, since chat
// APIs have no reviewer role. The preamble keeps the source of the text
// visible to the model.
func reviewerAsUser(m api.Message) api.Message {
	if m.Role != api.RoleReviewer {
		return m
	}
	return api.Message{
		Role:    api.RoleUser,
		Content: "Reviewer feedback:\n" + m.Content,
		At:      m.At,
	}
}
