package gateway

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAISender sends generation requests to an OpenAI-compatible chat
// completions endpoint.
type OpenAISender struct {
	client openai.Client
	model  string
}

// NewOpenAISender creates a sender. An empty baseURL uses the library
// default; an empty model uses DefaultModel.
func NewOpenAISender(apiKey, baseURL, model string) *OpenAISender {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultModel
	}
	return &OpenAISender{client: openai.NewClient(opts...), model: model}
}

// Send implements Sender.
func (s *OpenAISender) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(s.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return SendResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return SendResponse{}, fmt.Errorf("chat completion returned no choices")
	}
	return SendResponse{Text: completion.Choices[0].Message.Content}, nil
}
