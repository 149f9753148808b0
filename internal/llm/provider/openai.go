package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openaiClient struct {
	providerOptions providerClientOptions
	client          openai.Client
}

func newOpenAIClient(opts providerClientOptions) *openaiClient {
	return &openaiClient{
		providerOptions: opts,
		client:          createOpenAIClient(opts),
	}
}

func createOpenAIClient(opts providerClientOptions) openai.Client {
	openaiClientOptions := []option.RequestOption{
		// Retries belong to the round scheduler's policy.
		option.WithMaxRetries(0),
	}
	if opts.apiKey != "" {
		openaiClientOptions = append(openaiClientOptions, option.WithAPIKey(opts.apiKey))
	}
	if opts.baseURL != "" {
		openaiClientOptions = append(openaiClientOptions, option.WithBaseURL(opts.baseURL))
	}
	if opts.httpClient != nil {
		openaiClientOptions = append(openaiClientOptions, option.WithHTTPClient(opts.httpClient))
	}
	for key, value := range opts.extraHeaders {
		openaiClientOptions = append(openaiClientOptions, option.WithHeader(key, value))
	}
	return openai.NewClient(openaiClientOptions...)
}

func (o *openaiClient) convertMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	openaiMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			openaiMessages = append(openaiMessages, openai.SystemMessage(msg.Content))
		case RoleAssistant:
			openaiMessages = append(openaiMessages, openai.AssistantMessage(msg.Content))
		default:
			openaiMessages = append(openaiMessages, openai.UserMessage(msg.Content))
		}
	}
	return openaiMessages
}

func (o *openaiClient) preparedParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: o.convertMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

func (o *openaiClient) send(ctx context.Context, req Request) (*ProviderResponse, error) {
	openaiResponse, err := o.client.Chat.Completions.New(ctx, o.preparedParams(req))
	if err != nil {
		return nil, classify(o.providerOptions.id, err)
	}
	if len(openaiResponse.Choices) == 0 {
		return nil, &ProtocolError{
			Provider: o.providerOptions.id,
			Err:      errors.New("received empty response - check endpoint configuration"),
		}
	}
	return &ProviderResponse{
		Content: openaiResponse.Choices[0].Message.Content,
		Usage:   o.usage(*openaiResponse),
	}, nil
}

func (o *openaiClient) stream(ctx context.Context, req Request) <-chan ProviderEvent {
	params := o.preparedParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	eventChan := make(chan ProviderEvent)
	go func() {
		defer close(eventChan)

		openaiStream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer openaiStream.Close()

		var (
			content  strings.Builder
			usage    TokenUsage
			sawChunk bool
		)
		for openaiStream.Next() {
			chunk := openaiStream.Current()
			sawChunk = true
			if chunk.Usage.TotalTokens > 0 {
				usage = TokenUsage{
					InputTokens:  chunk.Usage.PromptTokens,
					OutputTokens: chunk.Usage.CompletionTokens,
				}
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				content.WriteString(choice.Delta.Content)
				if !emit(ctx, eventChan, ProviderEvent{Type: EventContentDelta, Content: choice.Delta.Content}) {
					return
				}
			}
		}

		err := openaiStream.Err()
		if err != nil && !errors.Is(err, io.EOF) {
			emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: classify(o.providerOptions.id, err)})
			return
		}
		if !sawChunk {
			emit(ctx, eventChan, ProviderEvent{
				Type: EventError,
				Error: &ProtocolError{
					Provider: o.providerOptions.id,
					Err:      fmt.Errorf("received empty streaming response - check endpoint configuration"),
				},
			})
			return
		}
		emit(ctx, eventChan, ProviderEvent{
			Type:     EventComplete,
			Response: &ProviderResponse{Content: content.String(), Usage: usage},
		})
	}()
	return eventChan
}

func (o *openaiClient) usage(completion openai.ChatCompletion) TokenUsage {
	return TokenUsage{
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}
}
