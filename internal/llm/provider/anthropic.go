package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	providerOptions providerClientOptions
	client          anthropic.Client
}

func newAnthropicClient(opts providerClientOptions) *anthropicClient {
	return &anthropicClient{
		providerOptions: opts,
		client:          createAnthropicClient(opts),
	}
}

func createAnthropicClient(opts providerClientOptions) anthropic.Client {
	anthropicClientOptions := []option.RequestOption{
		option.WithMaxRetries(0),
	}
	if opts.apiKey != "" {
		anthropicClientOptions = append(anthropicClientOptions, option.WithAPIKey(opts.apiKey))
	}
	if opts.baseURL != "" {
		anthropicClientOptions = append(anthropicClientOptions, option.WithBaseURL(opts.baseURL))
	}
	if opts.httpClient != nil {
		anthropicClientOptions = append(anthropicClientOptions, option.WithHTTPClient(opts.httpClient))
	}
	for key, value := range opts.extraHeaders {
		anthropicClientOptions = append(anthropicClientOptions, option.WithHeader(key, value))
	}
	return anthropic.NewClient(anthropicClientOptions...)
}

// convertMessages splits off the system prompt and folds consecutive turns
// of the same role into one, since several models may speak in a row.
func (a *anthropicClient) convertMessages(messages []Message) (system string, out []anthropic.MessageParam) {
	system, turns := splitSystem(messages)
	for _, turn := range mergeTurns(turns) {
		block := anthropic.NewTextBlock(turn.Content)
		if turn.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	if len(out) == 0 || turns[len(turns)-1].Role == RoleAssistant {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(continuePrompt)))
	}
	return system, out
}

func (a *anthropicClient) preparedParams(req Request) anthropic.MessageNewParams {
	system, messages := a.convertMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params
}

func (a *anthropicClient) send(ctx context.Context, req Request) (*ProviderResponse, error) {
	msg, err := a.client.Messages.New(ctx, a.preparedParams(req))
	if err != nil {
		return nil, classify(a.providerOptions.id, err)
	}
	var content strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(text.Text)
		}
	}
	return &ProviderResponse{
		Content: content.String(),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}

func (a *anthropicClient) stream(ctx context.Context, req Request) <-chan ProviderEvent {
	params := a.preparedParams(req)

	eventChan := make(chan ProviderEvent)
	go func() {
		defer close(eventChan)

		anthropicStream := a.client.Messages.NewStreaming(ctx, params)
		defer anthropicStream.Close()

		accumulated := anthropic.Message{}
		var content strings.Builder
		for anthropicStream.Next() {
			event := anthropicStream.Current()
			if err := accumulated.Accumulate(event); err != nil {
				emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: &ProtocolError{Provider: a.providerOptions.id, Err: err}})
				return
			}
			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					content.WriteString(delta.Text)
					if !emit(ctx, eventChan, ProviderEvent{Type: EventContentDelta, Content: delta.Text}) {
						return
					}
				}
			}
		}

		if err := anthropicStream.Err(); err != nil {
			emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: classify(a.providerOptions.id, err)})
			return
		}
		if accumulated.ID == "" {
			emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: &ProtocolError{
				Provider: a.providerOptions.id,
				Err:      errors.New("stream ended before message_start"),
			}})
			return
		}
		emit(ctx, eventChan, ProviderEvent{
			Type: EventComplete,
			Response: &ProviderResponse{
				Content: content.String(),
				Usage: TokenUsage{
					InputTokens:  accumulated.Usage.InputTokens,
					OutputTokens: accumulated.Usage.OutputTokens,
				},
			},
		})
	}()
	return eventChan
}
