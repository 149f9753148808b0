package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/agentround/agentround/internal/config"
	"github.com/charmbracelet/catwalk/pkg/catwalk"
)

type EventType string

const (
	EventContentDelta EventType = "content_delta"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a prompt.
type Message struct {
	Role    Role
	Content string
}

// Request is the provider-neutral shape of a chat completion call.
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int64
	Temperature *float64
}

type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

type ProviderResponse struct {
	Content string
	Usage   TokenUsage
}

// ProviderEvent is one item of a response stream. A stream carries any
// number of EventContentDelta events followed by exactly one EventComplete
// or EventError, after which the channel is closed. A stream whose context
// is cancelled may close without a terminal event.
type ProviderEvent struct {
	Type EventType

	Content  string
	Response *ProviderResponse
	Error    error
}

type Provider interface {
	SendMessages(ctx context.Context, req Request) (*ProviderResponse, error)

	StreamResponse(ctx context.Context, req Request) <-chan ProviderEvent

	ID() string
	Type() catwalk.Type
}

type providerClientOptions struct {
	id               string
	providerType     catwalk.Type
	baseURL          string
	apiKey           string
	extraHeaders     map[string]string
	disableStreaming bool
	maxTokens        int64
	httpClient       *http.Client
}

type ProviderClientOption func(*providerClientOptions)

type ProviderClient interface {
	send(ctx context.Context, req Request) (*ProviderResponse, error)
	stream(ctx context.Context, req Request) <-chan ProviderEvent
}

type baseProvider[C ProviderClient] struct {
	options providerClientOptions
	client  C
}

func (p *baseProvider[C]) cleanMessages(messages []Message) (cleaned []Message) {
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		cleaned = append(cleaned, msg)
	}
	return cleaned
}

func (p *baseProvider[C]) prepare(req Request) Request {
	req.Messages = p.cleanMessages(req.Messages)
	if req.MaxTokens <= 0 {
		req.MaxTokens = p.options.maxTokens
	}
	return req
}

func (p *baseProvider[C]) SendMessages(ctx context.Context, req Request) (*ProviderResponse, error) {
	return p.client.send(ctx, p.prepare(req))
}

// StreamResponse streams the reply. Providers configured with
// disable_streaming answer through send and replay the whole reply as a
// single delta.
func (p *baseProvider[C]) StreamResponse(ctx context.Context, req Request) <-chan ProviderEvent {
	req = p.prepare(req)
	if !p.options.disableStreaming {
		return p.client.stream(ctx, req)
	}

	eventChan := make(chan ProviderEvent, 2)
	go func() {
		defer close(eventChan)
		response, err := p.client.send(ctx, req)
		if err != nil {
			eventChan <- ProviderEvent{Type: EventError, Error: err}
			return
		}
		if response.Content != "" {
			eventChan <- ProviderEvent{Type: EventContentDelta, Content: response.Content}
		}
		eventChan <- ProviderEvent{Type: EventComplete, Response: response}
	}()
	return eventChan
}

func (p *baseProvider[C]) ID() string {
	return p.options.id
}

func (p *baseProvider[C]) Type() catwalk.Type {
	return p.options.providerType
}

// WithHTTPClient makes the upstream SDK use client.
func WithHTTPClient(client *http.Client) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.httpClient = client
	}
}

// WithMaxTokens sets the output budget used when a request does not carry
// one.
func WithMaxTokens(maxTokens int64) ProviderClientOption {
	return func(options *providerClientOptions) {
		options.maxTokens = maxTokens
	}
}

const defaultMaxTokens = 4096

func NewProvider(pcfg config.ProviderConfig, opts ...ProviderClientOption) (Provider, error) {
	clientOptions := providerClientOptions{
		id:               pcfg.ID,
		providerType:     pcfg.Type,
		baseURL:          pcfg.BaseURL,
		apiKey:           pcfg.APIKey,
		extraHeaders:     pcfg.ExtraHeaders,
		disableStreaming: pcfg.DisableStreaming,
		maxTokens:        defaultMaxTokens,
	}
	for _, o := range opts {
		o(&clientOptions)
	}

	switch pcfg.Type {
	case catwalk.TypeOpenAI:
		return &baseProvider[*openaiClient]{
			options: clientOptions,
			client:  newOpenAIClient(clientOptions),
		}, nil
	case catwalk.TypeAnthropic:
		return &baseProvider[*anthropicClient]{
			options: clientOptions,
			client:  newAnthropicClient(clientOptions),
		}, nil
	case catwalk.TypeGemini:
		client, err := newGeminiClient(clientOptions)
		if err != nil {
			return nil, err
		}
		return &baseProvider[*geminiClient]{
			options: clientOptions,
			client:  client,
		}, nil
	case config.TypeOllama:
		return &baseProvider[*ollamaClient]{
			options: clientOptions,
			client:  newOllamaClient(clientOptions),
		}, nil
	}
	return nil, fmt.Errorf("provider not supported: %s", pcfg.Type)
}

// emit sends ev unless ctx is done first.
func emit(ctx context.Context, ch chan<- ProviderEvent, ev ProviderEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
