package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

type geminiClient struct {
	providerOptions providerClientOptions
	client          *genai.Client
}

func newGeminiClient(opts providerClientOptions) (*geminiClient, error) {
	client, err := createGeminiClient(opts)
	if err != nil {
		return nil, err
	}
	return &geminiClient{providerOptions: opts, client: client}, nil
}

func createGeminiClient(opts providerClientOptions) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:  opts.apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.httpClient != nil {
		cc.HTTPClient = opts.httpClient
	}
	if opts.baseURL != "" || len(opts.extraHeaders) > 0 {
		headers := http.Header{}
		for key, value := range opts.extraHeaders {
			headers.Set(key, value)
		}
		cc.HTTPOptions = genai.HTTPOptions{
			BaseURL: opts.baseURL,
			Headers: headers,
		}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client for %s: %w", opts.id, err)
	}
	return client, nil
}

// convertMessages builds Gemini contents. The conversation has to open and
// close on a user turn, and same-role turns are merged.
func (g *geminiClient) convertMessages(messages []Message) (system string, contents []*genai.Content) {
	system, turns := splitSystem(messages)
	turns = mergeTurns(turns)
	if len(turns) == 0 || turns[0].Role == RoleAssistant {
		turns = append([]Message{{Role: RoleUser, Content: "Let's begin."}}, turns...)
	}
	if turns[len(turns)-1].Role == RoleAssistant {
		turns = append(turns, Message{Role: RoleUser, Content: continuePrompt})
	}
	for _, turn := range turns {
		role := genai.Role(genai.RoleUser)
		if turn.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, role))
	}
	return system, contents
}

func (g *geminiClient) preparedConfig(system string, req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		cfg.Temperature = &temp
	}
	return cfg
}

func (g *geminiClient) send(ctx context.Context, req Request) (*ProviderResponse, error) {
	system, contents := g.convertMessages(req.Messages)
	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, g.preparedConfig(system, req))
	if err != nil {
		return nil, classify(g.providerOptions.id, err)
	}
	return &ProviderResponse{
		Content: resp.Text(),
		Usage:   g.usage(resp),
	}, nil
}

func (g *geminiClient) stream(ctx context.Context, req Request) <-chan ProviderEvent {
	system, contents := g.convertMessages(req.Messages)
	cfg := g.preparedConfig(system, req)

	eventChan := make(chan ProviderEvent)
	go func() {
		defer close(eventChan)

		var (
			content strings.Builder
			usage   TokenUsage
		)
		for resp, err := range g.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: classify(g.providerOptions.id, err)})
				return
			}
			if u := g.usage(resp); u.OutputTokens > 0 {
				usage = u
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			content.WriteString(text)
			if !emit(ctx, eventChan, ProviderEvent{Type: EventContentDelta, Content: text}) {
				return
			}
		}
		emit(ctx, eventChan, ProviderEvent{
			Type:     EventComplete,
			Response: &ProviderResponse{Content: content.String(), Usage: usage},
		})
	}()
	return eventChan
}

func (g *geminiClient) usage(resp *genai.GenerateContentResponse) TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return TokenUsage{}
	}
	return TokenUsage{
		InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
	}
}
