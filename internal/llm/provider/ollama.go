package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

const defaultOllamaURL = "http://localhost:11434"

// ollamaClient speaks the native Ollama chat API, which streams one JSON
// object per line.
type ollamaClient struct {
	providerOptions providerClientOptions
	baseURL         string
	http            *http.Client
}

func newOllamaClient(opts providerClientOptions) *ollamaClient {
	baseURL := strings.TrimRight(opts.baseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	httpClient := opts.httpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ollamaClient{
		providerOptions: opts,
		baseURL:         baseURL,
		http:            httpClient,
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

func (c *ollamaClient) newRequest(ctx context.Context, req Request, stream bool) (*http.Request, error) {
	body := ollamaRequest{
		Model:  req.Model,
		Stream: stream,
	}
	for _, msg := range req.Messages {
		body.Messages = append(body.Messages, ollamaMessage{Role: string(msg.Role), Content: msg.Content})
	}
	options := map[string]any{}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if len(options) > 0 {
		body.Options = options
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.providerOptions.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.providerOptions.apiKey)
	}
	for key, value := range c.providerOptions.extraHeaders {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

func (c *ollamaClient) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, req, stream)
	if err != nil {
		return nil, &ProtocolError{Provider: c.providerOptions.id, Err: err}
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classify(c.providerOptions.id, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return nil, classify(c.providerOptions.id, &statusError{StatusCode: resp.StatusCode, Body: msg})
	}
	return resp, nil
}

func (c *ollamaClient) send(ctx context.Context, req Request) (*ProviderResponse, error) {
	resp, err := c.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(c.providerOptions.id, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, &ProtocolError{Provider: c.providerOptions.id, Err: errors.New("invalid JSON response")}
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return nil, &ProtocolError{Provider: c.providerOptions.id, Err: errors.New(msg.String())}
	}
	return &ProviderResponse{
		Content: gjson.GetBytes(body, "message.content").String(),
		Usage:   ollamaUsage(body),
	}, nil
}

func (c *ollamaClient) stream(ctx context.Context, req Request) <-chan ProviderEvent {
	eventChan := make(chan ProviderEvent)
	go func() {
		defer close(eventChan)

		resp, err := c.do(ctx, req, true)
		if err != nil {
			emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: err})
			return
		}
		defer resp.Body.Close()

		var content strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if !gjson.ValidBytes(line) {
				emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: &ProtocolError{
					Provider: c.providerOptions.id,
					Err:      fmt.Errorf("invalid stream line: %.80s", line),
				}})
				return
			}
			if msg := gjson.GetBytes(line, "error"); msg.Exists() {
				emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: &ProtocolError{
					Provider: c.providerOptions.id,
					Err:      errors.New(msg.String()),
				}})
				return
			}
			if text := gjson.GetBytes(line, "message.content").String(); text != "" {
				content.WriteString(text)
				if !emit(ctx, eventChan, ProviderEvent{Type: EventContentDelta, Content: text}) {
					return
				}
			}
			if gjson.GetBytes(line, "done").Bool() {
				emit(ctx, eventChan, ProviderEvent{
					Type:     EventComplete,
					Response: &ProviderResponse{Content: content.String(), Usage: ollamaUsage(line)},
				})
				return
			}
		}
		err = scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		emit(ctx, eventChan, ProviderEvent{Type: EventError, Error: classify(c.providerOptions.id, err)})
	}()
	return eventChan
}

func ollamaUsage(body []byte) TokenUsage {
	return TokenUsage{
		InputTokens:  gjson.GetBytes(body, "prompt_eval_count").Int(),
		OutputTokens: gjson.GetBytes(body, "eval_count").Int(),
	}
}
