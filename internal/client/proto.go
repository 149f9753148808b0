package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/pubsub"
)

var sseHeaders = http.Header{
	"Accept":        []string{"text/event-stream"},
	"Cache-Control": []string{"no-cache"},
}

func (c *Client) ListModels(ctx context.Context) ([]proto.ModelInfo, error) {
	var models []proto.ModelInfo
	if err := c.call(ctx, http.MethodGet, "/models", nil, &models); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return models, nil
}

func (c *Client) CreateSession(ctx context.Context, models []string) (*proto.Session, error) {
	var sess proto.Session
	if err := c.call(ctx, http.MethodPost, "/sessions", proto.CreateSessionRequest{Models: models}, &sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &sess, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]proto.Session, error) {
	var sessions []proto.Session
	if err := c.call(ctx, http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*proto.SessionDetail, error) {
	var detail proto.SessionDetail
	if err := c.call(ctx, http.MethodGet, "/sessions/"+id, nil, &detail); err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &detail, nil
}

func (c *Client) RenameSession(ctx context.Context, id, title string) (*proto.Session, error) {
	var sess proto.Session
	if err := c.call(ctx, http.MethodPatch, "/sessions/"+id, proto.UpdateSessionRequest{Title: title}, &sess); err != nil {
		return nil, fmt.Errorf("failed to rename session: %w", err)
	}
	return &sess, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/sessions/"+id, nil, nil); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (c *Client) SetSessionModels(ctx context.Context, id string, models []string) (*proto.Session, error) {
	var sess proto.Session
	if err := c.call(ctx, http.MethodPut, "/sessions/"+id+"/models", proto.SetModelsRequest{Models: models}, &sess); err != nil {
		return nil, fmt.Errorf("failed to set models: %w", err)
	}
	return &sess, nil
}

func (c *Client) ListTemplates(ctx context.Context) (*proto.Templates, error) {
	var all proto.Templates
	if err := c.call(ctx, http.MethodGet, "/templates", nil, &all); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return &all, nil
}

// ListTemplatesOf returns the templates of one kind, "chat" or "prompt".
func (c *Client) ListTemplatesOf(ctx context.Context, kind string) (map[string]proto.Template, error) {
	var list map[string]proto.Template
	if err := c.call(ctx, http.MethodGet, "/templates/"+kind, nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	return list, nil
}

func (c *Client) SaveTemplate(ctx context.Context, kind, id string, t proto.Template) error {
	if err := c.call(ctx, http.MethodPut, "/templates/"+kind+"/"+id, t, nil); err != nil {
		return fmt.Errorf("failed to save template: %w", err)
	}
	return nil
}

func (c *Client) DeleteTemplate(ctx context.Context, kind, id string) error {
	if err := c.call(ctx, http.MethodDelete, "/templates/"+kind+"/"+id, nil, nil); err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return nil
}

// ResetTemplates restores the example templates when the server has them.
func (c *Client) ResetTemplates(ctx context.Context) (*proto.ResetTemplatesResponse, error) {
	var rsp proto.ResetTemplatesResponse
	if err := c.call(ctx, http.MethodPost, "/templates/reset", nil, &rsp); err != nil {
		return nil, fmt.Errorf("failed to reset templates: %w", err)
	}
	return &rsp, nil
}

// StartRound opens round 1 of a session with the user's topic.
func (c *Client) StartRound(ctx context.Context, id, input string) (*proto.RoundResponse, error) {
	return c.openRound(ctx, id, "start", input)
}

// ContinueRound opens the next round of a session.
func (c *Client) ContinueRound(ctx context.Context, id, input string) (*proto.RoundResponse, error) {
	return c.openRound(ctx, id, "continue", input)
}

func (c *Client) openRound(ctx context.Context, id, action, input string) (*proto.RoundResponse, error) {
	var rsp proto.RoundResponse
	if err := c.call(ctx, http.MethodPost, "/sessions/"+id+"/"+action, proto.RoundRequest{UserInput: input}, &rsp); err != nil {
		return nil, fmt.Errorf("failed to %s round: %w", action, err)
	}
	return &rsp, nil
}

func (c *Client) EndSession(ctx context.Context, id string) (*proto.Session, error) {
	var sess proto.Session
	if err := c.call(ctx, http.MethodPost, "/sessions/"+id+"/end", nil, &sess); err != nil {
		return nil, fmt.Errorf("failed to end session: %w", err)
	}
	return &sess, nil
}

// ExportSession returns the Markdown report of a session.
func (c *Client) ExportSession(ctx context.Context, id string) (string, error) {
	rsp, err := c.sendReq(ctx, http.MethodGet, "/sessions/"+id+"/export", nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("failed to export session: %w", err)
	}
	defer rsp.Body.Close()
	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to export session: %w", err)
	}
	return string(data), nil
}

// StreamRound subscribes to the round event stream of a session and calls
// handle for every event until the server closes the stream, ctx is done
// or handle returns an error.
func (c *Client) StreamRound(ctx context.Context, id string, handle func(proto.StreamEvent) error) error {
	rsp, err := c.sendReq(ctx, http.MethodGet, "/sessions/"+id+"/stream", nil, nil, sseHeaders)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer rsp.Body.Close()

	return readEvents(rsp.Body, func(name string, data []byte) error {
		ev, err := proto.DecodeStreamEvent(name, data)
		if err != nil {
			slog.Warn("Skipping stream event", "event", name, "error", err)
			return nil
		}
		return handle(ev)
	})
}

// SubscribeEvents follows session and message changes. Values are
// pubsub.Event[proto.Session] or pubsub.Event[proto.Message].
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan any, error) {
	rsp, err := c.sendReq(ctx, http.MethodGet, "/events", nil, nil, sseHeaders)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	events := make(chan any, 100)
	go func() {
		defer close(events)
		defer rsp.Body.Close()

		err := readEvents(rsp.Body, func(_ string, data []byte) error {
			ev, err := decodeChange(data)
			if err != nil {
				slog.Error("unmarshaling event", "error", err)
				return nil
			}
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("Event stream closed", "error", err)
		}
	}()
	return events, nil
}

func decodeChange(data []byte) (any, error) {
	var head struct {
		Payload pubsub.Payload `json:"payload"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Payload.Type {
	case pubsub.PayloadTypeSession:
		var ev pubsub.Event[proto.Session]
		err := json.Unmarshal(data, &ev)
		return ev, err
	case pubsub.PayloadTypeMessage:
		var ev pubsub.Event[proto.Message]
		err := json.Unmarshal(data, &ev)
		return ev, err
	default:
		return nil, fmt.Errorf("unknown payload type: %q", head.Payload.Type)
	}
}

// readEvents parses a server-sent event stream and calls fn once per
// dispatched event. Comment lines are ignored and multi-line data is joined
// with newlines.
func readEvents(r io.Reader, fn func(name string, data []byte) error) error {
	br := bufio.NewReader(r)
	var (
		name string
		data []byte
		has  bool
	)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			switch {
			case len(line) == 0:
				if has {
					if name == "" {
						name = "message"
					}
					if ferr := fn(name, data); ferr != nil {
						return ferr
					}
				}
				name, data, has = "", nil, false
			case line[0] == ':':
			default:
				field, value, _ := bytes.Cut(line, []byte(":"))
				value = bytes.TrimPrefix(value, []byte(" "))
				switch string(field) {
				case "event":
					name = string(value)
				case "data":
					if has {
						data = append(data, '\n')
					}
					data = append(data, value...)
					has = true
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
