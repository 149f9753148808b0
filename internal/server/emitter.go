package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/proto"
	"github.com/rivo/uniseg"
)

// Emitter writes round events to one subscriber as server-sent events. Token
// events are cut into frames of at most ChunkSize characters, paced by
// Delay.
type Emitter struct {
	w         http.ResponseWriter
	flush     func() error
	chunkSize int
	delay     time.Duration
}

func NewEmitter(w http.ResponseWriter, cfg config.StreamConfig) *Emitter {
	return &Emitter{
		w:         w,
		flush:     http.NewResponseController(w).Flush,
		chunkSize: max(cfg.ChunkSize, 1),
		delay:     cfg.Delay,
	}
}

// Start writes the event stream headers.
func (e *Emitter) Start() error {
	h := e.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	e.w.WriteHeader(http.StatusOK)
	return e.flush()
}

func (e *Emitter) Send(ctx context.Context, ev proto.StreamEvent) error {
	if ev.Type != proto.EventToken {
		return e.frame(string(ev.Type), ev.Data)
	}
	tok, ok := ev.Data.(proto.Token)
	if !ok {
		return fmt.Errorf("token event carries %T", ev.Data)
	}
	for _, part := range splitChars(tok.Content, e.chunkSize) {
		if err := e.frame(string(proto.EventToken), proto.Token{Content: part}); err != nil {
			return err
		}
		if err := e.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Ping writes a comment frame that keeps idle connections open.
func (e *Emitter) Ping() error {
	if _, err := io.WriteString(e.w, ": ping\n\n"); err != nil {
		return err
	}
	return e.flush()
}

func (e *Emitter) frame(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", name, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return e.flush()
}

func (e *Emitter) pause(ctx context.Context) error {
	if e.delay <= 0 {
		return nil
	}
	t := time.NewTimer(e.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// splitChars cuts s into pieces of at most n grapheme clusters so that no
// user-perceived character is split across frames.
func splitChars(s string, n int) []string {
	var (
		parts []string
		start int
		count int
		state = -1
		rest  = s
	)
	for len(rest) > 0 {
		_, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		count++
		if count == n {
			end := len(s) - len(rest)
			parts = append(parts, s[start:end])
			start, count = end, 0
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}
