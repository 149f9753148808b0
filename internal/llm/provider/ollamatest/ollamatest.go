// Package ollamatest provides a scripted Ollama chat server for tests.
package ollamatest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Reply scripts the answer for one model. A non-zero Status fails the call
// with Error as the body.
type Reply struct {
	Chunks []string
	Status int
	Error  string
	// Truncate ends the stream without the final done line.
	Truncate bool
}

// Request is a received chat call.
type Request struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Options map[string]any `json:"options"`
}

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	replies  map[string]Reply
	requests []Request
	headers  []http.Header
}

// NewServer starts a server that is closed with the test.
func NewServer(t testing.TB) *Server {
	s := &Server{replies: map[string]Reply{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Set(model string, r Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[model] = r
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

func (s *Server) Headers() []http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]http.Header(nil), s.headers...)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.headers = append(s.headers, r.Header.Clone())
	reply, ok := s.replies[req.Model]
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/x-ndjson")
	switch {
	case !ok:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"model %q not found"}`, req.Model)
		return
	case reply.Status != 0:
		w.WriteHeader(reply.Status)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": reply.Error})
		return
	}

	enc := json.NewEncoder(w)
	if !req.Stream {
		_ = enc.Encode(line(strings.Join(reply.Chunks, ""), true))
		return
	}
	rc := http.NewResponseController(w)
	for _, c := range reply.Chunks {
		_ = enc.Encode(line(c, false))
		_ = rc.Flush()
	}
	if !reply.Truncate {
		_ = enc.Encode(line("", true))
	}
}

func line(content string, done bool) map[string]any {
	l := map[string]any{
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    done,
	}
	if done {
		l["prompt_eval_count"] = 10
		l["eval_count"] = 5
	}
	return l
}
