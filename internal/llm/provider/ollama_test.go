package provider

import (
	"net/http"
	"testing"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/llm/provider/ollamatest"
	"github.com/stretchr/testify/require"
)

func newOllama(t *testing.T, srv *ollamatest.Server) Provider {
	t.Helper()
	p, err := NewProvider(config.ProviderConfig{
		ID:           "local",
		Type:         config.TypeOllama,
		BaseURL:      srv.URL + "/v1/",
		APIKey:       "secret",
		ExtraHeaders: map[string]string{"X-Team": "roundtable"},
	})
	require.NoError(t, err)
	return p
}

func TestOllamaStream(t *testing.T) {
	t.Parallel()

	srv := ollamatest.NewServer(t)
	srv.Set("llama", ollamatest.Reply{Chunks: []string{"Hel", "lo"}})
	p := newOllama(t, srv)

	temp := 0.5
	events := collect(t, p.StreamResponse(t.Context(), Request{
		Model:       "llama",
		Messages:    []Message{{Role: RoleSystem, Content: "be brief"}, {Role: RoleUser, Content: "hi"}},
		MaxTokens:   128,
		Temperature: &temp,
	}))
	require.Len(t, events, 3)
	require.Equal(t, "Hel", events[0].Content)
	require.Equal(t, "lo", events[1].Content)
	require.Equal(t, EventComplete, events[2].Type)
	require.Equal(t, "Hello", events[2].Response.Content)
	require.EqualValues(t, 10, events[2].Response.Usage.InputTokens)
	require.EqualValues(t, 5, events[2].Response.Usage.OutputTokens)

	reqs := srv.Requests()
	require.Len(t, reqs, 1)
	require.True(t, reqs[0].Stream)
	require.Len(t, reqs[0].Messages, 2)
	require.Equal(t, "system", reqs[0].Messages[0].Role)
	require.EqualValues(t, 128, reqs[0].Options["num_predict"])
	require.EqualValues(t, 0.5, reqs[0].Options["temperature"])

	h := srv.Headers()[0]
	require.Equal(t, "Bearer secret", h.Get("Authorization"))
	require.Equal(t, "roundtable", h.Get("X-Team"))
}

func TestOllamaSend(t *testing.T) {
	t.Parallel()

	srv := ollamatest.NewServer(t)
	srv.Set("llama", ollamatest.Reply{Chunks: []string{"A ", "title"}})
	p := newOllama(t, srv)

	resp, err := p.SendMessages(t.Context(), hiRequest2("llama"))
	require.NoError(t, err)
	require.Equal(t, "A title", resp.Content)
	require.False(t, srv.Requests()[0].Stream)
}

func TestOllamaErrors(t *testing.T) {
	t.Parallel()

	srv := ollamatest.NewServer(t)
	srv.Set("locked", ollamatest.Reply{Status: http.StatusUnauthorized, Error: "bad key"})
	srv.Set("busy", ollamatest.Reply{Status: http.StatusServiceUnavailable, Error: "loading"})
	srv.Set("cut", ollamatest.Reply{Chunks: []string{"par"}, Truncate: true})
	p := newOllama(t, srv)

	terminal := func(model string) error {
		events := collect(t, p.StreamResponse(t.Context(), hiRequest2(model)))
		last := events[len(events)-1]
		require.Equal(t, EventError, last.Type)
		return last.Error
	}

	var authErr *AuthError
	require.ErrorAs(t, terminal("locked"), &authErr)
	require.Contains(t, authErr.Error(), "bad key")

	require.True(t, IsTransient(terminal("busy")))
	require.True(t, IsTransient(terminal("cut")))

	var protoErr *ProtocolError
	require.ErrorAs(t, terminal("missing"), &protoErr)
}

func hiRequest2(model string) Request {
	req := hiRequest()
	req.Model = model
	return req
}
