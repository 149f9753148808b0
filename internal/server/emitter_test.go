package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/proto"
	"github.com/stretchr/testify/require"
)

func TestSplitChars(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want []string
	}{
		{"", 4, nil},
		{"abc", 4, []string{"abc"}},
		{"abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"abcd", 1, []string{"a", "b", "c", "d"}},
		{"héllo", 2, []string{"hé", "ll", "o"}},
		{"👍🏽ok", 1, []string{"👍🏽", "o", "k"}},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, splitChars(tt.in, tt.n), "%q/%d", tt.in, tt.n)
	}
}

func TestEmitterFrames(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	em := NewEmitter(rec, config.StreamConfig{ChunkSize: 3})
	require.NoError(t, em.Start())
	require.NoError(t, em.Send(t.Context(), proto.StreamEvent{Type: proto.EventRoundStart, Data: proto.RoundStart{Round: 1}}))
	require.NoError(t, em.Send(t.Context(), proto.StreamEvent{Type: proto.EventToken, Data: proto.Token{Content: "Hello\n"}}))
	require.NoError(t, em.Ping())

	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.True(t, rec.Flushed)
	require.Equal(t, strings.Join([]string{
		"event: round_start\ndata: {\"round\":1}\n\n",
		"event: token\ndata: {\"content\":\"Hel\"}\n\n",
		"event: token\ndata: {\"content\":\"lo\\n\"}\n\n",
		": ping\n\n",
	}, ""), rec.Body.String())
}

func TestEmitterDelay(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	em := NewEmitter(rec, config.StreamConfig{ChunkSize: 1, Delay: 20 * time.Millisecond})

	start := time.Now()
	require.NoError(t, em.Send(t.Context(), proto.StreamEvent{Type: proto.EventToken, Data: proto.Token{Content: "abc"}}))
	require.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	require.Equal(t, 3, strings.Count(rec.Body.String(), "event: token"))
}

func TestEmitterDelayCancelled(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	em := NewEmitter(rec, config.StreamConfig{ChunkSize: 1, Delay: time.Hour})

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		done <- em.Send(ctx, proto.StreamEvent{Type: proto.EventToken, Data: proto.Token{Content: "ab"}})
	}()
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("send did not stop")
	}
}
