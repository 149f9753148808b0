package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentround/agentround/internal/app"
	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/db"
	"github.com/agentround/agentround/internal/llm/provider/ollamatest"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/pubsub"
	"github.com/agentround/agentround/internal/server"
	"github.com/stretchr/testify/require"
)

func TestReadEvents(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		": ping",
		"",
		"event: token",
		`data: {"content":"a"}`,
		"",
		"data: line one",
		"data: line two",
		"",
		"event: round_end\r",
		`data: {"round":1}` + "\r",
		"\r",
		"event: dangling",
	}, "\n")

	type got struct{ name, data string }
	var events []got
	err := readEvents(strings.NewReader(stream), func(name string, data []byte) error {
		events = append(events, got{name, string(data)})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []got{
		{"token", `{"content":"a"}`},
		{"message", "line one\nline two"},
		{"round_end", `{"round":1}`},
	}, events)
}

func TestReadEventsStopsOnHandlerError(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	calls := 0
	err := readEvents(strings.NewReader("data: 1\n\ndata: 2\n\n"), func(string, []byte) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func setup(t *testing.T) (*Client, *ollamatest.Server) {
	t.Helper()

	ollama := ollamatest.NewServer(t)
	dir := t.TempDir()
	providers := fmt.Sprintf("providers:\n  - id: local\n    type: ollama\n    base_url: %s\n    models:\n      - id: alpha\n      - id: beta\n", ollama.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "providers.yaml"), []byte(providers), 0o600))

	cfg, err := config.Load(config.LoadOptions{WorkingDir: dir, DataDir: dir})
	require.NoError(t, err)
	cfg.Retry.Attempts = 1
	cfg.Title.Wait = 2 * time.Second

	a, err := app.New(t.Context(), db.SetupTestDB(t), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Shutdown)

	srv := httptest.NewServer(server.NewServer(a, "tcp", "").Handler())
	t.Cleanup(srv.Close)

	c, err := NewClientHost("tcp://" + strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	return c, ollama
}

func TestClientRoundTrip(t *testing.T) {
	t.Parallel()

	c, ollama := setup(t)
	ollama.Set("alpha", ollamatest.Reply{Chunks: []string{"Cats ", "rule."}})
	ollama.Set("beta", ollamatest.Reply{Chunks: []string{"Dogs."}})

	require.NoError(t, c.Health(t.Context()))

	models, err := c.ListModels(t.Context())
	require.NoError(t, err)
	require.Len(t, models, 2)

	sess, err := c.CreateSession(t.Context(), []string{"alpha", "beta"})
	require.NoError(t, err)

	rsp, err := c.StartRound(t.Context(), sess.ID, "Cats or dogs?")
	require.NoError(t, err)
	require.EqualValues(t, 1, rsp.Round)
	require.Equal(t, "Cats or dogs?", rsp.Message.Content)

	var (
		types []proto.StreamEventType
		text  strings.Builder
		title string
	)
	err = c.StreamRound(t.Context(), sess.ID, func(ev proto.StreamEvent) error {
		types = append(types, ev.Type)
		switch d := ev.Data.(type) {
		case proto.Token:
			text.WriteString(d.Content)
		case proto.TitleGenerated:
			title = d.Title
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, proto.EventRoundStart, types[0])
	require.Contains(t, types, proto.EventRoundEnd)
	require.Equal(t, "Cats rule.Dogs.", text.String())
	require.Equal(t, "Cats rule", title)

	_, err = c.StartRound(t.Context(), sess.ID, "again")
	require.True(t, IsStatus(err, http.StatusConflict), "got %v", err)

	_, err = c.ContinueRound(t.Context(), sess.ID, "Final answer?")
	require.NoError(t, err)
	require.NoError(t, c.StreamRound(t.Context(), sess.ID, func(proto.StreamEvent) error { return nil }))

	ended, err := c.EndSession(t.Context(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, proto.SessionEnded, ended.Status)

	detail, err := c.GetSession(t.Context(), sess.ID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 6)
	require.Equal(t, "Cats rule", detail.Title)

	report, err := c.ExportSession(t.Context(), sess.ID)
	require.NoError(t, err)
	require.Contains(t, report, "## Round 2")
}

func TestClientErrors(t *testing.T) {
	t.Parallel()

	c, _ := setup(t)

	_, err := c.GetSession(t.Context(), "missing")
	require.True(t, IsStatus(err, http.StatusNotFound))
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "session not found", se.Message)

	_, err = c.CreateSession(t.Context(), []string{"unknown"})
	require.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestClientSetSessionModels(t *testing.T) {
	t.Parallel()

	c, _ := setup(t)
	sess, err := c.CreateSession(t.Context(), []string{"alpha"})
	require.NoError(t, err)

	updated, err := c.SetSessionModels(t.Context(), sess.ID, []string{"beta", "alpha"})
	require.NoError(t, err)
	require.Equal(t, []string{"beta", "alpha"}, updated.Models)

	_, err = c.SetSessionModels(t.Context(), sess.ID, []string{"nope"})
	require.True(t, IsStatus(err, http.StatusBadRequest))
}

func TestClientTemplates(t *testing.T) {
	t.Parallel()

	c, _ := setup(t)
	tpl := proto.Template{Name: "Critic", Content: "Find the weakest argument."}
	require.NoError(t, c.SaveTemplate(t.Context(), "prompt", "critic", tpl))

	all, err := c.ListTemplates(t.Context())
	require.NoError(t, err)
	require.Equal(t, tpl, all.Prompt["critic"])
	require.Empty(t, all.Chat)

	prompts, err := c.ListTemplatesOf(t.Context(), "prompt")
	require.NoError(t, err)
	require.Len(t, prompts, 1)

	require.NoError(t, c.DeleteTemplate(t.Context(), "prompt", "critic"))
	err = c.DeleteTemplate(t.Context(), "prompt", "critic")
	require.True(t, IsStatus(err, http.StatusNotFound), "got %v", err)

	reset, err := c.ResetTemplates(t.Context())
	require.NoError(t, err)
	require.False(t, reset.Reset)
}

func TestClientSubscribeEvents(t *testing.T) {
	t.Parallel()

	c, _ := setup(t)
	events, err := c.SubscribeEvents(t.Context())
	require.NoError(t, err)

	sess, err := c.CreateSession(t.Context(), []string{"alpha"})
	require.NoError(t, err)
	_, err = c.RenameSession(t.Context(), sess.ID, "Renamed")
	require.NoError(t, err)

	var got []pubsub.Event[proto.Session]
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case ev := <-events:
			se, ok := ev.(pubsub.Event[proto.Session])
			require.True(t, ok, "got %T", ev)
			got = append(got, se)
		case <-timeout:
			t.Fatal("missing events")
		}
	}
	require.Equal(t, pubsub.CreatedEvent, got[0].Type)
	require.Equal(t, pubsub.UpdatedEvent, got[1].Type)
	require.Equal(t, "Renamed", got[1].Payload.Title)
}
