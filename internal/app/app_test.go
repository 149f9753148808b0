package app

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/db"
	"github.com/agentround/agentround/internal/llm/provider/ollamatest"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/round"
	"github.com/stretchr/testify/require"
)

const providersYAML = `providers:
  - id: local
    type: ollama
    base_url: %s
    models:
      - id: alpha
        display_name: Alpha
      - id: beta
        display_name: Beta
      - id: team/gamma
`

func setupApp(t *testing.T) (*App, *ollamatest.Server) {
	t.Helper()

	srv := ollamatest.NewServer(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "providers.yaml"), fmt.Appendf(nil, providersYAML, srv.URL), 0o600))

	cfg, err := config.Load(config.LoadOptions{WorkingDir: dir, DataDir: dir})
	require.NoError(t, err)
	cfg.Retry.Attempts = 1
	cfg.Title.Wait = 2 * time.Second

	app, err := New(t.Context(), db.SetupTestDB(t), cfg)
	require.NoError(t, err)
	t.Cleanup(app.Shutdown)
	return app, srv
}

func drain(t *testing.T, ch <-chan proto.StreamEvent) []proto.StreamEvent {
	t.Helper()
	var events []proto.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestCreateSessionValidatesModels(t *testing.T) {
	t.Parallel()

	app, _ := setupApp(t)

	_, err := app.CreateSession(t.Context(), []string{"alpha", "nope"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Contains(t, err.Error(), "nope")

	_, err = app.CreateSession(t.Context(), []string{"alpha", " alpha "})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = app.CreateSession(t.Context(), []string{"  "})
	require.ErrorIs(t, err, ErrInvalidRequest)

	sess, err := app.CreateSession(t.Context(), []string{" beta", "alpha"})
	require.NoError(t, err)
	require.Equal(t, []string{"beta", "alpha"}, sess.Models)
}

func TestRoundEndToEnd(t *testing.T) {
	t.Parallel()

	app, srv := setupApp(t)
	srv.Set("alpha", ollamatest.Reply{Chunks: []string{"\n\nTabs ", "<think>hmm</think>", "win."}})
	srv.Set("beta", ollamatest.Reply{Status: http.StatusUnauthorized, Error: "bad key"})

	sess, err := app.CreateSession(t.Context(), []string{"alpha", "beta"})
	require.NoError(t, err)

	_, err = app.Rounds.Start(t.Context(), sess.ID, "Tabs or spaces?")
	require.NoError(t, err)

	ch, err := app.Rounds.Stream(t.Context(), sess.ID)
	require.NoError(t, err)
	events := drain(t, ch)

	var types []proto.StreamEventType
	var text strings.Builder
	for _, ev := range events {
		types = append(types, ev.Type)
		if tok, ok := ev.Data.(proto.Token); ok {
			text.WriteString(tok.Content)
		}
	}
	require.Equal(t, proto.EventRoundStart, types[0])
	require.Contains(t, types, proto.EventModelEnd)
	require.Contains(t, types, proto.EventModelError)
	require.Contains(t, types, proto.EventRoundEnd)
	require.Equal(t, "Tabs win.", text.String())

	// alpha's reply names the session; the scripted non-streaming reply is
	// the same text.
	require.Equal(t, proto.EventTitleGenerated, types[len(types)-1])

	detail, err := app.SessionDetail(t.Context(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, "Tabs win", detail.Title)
	require.Len(t, detail.Messages, 3)
	require.Equal(t, proto.User, detail.Messages[0].Role)
	require.Equal(t, proto.StatusSuccess, detail.Messages[1].Status)
	require.Equal(t, "Tabs win.", detail.Messages[1].Content)
	require.Equal(t, proto.StatusError, detail.Messages[2].Status)

	state, err := app.Rounds.State(t.Context(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, round.StateAwaitingDecision, state)
}

func TestSetModelsAfterEnd(t *testing.T) {
	t.Parallel()

	app, _ := setupApp(t)
	sess, err := app.CreateSession(t.Context(), []string{"alpha"})
	require.NoError(t, err)

	_, err = app.Rounds.End(t.Context(), sess.ID)
	require.NoError(t, err)

	_, err = app.SetModels(t.Context(), sess.ID, []string{"beta"})
	require.ErrorIs(t, err, round.ErrSessionEnded)
}

func TestRenameAndDelete(t *testing.T) {
	t.Parallel()

	app, _ := setupApp(t)
	sess, err := app.CreateSession(t.Context(), []string{"alpha"})
	require.NoError(t, err)

	_, err = app.RenameSession(t.Context(), sess.ID, "   ")
	require.ErrorIs(t, err, ErrInvalidRequest)

	renamed, err := app.RenameSession(t.Context(), sess.ID, " Renamed ")
	require.NoError(t, err)
	require.Equal(t, "Renamed", renamed.Title)

	require.NoError(t, app.DeleteSession(t.Context(), sess.ID))
	_, err = app.SessionDetail(t.Context(), sess.ID)
	require.Error(t, err)
}

func TestExport(t *testing.T) {
	t.Parallel()

	app, srv := setupApp(t)
	srv.Set("alpha", ollamatest.Reply{Chunks: []string{"First."}})
	srv.Set("team/gamma", ollamatest.Reply{Status: http.StatusBadRequest, Error: "nope"})

	sess, err := app.CreateSession(t.Context(), []string{"alpha", "team/gamma"})
	require.NoError(t, err)
	_, err = app.Rounds.Start(t.Context(), sess.ID, "Topic")
	require.NoError(t, err)
	ch, err := app.Rounds.Stream(t.Context(), sess.ID)
	require.NoError(t, err)
	drain(t, ch)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	name, report, err := app.Export(t.Context(), sess.ID, now)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(name, "_"+sess.ID[:8]+".md"))
	require.Contains(t, report, "> Exported: 2025-03-01 12:00:00")
	require.Contains(t, report, "> Models: Alpha, team/gamma")
	require.Contains(t, report, "## Round 1")
	require.Contains(t, report, "### You\n\nTopic\n")
	require.Contains(t, report, "### Alpha\n\nFirst.\n")
	require.Contains(t, report, "### team/gamma (error)")
}

func TestExportName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "session_abc.md", exportName(proto.Session{ID: "abc"}))
	require.Equal(t, "a_b_12345678.md", exportName(proto.Session{ID: "1234567890", Title: "a/b"}))
}

func TestSubscribeEvents(t *testing.T) {
	t.Parallel()

	app, _ := setupApp(t)
	events := app.SubscribeEvents(t.Context())

	sess, err := app.CreateSession(t.Context(), []string{"alpha"})
	require.NoError(t, err)

	select {
	case ev := <-events:
		se, ok := ev.(SessionEvent)
		require.True(t, ok, "got %T", ev)
		require.Equal(t, sess.ID, se.Payload.ID)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}
