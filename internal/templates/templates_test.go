package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agentround/agentround/internal/proto"
	"github.com/stretchr/testify/require"
)

func TestStoreMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "templates.yaml"))
	all, err := s.All()
	require.NoError(t, err)
	require.Empty(t, all.Chat)
	require.Empty(t, all.Prompt)
}

func TestStorePutListDelete(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "conf", "templates.yaml")
	s := New(path)

	require.NoError(t, s.Put(KindChat, "pros", proto.Template{Name: "Pros and cons", Icon: "⚖️", Content: "List pros and cons of "}))
	require.NoError(t, s.Put(KindPrompt, "brief", proto.Template{Name: "Brief", Content: "Answer in two sentences."}))
	require.FileExists(t, path)

	chat, err := s.List(KindChat)
	require.NoError(t, err)
	require.Equal(t, map[string]proto.Template{
		"pros": {Name: "Pros and cons", Icon: "⚖️", Content: "List pros and cons of "},
	}, chat)

	prompts, err := s.List(KindPrompt)
	require.NoError(t, err)
	require.Equal(t, "Answer in two sentences.", prompts["brief"].Content)

	require.NoError(t, s.Put(KindChat, "pros", proto.Template{Name: "Pros", Content: "Pros of "}))
	chat, err = s.List(KindChat)
	require.NoError(t, err)
	require.Equal(t, "Pros", chat["pros"].Name)

	require.NoError(t, s.Delete(KindChat, "pros"))
	require.ErrorIs(t, s.Delete(KindChat, "pros"), ErrNotFound)
	require.ErrorIs(t, s.Delete(KindChat, "brief"), ErrNotFound, "kinds are separate")

	all, err := New(path).All()
	require.NoError(t, err)
	require.Empty(t, all.Chat)
	require.Len(t, all.Prompt, 1)
}

func TestStorePutInvalid(t *testing.T) {
	t.Parallel()

	s := New(filepath.Join(t.TempDir(), "templates.yaml"))
	require.ErrorIs(t, s.Put(KindChat, " ", proto.Template{Name: "n", Content: "c"}), ErrInvalid)
	require.ErrorIs(t, s.Put(KindChat, "id", proto.Template{Content: "c"}), ErrInvalid)
	require.ErrorIs(t, s.Put(KindChat, "id", proto.Template{Name: "n"}), ErrInvalid)
}

func TestStoreReset(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := New(filepath.Join(dir, "templates.yaml"))
	require.NoError(t, s.Put(KindChat, "mine", proto.Template{Name: "Mine", Content: "x"}))

	reset, err := s.Reset()
	require.NoError(t, err)
	require.False(t, reset)
	chat, err := s.List(KindChat)
	require.NoError(t, err)
	require.Contains(t, chat, "mine")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates.example.yaml"), []byte(`
chat_templates:
  debate:
    name: Debate
    content: "Argue for and against: "
prompt_templates:
  critic:
    name: Critic
    icon: "🧐"
    content: Point out weak arguments.
`), 0o644))

	reset, err = s.Reset()
	require.NoError(t, err)
	require.True(t, reset)

	all, err := s.All()
	require.NoError(t, err)
	require.Equal(t, proto.Templates{
		Chat:   map[string]proto.Template{"debate": {Name: "Debate", Content: "Argue for and against: "}},
		Prompt: map[string]proto.Template{"critic": {Name: "Critic", Icon: "🧐", Content: "Point out weak arguments."}},
	}, all)
}

func TestStoreBrokenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chat_templates: ["), 0o644))
	_, err := New(path).All()
	require.Error(t, err)
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind("prompt")
	require.NoError(t, err)
	require.Equal(t, KindPrompt, k)

	_, err = ParseKind("system")
	require.ErrorIs(t, err, ErrInvalid)
}
