package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/proto"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRoundPrinter(t *testing.T) {
	var out, errOut bytes.Buffer
	p := &roundPrinter{out: &out, errOut: &errOut}

	events := []proto.StreamEvent{
		{Type: proto.EventRoundStart, Data: proto.RoundStart{Round: 1}},
		{Type: proto.EventModelStart, Data: proto.ModelStart{Model: "a/x", DisplayName: "Alpha"}},
		{Type: proto.EventToken, Data: proto.Token{Content: "Hel"}},
		{Type: proto.EventToken, Data: proto.Token{Content: "lo"}},
		{Type: proto.EventModelEnd, Data: proto.ModelEnd{Model: "a/x", Status: proto.StatusSuccess}},
		{Type: proto.EventModelError, Data: proto.ModelError{Model: "b/y", Error: "unauthorized", Skipped: true}},
		{Type: proto.EventRoundEnd, Data: proto.RoundEnd{Round: 1, AwaitingDecision: true}},
		{Type: proto.EventTitleGenerated, Data: proto.TitleGenerated{Title: "Greetings"}},
	}
	for _, ev := range events {
		require.NoError(t, p.handle(ev))
	}

	require.Equal(t, "\n## Round 1\n\n### Alpha\n\nHello\n", out.String())
	require.Equal(t, "\nb/y failed: unauthorized\n", errOut.String())
	require.Equal(t, "Greetings", p.title)
}

func TestPrintModels(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printModels(&out, nil))
	require.Equal(t, "No models configured\n", out.String())

	out.Reset()
	require.NoError(t, printModels(&out, []proto.ModelInfo{
		{ID: "local/llama3", DisplayName: "Llama", ProviderID: "local", ProviderType: "ollama"},
	}))
	require.Contains(t, out.String(), "ID")
	require.Contains(t, out.String(), "local/llama3")
	require.Contains(t, out.String(), "ollama")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, loadDotEnv(dir))

	t.Setenv("AGENTROUND_TEST_KEEP", "from-env")
	t.Setenv("AGENTROUND_TEST_NEW", "")
	require.NoError(t, os.Unsetenv("AGENTROUND_TEST_NEW"))

	env := "AGENTROUND_TEST_KEEP=from-file\nexport AGENTROUND_TEST_NEW=\"quoted value\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	require.NoError(t, loadDotEnv(dir))

	require.Equal(t, "from-env", os.Getenv("AGENTROUND_TEST_KEEP"))
	require.Equal(t, "quoted value", os.Getenv("AGENTROUND_TEST_NEW"))
}

func TestResolveHost(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{}
		c.Flags().String("host", "", "")
		return c
	}

	c := newCmd()
	require.Equal(t, "tcp://127.0.0.1:9000", resolveHost(c, &config.Config{Host: "tcp://127.0.0.1:9000"}))

	require.NoError(t, c.Flags().Set("host", "unix:///tmp/x.sock"))
	require.Equal(t, "unix:///tmp/x.sock", resolveHost(c, &config.Config{Host: "tcp://127.0.0.1:9000"}))

	require.NotEmpty(t, resolveHost(newCmd(), &config.Config{}))
}

func TestCreateDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, createDataDir(dir))

	b, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	require.NoError(t, err)
	require.Equal(t, "*\n", string(b))
}
