package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(LoadOptions{WorkingDir: dir})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, ".agentround"), cfg.DataDir)
	require.Equal(t, filepath.Join(dir, "providers.yaml"), cfg.ProvidersFile)
	require.Equal(t, filepath.Join(dir, "templates.yaml"), cfg.TemplatesFile)
	require.Equal(t, 3, cfg.Retry.Attempts)
	require.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	require.Equal(t, 5*time.Second, cfg.Retry.MaxDelay)
	require.Equal(t, 4, cfg.Stream.ChunkSize)
	require.Equal(t, 24, cfg.Title.MaxLength)
	require.True(t, cfg.Thought.Enabled)
	require.Equal(t, DefaultMarkers(), cfg.Thought.Markers)
	require.False(t, cfg.Round.Parallel)
	require.Empty(t, cfg.FileUsed())
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agentround.yaml"), []byte(`
round:
  parallel: true
stream:
  chunk_size: 0
  delay: 15ms
title:
  max_length: 3
thought:
  markers:
    - open: "[["
      close: "]]"
`), 0o644))
	t.Setenv("AGENTROUND_RETRY_ATTEMPTS", "5")
	t.Setenv("AGENTROUND_RETRY_BASE_DELAY", "2s")

	cfg, err := Load(LoadOptions{WorkingDir: dir, DataDir: "/tmp/ar", Debug: true})
	require.NoError(t, err)

	require.Equal(t, filepath.Join(dir, "agentround.yaml"), cfg.FileUsed())
	require.True(t, cfg.Round.Parallel)
	require.Equal(t, 1, cfg.Stream.ChunkSize, "chunk size is clamped to 1")
	require.Equal(t, 15*time.Millisecond, cfg.Stream.Delay)
	require.Equal(t, 8, cfg.Title.MaxLength, "title length is clamped to 8")
	require.Equal(t, []MarkerPair{{Open: "[[", Close: "]]"}}, cfg.Thought.Markers)
	require.Equal(t, 5, cfg.Retry.Attempts)
	require.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	require.Equal(t, 5*time.Second, cfg.Retry.MaxDelay)
	require.Equal(t, "/tmp/ar", cfg.DataDir)
	require.True(t, cfg.Debug)
}

func TestLoadExplicitFileMissing(t *testing.T) {
	_, err := Load(LoadOptions{WorkingDir: t.TempDir(), File: "/does/not/exist.yaml"})
	require.Error(t, err)
}

func TestParseProviders(t *testing.T) {
	t.Parallel()

	env := map[string]string{"OPENAI_KEY": "sk-test", "HOST": "example.com"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	providers, err := ParseProviders([]byte(`
providers:
  - id: oa
    type: openai
    api_key: ${OPENAI_KEY}
    base_url: https://${HOST}/v1
    extra_headers:
      X-Missing: "${NOPE}"
    models:
      - id: gpt
        model: gpt-4o-mini
        prompt: Be brief.
  - id: gg
    type: google
    models:
      - id: gemini-flash
        display_name: Gemini
        color: "#000000"
  - id: local
    type: Ollama
    models:
      - id: llama
`), lookup)
	require.NoError(t, err)
	require.Len(t, providers, 3)

	oa := providers[0]
	require.Equal(t, catwalk.TypeOpenAI, oa.Type)
	require.Equal(t, "oa", oa.Name)
	require.Equal(t, "sk-test", oa.APIKey)
	require.Equal(t, "https://example.com/v1", oa.BaseURL)
	require.Equal(t, "", oa.ExtraHeaders["X-Missing"])
	require.Equal(t, "gpt-4o-mini", oa.Models[0].UpstreamModel())
	require.Equal(t, "gpt", oa.Models[0].DisplayName)
	require.NotEmpty(t, oa.Models[0].Color)

	require.Equal(t, catwalk.TypeGemini, providers[1].Type)
	require.Equal(t, "gemini-flash", providers[1].Models[0].UpstreamModel())
	require.Equal(t, "#000000", providers[1].Models[0].Color)

	require.Equal(t, TypeOllama, providers[2].Type)
}

func TestParseProvidersColors(t *testing.T) {
	t.Parallel()

	providers, err := ParseProviders([]byte(`
providers:
  - id: a
    models:
      - id: short
        color: "#F0C"
      - id: upper
        color: "#6B8AFD"
      - id: unset
`), func(string) (string, bool) { return "", false })
	require.NoError(t, err)

	models := providers[0].Models
	require.Equal(t, "#ff00cc", models[0].Color)
	require.Equal(t, "#6b8afd", models[1].Color)
	require.Equal(t, "#17c964", models[2].Color)
}

func TestParseProvidersErrors(t *testing.T) {
	t.Parallel()

	noEnv := func(string) (string, bool) { return "", false }
	tests := map[string]string{
		"missing id":         "providers:\n  - type: openai\n",
		"duplicate provider": "providers:\n  - id: a\n  - id: a\n",
		"bad type":           "providers:\n  - id: a\n    type: cohere\n",
		"duplicate model": `providers:
  - id: a
    models: [{id: m}]
  - id: b
    models: [{id: m}]
`,
		"bad yaml":    "providers: [",
		"bad color":   "providers:\n  - id: a\n    models: [{id: m, color: teal}]\n",
		"short color": "providers:\n  - id: a\n    models: [{id: m, color: \"#12\"}]\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseProviders([]byte(body), noEnv)
			require.Error(t, err)
		})
	}
}
