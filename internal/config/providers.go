package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"
)

// TypeOllama talks to the native Ollama chat API. The other provider types
// come from catwalk.
const TypeOllama catwalk.Type = "ollama"

// ProviderConfig is one entry of the providers file.
type ProviderConfig struct {
	ID               string            `yaml:"id"`
	Name             string            `yaml:"name,omitempty"`
	Type             catwalk.Type      `yaml:"type"`
	APIKey           string            `yaml:"api_key,omitempty"`
	BaseURL          string            `yaml:"base_url,omitempty"`
	ExtraHeaders     map[string]string `yaml:"extra_headers,omitempty"`
	DisableStreaming bool              `yaml:"disable_streaming,omitempty"`
	Models           []ModelConfig     `yaml:"models"`
}

// ModelConfig describes a model that can take part in a session.
type ModelConfig struct {
	// ID identifies the model inside agentround and must be unique across
	// providers.
	ID string `yaml:"id"`
	// Model is the upstream model name. Defaults to ID.
	Model       string   `yaml:"model,omitempty"`
	DisplayName string   `yaml:"display_name,omitempty"`
	Color       string   `yaml:"color,omitempty"`
	Icon        string   `yaml:"icon,omitempty"`
	Prompt      string   `yaml:"prompt,omitempty"`
	MaxTokens   int64    `yaml:"max_tokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
}

// UpstreamModel is the name sent to the provider.
func (m ModelConfig) UpstreamModel() string {
	if m.Model != "" {
		return m.Model
	}
	return m.ID
}

type providersFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

var palette = []string{"#6B8AFD", "#F5A524", "#17C964", "#F31260", "#9750DD", "#06B7DB", "#FF4ECD", "#7EE7FC"}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadProviders reads and validates a providers file.
func LoadProviders(path string) ([]ProviderConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseProviders(data, os.LookupEnv)
}

// ParseProviders decodes providers YAML, expands ${VAR} references in
// credentials, URLs and headers, and fills in display defaults.
func ParseProviders(data []byte, lookup func(string) (string, bool)) ([]ProviderConfig, error) {
	var f providersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}

	expand := func(s string) string {
		return envRef.ReplaceAllStringFunc(s, func(ref string) string {
			v, _ := lookup(envRef.FindStringSubmatch(ref)[1])
			return v
		})
	}

	seenProviders := map[string]bool{}
	seenModels := map[string]string{}
	colorIdx := 0
	for i := range f.Providers {
		p := &f.Providers[i]
		if p.ID == "" {
			return nil, fmt.Errorf("provider #%d: id is required", i+1)
		}
		if seenProviders[p.ID] {
			return nil, fmt.Errorf("provider %q: duplicate id", p.ID)
		}
		seenProviders[p.ID] = true

		t, err := normalizeType(p.Type)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", p.ID, err)
		}
		p.Type = t
		if p.Name == "" {
			p.Name = p.ID
		}
		p.APIKey = expand(p.APIKey)
		p.BaseURL = expand(p.BaseURL)
		for k, v := range p.ExtraHeaders {
			p.ExtraHeaders[k] = expand(v)
		}

		for j := range p.Models {
			m := &p.Models[j]
			if m.ID == "" {
				return nil, fmt.Errorf("provider %q: model #%d: id is required", p.ID, j+1)
			}
			if owner, ok := seenModels[m.ID]; ok {
				return nil, fmt.Errorf("model %q: defined by both %q and %q", m.ID, owner, p.ID)
			}
			seenModels[m.ID] = p.ID
			if m.DisplayName == "" {
				m.DisplayName = m.ID
			}
			color, err := modelColor(m.Color, colorIdx)
			if err != nil {
				return nil, fmt.Errorf("model %q: %w", m.ID, err)
			}
			m.Color = color
			colorIdx++
		}
	}
	return f.Providers, nil
}

// modelColor normalizes a configured color to lowercase #rrggbb, or picks
// the idx-th palette entry when none is set.
func modelColor(s string, idx int) (string, error) {
	if s == "" {
		s = palette[idx%len(palette)]
	}
	c, err := colorful.Hex(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("invalid color %q", s)
	}
	return c.Hex(), nil
}

func normalizeType(t catwalk.Type) (catwalk.Type, error) {
	switch catwalk.Type(strings.ToLower(string(t))) {
	case catwalk.TypeOpenAI, "":
		return catwalk.TypeOpenAI, nil
	case catwalk.TypeAnthropic:
		return catwalk.TypeAnthropic, nil
	case catwalk.TypeGemini, "google":
		return catwalk.TypeGemini, nil
	case TypeOllama:
		return TypeOllama, nil
	default:
		return "", fmt.Errorf("unsupported provider type %q", t)
	}
}
