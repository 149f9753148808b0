// Package title names a session after its first reply.
package title

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/llm/filter"
	"github.com/agentround/agentround/internal/llm/provider"
)

const (
	systemPrompt = "You write titles for discussions. Reply with a short title (3-6 words) that names the topic of the text you are given. Do not use quotes, a trailing period or any other text."
	maxTokens    = 40
	maxInput     = 4000
)

var temperature = 0.3

// Resolver maps a model id to its adapter.
type Resolver interface {
	Resolve(modelID string) (provider.Provider, config.ModelConfig, error)
}

type Generator struct {
	resolver Resolver
	filter   *filter.Filter
	cfg      config.TitleConfig
}

func New(resolver Resolver, f *filter.Filter, cfg config.TitleConfig) *Generator {
	if f == nil {
		f = filter.New(true, nil)
	}
	return &Generator{resolver: resolver, filter: f, cfg: cfg}
}

// Generate makes one non-streaming call that summarizes firstReply. The
// configured title model wins over modelID.
func (g *Generator) Generate(ctx context.Context, modelID, firstReply string) (string, error) {
	if strings.TrimSpace(firstReply) == "" {
		return "", errors.New("nothing to summarize")
	}
	if g.cfg.Model != "" {
		modelID = g.cfg.Model
	}
	p, model, err := g.resolver.Resolve(modelID)
	if err != nil {
		return "", err
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	resp, err := p.SendMessages(ctx, provider.Request{
		Model: model.UpstreamModel(),
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: systemPrompt},
			{Role: provider.RoleUser, Content: truncate(g.filter.Strip(firstReply), maxInput, "")},
		},
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}

	title := Sanitize(g.filter.Strip(resp.Content), g.cfg.MaxLength)
	if title == "" {
		return "", errors.New("model returned an empty title")
	}
	return title, nil
}

// Sanitize reduces raw model output to a single-line title of at most
// maxLength runes, counting the ellipsis added when it is cut.
func Sanitize(raw string, maxLength int) string {
	line := raw
	for _, l := range strings.Split(raw, "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
	}
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "Title:")
	line = strings.Join(strings.Fields(line), " ")
	line = strings.Trim(line, "\"'`*#“”‘’. ")
	if maxLength <= 0 {
		return line
	}
	return truncate(line, maxLength, "...")
}

func truncate(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	keep := n - utf8.RuneCountInString(suffix)
	if keep <= 0 {
		return string([]rune(s)[:n])
	}
	return strings.TrimRight(string([]rune(s)[:keep]), " ") + suffix
}
