// Package prompt assembles the context sent to a model during a round.
package prompt

import (
	"fmt"
	"strings"

	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/agentround/agentround/internal/proto"
)

// Mode selects which part of the current round a model gets to see.
type Mode int

const (
	// Sequential includes everything persisted so far, so a model sees what
	// earlier speakers said in the same round.
	Sequential Mode = iota
	// Snapshot freezes the context at round start: only earlier rounds and
	// the user input of the current round are included.
	Snapshot
)

func (m Mode) String() string {
	if m == Snapshot {
		return "snapshot"
	}
	return "sequential"
}

// Target is the model a context is built for.
type Target struct {
	ModelID string
	Persona string
}

type Builder struct {
	systemPrompt string
}

func NewBuilder(systemPrompt string) *Builder {
	return &Builder{systemPrompt: strings.TrimSpace(systemPrompt)}
}

// Build returns the ordered prompt for target at round. history must be in
// transcript order; messages of later rounds and failed calls are ignored.
// names maps model ids to the display names used to attribute other models'
// replies. Build does not modify its inputs, so equal inputs give equal
// output.
func (b *Builder) Build(history []proto.Message, round int64, target Target, names map[string]string, mode Mode) []provider.Message {
	messages := make([]provider.Message, 0, len(history)+2)
	if b.systemPrompt != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: b.systemPrompt})
	}
	if persona := strings.TrimSpace(target.Persona); persona != "" {
		messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: persona})
	}

	for _, msg := range history {
		if !include(msg, round, mode) {
			continue
		}
		switch {
		case msg.Role == proto.User:
			messages = append(messages, provider.Message{Role: provider.RoleUser, Content: msg.Content})
		case msg.ModelID == target.ModelID:
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: msg.Content})
		default:
			messages = append(messages, provider.Message{
				Role:    provider.RoleAssistant,
				Content: Attribute(displayName(names, msg.ModelID), msg.Content),
			})
		}
	}
	return messages
}

// Attribute prefixes content with the speaker's name.
func Attribute(name, content string) string {
	return fmt.Sprintf("[%s]: %s", name, content)
}

func include(msg proto.Message, round int64, mode Mode) bool {
	if msg.Round > round || strings.TrimSpace(msg.Content) == "" {
		return false
	}
	if msg.Role == proto.Assistant && msg.Status != proto.StatusSuccess {
		return false
	}
	if mode == Snapshot && msg.Round == round {
		return msg.Role == proto.User
	}
	return true
}

func displayName(names map[string]string, modelID string) string {
	if name, ok := names[modelID]; ok && name != "" {
		return name
	}
	return modelID
}
