package prompt

import (
	"testing"

	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/agentround/agentround/internal/proto"
	"github.com/stretchr/testify/require"
)

func history() []proto.Message {
	return []proto.Message{
		{Round: 1, Role: proto.User, Content: "Is Go a good fit?", Status: proto.StatusSuccess},
		{Round: 1, Role: proto.Assistant, ModelID: "a", Content: "Yes.", Status: proto.StatusSuccess},
		{Round: 1, Role: proto.Assistant, ModelID: "b", Content: "boom", Status: proto.StatusError},
		{Round: 2, Role: proto.User, Content: "Why?", Status: proto.StatusSuccess},
		{Round: 2, Role: proto.Assistant, ModelID: "b", Content: "Channels.", Status: proto.StatusSuccess},
		{Round: 3, Role: proto.User, Content: "later", Status: proto.StatusSuccess},
	}
}

var names = map[string]string{"a": "Alpha", "b": "Beta"}

func TestBuild_Sequential(t *testing.T) {
	t.Parallel()

	b := NewBuilder("Discuss politely.")
	got := b.Build(history(), 2, Target{ModelID: "a", Persona: "You are terse."}, names, Sequential)
	require.Equal(t, []provider.Message{
		{Role: provider.RoleSystem, Content: "Discuss politely."},
		{Role: provider.RoleSystem, Content: "You are terse."},
		{Role: provider.RoleUser, Content: "Is Go a good fit?"},
		{Role: provider.RoleAssistant, Content: "Yes."},
		{Role: provider.RoleUser, Content: "Why?"},
		{Role: provider.RoleAssistant, Content: "[Beta]: Channels."},
	}, got)
}

func TestBuild_Snapshot(t *testing.T) {
	t.Parallel()

	b := NewBuilder("")
	got := b.Build(history(), 2, Target{ModelID: "b"}, names, Snapshot)
	require.Equal(t, []provider.Message{
		{Role: provider.RoleUser, Content: "Is Go a good fit?"},
		{Role: provider.RoleAssistant, Content: "[Alpha]: Yes."},
		{Role: provider.RoleUser, Content: "Why?"},
	}, got)
}

func TestBuild_UnknownNameFallsBackToID(t *testing.T) {
	t.Parallel()

	got := NewBuilder("").Build(history()[:2], 1, Target{ModelID: "c"}, nil, Sequential)
	require.Equal(t, "[a]: Yes.", got[1].Content)
}

func TestBuild_Idempotent(t *testing.T) {
	t.Parallel()

	b := NewBuilder("sys")
	h := history()
	target := Target{ModelID: "b", Persona: "p"}
	first := b.Build(h, 2, target, names, Sequential)
	second := b.Build(h, 2, target, names, Sequential)
	require.Equal(t, first, second)
	require.Equal(t, history(), h)
}

func TestMode_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sequential", Sequential.String())
	require.Equal(t, "snapshot", Snapshot.String())
}
