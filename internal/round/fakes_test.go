package round

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/llm/filter"
	"github.com/agentround/agentround/internal/llm/prompt"
	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/agentround/agentround/internal/llm/retry"
	"github.com/agentround/agentround/internal/proto"
	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*proto.Session
	messages []proto.Message
	nextID   int
}

func newMemStore() *memStore {
	return &memStore{sessions: map[string]*proto.Session{}}
}

func (m *memStore) create(id string, models ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = &proto.Session{ID: id, Status: proto.SessionActive, Models: models}
}

func (m *memStore) setModels(id string, models ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id].Models = models
}

func (m *memStore) Session(ctx context.Context, id string) (proto.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return proto.Session{}, fmt.Errorf("session %s not found", id)
	}
	return *s, nil
}

func (m *memStore) OrderedModels(ctx context.Context, id string) ([]string, error) {
	s, err := m.Session(ctx, id)
	return slices.Clone(s.Models), err
}

func (m *memStore) History(ctx context.Context, id string, upto int64) ([]proto.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []proto.Message
	for _, msg := range m.messages {
		if msg.SessionID == id && msg.Round <= upto {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) AppendMessage(ctx context.Context, id string, p proto.CreateMessageParams) (proto.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg := proto.Message{
		ID:        fmt.Sprint(m.nextID),
		SessionID: id,
		Round:     p.Round,
		Role:      p.Role,
		ModelID:   p.ModelID,
		Content:   p.Content,
		Status:    p.Status,
	}
	if msg.Status == "" {
		msg.Status = proto.StatusSuccess
	}
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memStore) SetTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id].Title = title
	return nil
}

func (m *memStore) AdvanceRound(ctx context.Context, id string, from int64) (proto.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	if s.CurrentRound != from {
		return proto.Session{}, fmt.Errorf("round conflict")
	}
	s.CurrentRound++
	return *s, nil
}

func (m *memStore) End(ctx context.Context, id string) (proto.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	s.Status = proto.SessionEnded
	return *s, nil
}

func (m *memStore) assistantMessages(round int64) []proto.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []proto.Message
	for _, msg := range m.messages {
		if msg.Role == proto.Assistant && msg.Round == round {
			out = append(out, msg)
		}
	}
	return out
}

// scriptedProvider answers every call with the events returned by script.
// Events are delivered one by one, honoring ctx.
type scriptedProvider struct {
	id     string
	script func(call int) []provider.ProviderEvent

	mu       sync.Mutex
	calls    int
	requests []provider.Request
	// hold, when set, is waited on before the last event of a call.
	hold chan struct{}
	// sent, when set, is closed once a call has delivered all its events.
	sent chan struct{}
}

func (p *scriptedProvider) setSent(sent chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = sent
}

func (p *scriptedProvider) setHold(hold chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hold = hold
}

func (p *scriptedProvider) SendMessages(ctx context.Context, req provider.Request) (*provider.ProviderResponse, error) {
	return nil, fmt.Errorf("not supported")
}

func (p *scriptedProvider) StreamResponse(ctx context.Context, req provider.Request) <-chan provider.ProviderEvent {
	p.mu.Lock()
	p.calls++
	call := p.calls
	hold := p.hold
	sent := p.sent
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	ch := make(chan provider.ProviderEvent)
	go func() {
		defer close(ch)
		events := p.script(call)
		for i, ev := range events {
			if hold != nil && i == len(events)-1 {
				select {
				case <-hold:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if sent != nil {
			close(sent)
		}
	}()
	return ch
}

func (p *scriptedProvider) ID() string         { return p.id }
func (p *scriptedProvider) Type() catwalk.Type { return catwalk.TypeOpenAI }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) lastRequest() provider.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func replies(chunks ...string) func(int) []provider.ProviderEvent {
	return func(int) []provider.ProviderEvent {
		var evs []provider.ProviderEvent
		for _, c := range chunks {
			evs = append(evs, provider.ProviderEvent{Type: provider.EventContentDelta, Content: c})
		}
		return append(evs, provider.ProviderEvent{Type: provider.EventComplete, Response: &provider.ProviderResponse{}})
	}
}

func failing(err error) func(int) []provider.ProviderEvent {
	return func(int) []provider.ProviderEvent {
		return []provider.ProviderEvent{{Type: provider.EventError, Error: err}}
	}
}

type fakeResolver struct {
	providers map[string]*scriptedProvider
	models    map[string]config.ModelConfig
}

func newResolver() *fakeResolver {
	return &fakeResolver{providers: map[string]*scriptedProvider{}, models: map[string]config.ModelConfig{}}
}

func (r *fakeResolver) add(id string, script func(int) []provider.ProviderEvent) *scriptedProvider {
	p := &scriptedProvider{id: "prov-" + id, script: script}
	r.providers[id] = p
	r.models[id] = config.ModelConfig{ID: id, DisplayName: "Model " + id, Color: "#000"}
	return p
}

func (r *fakeResolver) Resolve(id string) (provider.Provider, config.ModelConfig, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, config.ModelConfig{}, &provider.ConfigurationError{ModelID: id, Reason: "model is not configured"}
	}
	return p, r.models[id], nil
}

func (r *fakeResolver) Model(id string) (config.ModelConfig, bool) {
	m, ok := r.models[id]
	return m, ok
}

type fakeTitler struct {
	mu    sync.Mutex
	calls int
	title string
	err   error
	delay time.Duration
}

func (f *fakeTitler) Generate(ctx context.Context, modelID, firstReply string) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.title, f.err
}

func (f *fakeTitler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testOptions() Options {
	return Options{
		Mode: prompt.Sequential,
		Retry: retry.Policy{
			Attempts:   3,
			BaseDelay:  time.Millisecond,
			Multiplier: 2,
			MaxDelay:   5 * time.Millisecond,
		},
		Filter:    filter.New(true, []config.MarkerPair{{Open: "<think>", Close: "</think>"}}),
		TitleWait: 2 * time.Second,
	}
}

func collect(t *testing.T, ch <-chan proto.StreamEvent) []proto.StreamEvent {
	t.Helper()
	var events []proto.StreamEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not finish, got %v", events)
		}
	}
}

func types(events []proto.StreamEvent) []proto.StreamEventType {
	out := make([]proto.StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func startAndStream(t *testing.T, s *Scheduler, id, input string) []proto.StreamEvent {
	t.Helper()
	_, err := s.Start(t.Context(), id, input)
	require.NoError(t, err)
	ch, err := s.Stream(t.Context(), id)
	require.NoError(t, err)
	return collect(t, ch)
}
