// Package round runs the turns of a roundtable session: every model of the
// session speaks once per round, and the result is one ordered stream of
// events for the subscribed client.
package round

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/csync"
	"github.com/agentround/agentround/internal/llm/filter"
	"github.com/agentround/agentround/internal/llm/prompt"
	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/agentround/agentround/internal/llm/retry"
	"github.com/agentround/agentround/internal/proto"
)

// Store is the session collaborator the scheduler reads from and appends to.
type Store interface {
	Session(ctx context.Context, sessionID string) (proto.Session, error)
	OrderedModels(ctx context.Context, sessionID string) ([]string, error)
	// History returns the messages of rounds 1..uptoRound in transcript
	// order.
	History(ctx context.Context, sessionID string, uptoRound int64) ([]proto.Message, error)
	AppendMessage(ctx context.Context, sessionID string, params proto.CreateMessageParams) (proto.Message, error)
	SetTitle(ctx context.Context, sessionID, title string) error
	// AdvanceRound moves the session from round `from` to `from+1`.
	AdvanceRound(ctx context.Context, sessionID string, from int64) (proto.Session, error)
	End(ctx context.Context, sessionID string) (proto.Session, error)
}

// Resolver maps model ids to adapters and their settings.
type Resolver interface {
	Resolve(modelID string) (provider.Provider, config.ModelConfig, error)
	Model(modelID string) (config.ModelConfig, bool)
}

// Titler summarizes the first reply of a session.
type Titler interface {
	Generate(ctx context.Context, modelID, firstReply string) (string, error)
}

type Options struct {
	Mode          prompt.Mode
	ParallelLimit int
	SystemPrompt  string
	Retry         retry.Policy
	Filter        *filter.Filter
	// TitleWait is how long a stream stays open after round_end to deliver
	// title_generated.
	TitleWait time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	mode := prompt.Sequential
	if cfg.Round.Parallel {
		mode = prompt.Snapshot
	}
	return Options{
		Mode:          mode,
		ParallelLimit: cfg.Round.ParallelLimit,
		SystemPrompt:  cfg.Round.SystemPrompt,
		Retry:         retry.FromConfig(cfg.Retry),
		Filter:        filter.FromConfig(cfg.Thought),
		TitleWait:     cfg.Title.Wait,
	}
}

type Scheduler struct {
	store    Store
	resolver Resolver
	titler   Titler
	opts     Options
	builder  *prompt.Builder

	sessions *csync.Map[string, *sessionState]

	// bg bounds work that outlives a stream, such as title generation.
	bg     context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a Scheduler. titler may be nil to disable titles.
func New(store Store, resolver Resolver, titler Titler, opts Options) *Scheduler {
	if opts.Filter == nil {
		opts.Filter = filter.New(false, nil)
	}
	bg, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		resolver: resolver,
		titler:   titler,
		opts:     opts,
		builder:  prompt.NewBuilder(opts.SystemPrompt),
		sessions: csync.NewMap[string, *sessionState](),
		bg:       bg,
		cancel:   cancel,
	}
}

// Close cancels background work and waits for running streams and title
// tasks to finish.
func (s *Scheduler) Close() {
	s.cancel()
	s.wg.Wait()
}

// load returns the state of a session, deriving it from the store the first
// time the session is seen by this process.
func (s *Scheduler) load(ctx context.Context, sessionID string) (*sessionState, error) {
	if st, ok := s.sessions.Get(sessionID); ok {
		return st, nil
	}
	sess, err := s.store.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st := &sessionState{
		round:      sess.CurrentRound,
		titleFired: sess.Title != "" || sess.CurrentRound > 1,
	}
	switch {
	case sess.Status == proto.SessionEnded:
		st.state = StateEnded
	case sess.CurrentRound == 0:
		st.state = StateIdle
	default:
		pending, err := s.pendingModels(ctx, sessionID, sess.CurrentRound)
		if err != nil {
			return nil, err
		}
		st.state = StateAwaitingDecision
		if len(pending) > 0 {
			st.state = StateRunning
		}
	}
	return s.sessions.GetOrSet(sessionID, func() *sessionState { return st }), nil
}

// State reports where a session is in its lifecycle.
func (s *Scheduler) State(ctx context.Context, sessionID string) (State, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return StateIdle, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state, nil
}

// Forget drops the in-memory state of a session, for example after it was
// deleted. It fails while a subscriber is attached.
func (s *Scheduler) Forget(sessionID string) error {
	st, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.streaming {
		return ErrStreamBusy
	}
	s.sessions.Del(sessionID)
	return nil
}

// Start opens round 1 with the user's topic. The round runs once a client
// opens the stream.
func (s *Scheduler) Start(ctx context.Context, sessionID, input string) (proto.Message, error) {
	return s.open(ctx, sessionID, input, func(st *sessionState) error {
		switch st.state {
		case StateIdle:
			return nil
		case StateEnded:
			return ErrSessionEnded
		default:
			return ErrAlreadyStarted
		}
	})
}

// Continue opens the next round with new user input.
func (s *Scheduler) Continue(ctx context.Context, sessionID, input string) (proto.Message, error) {
	return s.open(ctx, sessionID, input, func(st *sessionState) error {
		switch st.state {
		case StateAwaitingDecision:
			return nil
		case StateIdle:
			return ErrNotStarted
		case StateRunning:
			return ErrRoundInProgress
		default:
			return ErrSessionEnded
		}
	})
}

func (s *Scheduler) open(ctx context.Context, sessionID, input string, check func(*sessionState) error) (proto.Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return proto.Message{}, ErrEmptyInput
	}
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return proto.Message{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if err := check(st); err != nil {
		return proto.Message{}, err
	}
	// A subscriber still waiting for the title of the previous round lets
	// go of the stream.
	if st.streaming {
		st.release()
	}

	sess, err := s.store.AdvanceRound(ctx, sessionID, st.round)
	if err != nil {
		return proto.Message{}, fmt.Errorf("failed to open round %d: %w", st.round+1, err)
	}
	st.round = sess.CurrentRound
	st.state = StateRunning

	msg, err := s.store.AppendMessage(ctx, sessionID, proto.CreateMessageParams{
		Round:   sess.CurrentRound,
		Role:    proto.User,
		Content: input,
	})
	if err != nil {
		return proto.Message{}, fmt.Errorf("failed to store user input: %w", err)
	}
	slog.Info("Round opened", "session_id", sessionID, "round", sess.CurrentRound)
	return msg, nil
}

// End archives the session. session_end goes to the current subscriber, or
// to the next one to open the stream.
func (s *Scheduler) End(ctx context.Context, sessionID string) (proto.Session, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return proto.Session{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	switch st.state {
	case StateRunning:
		return proto.Session{}, ErrRoundInProgress
	case StateEnded:
		return proto.Session{}, ErrSessionEnded
	}

	sess, err := s.store.End(ctx, sessionID)
	if err != nil {
		return proto.Session{}, err
	}
	st.state = StateEnded
	if !st.deliverLocked(sessionEndEvent()) {
		st.endPending = true
	}
	slog.Info("Session ended", "session_id", sessionID, "rounds", st.round)
	return sess, nil
}

// Stream attaches the single subscriber of a session and runs the open
// round, or replays a session_end that no subscriber has seen. The channel
// is closed when the round is over or ctx is done. Cancelling ctx aborts the
// round; models that already finished keep their messages and the others
// run again on the next Stream call. Events missed while disconnected are
// not replayed.
func (s *Scheduler) Stream(ctx context.Context, sessionID string) (<-chan proto.StreamEvent, error) {
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.streaming {
		return nil, ErrStreamBusy
	}
	switch st.state {
	case StateIdle:
		return nil, ErrNotStarted
	case StateAwaitingDecision:
		return nil, ErrNoPendingRound
	case StateEnded:
		if !st.endPending {
			return nil, ErrSessionEnded
		}
		st.endPending = false
		out := make(chan proto.StreamEvent, 1)
		out <- sessionEndEvent()
		close(out)
		return out, nil
	}

	notify := st.attach()
	out := make(chan proto.StreamEvent)
	s.wg.Add(1)
	go s.run(ctx, sessionID, st, st.round, notify, out)
	return out, nil
}

func sessionEndEvent() proto.StreamEvent {
	return proto.StreamEvent{Type: proto.EventSessionEnd, Data: proto.SessionEnd{Status: proto.SessionEndConsensus}}
}
