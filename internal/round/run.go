package round

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/agentround/agentround/internal/llm/prompt"
	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/agentround/agentround/internal/llm/retry"
	"github.com/agentround/agentround/internal/log"
	"github.com/agentround/agentround/internal/proto"
	"golang.org/x/sync/errgroup"
)

var (
	errRemoved       = errors.New("model was removed from the session")
	errEmptyResponse = errors.New("empty response")
)

type emitFunc func(proto.StreamEvent) bool

// outcome is the terminal result of one model call.
type outcome struct {
	modelID   string
	content   string
	status    proto.MessageStatus
	err       error
	cancelled bool
}

func (s *Scheduler) run(ctx context.Context, sessionID string, st *sessionState, round int64, notify chan proto.StreamEvent, out chan<- proto.StreamEvent) {
	defer s.wg.Done()
	defer close(out)
	defer st.detach(notify)
	defer log.RecoverPanic("round-stream", nil)

	emit := func(ev proto.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	// relay forwards side events, such as a late title, between models.
	relay := func() {
		for {
			select {
			case ev := <-notify:
				if ev.Type != "" && !emit(ev) {
					return
				}
			default:
				return
			}
		}
	}

	logger := slog.With("session_id", sessionID, "round", round)
	if !emit(proto.StreamEvent{Type: proto.EventRoundStart, Data: proto.RoundStart{Round: round}}) {
		return
	}

	started := time.Now()
	if err := s.playRound(ctx, sessionID, round, emit, relay); err != nil {
		if ctx.Err() != nil {
			logger.Info("Round interrupted by client", "error", err)
		} else {
			logger.Error("Round failed", "error", err)
		}
		return
	}

	first := s.roundFinished(ctx, sessionID, st, round)
	logger.Info("Round finished", "duration", time.Since(started))
	relay()
	sent := emit(proto.StreamEvent{Type: proto.EventRoundEnd, Data: proto.RoundEnd{Round: round, AwaitingDecision: true}})
	// The title task starts only once round_end is out, so title_generated
	// can never overtake it.
	if first != nil {
		s.wg.Add(1)
		go s.generateTitle(sessionID, st, *first)
	}
	if sent && first != nil {
		s.linger(ctx, st, notify, emit)
	}
}

// roundFinished moves the session to AwaitingDecision. After the first round
// it also claims the title task and returns the reply to summarize, or nil
// when no title is due.
func (s *Scheduler) roundFinished(ctx context.Context, sessionID string, st *sessionState, round int64) *proto.Message {
	var first *proto.Message
	if round == 1 && s.titler != nil {
		first = s.firstReply(context.WithoutCancel(ctx), sessionID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.state = StateAwaitingDecision
	if first == nil || st.titleFired {
		return nil
	}
	st.titleFired = true
	return first
}

// linger keeps the stream open after round_end until the title arrives, the
// session ends, the next round opens or the wait expires.
func (s *Scheduler) linger(ctx context.Context, st *sessionState, notify chan proto.StreamEvent, emit emitFunc) {
	lingerCtx, stop := context.WithCancel(ctx)
	defer stop()
	st.mu.Lock()
	if st.notify != notify {
		st.mu.Unlock()
		return
	}
	st.stopLinger = stop
	st.mu.Unlock()

	timer := time.NewTimer(s.opts.TitleWait)
	defer timer.Stop()
	for {
		select {
		case ev := <-notify:
			switch ev.Type {
			case proto.EventTitleGenerated, proto.EventSessionEnd:
				emit(ev)
				return
			case "":
				// The title task gave up.
				return
			default:
				if !emit(ev) {
					return
				}
			}
		case <-lingerCtx.Done():
			return
		case <-timer.C:
			return
		}
	}
}

func (s *Scheduler) playRound(ctx context.Context, sessionID string, round int64, emit emitFunc, relay func()) error {
	pending, err := s.pendingModels(ctx, sessionID, round)
	if err != nil {
		return err
	}
	history, err := s.store.History(ctx, sessionID, round)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if s.opts.Mode == prompt.Snapshot {
		return s.runParallel(ctx, sessionID, round, pending, history, emit, relay)
	}
	return s.runSequential(ctx, sessionID, round, pending, history, emit, relay)
}

// pendingModels lists the session's models, in speaking order, that have no
// message in round yet.
func (s *Scheduler) pendingModels(ctx context.Context, sessionID string, round int64) ([]string, error) {
	models, err := s.store.OrderedModels(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session models: %w", err)
	}
	history, err := s.store.History(ctx, sessionID, round)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	spoken := map[string]bool{}
	for _, msg := range history {
		if msg.Round == round && msg.Role == proto.Assistant {
			spoken[msg.ModelID] = true
		}
	}
	pending := make([]string, 0, len(models))
	for _, m := range models {
		if !spoken[m] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

func (s *Scheduler) runSequential(ctx context.Context, sessionID string, round int64, pending []string, history []proto.Message, emit emitFunc, relay func()) error {
	for _, modelID := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		relay()

		current, err := s.store.OrderedModels(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("failed to load session models: %w", err)
		}
		var result outcome
		if slices.Contains(current, modelID) {
			result = s.callModel(ctx, round, modelID, history, prompt.Sequential, emit)
		} else {
			result = s.skipModel(modelID, errRemoved, emit)
		}
		if result.cancelled {
			return context.Cause(ctx)
		}

		msg, err := s.finish(ctx, sessionID, round, result, emit)
		if err != nil {
			return err
		}
		history = append(history, msg)
	}
	return nil
}

// runParallel calls every pending model at once against the history as it
// was at round start. Each call writes into its own buffer and the buffers
// are flushed one model at a time in speaking order, so the wire never
// interleaves two models and messages are stored in speaking order.
func (s *Scheduler) runParallel(ctx context.Context, sessionID string, round int64, pending []string, history []proto.Message, emit emitFunc, relay func()) error {
	current, err := s.store.OrderedModels(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session models: %w", err)
	}

	type slot struct {
		modelID string
		events  *eventQueue
		result  outcome
	}
	slots := make([]*slot, len(pending))
	for i, modelID := range pending {
		slots[i] = &slot{modelID: modelID, events: newEventQueue()}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	if s.opts.ParallelLimit > 0 {
		g.SetLimit(s.opts.ParallelLimit)
	}
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for _, sl := range slots {
			g.Go(func() error {
				defer sl.events.close()
				defer log.RecoverPanic("round-model", func() {
					sl.result = outcome{modelID: sl.modelID, status: proto.StatusError, err: errors.New("internal error")}
				})
				// Never blocks, so the call timeout does not run down while
				// the model waits for its turn on the wire.
				bufferedEmit := func(ev proto.StreamEvent) bool {
					if runCtx.Err() != nil {
						return false
					}
					sl.events.push(ev)
					return true
				}
				if !slices.Contains(current, sl.modelID) {
					sl.result = s.skipModel(sl.modelID, errRemoved, bufferedEmit)
					return nil
				}
				sl.result = s.callModel(runCtx, round, sl.modelID, history, prompt.Snapshot, bufferedEmit)
				return nil
			})
		}
	}()

	var flushErr error
flush:
	for _, sl := range slots {
		relay()
		for {
			ev, ok := sl.events.next(ctx)
			if !ok {
				break
			}
			if !emit(ev) {
				flushErr = context.Cause(ctx)
				break flush
			}
		}
		if ctx.Err() != nil {
			flushErr = context.Cause(ctx)
			break
		}
		if sl.result.cancelled {
			flushErr = context.Cause(ctx)
			break
		}
		if _, err := s.finish(ctx, sessionID, round, sl.result, emit); err != nil {
			flushErr = err
			break
		}
	}

	cancel()
	<-dispatched
	_ = g.Wait()
	if flushErr == nil && ctx.Err() != nil {
		flushErr = context.Cause(ctx)
	}
	return flushErr
}

// skipModel reports a model that is not called this round.
func (s *Scheduler) skipModel(modelID string, reason error, emit emitFunc) outcome {
	cfg, _ := s.resolver.Model(modelID)
	if !emit(modelStartEvent(modelID, cfg.DisplayName, cfg.Color)) {
		return outcome{modelID: modelID, cancelled: true}
	}
	return outcome{modelID: modelID, status: proto.StatusSkipped, err: reason}
}

// callModel runs one model turn and emits model_start and its tokens. The
// terminal event is left to finish, which stores the message first.
func (s *Scheduler) callModel(ctx context.Context, round int64, modelID string, history []proto.Message, mode prompt.Mode, emit emitFunc) outcome {
	p, mcfg, resolveErr := s.resolver.Resolve(modelID)
	if !emit(modelStartEvent(modelID, mcfg.DisplayName, mcfg.Color)) {
		return outcome{modelID: modelID, cancelled: true}
	}
	if resolveErr != nil {
		status := proto.StatusError
		var cfgErr *provider.ConfigurationError
		if errors.As(resolveErr, &cfgErr) {
			status = proto.StatusSkipped
		}
		return outcome{modelID: modelID, status: status, err: resolveErr}
	}

	req := provider.Request{
		Model:       mcfg.UpstreamModel(),
		Messages:    s.builder.Build(history, round, prompt.Target{ModelID: modelID, Persona: mcfg.Prompt}, s.names(history), mode),
		MaxTokens:   mcfg.MaxTokens,
		Temperature: mcfg.Temperature,
	}

	events, err := retry.Stream(ctx, s.opts.Retry, p.ID(), func(ctx context.Context) <-chan provider.ProviderEvent {
		return p.StreamResponse(ctx, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcome{modelID: modelID, cancelled: true}
		}
		return outcome{modelID: modelID, status: proto.StatusError, err: err}
	}

	thoughts := s.opts.Filter.Stream()
	var (
		content  strings.Builder
		visible  bool
		complete bool
	)
	write := func(text string) bool {
		if !visible {
			text = strings.TrimLeftFunc(text, unicode.IsSpace)
		}
		if text == "" {
			return true
		}
		visible = true
		content.WriteString(text)
		return emit(proto.StreamEvent{Type: proto.EventToken, Data: proto.Token{Content: text}})
	}

	for ev := range events {
		switch ev.Type {
		case provider.EventContentDelta:
			if !write(thoughts.Feed(ev.Content)) {
				return outcome{modelID: modelID, cancelled: true}
			}
		case provider.EventComplete:
			if !write(thoughts.Flush()) {
				return outcome{modelID: modelID, cancelled: true}
			}
			if thoughts.Unclosed() {
				slog.Warn("Reasoning block was never closed, showing it as text", "model", modelID, "round", round)
			}
			complete = true
		case provider.EventError:
			if ctx.Err() != nil {
				return outcome{modelID: modelID, cancelled: true}
			}
			return outcome{modelID: modelID, status: proto.StatusError, err: ev.Error}
		}
	}

	switch {
	case ctx.Err() != nil:
		return outcome{modelID: modelID, cancelled: true}
	case !complete:
		return outcome{modelID: modelID, status: proto.StatusError, err: &provider.ProtocolError{Provider: p.ID(), Err: errors.New("stream ended without completion")}}
	case content.Len() == 0:
		return outcome{modelID: modelID, status: proto.StatusError, err: &provider.ProtocolError{Provider: p.ID(), Err: errEmptyResponse}}
	}
	return outcome{modelID: modelID, content: content.String(), status: proto.StatusSuccess}
}

// finish stores the message of a settled model call and then emits
// model_end or model_error. The message is stored even when the subscriber
// has just gone away, since the call itself completed.
func (s *Scheduler) finish(ctx context.Context, sessionID string, round int64, result outcome, emit emitFunc) (proto.Message, error) {
	params := proto.CreateMessageParams{
		Round:   round,
		Role:    proto.Assistant,
		ModelID: result.modelID,
		Content: result.content,
		Status:  result.status,
	}
	if result.err != nil {
		params.Content = result.err.Error()
	}

	msg, err := s.store.AppendMessage(context.WithoutCancel(ctx), sessionID, params)
	if err != nil {
		return proto.Message{}, fmt.Errorf("failed to store reply of %s: %w", result.modelID, err)
	}

	if result.status == proto.StatusSuccess {
		emit(proto.StreamEvent{Type: proto.EventModelEnd, Data: proto.ModelEnd{Model: result.modelID, Status: proto.StatusSuccess}})
		return msg, nil
	}
	slog.Warn("Model turn failed",
		"session_id", sessionID,
		"round", round,
		"model", result.modelID,
		"status", result.status,
		"error", result.err,
	)
	emit(proto.StreamEvent{Type: proto.EventModelError, Data: proto.ModelError{
		Model:   result.modelID,
		Error:   result.err.Error(),
		Skipped: true,
	}})
	return msg, nil
}

// names returns the display names of the models that appear in history.
func (s *Scheduler) names(history []proto.Message) map[string]string {
	names := map[string]string{}
	for _, msg := range history {
		if msg.ModelID == "" {
			continue
		}
		if _, ok := names[msg.ModelID]; ok {
			continue
		}
		cfg, _ := s.resolver.Model(msg.ModelID)
		names[msg.ModelID] = cmp.Or(cfg.DisplayName, msg.ModelID)
	}
	return names
}

func modelStartEvent(modelID, displayName, color string) proto.StreamEvent {
	return proto.StreamEvent{Type: proto.EventModelStart, Data: proto.ModelStart{
		Model:       modelID,
		DisplayName: cmp.Or(displayName, modelID),
		Color:       color,
	}}
}

// eventQueue is an unbounded FIFO of stream events with one writer and one
// reader.
type eventQueue struct {
	mu     sync.Mutex
	items  []proto.StreamEvent
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev proto.StreamEvent) {
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// next returns the oldest queued event. It blocks until one is pushed and
// reports false once the queue is closed and drained, or ctx is done.
func (q *eventQueue) next(ctx context.Context) (proto.StreamEvent, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = proto.StreamEvent{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return proto.StreamEvent{}, false
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return proto.StreamEvent{}, false
		}
	}
}
