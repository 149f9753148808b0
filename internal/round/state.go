package round

import (
	"context"
	"errors"
	"sync"

	"github.com/agentround/agentround/internal/proto"
)

// State is the lifecycle position of a session in the scheduler.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateAwaitingDecision
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "round_running"
	case StateAwaitingDecision:
		return "awaiting_decision"
	case StateEnded:
		return "ended"
	}
	return "unknown"
}

var (
	ErrEmptyInput      = errors.New("user input is empty")
	ErrAlreadyStarted  = errors.New("session has already been started")
	ErrNotStarted      = errors.New("session has not been started")
	ErrRoundInProgress = errors.New("a round is in progress")
	ErrNoPendingRound  = errors.New("no round is waiting to be streamed")
	ErrStreamBusy      = errors.New("session stream already has a subscriber")
	ErrSessionEnded    = errors.New("session has ended")
)

// sessionState is the scheduler's per-session context object.
type sessionState struct {
	mu sync.Mutex

	state State
	round int64

	// streaming is set while a subscriber owns the session stream. notify is
	// that subscriber's side channel for session_end and title_generated, and
	// stopLinger ends its wait for those after round_end.
	streaming  bool
	notify     chan proto.StreamEvent
	stopLinger context.CancelFunc

	titleFired bool
	// endPending means session_end has not reached any subscriber yet.
	endPending bool
}

// attach hands the stream to a new subscriber. Callers hold st.mu.
func (st *sessionState) attach() chan proto.StreamEvent {
	st.streaming = true
	st.notify = make(chan proto.StreamEvent, 4)
	st.stopLinger = nil
	return st.notify
}

// detach releases the stream if notify still owns it. A session_end that was
// queued but never forwarded is kept for the next subscriber.
func (st *sessionState) detach(notify chan proto.StreamEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.notify != notify {
		return
	}
	st.release()
	for {
		select {
		case ev := <-notify:
			if ev.Type == proto.EventSessionEnd {
				st.endPending = true
			}
		default:
			return
		}
	}
}

// release forgets the current subscriber. Callers hold st.mu.
func (st *sessionState) release() {
	if st.stopLinger != nil {
		st.stopLinger()
	}
	st.streaming = false
	st.notify = nil
	st.stopLinger = nil
}

// deliver queues ev for the current subscriber. It reports false when there
// is no subscriber or its queue is full.
func (st *sessionState) deliver(ev proto.StreamEvent) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.deliverLocked(ev)
}

func (st *sessionState) deliverLocked(ev proto.StreamEvent) bool {
	if st.notify == nil {
		return false
	}
	select {
	case st.notify <- ev:
		return true
	default:
		return false
	}
}
