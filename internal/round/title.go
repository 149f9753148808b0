package round

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/agentround/agentround/internal/log"
	"github.com/agentround/agentround/internal/proto"
)

// firstReply returns the first successful reply of round 1 when the session
// still has no title.
func (s *Scheduler) firstReply(ctx context.Context, sessionID string) *proto.Message {
	sess, err := s.store.Session(ctx, sessionID)
	if err != nil || sess.Title != "" {
		return nil
	}
	history, err := s.store.History(ctx, sessionID, 1)
	if err != nil {
		slog.Warn("Failed to load history for title", "session_id", sessionID, "error", err)
		return nil
	}
	for _, msg := range history {
		if msg.Role == proto.Assistant && msg.Status == proto.StatusSuccess {
			return &msg
		}
	}
	return nil
}

// generateTitle runs the title task. Failures are logged and otherwise
// ignored: the session keeps its empty title.
func (s *Scheduler) generateTitle(sessionID string, st *sessionState, first proto.Message) {
	defer s.wg.Done()
	defer log.RecoverPanic("title", func() {
		st.deliver(proto.StreamEvent{})
	})

	title, err := s.titler.Generate(s.bg, first.ModelID, first.Content)
	title = strings.TrimSpace(title)
	if err == nil && title == "" {
		err = errors.New("empty title")
	}
	if err == nil {
		err = s.store.SetTitle(s.bg, sessionID, title)
	}
	if err != nil {
		slog.Warn("Title generation failed", "session_id", sessionID, "model", first.ModelID, "error", err)
		st.deliver(proto.StreamEvent{})
		return
	}

	slog.Info("Session titled", "session_id", sessionID, "title", title)
	st.deliver(proto.StreamEvent{Type: proto.EventTitleGenerated, Data: proto.TitleGenerated{Title: title}})
}
