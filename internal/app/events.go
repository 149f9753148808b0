package app

import (
	"context"

	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/pubsub"
)

type (
	SessionEvent = pubsub.Event[proto.Session]
	MessageEvent = pubsub.Event[proto.Message]
)

// SubscribeEvents merges session and message changes into one channel that
// is closed when ctx is done. Values are SessionEvent or MessageEvent.
func (app *App) SubscribeEvents(ctx context.Context) <-chan any {
	sessions := app.Sessions.Subscribe(ctx)
	messages := app.Messages.Subscribe(ctx)

	out := make(chan any)
	go func() {
		defer close(out)
		for sessions != nil || messages != nil {
			var ev any
			select {
			case e, ok := <-sessions:
				if !ok {
					sessions = nil
					continue
				}
				ev = e
			case e, ok := <-messages:
				if !ok {
					messages = nil
					continue
				}
				ev = e
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
