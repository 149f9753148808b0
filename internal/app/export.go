package app

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentround/agentround/internal/proto"
)

// Export renders a session as a Markdown report and suggests a file name
// for it.
func (app *App) Export(ctx context.Context, id string, now time.Time) (name string, report string, err error) {
	detail, err := app.SessionDetail(ctx, id)
	if err != nil {
		return "", "", err
	}
	return exportName(detail.Session), app.renderMarkdown(detail, now), nil
}

func (app *App) renderMarkdown(detail proto.SessionDetail, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", cmp.Or(detail.Title, "Untitled session"))
	fmt.Fprintf(&b, "> Exported: %s\n", now.Format(time.DateTime))
	names := make([]string, 0, len(detail.Models))
	for _, m := range detail.Models {
		names = append(names, app.displayName(m))
	}
	fmt.Fprintf(&b, "> Models: %s\n", strings.Join(names, ", "))
	if detail.Status == proto.SessionEnded {
		b.WriteString("> Status: ended\n")
	}
	b.WriteString("\n---\n")

	var round int64
	for _, msg := range detail.Messages {
		if msg.Round > round {
			round = msg.Round
			fmt.Fprintf(&b, "\n## Round %d\n", round)
		}
		switch {
		case msg.Role == proto.User:
			b.WriteString("\n### You\n\n")
		case msg.Status == proto.StatusSuccess:
			fmt.Fprintf(&b, "\n### %s\n\n", app.displayName(msg.ModelID))
		default:
			fmt.Fprintf(&b, "\n### %s (%s)\n\n", app.displayName(msg.ModelID), msg.Status)
		}
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteString("\n")
	}
	return b.String()
}

func (app *App) displayName(modelID string) string {
	if m, ok := app.Registry.Model(modelID); ok && m.DisplayName != "" {
		return m.DisplayName
	}
	return modelID[strings.LastIndex(modelID, "/")+1:]
}

func exportName(sess proto.Session) string {
	base := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, cmp.Or(strings.TrimSpace(sess.Title), "session"))
	short := sess.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return base + "_" + short + ".md"
}
