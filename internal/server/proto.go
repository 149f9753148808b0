package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"runtime"
	"time"

	"github.com/agentround/agentround/internal/app"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/round"
	"github.com/agentround/agentround/internal/session"
	"github.com/agentround/agentround/internal/templates"
	"github.com/agentround/agentround/internal/version"
)

const pingInterval = 15 * time.Second

type controllerV1 struct {
	*Server
}

func (c *controllerV1) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, proto.Health{Status: "ok"})
}

func (c *controllerV1) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, proto.VersionInfo{
		Version:   version.Version,
		Commit:    version.Commit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	})
}

func (c *controllerV1) handlePostControl(w http.ResponseWriter, r *http.Request) {
	var req proto.ServerControl
	if !c.decode(w, r, &req) {
		return
	}

	switch req.Command {
	case "shutdown":
		go func() {
			slog.Info("Shutting down server")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.Shutdown(ctx); err != nil {
				c.logError(r, "failed to shutdown server", "error", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	default:
		c.logError(r, "unknown command", "command", req.Command)
		jsonError(w, http.StatusBadRequest, "unknown command")
	}
}

func (c *controllerV1) handleGetModels(w http.ResponseWriter, r *http.Request) {
	jsonEncode(w, c.app.Registry.Models())
}

func (c *controllerV1) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events := c.app.SubscribeEvents(r.Context())

	flusher := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = flusher.Flush()
	for {
		select {
		case <-r.Context().Done():
			c.logDebug(r, "stopping event stream")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.logError(r, "failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			_ = flusher.Flush()
		}
	}
}

func (c *controllerV1) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := c.app.Sessions.List(r.Context())
	if err != nil {
		c.fail(w, r, "failed to list sessions", err)
		return
	}
	jsonEncode(w, sessions)
}

func (c *controllerV1) handlePostSessions(w http.ResponseWriter, r *http.Request) {
	var req proto.CreateSessionRequest
	if !c.decode(w, r, &req) {
		return
	}
	sess, err := c.app.CreateSession(r.Context(), req.Models)
	if err != nil {
		c.fail(w, r, "failed to create session", err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+sess.ID)
	jsonEncodeStatus(w, http.StatusCreated, sess)
}

func (c *controllerV1) handleGetSession(w http.ResponseWriter, r *http.Request) {
	detail, err := c.app.SessionDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		c.fail(w, r, "failed to get session", err)
		return
	}
	jsonEncode(w, detail)
}

func (c *controllerV1) handlePatchSession(w http.ResponseWriter, r *http.Request) {
	var req proto.UpdateSessionRequest
	if !c.decode(w, r, &req) {
		return
	}
	sess, err := c.app.RenameSession(r.Context(), r.PathValue("id"), req.Title)
	if err != nil {
		c.fail(w, r, "failed to update session", err)
		return
	}
	jsonEncode(w, sess)
}

func (c *controllerV1) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := c.app.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		c.fail(w, r, "failed to delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *controllerV1) handlePutSessionModels(w http.ResponseWriter, r *http.Request) {
	var req proto.SetModelsRequest
	if !c.decode(w, r, &req) {
		return
	}
	sess, err := c.app.SetModels(r.Context(), r.PathValue("id"), req.Models)
	if err != nil {
		c.fail(w, r, "failed to set models", err)
		return
	}
	jsonEncode(w, sess)
}

func (c *controllerV1) handlePostSessionStart(w http.ResponseWriter, r *http.Request) {
	c.openRound(w, r, c.app.Rounds.Start)
}

func (c *controllerV1) handlePostSessionContinue(w http.ResponseWriter, r *http.Request) {
	c.openRound(w, r, c.app.Rounds.Continue)
}

func (c *controllerV1) openRound(w http.ResponseWriter, r *http.Request, open func(context.Context, string, string) (proto.Message, error)) {
	var req proto.RoundRequest
	if !c.decode(w, r, &req) {
		return
	}
	msg, err := open(r.Context(), r.PathValue("id"), req.UserInput)
	if err != nil {
		c.fail(w, r, "failed to open round", err)
		return
	}
	jsonEncode(w, proto.RoundResponse{Round: msg.Round, Message: msg})
}

func (c *controllerV1) handlePostSessionEnd(w http.ResponseWriter, r *http.Request) {
	sess, err := c.app.Rounds.End(r.Context(), r.PathValue("id"))
	if err != nil {
		c.fail(w, r, "failed to end session", err)
		return
	}
	jsonEncode(w, sess)
}

func (c *controllerV1) handleGetSessionStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	events, err := c.app.Rounds.Stream(r.Context(), id)
	if err != nil {
		c.fail(w, r, "failed to open stream", err)
		return
	}

	em := NewEmitter(w, c.app.Config().Stream)
	if err := em.Start(); err != nil {
		c.logError(r, "failed to start stream", "error", err, "session_id", id)
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := em.Send(r.Context(), ev); err != nil {
				c.logDebug(r, "subscriber went away", "error", err, "session_id", id)
				return
			}
		case <-ping.C:
			if err := em.Ping(); err != nil {
				c.logDebug(r, "subscriber went away", "error", err, "session_id", id)
				return
			}
		}
	}
}

func (c *controllerV1) handleGetSessionExport(w http.ResponseWriter, r *http.Request) {
	name, report, err := c.app.Export(r.Context(), r.PathValue("id"), time.Now())
	if err != nil {
		c.fail(w, r, "failed to export session", err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	_, _ = w.Write([]byte(report))
}

func (c *controllerV1) handleGetTemplates(w http.ResponseWriter, r *http.Request) {
	all, err := c.app.Templates.All()
	if err != nil {
		c.fail(w, r, "failed to load templates", err)
		return
	}
	jsonEncode(w, all)
}

func (c *controllerV1) handleGetTemplateKind(w http.ResponseWriter, r *http.Request) {
	kind, err := templates.ParseKind(r.PathValue("kind"))
	if err != nil {
		c.fail(w, r, "failed to load templates", err)
		return
	}
	list, err := c.app.Templates.List(kind)
	if err != nil {
		c.fail(w, r, "failed to load templates", err)
		return
	}
	jsonEncode(w, list)
}

func (c *controllerV1) handlePutTemplate(w http.ResponseWriter, r *http.Request) {
	kind, err := templates.ParseKind(r.PathValue("kind"))
	if err != nil {
		c.fail(w, r, "failed to save template", err)
		return
	}
	var req proto.Template
	if !c.decode(w, r, &req) {
		return
	}
	if err := c.app.Templates.Put(kind, r.PathValue("id"), req); err != nil {
		c.fail(w, r, "failed to save template", err)
		return
	}
	jsonEncode(w, req)
}

func (c *controllerV1) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	kind, err := templates.ParseKind(r.PathValue("kind"))
	if err != nil {
		c.fail(w, r, "failed to delete template", err)
		return
	}
	if err := c.app.Templates.Delete(kind, r.PathValue("id")); err != nil {
		c.fail(w, r, "failed to delete template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *controllerV1) handlePostTemplatesReset(w http.ResponseWriter, r *http.Request) {
	reset, err := c.app.Templates.Reset()
	if err != nil {
		c.fail(w, r, "failed to reset templates", err)
		return
	}
	all, err := c.app.Templates.All()
	if err != nil {
		c.fail(w, r, "failed to load templates", err)
		return
	}
	jsonEncode(w, proto.ResetTemplatesResponse{Reset: reset, Templates: all})
}

func (c *controllerV1) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		c.logError(r, "failed to decode request", "error", err)
		jsonError(w, http.StatusBadRequest, "failed to decode request")
		return false
	}
	return true
}

// fail reports err with the status its kind maps to.
func (c *controllerV1) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.logError(r, msg, "error", err)
		jsonError(w, status, msg)
		return
	}
	c.logDebug(r, msg, "error", err)
	jsonError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, templates.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, app.ErrInvalidRequest),
		errors.Is(err, round.ErrEmptyInput),
		errors.Is(err, templates.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, round.ErrAlreadyStarted),
		errors.Is(err, round.ErrNotStarted),
		errors.Is(err, round.ErrRoundInProgress),
		errors.Is(err, round.ErrNoPendingRound),
		errors.Is(err, round.ErrStreamBusy),
		errors.Is(err, round.ErrSessionEnded),
		errors.Is(err, session.ErrEnded),
		errors.Is(err, session.ErrRoundConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func jsonEncode(w http.ResponseWriter, v any) {
	jsonEncodeStatus(w, http.StatusOK, v)
}

func jsonEncodeStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, status int, message string) {
	jsonEncodeStatus(w, status, proto.Error{Message: message})
}
