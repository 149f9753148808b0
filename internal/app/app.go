// Package app wires the roundtable services together for the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/db"
	"github.com/agentround/agentround/internal/llm/filter"
	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/agentround/agentround/internal/log"
	"github.com/agentround/agentround/internal/message"
	"github.com/agentround/agentround/internal/proto"
	"github.com/agentround/agentround/internal/registry"
	"github.com/agentround/agentround/internal/round"
	"github.com/agentround/agentround/internal/session"
	"github.com/agentround/agentround/internal/templates"
	"github.com/agentround/agentround/internal/title"
)

// ErrInvalidRequest marks errors caused by client input.
var ErrInvalidRequest = errors.New("invalid request")

type App struct {
	Sessions  session.Service
	Messages  message.Service
	Registry  *registry.Registry
	Rounds    *round.Scheduler
	Templates *templates.Store

	config *config.Config
	conn   *sql.DB

	cancel context.CancelFunc
}

// New builds the application on an open, migrated database.
func New(ctx context.Context, conn *sql.DB, cfg *config.Config) (*App, error) {
	var regOpts []registry.Option
	if cfg.Debug {
		regOpts = append(regOpts, registry.WithClientOptions(provider.WithHTTPClient(log.NewHTTPClient())))
	}
	reg, err := registry.New(cfg.ProvidersFile, regOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load providers: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	if err := reg.Watch(ctx); err != nil {
		slog.Warn("Providers file will not be reloaded", "path", cfg.ProvidersFile, "error", err)
	}

	app := &App{
		Sessions:  session.NewService(conn),
		Messages:  message.NewService(db.New(conn)),
		Registry:  reg,
		Templates: templates.New(cfg.TemplatesFile),
		config:    cfg,
		conn:      conn,
		cancel:    cancel,
	}

	var titler round.Titler
	if cfg.Title.Enabled {
		titler = title.New(reg, filter.FromConfig(cfg.Thought), cfg.Title)
	}
	app.Rounds = round.New(&store{sessions: app.Sessions, messages: app.Messages}, reg, titler, round.OptionsFromConfig(cfg))

	slog.Info("App initialized",
		"providers_file", cfg.ProvidersFile,
		"templates_file", cfg.TemplatesFile,
		"models", len(reg.Models()),
		"parallel", cfg.Round.Parallel,
	)
	return app, nil
}

func (app *App) Config() *config.Config {
	return app.config
}

// Shutdown stops background work and closes the database.
func (app *App) Shutdown() {
	app.cancel()
	app.Rounds.Close()
	if err := app.conn.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}

// CreateSession opens a session with the given models in speaking order.
func (app *App) CreateSession(ctx context.Context, models []string) (proto.Session, error) {
	models, err := app.checkModels(models)
	if err != nil {
		return proto.Session{}, err
	}
	return app.Sessions.Create(ctx, models)
}

// SetModels reorders or replaces the models of a session. During a running
// round it affects only the models that have not spoken yet.
func (app *App) SetModels(ctx context.Context, id string, models []string) (proto.Session, error) {
	models, err := app.checkModels(models)
	if err != nil {
		return proto.Session{}, err
	}
	sess, err := app.Sessions.SetModels(ctx, id, models)
	if errors.Is(err, session.ErrEnded) {
		return proto.Session{}, round.ErrSessionEnded
	}
	return sess, err
}

func (app *App) RenameSession(ctx context.Context, id, name string) (proto.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return proto.Session{}, fmt.Errorf("%w: title is empty", ErrInvalidRequest)
	}
	return app.Sessions.UpdateTitle(ctx, id, name)
}

// DeleteSession removes a session and its transcript. It fails while the
// session has a subscriber.
func (app *App) DeleteSession(ctx context.Context, id string) error {
	if _, err := app.Sessions.Get(ctx, id); err != nil {
		return err
	}
	if err := app.Rounds.Forget(id); err != nil {
		return err
	}
	return app.Sessions.Delete(ctx, id)
}

// SessionDetail returns a session with its whole transcript.
func (app *App) SessionDetail(ctx context.Context, id string) (proto.SessionDetail, error) {
	sess, err := app.Sessions.Get(ctx, id)
	if err != nil {
		return proto.SessionDetail{}, err
	}
	msgs, err := app.Messages.List(ctx, id)
	if err != nil {
		return proto.SessionDetail{}, err
	}
	return proto.SessionDetail{Session: sess, Messages: msgs}, nil
}

func (app *App) checkModels(models []string) ([]string, error) {
	clean := make([]string, 0, len(models))
	for _, m := range models {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if slices.Contains(clean, m) {
			return nil, fmt.Errorf("%w: model %q listed twice", ErrInvalidRequest, m)
		}
		if _, ok := app.Registry.Model(m); !ok {
			return nil, fmt.Errorf("%w: unknown model %q", ErrInvalidRequest, m)
		}
		clean = append(clean, m)
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, session.ErrNoModels)
	}
	return clean, nil
}
