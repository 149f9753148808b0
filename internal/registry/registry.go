// Package registry resolves model ids to provider adapters using the
// providers file.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/agentround/agentround/internal/config"
	"github.com/agentround/agentround/internal/csync"
	"github.com/agentround/agentround/internal/llm/provider"
	"github.com/agentround/agentround/internal/log"
	"github.com/agentround/agentround/internal/proto"
	"github.com/fsnotify/fsnotify"
)

// Factory builds the adapter for a provider.
type Factory func(config.ProviderConfig, ...provider.ProviderClientOption) (provider.Provider, error)

type modelEntry struct {
	cfg        config.ModelConfig
	providerID string
}

type snapshot struct {
	providers map[string]config.ProviderConfig
	models    map[string]modelEntry
	order     []string
}

type adapter struct {
	provider provider.Provider
	err      error
}

type Registry struct {
	path       string
	factory    Factory
	clientOpts []provider.ProviderClientOption
	debounce   time.Duration
	onReload   func(error)

	current  atomic.Pointer[snapshot]
	adapters *csync.Map[string, adapter]
}

type Option func(*Registry)

// WithFactory replaces provider.NewProvider.
func WithFactory(f Factory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithClientOptions are passed to every adapter the registry builds.
func WithClientOptions(opts ...provider.ProviderClientOption) Option {
	return func(r *Registry) { r.clientOpts = append(r.clientOpts, opts...) }
}

func WithDebounce(d time.Duration) Option {
	return func(r *Registry) { r.debounce = d }
}

// WithOnReload registers a callback run after every reload triggered by
// Watch, with the reload error if any.
func WithOnReload(fn func(error)) Option {
	return func(r *Registry) { r.onReload = fn }
}

// New loads the providers file at path. A missing file yields an empty
// registry, so the server can start before any provider is configured.
func New(path string, opts ...Option) (*Registry, error) {
	r := &Registry{
		path:     path,
		factory:  provider.NewProvider,
		debounce: 250 * time.Millisecond,
		adapters: csync.NewMap[string, adapter](),
	}
	for _, o := range opts {
		o(r)
	}
	if err := r.Reload(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		slog.Warn("Providers file not found, no models available", "path", path)
		r.current.Store(&snapshot{})
	}
	return r, nil
}

// Path is the providers file the registry reads.
func (r *Registry) Path() string {
	return r.path
}

// Reload re-reads the providers file. On failure the previous providers are
// kept.
func (r *Registry) Reload() error {
	providers, err := config.LoadProviders(r.path)
	if err != nil {
		return err
	}
	r.Set(providers)
	return nil
}

// Set replaces the configured providers. Adapters are rebuilt lazily.
func (r *Registry) Set(providers []config.ProviderConfig) {
	snap := &snapshot{
		providers: make(map[string]config.ProviderConfig, len(providers)),
		models:    make(map[string]modelEntry),
	}
	for _, p := range providers {
		snap.providers[p.ID] = p
		for _, m := range p.Models {
			snap.models[m.ID] = modelEntry{cfg: m, providerID: p.ID}
			snap.order = append(snap.order, m.ID)
		}
		slog.Debug("Provider configured",
			"provider", p.ID,
			"type", p.Type,
			"base_url", p.BaseURL,
			"api_key", log.MaskAPIKey(p.APIKey),
			"models", len(p.Models),
		)
	}
	r.current.Store(snap)
	r.adapters.Reset(nil)
}

// Resolve returns the adapter and model settings for modelID. Unknown models
// and providers whose adapter cannot be built give a
// *provider.ConfigurationError.
func (r *Registry) Resolve(modelID string) (provider.Provider, config.ModelConfig, error) {
	snap := r.current.Load()
	entry, ok := snap.models[modelID]
	if !ok {
		return nil, config.ModelConfig{}, &provider.ConfigurationError{ModelID: modelID, Reason: "model is not configured"}
	}
	pcfg := snap.providers[entry.providerID]
	a := r.adapters.GetOrSet(pcfg.ID, func() adapter {
		p, err := r.factory(pcfg, r.clientOpts...)
		if err != nil {
			slog.Error("Failed to create provider", "provider", pcfg.ID, "error", err)
		}
		return adapter{provider: p, err: err}
	})
	if a.err != nil {
		return nil, entry.cfg, &provider.ConfigurationError{
			ModelID: modelID,
			Reason:  fmt.Sprintf("provider %s: %v", pcfg.ID, a.err),
		}
	}
	return a.provider, entry.cfg, nil
}

// Model returns the settings of modelID without building its adapter.
func (r *Registry) Model(modelID string) (config.ModelConfig, bool) {
	entry, ok := r.current.Load().models[modelID]
	return entry.cfg, ok
}

// Models lists the configured models in file order.
func (r *Registry) Models() []proto.ModelInfo {
	snap := r.current.Load()
	out := make([]proto.ModelInfo, 0, len(snap.order))
	for _, id := range snap.order {
		entry := snap.models[id]
		out = append(out, proto.ModelInfo{
			ID:           entry.cfg.ID,
			DisplayName:  entry.cfg.DisplayName,
			Color:        entry.cfg.Color,
			Icon:         entry.cfg.Icon,
			ProviderID:   entry.providerID,
			ProviderType: string(snap.providers[entry.providerID].Type),
		})
	}
	return out
}

// Watch reloads the providers file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file are
// handled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go func() {
		defer log.RecoverPanic("registry-watch", nil)
		defer watcher.Close()

		target := filepath.Clean(r.path)
		var (
			timer *time.Timer
			fire  <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(r.debounce)
				} else {
					timer.Reset(r.debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				err := r.Reload()
				if err != nil {
					slog.Error("Failed to reload providers, keeping previous configuration", "path", r.path, "error", err)
				} else {
					slog.Info("Reloaded providers", "path", r.path, "models", len(r.current.Load().order))
				}
				if r.onReload != nil {
					r.onReload(err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("Providers watcher error", "error", err)
			}
		}
	}()
	return nil
}
