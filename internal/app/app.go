package app

import (
	"context"
	"errors"
	"sync"

	"github.com/lbeltrame/go_lingo/internal/cache"
	"github.com/lbeltrame/go_lingo/internal/config"
	"github.com/lbeltrame/go_lingo/internal/coordinator"
	"github.com/lbeltrame/go_lingo/internal/logger"
	"github.com/lbeltrame/go_lingo/internal/repository"
	"github.com/lbeltrame/go_lingo/internal/service"
	"github.com/lbeltrame/go_lingo/internal/watcher"
)

// App is the application container (immutable dependencies + lifecycle
// context). It is not a request context; handlers should still use gin's
// request context.
type App struct {
	Config      *config.Config
	Repo        repository.Repository
	Cache       cache.AppStore
	Coordinator *coordinator.Coordinator
	Service     *service.LangService

	BaseCtx context.Context
	Cancel  context.CancelFunc

	mu       sync.Mutex
	watchers map[string]*watcher.Watcher
}

func New(cfg *config.Config, repo repository.Repository, store cache.AppStore, coord *coordinator.Coordinator, svc *service.LangService) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if repo == nil {
		return nil, errors.New("repo is nil")
	}
	if store == nil {
		return nil, errors.New("cache store is nil")
	}
	if coord == nil {
		return nil, errors.New("coordinator is nil")
	}
	if svc == nil {
		return nil, errors.New("service is nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		Config:      cfg,
		Repo:        repo,
		Cache:       store,
		Coordinator: coord,
		Service:     svc,
		BaseCtx:     ctx,
		Cancel:      cancel,
		watchers:    map[string]*watcher.Watcher{},
	}, nil
}

// Shutdown cancels the lifecycle context and stops every collection watcher.
func (a *App) Shutdown() {
	if a == nil || a.Cancel == nil {
		return
	}
	a.Cancel()

	// Stop outside the lock: a watcher's run goroutine may be inside a
	// refresh listener calling EnsureWatcher, which needs a.mu to return.
	a.mu.Lock()
	stopping := make([]*watcher.Watcher, 0, len(a.watchers))
	for _, w := range a.watchers {
		stopping = append(stopping, w)
	}
	a.mu.Unlock()

	for _, w := range stopping {
		w.Stop()
	}
}

// StartWatchers performs the initial full load, starts one change watcher per
// known collection, subscribes for collections created later and kicks off
// the periodic refresh scheduler when configured.
func (a *App) StartWatchers() {
	if err := a.Coordinator.ReloadAll(a.BaseCtx); err != nil {
		logger.WithComponent("app").Errorf("initial load failed, watchers will recover: %v", err)
	}

	for _, name := range a.Coordinator.Registry().Collections() {
		a.EnsureWatcher(name)
	}

	// Collections provisioned at runtime get a watcher on their first
	// refresh notification.
	a.Coordinator.AddRefreshListener(func(collection string) {
		if collection == coordinator.WildcardAll {
			return
		}
		a.EnsureWatcher(collection)
	})

	coordinator.StartRefreshScheduler(a.BaseCtx, a.Coordinator, a.Config.Cache.RefreshInterval)
}

// EnsureWatcher starts a change watcher for the collection if one is not
// already running. Safe to call concurrently.
func (a *App) EnsureWatcher(collection string) {
	if a.BaseCtx.Err() != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.watchers[collection]; ok {
		return
	}
	if a.BaseCtx.Err() != nil {
		return
	}

	w := watcher.New(collection, a.Repo, a.Coordinator, watcher.Options{
		StreamEnabled: a.Config.Watch.Enabled,
		PollInterval:  a.Config.Watch.PollInterval,
		SampleLimit:   a.Config.Watch.SampleLimit,
		RetryCount:    a.Config.Watch.RetryCount,
		RetryDelay:    a.Config.Watch.RetryDelay,
	})
	if err := w.Start(a.BaseCtx); err != nil {
		logger.WithComponent("app").Errorf("cannot start watcher for %q: %v", collection, err)
		return
	}
	a.watchers[collection] = w
}

// WatcherStates reports the current state of every running watcher, keyed by
// collection name.
func (a *App) WatcherStates() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	states := make(map[string]string, len(a.watchers))
	for name, w := range a.watchers {
		states[name] = w.State().String()
	}
	return states
}
