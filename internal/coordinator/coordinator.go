// Package coordinator is the single authority translating detected changes
// and explicit reload/invalidate calls into a coherent cache state, and the
// single authority for registering and notifying listeners.
package coordinator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/containerd/errdefs"
	mapset "github.com/deckarep/golang-set/v2"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/errgroup"

	"github.com/lbeltrame/go_lingo/internal/cache"
	"github.com/lbeltrame/go_lingo/internal/logger"
	"github.com/lbeltrame/go_lingo/internal/repository"
)

// WildcardAll is passed to invalidation listeners when the whole cache was
// invalidated rather than a single collection.
const WildcardAll = "*"

// Listener receives the name of the affected collection (or WildcardAll).
type Listener func(collection string)

// listenerEntry wraps a Listener so registrations are distinct set members.
type listenerEntry struct {
	fn Listener
}

// Options tunes the coordinator's bulk reload behavior.
type Options struct {
	// SupportedLanguages is the fallback language set used when a config
	// document carries no language list.
	SupportedLanguages []string
	// ReloadBatchSize bounds how many collections reload concurrently
	// during ReloadAll. Default 5.
	ReloadBatchSize int
	// ReloadBatchDelay is the pause between reload batches, so a full
	// reload does not overwhelm the backing store. Default 100ms.
	ReloadBatchDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReloadBatchSize <= 0 {
		o.ReloadBatchSize = 5
	}
	if o.ReloadBatchDelay <= 0 {
		o.ReloadBatchDelay = 100 * time.Millisecond
	}
	return o
}

// Coordinator orchestrates atomic cache replacement on change events,
// listener notification and invalidation propagation. It implements the
// watcher's Handler contract.
type Coordinator struct {
	repo     repository.Repository
	store    cache.AppStore
	registry *Registry
	opts     Options

	invalidationListeners mapset.Set[*listenerEntry]
	refreshListeners      mapset.Set[*listenerEntry]
}

// New creates a coordinator over the given repository and cache store.
func New(repo repository.Repository, store cache.AppStore, registry *Registry, opts Options) *Coordinator {
	return &Coordinator{
		repo:                  repo,
		store:                 store,
		registry:              registry,
		opts:                  opts.withDefaults(),
		invalidationListeners: mapset.NewSet[*listenerEntry](),
		refreshListeners:      mapset.NewSet[*listenerEntry](),
	}
}

// Registry exposes the known-collections registry the coordinator owns.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// AddInvalidationListener registers a callback invoked after cache
// invalidation. Listener failures are logged, never propagated.
func (c *Coordinator) AddInvalidationListener(fn Listener) {
	c.invalidationListeners.Add(&listenerEntry{fn: fn})
}

// AddRefreshListener registers a callback invoked after cached data of a
// collection has been refreshed.
func (c *Coordinator) AddRefreshListener(fn Listener) {
	c.refreshListeners.Add(&listenerEntry{fn: fn})
}

// ReloadCollection invalidates a collection's cache and repopulates it from
// the backing store. A missing config document is created empty; so is any
// missing language document of the expected language set. Returns only after
// cache repopulation completes.
func (c *Coordinator) ReloadCollection(ctx context.Context, name string) error {
	c.store.InvalidateCollection(name)

	cfg, err := c.repo.GetConfig(ctx, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("reload %s: %w", name, err)
		}
		cfg = repository.NewConfigDocument(name)
		if err := c.repo.SaveConfig(ctx, name, cfg); err != nil {
			return fmt.Errorf("reload %s: create config: %w", name, err)
		}
	}
	c.store.ReplaceConfigData(name, cfg.Data)

	langs := c.expectedLanguages(ctx, name, cfg)
	c.registry.Register(name, langs...)

	for _, lang := range langs {
		doc, err := c.repo.GetLanguage(ctx, name, lang)
		if err != nil {
			if !errdefs.IsNotFound(err) {
				return fmt.Errorf("reload %s/%s: %w", name, lang, err)
			}
			doc = repository.NewLanguageDocument(lang)
			if err := c.repo.SaveLanguage(ctx, name, doc); err != nil {
				return fmt.Errorf("reload %s/%s: create document: %w", name, lang, err)
			}
		}
		c.store.ReplaceLanguageData(name, lang, doc.Data)
	}

	c.NotifyRefresh(name)
	return nil
}

// expectedLanguages combines the config document's reserved language list,
// the languages actually present in the store and the configured fallback.
func (c *Coordinator) expectedLanguages(ctx context.Context, name string, cfg *repository.ConfigDocument) []string {
	expected := mapset.NewThreadUnsafeSet[string]()
	expected.Append(cfg.SupportedLanguages()...)

	if stored, err := c.repo.ListLanguages(ctx, name); err == nil {
		expected.Append(stored...)
	} else {
		logger.WithComponent("coord").Warnf("list languages of %s: %v", name, err)
	}

	if expected.Cardinality() == 0 {
		expected.Append(c.opts.SupportedLanguages...)
	}

	langs := expected.ToSlice()
	sort.Strings(langs)
	return langs
}

// ReloadAll invalidates everything, discovers the known collections and
// reloads each one in bounded batches. A failing collection does not abort
// the others.
func (c *Coordinator) ReloadAll(ctx context.Context) error {
	c.store.InvalidateAll()

	names, err := c.repo.ListCollections(ctx)
	if err != nil || len(names) == 0 {
		if err != nil {
			logger.WithComponent("coord").Warnf("collection discovery failed, using registry: %v", err)
		}
		names = c.registry.Collections()
	}

	for start := 0; start < len(names); start += c.opts.ReloadBatchSize {
		end := start + c.opts.ReloadBatchSize
		if end > len(names) {
			end = len(names)
		}

		group, groupCtx := errgroup.WithContext(ctx)
		for _, name := range names[start:end] {
			group.Go(func() error {
				if err := c.ReloadCollection(groupCtx, name); err != nil {
					logger.WithComponent("coord").Errorf("reload of %s failed: %v", name, err)
				}
				return nil
			})
		}
		_ = group.Wait()

		if end < len(names) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.opts.ReloadBatchDelay):
			}
		}
	}
	return nil
}

// InvalidateCollection clears a collection's cache and notifies the
// invalidation listeners.
func (c *Coordinator) InvalidateCollection(name string) {
	c.store.InvalidateCollection(name)
	c.notify(c.invalidationListeners, name)
}

// InvalidateAll clears the whole cache and notifies the invalidation
// listeners with the wildcard marker.
func (c *Coordinator) InvalidateAll() {
	c.store.InvalidateAll()
	c.notify(c.invalidationListeners, WildcardAll)
}

// ApplyChange routes a full updated document into the cache: the reserved
// identifier marks the config document, a language field marks a language
// document. Anything else is ignored.
func (c *Coordinator) ApplyChange(collection, docID string, doc bson.M) {
	if docID == repository.ConfigDocumentID {
		c.store.ReplaceConfigData(collection, documentData(doc))
		c.registry.Register(collection)
		return
	}
	if lang, ok := doc["lang"].(string); ok && lang != "" {
		c.store.ReplaceLanguageData(collection, lang, documentData(doc))
		c.registry.Register(collection, lang)
		return
	}
	logger.WithComponent("coord").Debugf("ignoring document %s/%s: neither config nor language", collection, docID)
}

// RemoveDocument clears the cache slice of a deleted document.
func (c *Coordinator) RemoveDocument(collection, docID string) {
	if docID == repository.ConfigDocumentID {
		c.store.ReplaceConfigData(collection, map[string]any{})
		return
	}
	c.store.InvalidateLanguage(collection, docID)
}

// NotifyRefresh invokes the refresh-complete listeners for a collection.
func (c *Coordinator) NotifyRefresh(collection string) {
	c.notify(c.refreshListeners, collection)
}

// notify calls every listener of a registry, isolating failures: a panicking
// listener is logged and does not stop notification of the rest.
func (c *Coordinator) notify(listeners mapset.Set[*listenerEntry], collection string) {
	listeners.Each(func(entry *listenerEntry) bool {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.WithComponent("coord").Errorf("listener panicked for %s: %v", collection, r)
				}
			}()
			entry.fn(collection)
		}()
		return false
	})
}

// documentData extracts the nested data payload of a raw document. Documents
// may carry it under a "data" field or inline at the top level next to the
// reserved fields.
func documentData(doc bson.M) map[string]any {
	switch data := doc["data"].(type) {
	case bson.M:
		return normalize(map[string]any(data))
	case map[string]any:
		return normalize(data)
	}

	inline := make(map[string]any, len(doc))
	for key, value := range doc {
		switch key {
		case "_id", "lang", "name", "updatedAt":
			continue
		}
		inline[key] = value
	}
	// Normalize nested bson.M values so the cache flattener sees plain maps.
	return normalize(inline)
}

func normalize(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch nested := v.(type) {
		case bson.M:
			out[k] = normalize(map[string]any(nested))
		case map[string]any:
			out[k] = normalize(nested)
		default:
			out[k] = v
		}
	}
	return out
}

