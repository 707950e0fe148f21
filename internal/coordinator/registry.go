package coordinator

import (
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Registry tracks the known collections and the language set of each one.
// It is explicit process-scoped state owned by the coordinator: created at
// startup, populated by discovery and by explicit creation calls, cleared at
// shutdown.
type Registry struct {
	collections mapset.Set[string]

	mu        sync.RWMutex
	languages map[string]mapset.Set[string]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		collections: mapset.NewSet[string](),
		languages:   map[string]mapset.Set[string]{},
	}
}

// Register records a collection and merges languages into its language set.
func (r *Registry) Register(collection string, langs ...string) {
	r.collections.Add(collection)
	if len(langs) == 0 {
		return
	}
	r.mu.Lock()
	set, ok := r.languages[collection]
	if !ok {
		set = mapset.NewSet[string]()
		r.languages[collection] = set
	}
	r.mu.Unlock()
	set.Append(langs...)
}

// Unregister removes a collection and its language set.
func (r *Registry) Unregister(collection string) {
	r.collections.Remove(collection)
	r.mu.Lock()
	delete(r.languages, collection)
	r.mu.Unlock()
}

// Collections returns the known collection names, sorted.
func (r *Registry) Collections() []string {
	names := r.collections.ToSlice()
	sort.Strings(names)
	return names
}

// Contains reports whether a collection is known.
func (r *Registry) Contains(collection string) bool {
	return r.collections.Contains(collection)
}

// Languages returns the known language codes of a collection, sorted.
func (r *Registry) Languages(collection string) []string {
	r.mu.RLock()
	set, ok := r.languages[collection]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	langs := set.ToSlice()
	sort.Strings(langs)
	return langs
}

// Clear empties the registry.
func (r *Registry) Clear() {
	r.collections.Clear()
	r.mu.Lock()
	r.languages = map[string]mapset.Set[string]{}
	r.mu.Unlock()
}
