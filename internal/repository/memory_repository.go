package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// MemoryRepository is an in-memory Repository with a synthetic change feed.
// It backs the "memory" backend mode and the package tests, so the watcher
// and coordinator can be exercised without a MongoDB instance.
type MemoryRepository struct {
	mu          sync.RWMutex
	collections map[string]map[string]bson.M
	feeds       map[string][]*memoryChangeFeed
	watchErr    error
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		collections: map[string]map[string]bson.M{},
		feeds:       map[string][]*memoryChangeFeed{},
	}
}

// SetWatchError makes subsequent Watch calls fail with err. Passing
// ErrChangeStreamUnsupported simulates a standalone deployment.
func (r *MemoryRepository) SetWatchError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchErr = err
}

func (r *MemoryRepository) GetConfig(_ context.Context, collection string) (*ConfigDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := r.collections[collection]
	raw, ok := docs[ConfigDocumentID]
	if !ok {
		return nil, fmt.Errorf("config document for %s: %w", collection, errdefs.ErrNotFound)
	}
	doc := configFromRaw(raw)
	if doc.Name == "" {
		doc.Name = collection
	}
	return doc, nil
}

func (r *MemoryRepository) SaveConfig(_ context.Context, collection string, doc *ConfigDocument) error {
	if doc == nil {
		return fmt.Errorf("config document is nil")
	}
	doc.ID = ConfigDocumentID
	if doc.Name == "" {
		doc.Name = collection
	}
	doc.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	raw := bson.M{
		"_id":       ConfigDocumentID,
		"name":      doc.Name,
		"data":      cloneMap(doc.Data),
		"updatedAt": doc.UpdatedAt,
	}
	op := r.upsert(collection, ConfigDocumentID, raw)
	r.mu.Unlock()

	r.publish(collection, &ChangeEvent{Operation: op, DocumentID: ConfigDocumentID, FullDocument: raw})
	return nil
}

func (r *MemoryRepository) GetLanguage(_ context.Context, collection, lang string) (*LanguageDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	raw, ok := r.collections[collection][lang]
	if !ok {
		return nil, fmt.Errorf("language document %s/%s: %w", collection, lang, errdefs.ErrNotFound)
	}
	return languageFromRaw(raw), nil
}

func (r *MemoryRepository) SaveLanguage(_ context.Context, collection string, doc *LanguageDocument) error {
	if doc == nil {
		return fmt.Errorf("language document is nil")
	}
	if doc.Lang == "" {
		return fmt.Errorf("language code is required")
	}
	doc.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	raw := bson.M{
		"_id":       doc.Lang,
		"lang":      doc.Lang,
		"data":      cloneMap(doc.Data),
		"updatedAt": doc.UpdatedAt,
	}
	op := r.upsert(collection, doc.Lang, raw)
	r.mu.Unlock()

	r.publish(collection, &ChangeEvent{Operation: op, DocumentID: doc.Lang, FullDocument: raw})
	return nil
}

// DeleteLanguage removes a language document and emits a delete event.
func (r *MemoryRepository) DeleteLanguage(_ context.Context, collection, lang string) error {
	r.mu.Lock()
	docs, ok := r.collections[collection]
	if ok {
		_, ok = docs[lang]
		delete(docs, lang)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("language document %s/%s: %w", collection, lang, errdefs.ErrNotFound)
	}
	r.publish(collection, &ChangeEvent{Operation: OpDelete, DocumentID: lang})
	return nil
}

func (r *MemoryRepository) ListLanguages(_ context.Context, collection string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var langs []string
	for _, raw := range r.collections[collection] {
		if lang, ok := raw["lang"].(string); ok {
			langs = append(langs, lang)
		}
	}
	sort.Strings(langs)
	return langs, nil
}

func (r *MemoryRepository) ListCollections(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *MemoryRepository) CollectionExists(_ context.Context, name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.collections[name]
	return ok, nil
}

func (r *MemoryRepository) DeleteCollection(_ context.Context, name string) error {
	r.mu.Lock()
	delete(r.collections, name)
	r.mu.Unlock()

	r.publish(name, &ChangeEvent{Operation: OpDrop})
	return nil
}

func (r *MemoryRepository) AllDocuments(_ context.Context, collection string) (map[string]bson.M, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bson.M, len(r.collections[collection]))
	for id, raw := range r.collections[collection] {
		out[id] = cloneRaw(raw)
	}
	return out, nil
}

func (r *MemoryRepository) SampleDocuments(_ context.Context, collection string, limit int) (map[string]bson.M, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := r.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make(map[string]bson.M, len(ids))
	for _, id := range ids {
		out[id] = cloneRaw(docs[id])
	}
	return out, nil
}

func (r *MemoryRepository) CountDocuments(_ context.Context, collection string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.collections[collection])), nil
}

func (r *MemoryRepository) Watch(_ context.Context, collection string, _ bson.Raw) (ChangeFeed, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.watchErr != nil {
		return nil, r.watchErr
	}

	feed := &memoryChangeFeed{
		repo:       r,
		collection: collection,
		events:     make(chan *ChangeEvent, 64),
	}
	r.feeds[collection] = append(r.feeds[collection], feed)
	return feed, nil
}

func (r *MemoryRepository) Close(_ context.Context) error {
	r.mu.Lock()
	feeds := r.feeds
	r.feeds = map[string][]*memoryChangeFeed{}
	r.mu.Unlock()

	for _, list := range feeds {
		for _, feed := range list {
			feed.shut()
		}
	}
	return nil
}

// upsert stores a document and reports the operation kind. Caller holds the lock.
func (r *MemoryRepository) upsert(collection, id string, raw bson.M) string {
	docs, ok := r.collections[collection]
	if !ok {
		docs = map[string]bson.M{}
		r.collections[collection] = docs
	}
	op := OpInsert
	if _, exists := docs[id]; exists {
		op = OpReplace
	}
	docs[id] = raw
	return op
}

func (r *MemoryRepository) publish(collection string, event *ChangeEvent) {
	r.mu.RLock()
	feeds := append([]*memoryChangeFeed(nil), r.feeds[collection]...)
	r.mu.RUnlock()

	for _, feed := range feeds {
		feed.deliver(event)
	}
}

func (r *MemoryRepository) detach(feed *memoryChangeFeed) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.feeds[feed.collection]
	for i, f := range list {
		if f == feed {
			r.feeds[feed.collection] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// memoryChangeFeed delivers synthetic change events over a channel.
type memoryChangeFeed struct {
	repo       *MemoryRepository
	collection string
	events     chan *ChangeEvent
	closeOnce  sync.Once
}

func (f *memoryChangeFeed) Next(ctx context.Context) (*ChangeEvent, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case event, ok := <-f.events:
		if !ok {
			return nil, ErrFeedClosed
		}
		return event, nil
	}
}

func (f *memoryChangeFeed) Close(_ context.Context) error {
	f.repo.detach(f)
	f.shut()
	return nil
}

func (f *memoryChangeFeed) deliver(event *ChangeEvent) {
	defer func() {
		// Feed may have been shut concurrently; a missed event after close
		// is indistinguishable from a server-side stream end.
		_ = recover()
	}()
	select {
	case f.events <- event:
	default:
	}
}

func (f *memoryChangeFeed) shut() {
	f.closeOnce.Do(func() { close(f.events) })
}

func configFromRaw(raw bson.M) *ConfigDocument {
	doc := &ConfigDocument{ID: ConfigDocumentID}
	if name, ok := raw["name"].(string); ok {
		doc.Name = name
	}
	if data, ok := raw["data"].(bson.M); ok {
		doc.Data = cloneMap(map[string]any(data))
	} else if data, ok := raw["data"].(map[string]any); ok {
		doc.Data = cloneMap(data)
	}
	if ts, ok := raw["updatedAt"].(time.Time); ok {
		doc.UpdatedAt = ts
	}
	doc.ApplyDefaults()
	return doc
}

func languageFromRaw(raw bson.M) *LanguageDocument {
	doc := &LanguageDocument{}
	if lang, ok := raw["lang"].(string); ok {
		doc.Lang = lang
	}
	switch data := raw["data"].(type) {
	case bson.M:
		doc.Data = cloneMap(map[string]any(data))
	case map[string]any:
		doc.Data = cloneMap(data)
	default:
		// Messages may sit inline at the top level next to the reserved
		// fields. The change-apply path accepts that shape, so the reload
		// path has to as well.
		doc.Data = cloneMap(inlineData(raw))
	}
	switch ts := raw["updatedAt"].(type) {
	case time.Time:
		doc.UpdatedAt = ts
	case bson.DateTime:
		doc.UpdatedAt = ts.Time()
	}
	doc.ApplyDefaults()
	return doc
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch nested := v.(type) {
		case map[string]any:
			out[k] = cloneMap(nested)
		case bson.M:
			out[k] = cloneMap(map[string]any(nested))
		case []string:
			out[k] = append([]string(nil), nested...)
		case []any:
			out[k] = append([]any(nil), nested...)
		default:
			out[k] = v
		}
	}
	return out
}

func cloneRaw(raw bson.M) bson.M {
	return bson.M(cloneMap(map[string]any(raw)))
}
