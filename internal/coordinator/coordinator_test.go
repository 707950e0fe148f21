package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lbeltrame/go_lingo/internal/cache"
	"github.com/lbeltrame/go_lingo/internal/repository"
)

func newTestCoordinator() (*Coordinator, *repository.MemoryRepository, *cache.Store) {
	repo := repository.NewMemoryRepository()
	store := cache.NewStore(cache.Options{})
	coord := New(repo, store, NewRegistry(), Options{SupportedLanguages: []string{"en"}})
	return coord, repo, store
}

func TestReloadCollection_CreatesMissingDocuments(t *testing.T) {
	coord, repo, store := newTestCoordinator()
	ctx := context.Background()

	if err := coord.ReloadCollection(ctx, "game1"); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if _, err := repo.GetConfig(ctx, "game1"); err != nil {
		t.Errorf("expected config document created: %v", err)
	}
	if _, err := repo.GetLanguage(ctx, "game1", "en"); err != nil {
		t.Errorf("expected en language document created: %v", err)
	}
	if !coord.Registry().Contains("game1") {
		t.Error("expected collection registered")
	}
	if got := store.GetConfig("game1", "anything", "def"); got != "def" {
		t.Errorf("empty collection should serve defaults, got %v", got)
	}
}

func TestReloadCollection_PopulatesCache(t *testing.T) {
	coord, repo, store := newTestCoordinator()
	ctx := context.Background()

	cfg := repository.NewConfigDocument("game1")
	cfg.Data = map[string]any{"max_players": 100, repository.LanguagesConfigKey: []string{"en", "de"}}
	if err := repo.SaveConfig(ctx, "game1", cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	en := repository.NewLanguageDocument("en")
	en.Data = map[string]any{"gui": map[string]any{"title": "Hello"}}
	if err := repo.SaveLanguage(ctx, "game1", en); err != nil {
		t.Fatalf("save language: %v", err)
	}

	if err := coord.ReloadCollection(ctx, "game1"); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if got := store.GetConfig("game1", "max_players", 0); got != 100 {
		t.Errorf("expected config cached, got %v", got)
	}
	if got := store.GetMessage("game1", "en", "gui.title", ""); got != "Hello" {
		t.Errorf("expected message cached, got %v", got)
	}
	// The de document was listed in the config's language set and must have
	// been created empty.
	if _, err := repo.GetLanguage(ctx, "game1", "de"); err != nil {
		t.Errorf("expected de language document created: %v", err)
	}

	langs := coord.Registry().Languages("game1")
	if len(langs) != 2 || langs[0] != "de" || langs[1] != "en" {
		t.Errorf("unexpected registered languages: %v", langs)
	}
}

func TestReloadAll_EmptyStoreIsFine(t *testing.T) {
	coord, _, _ := newTestCoordinator()

	if err := coord.ReloadAll(context.Background()); err != nil {
		t.Fatalf("reload all on empty store: %v", err)
	}
}

func TestReloadAll_ReloadsEveryCollection(t *testing.T) {
	coord, repo, store := newTestCoordinator()
	ctx := context.Background()

	for _, name := range []string{"c1", "c2", "c3"} {
		cfg := repository.NewConfigDocument(name)
		cfg.Data = map[string]any{"key": name}
		if err := repo.SaveConfig(ctx, name, cfg); err != nil {
			t.Fatalf("save config: %v", err)
		}
	}

	if err := coord.ReloadAll(ctx); err != nil {
		t.Fatalf("reload all: %v", err)
	}

	for _, name := range []string{"c1", "c2", "c3"} {
		if got := store.GetConfig(name, "key", ""); got != name {
			t.Errorf("collection %s not reloaded, got %v", name, got)
		}
	}
}

// failingRepo makes GetConfig fail for one collection.
type failingRepo struct {
	repository.Repository
	failFor string
}

func (r *failingRepo) GetConfig(ctx context.Context, collection string) (*repository.ConfigDocument, error) {
	if collection == r.failFor {
		return nil, errors.New("boom")
	}
	return r.Repository.GetConfig(ctx, collection)
}

func TestReloadAll_OneFailureDoesNotAbortOthers(t *testing.T) {
	mem := repository.NewMemoryRepository()
	ctx := context.Background()
	for _, name := range []string{"bad", "good"} {
		if err := mem.SaveConfig(ctx, name, repository.NewConfigDocument(name)); err != nil {
			t.Fatalf("save config: %v", err)
		}
	}

	store := cache.NewStore(cache.Options{})
	coord := New(&failingRepo{Repository: mem, failFor: "bad"}, store, NewRegistry(), Options{})

	if err := coord.ReloadAll(ctx); err != nil {
		t.Fatalf("reload all: %v", err)
	}

	if !store.HasCollection("good") {
		t.Error("expected good collection reloaded despite bad one failing")
	}
}

func TestInvalidateCollection_NotifiesListeners(t *testing.T) {
	coord, _, store := newTestCoordinator()
	store.PutConfigData("c1", map[string]any{"k": 1})

	var mu sync.Mutex
	var got []string
	coord.AddInvalidationListener(func(name string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, name)
	})

	coord.InvalidateCollection("c1")
	coord.InvalidateAll()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "c1" || got[1] != WildcardAll {
		t.Errorf("unexpected notifications: %v", got)
	}
	if store.GetConfig("c1", "k", nil) != nil {
		t.Error("expected cache cleared")
	}
}

func TestNotify_PanickingListenerDoesNotStopOthers(t *testing.T) {
	coord, _, _ := newTestCoordinator()

	var mu sync.Mutex
	called := 0
	coord.AddInvalidationListener(func(string) { panic("listener bug") })
	coord.AddInvalidationListener(func(string) {
		mu.Lock()
		defer mu.Unlock()
		called++
	})
	coord.AddInvalidationListener(func(string) {
		mu.Lock()
		defer mu.Unlock()
		called++
	})

	coord.InvalidateAll()

	mu.Lock()
	defer mu.Unlock()
	if called != 2 {
		t.Errorf("expected both healthy listeners called, got %d", called)
	}
}

func TestApplyChange_RoutesConfigDocument(t *testing.T) {
	coord, _, store := newTestCoordinator()

	coord.ApplyChange("game1", repository.ConfigDocumentID, bson.M{
		"_id":  repository.ConfigDocumentID,
		"name": "game1",
		"data": bson.M{"max_players": int64(64)},
	})

	if got := store.GetConfig("game1", "max_players", int64(0)); got != int64(64) {
		t.Errorf("expected 64, got %v", got)
	}
}

func TestApplyChange_RoutesLanguageDocument(t *testing.T) {
	coord, _, store := newTestCoordinator()

	coord.ApplyChange("c1", "en", bson.M{
		"_id":  "en",
		"lang": "en",
		"data": bson.M{"gui": bson.M{"title": "Hello"}},
	})

	if got := store.GetMessage("c1", "en", "gui.title", ""); got != "Hello" {
		t.Errorf("expected Hello, got %v", got)
	}
}

func TestApplyChange_LanguageDocumentWithInlineFields(t *testing.T) {
	coord, _, store := newTestCoordinator()

	coord.ApplyChange("c1", "en", bson.M{
		"_id":      "en",
		"lang":     "en",
		"greeting": "Hi",
	})

	if got := store.GetMessage("c1", "en", "greeting", ""); got != "Hi" {
		t.Errorf("expected Hi, got %v", got)
	}
}

func TestRemoveDocument_LanguageDeleteFallsBackToDefault(t *testing.T) {
	coord, _, store := newTestCoordinator()

	store.PutMessageData("c1", "en", map[string]any{"any.key": "value"})
	coord.RemoveDocument("c1", "en")

	if got := store.GetMessage("c1", "en", "any.key", "fallback"); got != "fallback" {
		t.Errorf("expected fallback after delete, got %v", got)
	}
}

func TestRemoveDocument_ConfigDeleteClearsConfigSlice(t *testing.T) {
	coord, _, store := newTestCoordinator()

	store.PutConfigData("c1", map[string]any{"k": 1})
	store.PutMessageData("c1", "en", map[string]any{"m": "v"})
	coord.RemoveDocument("c1", repository.ConfigDocumentID)

	if got := store.GetConfig("c1", "k", nil); got != nil {
		t.Errorf("expected config cleared, got %v", got)
	}
	if got := store.GetMessage("c1", "en", "m", ""); got != "v" {
		t.Errorf("expected messages untouched, got %v", got)
	}
}
