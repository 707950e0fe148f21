package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/containerd/errdefs"
	"go.mongodb.org/mongo-driver/v2/bson"
)

func TestMemoryRepository_ConfigRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.GetConfig(ctx, "c1"); !errdefs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}

	doc := NewConfigDocument("c1")
	doc.Data = map[string]any{"max_players": 100}
	if err := repo.SaveConfig(ctx, "c1", doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := repo.GetConfig(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Name != "c1" || loaded.Data["max_players"] != 100 {
		t.Errorf("unexpected document: %#v", loaded)
	}
}

func TestMemoryRepository_LanguageRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	doc := NewLanguageDocument("en")
	doc.Data = map[string]any{"greeting": "Hello"}
	if err := repo.SaveLanguage(ctx, "c1", doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := repo.GetLanguage(ctx, "c1", "en")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Lang != "en" || loaded.Data["greeting"] != "Hello" {
		t.Errorf("unexpected document: %#v", loaded)
	}

	langs, err := repo.ListLanguages(ctx, "c1")
	if err != nil {
		t.Fatalf("list languages: %v", err)
	}
	if len(langs) != 1 || langs[0] != "en" {
		t.Errorf("unexpected languages: %v", langs)
	}
}

func TestLanguageFromRaw_InlineFields(t *testing.T) {
	raw := bson.M{
		"_id":       "en",
		"lang":      "en",
		"greeting":  "Hello",
		"gui":       bson.M{"title": "My App"},
		"updatedAt": bson.NewDateTimeFromTime(time.Now()),
	}

	doc := languageFromRaw(raw)
	if doc.Lang != "en" {
		t.Fatalf("unexpected lang: %q", doc.Lang)
	}
	if doc.Data["greeting"] != "Hello" {
		t.Errorf("expected inline field in data, got %#v", doc.Data)
	}
	if nested, ok := doc.Data["gui"].(map[string]any); !ok || nested["title"] != "My App" {
		t.Errorf("expected nested inline field in data, got %#v", doc.Data)
	}
	if _, ok := doc.Data["lang"]; ok {
		t.Errorf("reserved field leaked into data: %#v", doc.Data)
	}
	if doc.UpdatedAt.IsZero() {
		t.Error("expected updatedAt to be decoded")
	}
}

func TestLanguageFromRaw_DataFieldWins(t *testing.T) {
	raw := bson.M{
		"_id":      "en",
		"lang":     "en",
		"data":     bson.M{"greeting": "Hello"},
		"farewell": "Bye",
	}

	doc := languageFromRaw(raw)
	if doc.Data["greeting"] != "Hello" {
		t.Errorf("expected data field content, got %#v", doc.Data)
	}
	if _, ok := doc.Data["farewell"]; ok {
		t.Errorf("top-level field must not override data, got %#v", doc.Data)
	}
}

func TestMemoryRepository_CollectionListing(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, name := range []string{"b", "a"} {
		if err := repo.SaveConfig(ctx, name, NewConfigDocument(name)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	names, err := repo.ListCollections(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected sorted names, got %v", names)
	}

	exists, err := repo.CollectionExists(ctx, "a")
	if err != nil || !exists {
		t.Errorf("expected a to exist, got %v/%v", exists, err)
	}

	if err := repo.DeleteCollection(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, _ = repo.CollectionExists(ctx, "a")
	if exists {
		t.Error("expected a to be gone")
	}
}

func TestMemoryRepository_CountAndSample(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.SaveConfig(ctx, "c1", NewConfigDocument("c1")); err != nil {
		t.Fatalf("save config: %v", err)
	}
	for _, lang := range []string{"en", "de", "fr"} {
		if err := repo.SaveLanguage(ctx, "c1", NewLanguageDocument(lang)); err != nil {
			t.Fatalf("save language: %v", err)
		}
	}

	count, err := repo.CountDocuments(ctx, "c1")
	if err != nil || count != 4 {
		t.Errorf("expected 4 documents, got %d (%v)", count, err)
	}

	sample, err := repo.SampleDocuments(ctx, "c1", 2)
	if err != nil || len(sample) != 2 {
		t.Errorf("expected sample of 2, got %d (%v)", len(sample), err)
	}

	all, err := repo.AllDocuments(ctx, "c1")
	if err != nil || len(all) != 4 {
		t.Errorf("expected all 4, got %d (%v)", len(all), err)
	}
}

func TestMemoryRepository_FeedDeliversEvents(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	feed, err := repo.Watch(ctx, "c1", nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer feed.Close(ctx)

	if err := repo.SaveLanguage(ctx, "c1", NewLanguageDocument("en")); err != nil {
		t.Fatalf("save: %v", err)
	}

	nextCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	event, err := feed.Next(nextCtx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if event.Operation != OpInsert || event.DocumentID != "en" {
		t.Errorf("unexpected event: %+v", event)
	}
}

func TestMemoryRepository_FeedClosedOnRepositoryClose(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	feed, err := repo.Watch(ctx, "c1", nil)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := repo.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := feed.Next(ctx); !errors.Is(err, ErrFeedClosed) {
		t.Errorf("expected ErrFeedClosed, got %v", err)
	}
}

func TestMemoryRepository_WatchError(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetWatchError(ErrChangeStreamUnsupported)

	_, err := repo.Watch(context.Background(), "c1", nil)
	if !errors.Is(err, ErrChangeStreamUnsupported) {
		t.Errorf("expected ErrChangeStreamUnsupported, got %v", err)
	}
}

func TestConfigDocument_SupportedLanguages(t *testing.T) {
	doc := NewConfigDocument("c1")
	doc.Data = map[string]any{LanguagesConfigKey: []any{"en", "de", 7}}

	langs := doc.SupportedLanguages()
	if len(langs) != 2 || langs[0] != "en" || langs[1] != "de" {
		t.Errorf("unexpected languages: %v", langs)
	}

	doc.Data = map[string]any{}
	if langs := doc.SupportedLanguages(); len(langs) != 0 {
		t.Errorf("expected empty, got %v", langs)
	}
}

func TestAreDocumentsEqual_IgnoresID(t *testing.T) {
	a := bson.M{"_id": "x", "data": bson.M{"k": "v"}}
	b := bson.M{"_id": "y", "data": bson.M{"k": "v"}}
	c := bson.M{"_id": "x", "data": bson.M{"k": "other"}}

	if !AreDocumentsEqual(a, b) {
		t.Error("documents differing only in _id should be equal")
	}
	if AreDocumentsEqual(a, c) {
		t.Error("documents with different data should not be equal")
	}
	if !AreDocumentsEqual(nil, bson.M{}) {
		t.Error("nil and empty should be equal")
	}
}

func TestDocumentID(t *testing.T) {
	if got := documentID("config"); got != "config" {
		t.Errorf("string id: %q", got)
	}
	oid := bson.NewObjectID()
	if got := documentID(oid); got != oid.Hex() {
		t.Errorf("object id: %q", got)
	}
	if got := documentID(nil); got != "" {
		t.Errorf("nil id: %q", got)
	}
}

func TestIsChangeStreamUnsupported(t *testing.T) {
	if !isChangeStreamUnsupported(errors.New("The $changeStream stage is only supported on replica sets")) {
		t.Error("expected replica-set message to be recognized")
	}
	if isChangeStreamUnsupported(errors.New("network timeout")) {
		t.Error("generic error misclassified")
	}
}

func TestNewFromConfig_Memory(t *testing.T) {
	repo, err := NewFromConfig(context.Background(), BackendMemory, MongoOptions{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if _, ok := repo.(*MemoryRepository); !ok {
		t.Errorf("expected memory repository, got %T", repo)
	}
}

func TestNewFromConfig_Unknown(t *testing.T) {
	if _, err := NewFromConfig(context.Background(), "postgres", MongoOptions{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
