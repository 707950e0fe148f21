package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lbeltrame/go_lingo/internal/repository"
)

type recordingHandler struct {
	mu       sync.Mutex
	applied  []string
	removed  []string
	reloads  []string
	refreshs []string
}

func (h *recordingHandler) ApplyChange(collection, docID string, _ bson.M) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applied = append(h.applied, collection+"/"+docID)
}

func (h *recordingHandler) RemoveDocument(collection, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = append(h.removed, collection+"/"+docID)
}

func (h *recordingHandler) NotifyRefresh(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshs = append(h.refreshs, collection)
}

func (h *recordingHandler) ReloadCollection(_ context.Context, collection string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads = append(h.reloads, collection)
	return nil
}

func (h *recordingHandler) appliedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.applied)
}

func (h *recordingHandler) removedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.removed)
}

func (h *recordingHandler) reloadCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.reloads)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func streamingOpts() Options {
	return Options{
		StreamEnabled: true,
		PollInterval:  10 * time.Millisecond,
		RetryCount:    2,
		RetryDelay:    time.Millisecond,
	}
}

func TestWatcher_StartStreams(t *testing.T) {
	repo := repository.NewMemoryRepository()
	handler := &recordingHandler{}
	w := New("c1", repo, handler, streamingOpts())

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "streaming state", func() bool { return w.State() == StateStreaming })
}

func TestWatcher_StreamAppliesChanges(t *testing.T) {
	repo := repository.NewMemoryRepository()
	handler := &recordingHandler{}
	w := New("c1", repo, handler, streamingOpts())

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()
	waitFor(t, "streaming state", func() bool { return w.State() == StateStreaming })

	doc := repository.NewLanguageDocument("en")
	doc.Data = map[string]any{"greeting": "Hello"}
	if err := repo.SaveLanguage(context.Background(), "c1", doc); err != nil {
		t.Fatalf("save language: %v", err)
	}

	waitFor(t, "apply call", func() bool { return handler.appliedCount() == 1 })

	handler.mu.Lock()
	got := handler.applied[0]
	handler.mu.Unlock()
	if got != "c1/en" {
		t.Errorf("expected c1/en applied, got %s", got)
	}
}

func TestWatcher_StreamRemovesDeletedDocuments(t *testing.T) {
	repo := repository.NewMemoryRepository()
	if err := repo.SaveLanguage(context.Background(), "c1", repository.NewLanguageDocument("en")); err != nil {
		t.Fatalf("save language: %v", err)
	}

	handler := &recordingHandler{}
	w := New("c1", repo, handler, streamingOpts())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()
	waitFor(t, "streaming state", func() bool { return w.State() == StateStreaming })

	if err := repo.DeleteLanguage(context.Background(), "c1", "en"); err != nil {
		t.Fatalf("delete language: %v", err)
	}

	waitFor(t, "remove call", func() bool { return handler.removedCount() == 1 })
}

func TestWatcher_DropTriggersReload(t *testing.T) {
	repo := repository.NewMemoryRepository()
	handler := &recordingHandler{}
	w := New("c1", repo, handler, streamingOpts())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()
	waitFor(t, "streaming state", func() bool { return w.State() == StateStreaming })

	if err := repo.DeleteCollection(context.Background(), "c1"); err != nil {
		t.Fatalf("drop collection: %v", err)
	}

	waitFor(t, "reload call", func() bool { return handler.reloadCount() >= 1 })
}

func TestWatcher_UnsupportedFeedFallsBackToPolling(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SetWatchError(repository.ErrChangeStreamUnsupported)

	handler := &recordingHandler{}
	w := New("c1", repo, handler, streamingOpts())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "polling state", func() bool { return w.State() == StatePolling })

	// A document-count change must now be detected by the poll comparator.
	if err := repo.SaveConfig(context.Background(), "c1", repository.NewConfigDocument("c1")); err != nil {
		t.Fatalf("save config: %v", err)
	}
	waitFor(t, "poll-triggered reload", func() bool { return handler.reloadCount() >= 1 })
}

func TestWatcher_RetriesExhaustedFallsBackToPolling(t *testing.T) {
	repo := repository.NewMemoryRepository()
	repo.SetWatchError(errors.New("transient network error"))

	handler := &recordingHandler{}
	w := New("c1", repo, handler, streamingOpts())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	waitFor(t, "polling state after retries", func() bool { return w.State() == StatePolling })
}

func TestWatcher_PollingDetectsContentDrift(t *testing.T) {
	repo := repository.NewMemoryRepository()
	cfg := repository.NewConfigDocument("c1")
	cfg.Data = map[string]any{"max_players": 10}
	if err := repo.SaveConfig(context.Background(), "c1", cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	handler := &recordingHandler{}
	w := New("c1", repo, handler, Options{
		StreamEnabled: false,
		PollInterval:  10 * time.Millisecond,
	})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()
	waitFor(t, "polling state", func() bool { return w.State() == StatePolling })

	// Same document count, different content.
	cfg.Data = map[string]any{"max_players": 20}
	if err := repo.SaveConfig(context.Background(), "c1", cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	waitFor(t, "drift-triggered reload", func() bool { return handler.reloadCount() >= 1 })
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	repo := repository.NewMemoryRepository()
	w := New("c1", repo, &recordingHandler{}, streamingOpts())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	w.Stop()
	w.Stop()

	if w.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", w.State())
	}
}

func TestWatcher_DoubleStartFails(t *testing.T) {
	repo := repository.NewMemoryRepository()
	w := New("c1", repo, &recordingHandler{}, streamingOpts())
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(context.Background()); err == nil {
		t.Error("expected second start to fail")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 1; attempt <= 12; attempt++ {
		delay := backoffDelay(base, attempt)
		exp := attempt
		if exp > 10 {
			exp = 10
		}
		nominal := base << uint(exp)
		min := time.Duration(float64(nominal) * 0.9)
		max := time.Duration(float64(nominal) * 1.1)
		if delay < min || delay > max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, delay, min, max)
		}
	}
}
