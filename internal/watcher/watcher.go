// Package watcher detects remote document changes for a watched collection
// and drives cache refresh. It prefers the backing store's live change feed
// and falls back to periodic polling when the feed is unsupported or keeps
// failing.
package watcher

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/lbeltrame/go_lingo/internal/logger"
	"github.com/lbeltrame/go_lingo/internal/repository"
)

// State of a watcher. There is one authoritative transition function
// (setState); no scattered boolean flags.
type State int

const (
	StateStopped State = iota
	StateInitialLoad
	StateStreaming
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateInitialLoad:
		return "initial-load"
	case StateStreaming:
		return "streaming"
	case StatePolling:
		return "polling"
	default:
		return "unknown"
	}
}

// Handler receives the changes a watcher detects. The consistency
// coordinator implements it.
type Handler interface {
	// ApplyChange routes a full updated document into the cache.
	ApplyChange(collection, docID string, doc bson.M)
	// RemoveDocument clears the cache slice of a deleted document.
	RemoveDocument(collection, docID string)
	// NotifyRefresh signals that cached data of the collection changed.
	NotifyRefresh(collection string)
	// ReloadCollection re-fetches the whole collection into the cache.
	ReloadCollection(ctx context.Context, collection string) error
}

// Options bounds the watcher's polling and reconnect behavior.
type Options struct {
	// StreamEnabled controls whether the live change feed is attempted at
	// all. When false the watcher goes straight to polling.
	StreamEnabled bool
	// PollInterval is the polling cadence. Default 3s.
	PollInterval time.Duration
	// SampleLimit bounds how many documents the polling comparator fetches
	// for content comparison. Default 20.
	SampleLimit int
	// RetryCount caps feed reconnect attempts before falling back to
	// polling. Default 5.
	RetryCount int
	// RetryDelay is the base reconnect backoff delay. Default 1s.
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.SampleLimit <= 0 {
		o.SampleLimit = 20
	}
	if o.RetryCount <= 0 {
		o.RetryCount = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	return o
}

// Watcher watches one collection. The snapshot, the document count and the
// resume token are owned by the single run goroutine, so the push-event
// handler and the polling comparator never run concurrently for the same
// collection.
type Watcher struct {
	collection string
	repo       repository.Watcher
	handler    Handler
	opts       Options

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	// run-goroutine private
	snapshot    map[string]bson.M
	count       int64
	resumeToken bson.Raw
}

// New creates a watcher for one collection. Call Start to run it.
func New(collection string, repo repository.Watcher, handler Handler, opts Options) *Watcher {
	return &Watcher{
		collection: collection,
		repo:       repo,
		handler:    handler,
		opts:       opts.withDefaults(),
		state:      StateStopped,
	}
}

// State returns the current watcher state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		logger.WithComponent("watcher").Debugf("collection %s: %s -> %s", w.collection, prev, s)
	}
}

// Start performs the initial bulk load and runs the watch loop in the
// background. Starting an already running watcher is an error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateStopped {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.state = StateInitialLoad
	w.mu.Unlock()

	go w.run(runCtx)
	return nil
}

// Stop cancels the feed subscription and all timers and transitions to
// Stopped. Idempotent; safe from any state.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer func() {
		w.setState(StateStopped)
		w.mu.Lock()
		if w.done != nil {
			close(w.done)
			w.done = nil
		}
		w.mu.Unlock()
	}()

	w.initialLoad(ctx)
	if ctx.Err() != nil {
		return
	}

	if w.opts.StreamEnabled {
		w.streamLoop(ctx)
	} else {
		w.setState(StatePolling)
	}
	if ctx.Err() != nil {
		return
	}

	// streamLoop only returns here after a permanent fallback; there is no
	// automatic return to streaming for this watcher's lifetime.
	w.pollLoop(ctx)
}

// initialLoad bulk-reads all documents into the local snapshot.
func (w *Watcher) initialLoad(ctx context.Context) {
	docs, err := w.repo.AllDocuments(ctx, w.collection)
	if err != nil {
		logger.WithComponent("watcher").Warnf("collection %s: initial load failed: %v", w.collection, err)
		docs = map[string]bson.M{}
	}
	w.snapshot = docs
	w.count = int64(len(docs))
	logger.WithComponent("watcher").Debugf("collection %s: initial load of %d documents", w.collection, w.count)
}

// streamLoop subscribes to the change feed and consumes events, reconnecting
// with backoff on errors. It returns when the context is done or when the
// watcher gives up on streaming and falls back to polling.
func (w *Watcher) streamLoop(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		feed, err := w.repo.Watch(ctx, w.collection, w.resumeToken)
		if err != nil {
			if errors.Is(err, repository.ErrChangeStreamUnsupported) {
				logger.WithComponent("watcher").Infof("collection %s: change feed unsupported, falling back to polling", w.collection)
				w.setState(StatePolling)
				return
			}
			attempt++
			if attempt > w.opts.RetryCount {
				logger.WithComponent("watcher").Warnf("collection %s: %d reconnect attempts exhausted, falling back to polling", w.collection, w.opts.RetryCount)
				w.setState(StatePolling)
				return
			}
			delay := backoffDelay(w.opts.RetryDelay, attempt)
			logger.WithComponent("watcher").Warnf("collection %s: feed subscribe failed (attempt %d): %v; retrying in %v", w.collection, attempt, err, delay)
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}

		w.setState(StateStreaming)
		err = w.consumeFeed(ctx, feed)
		_ = feed.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, repository.ErrChangeStreamUnsupported) {
			logger.WithComponent("watcher").Infof("collection %s: change feed unsupported mid-stream, falling back to polling", w.collection)
			w.setState(StatePolling)
			return
		}

		// Feed error or clean completion: both reschedule a reconnect.
		attempt++
		if attempt > w.opts.RetryCount {
			logger.WithComponent("watcher").Warnf("collection %s: feed kept failing, falling back to polling", w.collection)
			w.setState(StatePolling)
			return
		}
		delay := backoffDelay(w.opts.RetryDelay, attempt)
		logger.WithComponent("watcher").Warnf("collection %s: feed ended (%v); reconnecting in %v", w.collection, err, delay)
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// consumeFeed reads events until the feed fails, completes, or the context is
// done. A successfully delivered event proves the subscription is healthy.
func (w *Watcher) consumeFeed(ctx context.Context, feed repository.ChangeFeed) error {
	for {
		event, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		w.handleEvent(ctx, event)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event *repository.ChangeEvent) {
	if len(event.ResumeToken) > 0 {
		w.resumeToken = event.ResumeToken
	}

	switch event.Operation {
	case repository.OpInsert, repository.OpUpdate, repository.OpReplace:
		if event.FullDocument == nil {
			// Update without a full document lookup; reload the collection.
			w.reload(ctx)
			return
		}
		w.snapshot[event.DocumentID] = event.FullDocument
		w.count = int64(len(w.snapshot))
		w.handler.ApplyChange(w.collection, event.DocumentID, event.FullDocument)
		w.handler.NotifyRefresh(w.collection)

	case repository.OpDelete:
		delete(w.snapshot, event.DocumentID)
		w.count = int64(len(w.snapshot))
		w.handler.RemoveDocument(w.collection, event.DocumentID)
		w.handler.NotifyRefresh(w.collection)

	case repository.OpDrop, repository.OpRename, repository.OpDropDatabase:
		w.snapshot = map[string]bson.M{}
		w.count = 0
		w.reload(ctx)

	default:
		logger.WithComponent("watcher").Debugf("collection %s: ignoring %s event", w.collection, event.Operation)
	}
}

// pollLoop compares the store against the local snapshot on a fixed interval.
func (w *Watcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce checks the document count first; only when it is unchanged does it
// sample a bounded number of documents for a content comparison.
func (w *Watcher) pollOnce(ctx context.Context) {
	count, err := w.repo.CountDocuments(ctx, w.collection)
	if err != nil {
		logger.WithComponent("watcher").Warnf("collection %s: poll count failed: %v", w.collection, err)
		return
	}

	if count != w.count {
		logger.WithComponent("watcher").Debugf("collection %s: document count changed %d -> %d", w.collection, w.count, count)
		w.refreshSnapshot(ctx)
		w.reload(ctx)
		return
	}

	sample, err := w.repo.SampleDocuments(ctx, w.collection, w.opts.SampleLimit)
	if err != nil {
		logger.WithComponent("watcher").Warnf("collection %s: poll sample failed: %v", w.collection, err)
		return
	}

	for id, doc := range sample {
		if repository.AreDocumentsEqual(w.snapshot[id], doc) {
			continue
		}
		logger.WithComponent("watcher").Debugf("collection %s: document %s drifted", w.collection, id)
		w.refreshSnapshot(ctx)
		w.reload(ctx)
		return
	}
}

func (w *Watcher) refreshSnapshot(ctx context.Context) {
	docs, err := w.repo.AllDocuments(ctx, w.collection)
	if err != nil {
		logger.WithComponent("watcher").Warnf("collection %s: snapshot refresh failed: %v", w.collection, err)
		return
	}
	w.snapshot = docs
	w.count = int64(len(docs))
}

func (w *Watcher) reload(ctx context.Context) {
	if err := w.handler.ReloadCollection(ctx, w.collection); err != nil {
		logger.WithComponent("watcher").Errorf("collection %s: reload failed: %v", w.collection, err)
	}
}

// backoffDelay computes base × 2^min(attempt,10) with ±10% jitter.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	exp := attempt
	if exp > 10 {
		exp = 10
	}
	delay := base << uint(exp)
	jitter := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(delay) * jitter)
}

// sleepCtx waits for d or until ctx is done. Reports whether the full delay
// elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
