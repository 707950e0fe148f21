package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrChangeStreamUnsupported reports that the backing store cannot serve a
// live change feed for this deployment (e.g. not running as a replica set).
// The watcher treats it as permanent for the session and falls back to
// polling.
var ErrChangeStreamUnsupported = errors.New("change stream not supported by backing store")

// ErrFeedClosed reports that the server ended the change feed cleanly.
var ErrFeedClosed = errors.New("change feed closed")

// Operation kinds delivered by a change feed.
const (
	OpInsert       = "insert"
	OpUpdate       = "update"
	OpReplace      = "replace"
	OpDelete       = "delete"
	OpDrop         = "drop"
	OpRename       = "rename"
	OpDropDatabase = "dropDatabase"
)

// ChangeEvent is one change-feed notification.
type ChangeEvent struct {
	Operation    string
	DocumentID   string
	FullDocument bson.M
	ResumeToken  bson.Raw
}

// ChangeFeed is a live stream of change events for one collection.
// Next blocks until an event arrives, the context is done, or the feed fails.
type ChangeFeed interface {
	Next(ctx context.Context) (*ChangeEvent, error)
	Close(ctx context.Context) error
}

// ConfigStore loads and saves per-collection configuration documents.
// Absent documents are reported via an error satisfying errdefs.IsNotFound.
type ConfigStore interface {
	GetConfig(ctx context.Context, collection string) (*ConfigDocument, error)
	SaveConfig(ctx context.Context, collection string, doc *ConfigDocument) error
}

// LanguageStore loads and saves per-language message documents.
type LanguageStore interface {
	GetLanguage(ctx context.Context, collection, lang string) (*LanguageDocument, error)
	SaveLanguage(ctx context.Context, collection string, doc *LanguageDocument) error
	ListLanguages(ctx context.Context, collection string) ([]string, error)
}

// Watcher exposes the raw-document surface the change feed watcher needs:
// bulk snapshots, counts, bounded samples and the live feed itself.
type Watcher interface {
	AllDocuments(ctx context.Context, collection string) (map[string]bson.M, error)
	CountDocuments(ctx context.Context, collection string) (int64, error)
	SampleDocuments(ctx context.Context, collection string, limit int) (map[string]bson.M, error)
	Watch(ctx context.Context, collection string, resumeAfter bson.Raw) (ChangeFeed, error)
}

// Repository abstracts persistence and change watching of the document store.
type Repository interface {
	ConfigStore
	LanguageStore
	Watcher
	ListCollections(ctx context.Context) ([]string, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error
	Close(ctx context.Context) error
}
