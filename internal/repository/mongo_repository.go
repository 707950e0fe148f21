package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lbeltrame/go_lingo/internal/logger"
)

// Error code MongoDB returns when $changeStream runs outside a replica set.
const codeChangeStreamUnsupported = 40573

// MongoOptions carries the connection settings for the Mongo backend.
type MongoOptions struct {
	URI              string
	Database         string
	MaxPoolSize      uint64
	MinPoolSize      uint64
	ConnectTimeout   time.Duration
	SocketTimeout    time.Duration
	SelectionTimeout time.Duration
}

// MongoRepository persists config and language documents in MongoDB, one
// Mongo collection per store collection.
type MongoRepository struct {
	client    *mongo.Client
	db        *mongo.Database
	validator *validator.Validate
}

// NewMongoRepository connects to MongoDB and returns the repository.
func NewMongoRepository(ctx context.Context, opts MongoOptions) (*MongoRepository, error) {
	if opts.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo database name is required")
	}

	clientOpts := options.Client().ApplyURI(opts.URI)
	if opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(opts.MinPoolSize)
	}
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.SocketTimeout > 0 {
		clientOpts.SetTimeout(opts.SocketTimeout)
	}
	if opts.SelectionTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(opts.SelectionTimeout)
	}

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoRepository{
		client:    client,
		db:        client.Database(opts.Database),
		validator: validator.New(),
	}, nil
}

// GetConfig locates the config document of a collection. It tries three
// lookup strategies in order: the reserved identifier, the collection name
// field, and finally any document lacking a language field.
func (r *MongoRepository) GetConfig(ctx context.Context, collection string) (*ConfigDocument, error) {
	filters := []bson.M{
		{"_id": ConfigDocumentID},
		{"name": collection},
		{"lang": bson.M{"$exists": false}},
	}

	for _, filter := range filters {
		var doc ConfigDocument
		err := r.db.Collection(collection).FindOne(ctx, filter).Decode(&doc)
		if err == nil {
			doc.ApplyDefaults()
			if doc.Name == "" {
				doc.Name = collection
			}
			return &doc, nil
		}
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if isShutdownError(err) {
			logger.WithComponent("mongo-repo").Debugf("config lookup for %s raced shutdown: %v", collection, err)
			return nil, fmt.Errorf("config document for %s: %w", collection, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("find config document for %s: %w", collection, err)
	}

	return nil, fmt.Errorf("config document for %s: %w", collection, errdefs.ErrNotFound)
}

// SaveConfig upserts the config document of a collection.
func (r *MongoRepository) SaveConfig(ctx context.Context, collection string, doc *ConfigDocument) error {
	if doc == nil {
		return errors.New("config document is nil")
	}
	doc.ID = ConfigDocumentID
	if doc.Name == "" {
		doc.Name = collection
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := r.validator.Struct(doc); err != nil {
		return fmt.Errorf("validate config document: %w", err)
	}

	_, err := r.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": ConfigDocumentID}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save config document for %s: %w", collection, err)
	}
	return nil
}

// GetLanguage loads one language document. Language documents use their
// language code as _id, so delete events can be attributed without a
// full document at hand.
func (r *MongoRepository) GetLanguage(ctx context.Context, collection, lang string) (*LanguageDocument, error) {
	// Decoded raw so documents carrying their messages inline, instead of
	// under "data", keep them.
	var raw bson.M
	err := r.db.Collection(collection).FindOne(ctx, bson.M{"lang": lang}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) || isShutdownError(err) {
			return nil, fmt.Errorf("language document %s/%s: %w", collection, lang, errdefs.ErrNotFound)
		}
		return nil, fmt.Errorf("find language document %s/%s: %w", collection, lang, err)
	}
	return languageFromRaw(raw), nil
}

// SaveLanguage upserts one language document.
func (r *MongoRepository) SaveLanguage(ctx context.Context, collection string, doc *LanguageDocument) error {
	if doc == nil {
		return errors.New("language document is nil")
	}
	doc.UpdatedAt = time.Now().UTC()
	if err := r.validator.Struct(doc); err != nil {
		return fmt.Errorf("validate language document: %w", err)
	}

	_, err := r.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": doc.Lang}, doc,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save language document %s/%s: %w", collection, doc.Lang, err)
	}
	return nil
}

// ListLanguages returns the language codes present in a collection.
func (r *MongoRepository) ListLanguages(ctx context.Context, collection string) ([]string, error) {
	var langs []string
	err := r.db.Collection(collection).
		Distinct(ctx, "lang", bson.M{"lang": bson.M{"$exists": true}}).
		Decode(&langs)
	if err != nil {
		if isShutdownError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list languages for %s: %w", collection, err)
	}
	return langs, nil
}

// ListCollections returns every collection name in the database.
func (r *MongoRepository) ListCollections(ctx context.Context) ([]string, error) {
	names, err := r.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		if isShutdownError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return names, nil
}

// CollectionExists reports whether a collection is present in the database.
func (r *MongoRepository) CollectionExists(ctx context.Context, name string) (bool, error) {
	names, err := r.db.ListCollectionNames(ctx, bson.M{"name": name})
	if err != nil {
		if isShutdownError(err) {
			return false, nil
		}
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	return len(names) > 0, nil
}

// DeleteCollection drops a collection and all of its documents.
func (r *MongoRepository) DeleteCollection(ctx context.Context, name string) error {
	if err := r.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// AllDocuments loads every document of a collection keyed by identifier.
func (r *MongoRepository) AllDocuments(ctx context.Context, collection string) (map[string]bson.M, error) {
	return r.findDocuments(ctx, collection, 0)
}

// SampleDocuments loads up to limit documents of a collection, keyed by
// identifier. Used by the polling comparator to spot content drift.
func (r *MongoRepository) SampleDocuments(ctx context.Context, collection string, limit int) (map[string]bson.M, error) {
	return r.findDocuments(ctx, collection, int64(limit))
}

func (r *MongoRepository) findDocuments(ctx context.Context, collection string, limit int64) (map[string]bson.M, error) {
	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(limit)
	}
	cursor, err := r.db.Collection(collection).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		if isShutdownError(err) {
			return map[string]bson.M{}, nil
		}
		return nil, fmt.Errorf("find documents in %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	docs := map[string]bson.M{}
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			logger.WithComponent("mongo-repo").Warnf("skipping undecodable document in %s: %v", collection, err)
			continue
		}
		docs[documentID(doc["_id"])] = doc
	}
	if err := cursor.Err(); err != nil && !isShutdownError(err) {
		return nil, fmt.Errorf("iterate documents in %s: %w", collection, err)
	}
	return docs, nil
}

// CountDocuments returns the number of documents in a collection.
func (r *MongoRepository) CountDocuments(ctx context.Context, collection string) (int64, error) {
	count, err := r.db.Collection(collection).CountDocuments(ctx, bson.M{})
	if err != nil {
		if isShutdownError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("count documents in %s: %w", collection, err)
	}
	return count, nil
}

// Watch opens a change stream on a collection. An unsupported-stream error
// (standalone deployment) is reported as ErrChangeStreamUnsupported.
func (r *MongoRepository) Watch(ctx context.Context, collection string, resumeAfter bson.Raw) (ChangeFeed, error) {
	streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if len(resumeAfter) > 0 {
		streamOpts.SetResumeAfter(resumeAfter)
	}

	stream, err := r.db.Collection(collection).Watch(ctx, mongo.Pipeline{}, streamOpts)
	if err != nil {
		if isChangeStreamUnsupported(err) {
			return nil, fmt.Errorf("watch %s: %w", collection, ErrChangeStreamUnsupported)
		}
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}
	return &mongoChangeFeed{stream: stream}, nil
}

// Close disconnects the underlying client.
func (r *MongoRepository) Close(ctx context.Context) error {
	if err := r.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}

// mongoChangeFeed adapts a mongo change stream to the ChangeFeed interface.
type mongoChangeFeed struct {
	stream *mongo.ChangeStream
}

type streamEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument bson.M `bson:"fullDocument"`
}

func (f *mongoChangeFeed) Next(ctx context.Context) (*ChangeEvent, error) {
	if !f.stream.Next(ctx) {
		if err := f.stream.Err(); err != nil {
			if isChangeStreamUnsupported(err) {
				return nil, ErrChangeStreamUnsupported
			}
			return nil, err
		}
		return nil, ErrFeedClosed
	}

	var event streamEvent
	if err := f.stream.Decode(&event); err != nil {
		return nil, fmt.Errorf("decode change event: %w", err)
	}

	return &ChangeEvent{
		Operation:    event.OperationType,
		DocumentID:   documentID(event.DocumentKey.ID),
		FullDocument: event.FullDocument,
		ResumeToken:  f.stream.ResumeToken(),
	}, nil
}

func (f *mongoChangeFeed) Close(ctx context.Context) error {
	return f.stream.Close(ctx)
}

// documentID renders a document identifier as a string.
func documentID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case bson.ObjectID:
		return v.Hex()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// isChangeStreamUnsupported recognizes the server rejecting $changeStream,
// which happens when MongoDB runs without a replica set.
func isChangeStreamUnsupported(err error) bool {
	if err == nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeChangeStreamUnsupported {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "replica set") || strings.Contains(msg, "$changestream")
}

// isShutdownError recognizes operations racing a connection close. These are
// benign during shutdown and reported as empty results, not failures.
func isShutdownError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "client is disconnected") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "context canceled")
}
