package cache

// Reader is the minimal cache API for lookup paths.
type Reader interface {
	GetConfig(collection, key string, def any) any
	GetMessage(collection, lang, key string, def any) any
}

// Writer is the cache API needed by the consistency coordinator: atomic
// slice replacement plus invalidation.
type Writer interface {
	PutConfigData(collection string, data map[string]any)
	PutMessageData(collection, lang string, data map[string]any)
	ReplaceConfigData(collection string, data map[string]any)
	ReplaceLanguageData(collection, lang string, data map[string]any)
	InvalidateCollection(collection string)
	InvalidateLanguage(collection, lang string)
	InvalidateAll()
}

// StatsProvider exposes cache counters for the stats endpoint.
type StatsProvider interface {
	Stats() Stats
}

// AppStore is the cache contract the application container exposes.
// It is intentionally broad: it supports the facade, the coordinator and the
// stats reporting.
type AppStore interface {
	Reader
	Writer
	StatsProvider
	HasCollection(collection string) bool
	Len() int
}
