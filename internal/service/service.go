// Package service is the facade the API layer and embedding hosts talk to:
// typed config lookups, localized message lookups with placeholder
// substitution, and collection lifecycle operations.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/lbeltrame/go_lingo/internal/cache"
	"github.com/lbeltrame/go_lingo/internal/coordinator"
	"github.com/lbeltrame/go_lingo/internal/keypath"
	"github.com/lbeltrame/go_lingo/internal/logger"
	"github.com/lbeltrame/go_lingo/internal/repository"
)

// ErrUnsupportedLanguage is returned when a message is written for a language
// outside the configured supported set. One of the few caller-visible
// failures.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Options configures the language facade.
type Options struct {
	DefaultLanguage    string
	SupportedLanguages []string
	// DisplayNames maps language codes to human-readable names.
	DisplayNames map[string]string
}

// LangService mediates between callers, the cache store, the coordinator and
// the repository. Reads are served from cache; writes go through the
// repository first and then update the cache.
type LangService struct {
	repo  repository.Repository
	store cache.AppStore
	coord *coordinator.Coordinator

	defaultLang  string
	supported    mapset.Set[string]
	displayNames map[string]string
}

// New creates the facade.
func New(repo repository.Repository, store cache.AppStore, coord *coordinator.Coordinator, opts Options) *LangService {
	supported := mapset.NewSet[string]()
	supported.Append(opts.SupportedLanguages...)
	if opts.DefaultLanguage != "" {
		supported.Add(opts.DefaultLanguage)
	}
	return &LangService{
		repo:         repo,
		store:        store,
		coord:        coord,
		defaultLang:  opts.DefaultLanguage,
		supported:    supported,
		displayNames: opts.DisplayNames,
	}
}

// GetConfig returns a raw cached config value or def.
func (s *LangService) GetConfig(collection, key string, def any) any {
	return s.store.GetConfig(collection, key, def)
}

// GetString returns a config value as string.
func (s *LangService) GetString(collection, key, def string) string {
	return asString(s.store.GetConfig(collection, key, nil), def)
}

// GetInt returns a config value as int64, accepting any numeric encoding the
// document layer may have produced.
func (s *LangService) GetInt(collection, key string, def int64) int64 {
	switch v := s.store.GetConfig(collection, key, nil).(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return def
	}
}

// GetBool returns a config value as bool.
func (s *LangService) GetBool(collection, key string, def bool) bool {
	if v, ok := s.store.GetConfig(collection, key, nil).(bool); ok {
		return v
	}
	return def
}

// GetFloat returns a config value as float64.
func (s *LangService) GetFloat(collection, key string, def float64) float64 {
	switch v := s.store.GetConfig(collection, key, nil).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// GetStringSlice returns a config value as an ordered string list.
func (s *LangService) GetStringSlice(collection, key string, def []string) []string {
	if v, ok := s.store.GetConfig(collection, key, nil).([]string); ok {
		return v
	}
	return def
}

// SetConfig persists one config value under a dotted key and updates the
// cache atomically.
func (s *LangService) SetConfig(ctx context.Context, collection, key string, value any) error {
	doc, err := s.repo.GetConfig(ctx, collection)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("set config %s/%s: %w", collection, key, err)
		}
		doc = repository.NewConfigDocument(collection)
	}

	flat := keypath.Flatten("", doc.Data)
	flat[key] = value
	doc.Data = keypath.Unflatten(flat)

	if err := s.repo.SaveConfig(ctx, collection, doc); err != nil {
		return fmt.Errorf("set config %s/%s: %w", collection, key, err)
	}
	s.store.ReplaceConfigData(collection, doc.Data)
	s.coord.Registry().Register(collection)
	return nil
}

// GetMessage returns a localized message. Lookup order: requested language,
// default language, then def. Placeholders are name,value pairs substituted
// on {name} tokens.
func (s *LangService) GetMessage(collection, lang, key, def string, placeholders ...string) string {
	value := s.store.GetMessage(collection, lang, key, nil)
	if value == nil && lang != s.defaultLang && s.defaultLang != "" {
		value = s.store.GetMessage(collection, s.defaultLang, key, nil)
	}
	return substitute(asString(value, def), placeholders)
}

// GetMessageList returns a localized message list with placeholder
// substitution applied to every line.
func (s *LangService) GetMessageList(collection, lang, key string, def []string, placeholders ...string) []string {
	value := s.store.GetMessage(collection, lang, key, nil)
	if value == nil && lang != s.defaultLang && s.defaultLang != "" {
		value = s.store.GetMessage(collection, s.defaultLang, key, nil)
	}
	lines, ok := value.([]string)
	if !ok {
		lines = def
	}
	if len(placeholders) < 2 {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = substitute(line, placeholders)
	}
	return out
}

// SetMessage persists one message under a dotted key for a language and
// updates the cache. The language must belong to the supported set.
func (s *LangService) SetMessage(ctx context.Context, collection, lang, key string, value any) error {
	if !s.supported.Contains(lang) {
		return fmt.Errorf("set message %s/%s/%s: %w", collection, lang, key, ErrUnsupportedLanguage)
	}

	doc, err := s.repo.GetLanguage(ctx, collection, lang)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("set message %s/%s/%s: %w", collection, lang, key, err)
		}
		doc = repository.NewLanguageDocument(lang)
	}

	flat := keypath.Flatten("", doc.Data)
	flat[key] = value
	doc.Data = keypath.Unflatten(flat)

	if err := s.repo.SaveLanguage(ctx, collection, doc); err != nil {
		return fmt.Errorf("set message %s/%s/%s: %w", collection, lang, key, err)
	}
	s.store.ReplaceLanguageData(collection, lang, doc.Data)
	s.coord.Registry().Register(collection, lang)
	return nil
}

// CreateCollection provisions a collection: a config document carrying the
// language list and one empty document per language. Already existing
// documents are left alone.
func (s *LangService) CreateCollection(ctx context.Context, name string, languages []string) error {
	if name == "" {
		return errors.New("collection name is required")
	}
	if len(languages) == 0 {
		languages = s.supported.ToSlice()
	}
	for _, lang := range languages {
		if !s.supported.Contains(lang) {
			return fmt.Errorf("create collection %s: language %s: %w", name, lang, ErrUnsupportedLanguage)
		}
	}

	cfg, err := s.repo.GetConfig(ctx, name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		cfg = repository.NewConfigDocument(name)
	}
	cfg.Data[repository.LanguagesConfigKey] = append([]string(nil), languages...)
	if err := s.repo.SaveConfig(ctx, name, cfg); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	for _, lang := range languages {
		if _, err := s.repo.GetLanguage(ctx, name, lang); err == nil {
			continue
		} else if !errdefs.IsNotFound(err) {
			return fmt.Errorf("create collection %s/%s: %w", name, lang, err)
		}
		if err := s.repo.SaveLanguage(ctx, name, repository.NewLanguageDocument(lang)); err != nil {
			return fmt.Errorf("create collection %s/%s: %w", name, lang, err)
		}
	}

	s.coord.Registry().Register(name, languages...)
	return s.coord.ReloadCollection(ctx, name)
}

// ReloadCollection re-fetches one collection into the cache.
func (s *LangService) ReloadCollection(ctx context.Context, name string) error {
	return s.coord.ReloadCollection(ctx, name)
}

// ReloadAll re-fetches every known collection into the cache.
func (s *LangService) ReloadAll(ctx context.Context) error {
	return s.coord.ReloadAll(ctx)
}

// InvalidateCollection clears one collection's cached entries.
func (s *LangService) InvalidateCollection(name string) {
	s.coord.InvalidateCollection(name)
}

// InvalidateAll clears the whole cache.
func (s *LangService) InvalidateAll() {
	s.coord.InvalidateAll()
}

// Stats returns the cache counters.
func (s *LangService) Stats() cache.Stats {
	return s.store.Stats()
}

// Collections returns the known collection names.
func (s *LangService) Collections() []string {
	return s.coord.Registry().Collections()
}

// DefaultLanguage returns the configured default language code.
func (s *LangService) DefaultLanguage() string {
	return s.defaultLang
}

// DisplayName returns the human-readable name of a language code, falling
// back to the code itself.
func (s *LangService) DisplayName(lang string) string {
	if name, ok := s.displayNames[lang]; ok {
		return name
	}
	return lang
}

// substitute applies name,value placeholder pairs on {name} tokens. An odd
// trailing element is ignored.
func substitute(message string, placeholders []string) string {
	if message == "" || len(placeholders) < 2 {
		return message
	}
	pairs := make([]string, 0, len(placeholders))
	for i := 0; i+1 < len(placeholders); i += 2 {
		pairs = append(pairs, "{"+placeholders[i]+"}", placeholders[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(message)
}

func asString(value any, def string) string {
	switch v := value.(type) {
	case nil:
		return def
	case string:
		return v
	default:
		logger.WithComponent("service").Debugf("coercing %T message value to string", value)
		return fmt.Sprintf("%v", v)
	}
}
