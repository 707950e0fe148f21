package repository

import (
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ConfigDocumentID is the reserved _id of the single configuration document
// inside every collection. All other documents in a collection are language
// documents.
const ConfigDocumentID = "config"

// LanguagesConfigKey is the reserved config key holding the list of language
// codes a collection is expected to carry.
const LanguagesConfigKey = "languages"

// ConfigDocument is the single per-collection configuration document.
type ConfigDocument struct {
	ID        string         `bson:"_id" json:"id"`
	Name      string         `bson:"name" json:"name" validate:"required"`
	Data      map[string]any `bson:"data" json:"data"`
	UpdatedAt time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// LanguageDocument holds the localized messages of one (collection, language)
// pair. The language code doubles as the document identity.
type LanguageDocument struct {
	Lang      string         `bson:"lang" json:"lang" validate:"required"`
	Data      map[string]any `bson:"data" json:"data"`
	UpdatedAt time.Time      `bson:"updatedAt" json:"updatedAt"`
}

// NewConfigDocument creates an empty config document for a collection.
func NewConfigDocument(collection string) *ConfigDocument {
	return &ConfigDocument{
		ID:        ConfigDocumentID,
		Name:      collection,
		Data:      map[string]any{},
		UpdatedAt: time.Now().UTC(),
	}
}

// NewLanguageDocument creates an empty language document.
func NewLanguageDocument(lang string) *LanguageDocument {
	return &LanguageDocument{
		Lang:      lang,
		Data:      map[string]any{},
		UpdatedAt: time.Now().UTC(),
	}
}

// ApplyDefaults sets fallback values after decode.
func (d *ConfigDocument) ApplyDefaults() {
	if d.ID == "" {
		d.ID = ConfigDocumentID
	}
	if d.Data == nil {
		d.Data = map[string]any{}
	}
}

// ApplyDefaults sets fallback values after decode.
func (d *LanguageDocument) ApplyDefaults() {
	if d.Data == nil {
		d.Data = map[string]any{}
	}
}

// SupportedLanguages extracts the reserved language-code list from the config
// data. Missing or malformed values yield an empty list, never an error.
func (d *ConfigDocument) SupportedLanguages() []string {
	if d == nil || d.Data == nil {
		return nil
	}
	switch v := d.Data[LanguagesConfigKey].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// inlineData collects the non-reserved top-level fields of a raw document.
// Language documents may carry their messages inline instead of under "data".
func inlineData(raw bson.M) map[string]any {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		switch key {
		case "_id", "lang", "name", "updatedAt":
			continue
		}
		out[key] = value
	}
	return out
}

// AreDocumentsEqual compares two raw documents ignoring the identifier field.
// Used by the polling comparator to spot content drift between the local
// snapshot and the store.
func AreDocumentsEqual(a, b bson.M) bool {
	if a == nil || b == nil {
		return len(a) == 0 && len(b) == 0
	}
	return reflect.DeepEqual(withoutID(a), withoutID(b))
}

func withoutID(doc bson.M) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		out[k] = v
	}
	return out
}
