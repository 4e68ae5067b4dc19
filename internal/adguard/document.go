package adguard

import (
	"encoding/json"
	"fmt"
)

// Document is an engine configuration object kept as raw JSON fields so
// that a read-modify-write cycle preserves every field this daemon does not
// manage, including ones added by future engine versions.
type Document map[string]json.RawMessage

// Client document fields.
const (
	FieldName                     = "name"
	FieldIDs                      = "ids"
	FieldUseGlobalSettings        = "use_global_settings"
	FieldFilteringEnabled         = "filtering_enabled"
	FieldParentalEnabled          = "parental_enabled"
	FieldSafeBrowsingEnabled      = "safebrowsing_enabled"
	FieldSafeSearchEnabled        = "safesearch_enabled"
	FieldSafeSearch               = "safe_search"
	FieldUseGlobalBlockedServices = "use_global_blocked_services"
	FieldBlockedServices          = "blocked_services"
)

// Access list fields.
const (
	FieldAllowedClients    = "allowed_clients"
	FieldDisallowedClients = "disallowed_clients"
	FieldBlockedHosts      = "blocked_hosts"
)

// safeSearchProviders are enabled on newly created safe_search objects.
var safeSearchProviders = []string{"bing", "duckduckgo", "google", "pixabay", "yandex", "youtube"}

// Clone returns a copy that can be modified independently.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// String returns a string field or "".
func (d Document) String(key string) string {
	var s string
	if raw, ok := d[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// Strings returns a string list field or nil.
func (d Document) Strings(key string) []string {
	var out []string
	if raw, ok := d[key]; ok {
		_ = json.Unmarshal(raw, &out)
	}
	return out
}

// Bool returns a boolean field, or def when absent or not a boolean.
func (d Document) Bool(key string, def bool) bool {
	raw, ok := d[key]
	if !ok {
		return def
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return def
	}
	return b
}

// Set encodes v into the field.
func (d Document) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	d[key] = raw
	return nil
}

// Object returns a nested object field, or nil when absent.
func (d Document) Object(key string) Document {
	raw, ok := d[key]
	if !ok {
		return nil
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// SafeSearch reports the client's safe search flag. Newer engines nest it in
// a safe_search object; older ones use a flat boolean.
func (d Document) SafeSearch() bool {
	if obj := d.Object(FieldSafeSearch); obj != nil {
		return obj.Bool("enabled", false)
	}
	return d.Bool(FieldSafeSearchEnabled, false)
}

// SetSafeSearch writes the flag in both representations, keeping any
// per-provider settings already present.
func (d Document) SetSafeSearch(enabled bool) error {
	obj := d.Object(FieldSafeSearch)
	if obj == nil {
		obj = Document{}
		for _, p := range safeSearchProviders {
			if err := obj.Set(p, true); err != nil {
				return err
			}
		}
	}
	if err := obj.Set("enabled", enabled); err != nil {
		return err
	}
	if err := d.Set(FieldSafeSearch, obj); err != nil {
		return err
	}
	return d.Set(FieldSafeSearchEnabled, enabled)
}
