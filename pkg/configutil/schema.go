package configutil

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Schema lists the keys a vendor settings map may carry.
type Schema struct {
	Required []string
	Optional []string
}

// SchemaFor derives a schema from the mapstructure tags of a settings struct.
// Keys named in required are required; every other tagged field is optional.
// Struct fields tagged ",squash" contribute their own fields.
func SchemaFor(settings any, required ...string) Schema {
	req := make(map[string]bool, len(required))
	for _, k := range required {
		req[normalizeKey(k)] = true
	}
	s := Schema{Required: append([]string(nil), required...)}
	for _, key := range settingsKeys(reflect.TypeOf(settings)) {
		if !req[normalizeKey(key)] {
			s.Optional = append(s.Optional, key)
		}
	}
	return s
}

func settingsKeys(t reflect.Type) []string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, opts, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if strings.Contains(opts, "squash") {
			keys = append(keys, settingsKeys(f.Type)...)
			continue
		}
		if !f.IsExported() || name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		keys = append(keys, name)
	}
	return keys
}

// ValidateSettings rejects settings with missing required keys or keys the
// schema does not know. Keys match regardless of case, '_' and '-'.
func ValidateSettings(input map[string]any, schema Schema) error {
	allowed := make(map[string]bool, len(schema.Required)+len(schema.Optional))
	for _, k := range schema.Optional {
		allowed[normalizeKey(k)] = true
	}
	present := make(map[string]any, len(input))
	var unknown []string
	for k, v := range input {
		nk := normalizeKey(k)
		present[nk] = v
		if !allowed[nk] && !contains(schema.Required, nk) {
			unknown = append(unknown, k)
		}
	}
	var missing []string
	for _, k := range schema.Required {
		if v, ok := present[normalizeKey(k)]; !ok || blank(v) {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unknown)
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
	}
	return errors.New(strings.Join(parts, "; "))
}

// ValidateAt is ValidateSettings with the config path prefixed to errors.
func ValidateAt(path string, input map[string]any, schema Schema) error {
	if err := ValidateSettings(input, schema); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func contains(keys []string, normalized string) bool {
	for _, k := range keys {
		if normalizeKey(k) == normalized {
			return true
		}
	}
	return false
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
