package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
)

// SettableSections are the top-level sections SetByPath may change at
// runtime. Providers, general and memory are wired once at startup and
// need a restart.
var SettableSections = []string{"orchestration", "channels", "rateLimit", "extraction"}

// typeAt resolves a dot path against the Config type using json tags.
// Map sections such as providers accept any key. Struct and map types are
// sections, not leaves.
func typeAt(path string) (reflect.Type, bool) {
	t := reflect.TypeFor[Config]()
	for _, p := range strings.Split(path, ".") {
		switch t.Kind() {
		case reflect.Struct:
			f, ok := fieldByTag(t, p)
			if !ok {
				return nil, false
			}
			t = f.Type
		case reflect.Map:
			if p == "" {
				return nil, false
			}
			t = t.Elem()
		default:
			return nil, false
		}
	}
	return t, true
}

func fieldByTag(t reflect.Type, name string) (reflect.StructField, bool) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag == name {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

// tree is the JSON-shaped view of a Config that dot paths walk.
type tree = map[string]any

func toTree(cfg *Config) (tree, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var t tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// walkTree follows path through t.
func walkTree(t tree, path string) (any, bool) {
	var cur any = t
	for _, p := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[p]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetByPath returns the value at a dot path such as
// "orchestration.maxConsultedSpecialists". Sections come back as maps and
// unset optional fields as their zero value.
func GetByPath(cfg *Config, path string) (any, error) {
	t, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	if v, ok := walkTree(t, path); ok {
		return v, nil
	}
	if typ, ok := typeAt(path); ok {
		return reflect.Zero(typ).Interface(), nil
	}
	return nil, fmt.Errorf("key not found: %s", path)
}

// SetByPath is Set limited to SettableSections, for changes applied to a
// running server.
func SetByPath(cfg *Config, path string, value any) error {
	section, _, _ := strings.Cut(path, ".")
	if !slices.Contains(SettableSections, section) {
		return fmt.Errorf("%s is read-only at runtime (settable: %s)", path, strings.Join(SettableSections, ", "))
	}
	return Set(cfg, path, value)
}

// Set replaces one leaf, e.g. "orchestration.maxConsultedSpecialists" or
// "providers.openai.apiKey". A string value is parsed according to the
// field's type, so "2" sets an int and "a, b" a list, while a string field
// keeps "123" as text. cfg is left unchanged on error.
func Set(cfg *Config, path string, value any) error {
	typ, ok := typeAt(path)
	if !ok {
		return fmt.Errorf("key not found: %s", path)
	}
	if k := typ.Kind(); k == reflect.Struct || k == reflect.Map {
		return fmt.Errorf("%s is a section, not a value", path)
	}
	parsed, err := parseFor(typ, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	t, err := toTree(cfg)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	parent := t
	for _, p := range parts[:len(parts)-1] {
		child, ok := parent[p].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[p] = child
		}
		parent = child
	}
	parent[parts[len(parts)-1]] = parsed

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

// parseFor converts a string to the JSON form of typ. Other values pass
// through and are checked when the tree is decoded back into a Config.
func parseFor(typ reflect.Type, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch typ.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", s)
		}
		return b, nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", s)
		}
		return n, nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", s)
		}
		return f, nil
	case reflect.Slice:
		items := []string{}
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	default:
		return s, nil
	}
}

// Sanitize returns a copy of cfg with provider API keys, credentials in
// provider base URLs and the Telegram token masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = mask(p.APIKey)
		}
		p.APIBase = redactURL(p.APIBase)
		out.Providers[name] = p
	}
	if out.Channels.Telegram.Token != "" {
		out.Channels.Telegram.Token = mask(out.Channels.Telegram.Token)
	}
	out.Channels.Telegram.AllowFrom = slices.Clone(cfg.Channels.Telegram.AllowFrom)
	out.Channels.Web.AllowedOrigins = slices.Clone(cfg.Channels.Web.AllowedOrigins)
	out.General.FailoverChain = slices.Clone(cfg.General.FailoverChain)
	return &out
}

// mask keeps the first and last four characters of long secrets.
func mask(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	return u.Redacted()
}

// ListPaths returns every leaf path with its value, including map-valued
// sections such as providers.openai.apiKey.
func ListPaths(cfg *Config) map[string]any {
	t, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	var walk func(prefix string, m tree)
	walk = func(prefix string, m tree) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", t)
	return out
}
