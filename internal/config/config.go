package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultTenantID is the synthetic tenant id used when the environment
// carries no indexed integration variables.
const DefaultTenantID = "default"

// Get returns the environment variable key, or def when unset or blank.
func Get(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Bool reads a boolean environment variable. Accepted true values are
// 1/true/yes/on and false values 0/false/no/off, case-insensitively.
// Any other value (including unset) falls back to def.
func Bool(key string, def bool) bool {
	return parseBool(os.Getenv(key), def)
}

// Int reads an integer environment variable, falling back to def when the
// variable is unset or not a valid integer.
func Int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Indexed returns BASE_<id> for a numbered tenant, or BASE for the
// default tenant.
func Indexed(base, id string) string {
	return strings.TrimSpace(os.Getenv(indexedKey(base, id)))
}

// IndexedBool reads an indexed variable with Bool semantics.
func IndexedBool(base, id string, def bool) bool {
	return parseBool(Indexed(base, id), def)
}

// IndexedInt reads an indexed variable with Int semantics.
func IndexedInt(base, id string, def int) int {
	v := Indexed(base, id)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func indexedKey(base, id string) string {
	if id == "" || id == DefaultTenantID {
		return base
	}
	return base + "_" + id
}

func parseBool(raw string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// DiscoverIDs scans the environment for recognized base names suffixed
// with _<n> and merges the explicit comma list held by listVar. The
// returned ids are unique and numerically sorted; an empty result means
// the caller should synthesize the default tenant.
func DiscoverIDs(bases []string, listVar string) []string {
	seen := make(map[string]bool)

	for _, kv := range os.Environ() {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name := kv[:eq]
		for _, base := range bases {
			prefix := base + "_"
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			if suffix := name[len(prefix):]; isDigits(suffix) {
				seen[suffix] = true
			}
		}
	}

	if listVar != "" {
		for _, id := range strings.Split(os.Getenv(listVar), ",") {
			if id = strings.TrimSpace(id); id != "" {
				seen[id] = true
			}
		}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
