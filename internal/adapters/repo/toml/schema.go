package toml

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

type valueKind int

const (
	kindString valueKind = iota
	kindDuration
	kindInt
)

// settingKeys lists every key the config file accepts, keyed by dotted path.
var settingKeys = map[string]valueKind{
	"api.base_url":           kindString,
	"api.socket_url":         kindString,
	"api.request_timeout":    kindDuration,
	"cache.ttl":              kindDuration,
	"cache.settle_delay":     kindDuration,
	"channel.max_attempts":   kindInt,
	"channel.base_delay":     kindDuration,
	"channel.max_delay":      kindDuration,
	"session.backend":        kindString,
	"session.dir":            kindString,
	"session.redis_addr":     kindString,
	"session.redis_prefix":   kindString,
	"session.check_interval": kindDuration,
	"session.refresh_skew":   kindDuration,
	"metrics.addr":           kindString,
}

// Keys returns the accepted setting keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(settingKeys))
	for key := range settingKeys {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// parseValue converts the raw command-line value into what gets written to
// the file. Durations stay strings so the file remains readable.
func parseValue(key, raw string) (any, error) {
	kind, ok := settingKeys[key]
	if !ok {
		return nil, fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(Keys(), ", "))
	}

	switch kind {
	case kindDuration:
		if _, err := time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("setting %s: invalid duration %q", key, raw)
		}
		return raw, nil
	case kindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("setting %s: invalid integer %q", key, raw)
		}
		return int64(n), nil
	default:
		return raw, nil
	}
}

func setNested(doc map[string]any, key string, value any) error {
	section, name, ok := strings.Cut(key, ".")
	if !ok {
		return fmt.Errorf("setting %q has no section", key)
	}

	table, _ := doc[section].(map[string]any)
	if table == nil {
		if _, exists := doc[section]; exists {
			return fmt.Errorf("config section %q is not a table", section)
		}
		table = map[string]any{}
		doc[section] = table
	}
	table[name] = value
	return nil
}
