package graph

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is the node-local configuration of a workflow node.
//
// Values are the shapes produced by JSON, YAML or HCL decoding: string,
// number, bool, nested map and nested slice. The engine passes Config to the
// node verbatim; the accessors below are for node implementations.
type Config map[string]any

// String returns the value at key as a string. Missing keys and nil yield "".
// Numbers and booleans are formatted.
func (c Config) String(key string) string {
	v, ok := c[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

// StringOr returns the string at key, or def when it is empty.
func (c Config) StringOr(key, def string) string {
	if s := c.String(key); s != "" {
		return s
	}
	return def
}

// Int returns the value at key as an int, or def when it is missing or not
// numeric.
func (c Config) Int(key string, def int) int {
	v, ok := c[key]
	if !ok || v == nil {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

// Bool reports whether the value at key is true. The strings "true", "1",
// "yes" and "on" count as true.
func (c Config) Bool(key string) bool {
	v, ok := c[key]
	if !ok || v == nil {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true
		}
	case int:
		return b != 0
	case float64:
		return b != 0
	}
	return false
}

// Clone returns a shallow copy of c.
func (c Config) Clone() Config {
	if c == nil {
		return Config{}
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
