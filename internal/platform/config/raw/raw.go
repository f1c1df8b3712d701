// Package raw provides a minimal env reader used during bootstrap.
// It has NO dependency on the logger package to avoid import cycles
package raw

import (
	"os"
	"strconv"
	"strings"
)

// Conf is a view over environment variables that tries several prefixes in order,
// so "PAGERFLOW_LOG_LEVEL" can override the shared "LOG_LEVEL"
type Conf struct{ prefixes []string }

// New returns a root Conf (no prefix)
func New() Conf { return Conf{prefixes: []string{""}} }

// Prefix returns a child Conf with p appended to every prefix (e.g. "LOG_")
func (c Conf) Prefix(p string) Conf {
	out := make([]string, len(c.prefixes))
	for i, pre := range c.prefixes {
		out[i] = pre + p
	}
	return Conf{prefixes: out}
}

// Or returns a Conf that consults c first and then falls back to other
func (c Conf) Or(other Conf) Conf {
	out := append(append([]string{}, c.prefixes...), other.prefixes...)
	return Conf{prefixes: out}
}

// lookup returns the first non-empty trimmed value across prefixes
func (c Conf) lookup(key string) string {
	for _, p := range c.prefixes {
		if v := strings.TrimSpace(os.Getenv(p + key)); v != "" {
			return v
		}
	}
	return ""
}

// Get returns the trimmed env var or the provided default if empty
func (c Conf) Get(key, def string) string {
	if v := c.lookup(key); v != "" {
		return v
	}
	return def
}

// GetBool parses a bool-like env ("1|true|yes") with default fallback
func (c Conf) GetBool(key string, def bool) bool {
	v := strings.ToLower(c.lookup(key))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

// GetInt parses a non-negative integer with default fallback; anything else -> def
func (c Conf) GetInt(key string, def int) int {
	n, err := strconv.ParseUint(c.lookup(key), 10, 31)
	if err != nil {
		return def
	}
	return int(n)
}
