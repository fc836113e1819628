// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package descriptor

import (
	"strconv"
	"strings"
	"time"
)

// Tunable keys baked into every normalized descriptor
const (
	KeyConnectTimeout     = "Connection Timeout"
	KeyCommandTimeout     = "Command Timeout"
	KeyConnectionLifetime = "Connection Lifetime"
	KeyMinPoolSize        = "Min Pool Size"
	KeyMaxPoolSize        = "Max Pool Size"
	KeyValidate           = "Validate Connection"

	KeyProvider   = "Provider"
	KeyDataSource = "Data Source"
	KeyUserID     = "User Id"
	KeyPassword   = "Password"
)

const (
	// DefaultConnectTimeout is the connect timeout added when the descriptor has none
	DefaultConnectTimeout = 15 * time.Second
	// DefaultCommandTimeout is the command timeout added when the descriptor has none
	DefaultCommandTimeout = 60 * time.Second
	// DefaultConnectionLifetime is the maximum age of a pooled session
	DefaultConnectionLifetime = 180 * time.Second
	// DefaultMinPoolSize is the minimum number of sessions kept per target
	DefaultMinPoolSize = 1
	// DefaultMaxPoolSize is the maximum number of sessions per target
	DefaultMaxPoolSize = 5
	// DefaultValidate enables the borrow-time probe
	DefaultValidate = true
)

// defaults lists the tunables in the order they are appended
var defaults = []struct {
	key   string
	value string
}{
	{KeyConnectTimeout, strconv.Itoa(int(DefaultConnectTimeout / time.Second))},
	{KeyCommandTimeout, strconv.Itoa(int(DefaultCommandTimeout / time.Second))},
	{KeyConnectionLifetime, strconv.Itoa(int(DefaultConnectionLifetime / time.Second))},
	{KeyMinPoolSize, strconv.Itoa(DefaultMinPoolSize)},
	{KeyMaxPoolSize, strconv.Itoa(DefaultMaxPoolSize)},
	{KeyValidate, strconv.FormatBool(DefaultValidate)},
}

// Normalized is a descriptor carrying all six tunables.
// Its String method redacts the password so it is safe to print.
type Normalized string

// Raw returns the full descriptor text including credentials
func (n Normalized) Raw() string {
	return string(n)
}

func (n Normalized) String() string {
	return Redact(string(n))
}

// Options are the tunables read back from a normalized descriptor
type Options struct {
	ConnectTimeout     time.Duration
	CommandTimeout     time.Duration
	ConnectionLifetime time.Duration
	MinPoolSize        int
	MaxPoolSize        int
	Validate           bool
}

// Normalize adds every tunable that is absent from raw. Explicit values are
// never overridden, and normalizing an already normalized descriptor returns
// it unchanged.
func Normalize(raw string) Normalized {
	pairs := split(raw)

	var missing []string
	for _, d := range defaults {
		if _, ok := lookup(pairs, d.key); !ok {
			missing = append(missing, d.key+"="+d.value)
		}
	}
	if len(missing) == 0 {
		return Normalized(raw)
	}

	base := strings.TrimRight(strings.TrimSpace(raw), ";")
	if base == "" {
		return Normalized(strings.Join(missing, ";"))
	}
	return Normalized(base + ";" + strings.Join(missing, ";"))
}

// Parse reads the tunables from d, falling back to the defaults for values
// that are absent or malformed. Well-formed values are returned as written,
// even when out of range; the pool rejects unusable sizes.
func Parse(d Normalized) Options {
	pairs := split(string(d))

	opts := Options{
		ConnectTimeout:     secondsOr(pairs, KeyConnectTimeout, DefaultConnectTimeout),
		CommandTimeout:     secondsOr(pairs, KeyCommandTimeout, DefaultCommandTimeout),
		ConnectionLifetime: secondsOr(pairs, KeyConnectionLifetime, DefaultConnectionLifetime),
		MinPoolSize:        intOr(pairs, KeyMinPoolSize, DefaultMinPoolSize),
		MaxPoolSize:        intOr(pairs, KeyMaxPoolSize, DefaultMaxPoolSize),
		Validate:           DefaultValidate,
	}
	if v, ok := lookup(pairs, KeyValidate); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			opts.Validate = b
		}
	}
	return opts
}

// Get returns the value of key (case-insensitive)
func Get(d string, key string) (string, bool) {
	return lookup(split(d), key)
}

// WithCredentials adds User Id and Password when the descriptor has none.
// Credentials already present are kept.
func WithCredentials(d string, user, password string) string {
	pairs := split(d)
	base := strings.TrimRight(strings.TrimSpace(d), ";")

	var extra []string
	if _, ok := lookup(pairs, KeyUserID); !ok && user != "" {
		extra = append(extra, KeyUserID+"="+quote(user))
	}
	if _, ok := lookup(pairs, KeyPassword); !ok && password != "" {
		extra = append(extra, KeyPassword+"="+quote(password))
	}
	if len(extra) == 0 {
		return d
	}
	if base == "" {
		return strings.Join(extra, ";")
	}
	return base + ";" + strings.Join(extra, ";")
}

// Redact masks the password value of a descriptor for logging
func Redact(d string) string {
	pairs := split(d)
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if strings.EqualFold(p.key, KeyPassword) || strings.EqualFold(p.key, "pwd") {
			parts = append(parts, p.key+"=***")
			continue
		}
		parts = append(parts, p.key+"="+p.value)
	}
	return strings.Join(parts, ";")
}

type pair struct {
	key   string
	value string
}

// split tokenizes "k=v;k=v" honoring double-quoted values that contain ';'
func split(d string) []pair {
	var (
		pairs    []pair
		token    strings.Builder
		inQuotes bool
	)

	flush := func() {
		t := strings.TrimSpace(token.String())
		token.Reset()
		if t == "" {
			return
		}
		k, v, _ := strings.Cut(t, "=")
		pairs = append(pairs, pair{
			key:   strings.TrimSpace(k),
			value: strings.Trim(strings.TrimSpace(v), `"`),
		})
	}

	for _, r := range d {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			token.WriteRune(r)
		case r == ';' && !inQuotes:
			flush()
		default:
			token.WriteRune(r)
		}
	}
	flush()
	return pairs
}

func lookup(pairs []pair, key string) (string, bool) {
	want := canonical(key)
	for _, p := range pairs {
		if canonical(p.key) == want {
			return p.value, true
		}
	}
	return "", false
}

// canonical folds case and inner whitespace so "connection  timeout" matches
func canonical(key string) string {
	return strings.ToLower(strings.Join(strings.Fields(key), " "))
}

func quote(v string) string {
	if strings.ContainsAny(v, ";=") {
		return `"` + v + `"`
	}
	return v
}

func secondsOr(pairs []pair, key string, fallback time.Duration) time.Duration {
	v, ok := lookup(pairs, key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func intOr(pairs []pair, key string, fallback int) int {
	v, ok := lookup(pairs, key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
