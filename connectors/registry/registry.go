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

// Package registry resolves target names into normalized descriptors.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"sqlbridge/connectors/base"
	"sqlbridge/connectors/config"
	"sqlbridge/connectors/descriptor"
	"sqlbridge/shared/logger"
)

// NotFoundError is returned for names no source knows, or knows as disabled
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("target not found: %s", e.Name)
}

// Entry is a target definition as stored by a source
type Entry struct {
	Name              string `db:"name"`
	Descriptor        string `db:"descriptor"`
	CredentialsSecret string `db:"credentials_secret"`
	Enabled           bool   `db:"enabled"`
}

// Source is one place target definitions are kept
type Source interface {
	Lookup(ctx context.Context, name string) (Entry, bool, error)
	Names(ctx context.Context) ([]string, error)
}

// Registry resolves names against its sources in priority order. Resolved
// targets are cached for a TTL.
type Registry struct {
	sources []Source
	secrets config.SecretsManager
	cache   *config.TTLCache[string, base.Target]
	logger  *logger.Logger
}

// New creates a registry. secrets may be nil when no source references
// credential secrets. A non-positive ttl selects the cache default.
func New(secrets config.SecretsManager, ttl time.Duration, sources ...Source) *Registry {
	return &Registry{
		sources: sources,
		secrets: secrets,
		cache:   config.NewTTLCache[string, base.Target](ttl),
		logger:  logger.New("registry"),
	}
}

// Resolve returns the target registered under name
func (r *Registry) Resolve(ctx context.Context, name string) (base.Target, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return base.Target{}, &NotFoundError{Name: name}
	}
	if t, ok := r.cache.Get(name); ok {
		return t, nil
	}

	entry, found, err := r.lookup(ctx, name)
	if err != nil {
		return base.Target{}, fmt.Errorf("failed to look up target %s: %w", name, err)
	}
	if !found || !entry.Enabled {
		return base.Target{}, &NotFoundError{Name: name}
	}

	raw := entry.Descriptor
	if entry.CredentialsSecret != "" {
		raw, err = r.withSecret(ctx, raw, entry.CredentialsSecret)
		if err != nil {
			return base.Target{}, fmt.Errorf("failed to resolve credentials for %s: %w", name, err)
		}
	}

	t := base.Target{Name: name, Descriptor: descriptor.Normalize(raw)}
	r.cache.Set(name, t)
	r.logger.Debug(name, "", "Target resolved", map[string]interface{}{
		"provider": t.Provider(),
	})
	return t, nil
}

// Names lists every name Resolve would accept, sorted. A name enabled in a
// lower source is left out when a higher source disables it.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, src := range r.sources {
		names, err := src.Names(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list targets: %w", err)
		}
		for _, n := range names {
			seen[n] = true
		}
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		entry, found, err := r.lookup(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("failed to look up target %s: %w", n, err)
		}
		if found && entry.Enabled {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}

// lookup returns the entry of the first source that knows name
func (r *Registry) lookup(ctx context.Context, name string) (Entry, bool, error) {
	for _, src := range r.sources {
		entry, found, err := src.Lookup(ctx, name)
		if err != nil {
			return Entry{}, false, err
		}
		if found {
			return entry, true, nil
		}
	}
	return Entry{}, false, nil
}

// Invalidate drops the cached resolution of name, or of every target when
// name is empty
func (r *Registry) Invalidate(name string) {
	if name == "" {
		r.cache.Clear()
		return
	}
	r.cache.Delete(strings.TrimSpace(name))
}

func (r *Registry) withSecret(ctx context.Context, raw, secret string) (string, error) {
	if r.secrets == nil {
		return "", fmt.Errorf("no secrets manager configured")
	}
	creds, err := r.secrets.GetSecret(ctx, secret)
	if err != nil {
		return "", err
	}
	user := creds[config.SecretUsername]
	if user == "" {
		user = creds["user"]
	}
	return descriptor.WithCredentials(raw, user, creds[config.SecretPassword]), nil
}
