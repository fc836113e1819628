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

package registry

import (
	"context"
	"os"
	"sort"
	"strings"

	"sqlbridge/connectors/config"
)

// EnvTargetPrefix prefixes environment variables that declare a target:
// SQLBRIDGE_TARGET_SALES="Data Source=..." registers target "sales".
const EnvTargetPrefix = "SQLBRIDGE_TARGET_"

// FileSource serves the targets section of a configuration file
type FileSource struct {
	targets map[string]config.TargetConfig
}

// NewFileSource wraps the targets of cfg
func NewFileSource(cfg *config.Config) *FileSource {
	targets := make(map[string]config.TargetConfig, len(cfg.Targets))
	for name, t := range cfg.Targets {
		targets[name] = t
	}
	return &FileSource{targets: targets}
}

// Lookup returns the file entry for name
func (s *FileSource) Lookup(_ context.Context, name string) (Entry, bool, error) {
	t, ok := s.targets[name]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{
		Name:              name,
		Descriptor:        t.Descriptor,
		CredentialsSecret: t.CredentialsSecret,
		Enabled:           t.Enabled,
	}, true, nil
}

// Names lists enabled file targets
func (s *FileSource) Names(context.Context) ([]string, error) {
	names := make([]string, 0, len(s.targets))
	for name, t := range s.targets {
		if t.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// EnvSource serves targets declared as SQLBRIDGE_TARGET_<NAME> variables.
// Names are lower-cased; credentials come from the descriptor itself.
type EnvSource struct {
	environ func() []string
}

// NewEnvSource reads the process environment on every lookup
func NewEnvSource() *EnvSource {
	return &EnvSource{environ: os.Environ}
}

// Lookup returns the environment entry for name
func (s *EnvSource) Lookup(_ context.Context, name string) (Entry, bool, error) {
	for _, kv := range s.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvTargetPrefix) || value == "" {
			continue
		}
		if strings.EqualFold(strings.TrimPrefix(key, EnvTargetPrefix), name) {
			return Entry{Name: name, Descriptor: value, Enabled: true}, true, nil
		}
	}
	return Entry{}, false, nil
}

// Names lists the targets declared in the environment
func (s *EnvSource) Names(context.Context) ([]string, error) {
	var names []string
	for _, kv := range s.environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvTargetPrefix) || value == "" {
			continue
		}
		if name := strings.ToLower(strings.TrimPrefix(key, EnvTargetPrefix)); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
