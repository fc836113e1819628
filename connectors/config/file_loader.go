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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML or TOML (by .toml extension) configuration file.
// Environment references are expanded before parsing; fields absent from
// the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := ValidateConfigFile(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration content. ext selects the format: ".toml" for
// TOML, anything else for YAML.
func Parse(content, ext string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(content, cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references in the string.
// Supports ${VAR_NAME}, ${VAR_NAME:-default} and $VAR_NAME; undefined
// variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// GenerateExampleConfigFile generates an example configuration file
func GenerateExampleConfigFile() string {
	return `# sqlbridge configuration
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default} syntax

version: "1.0"

retry:
  max_attempts: 3
  initial_delay_ms: 500
  backoff_factor: 2
  connect_timeout_ms: 15000
  command_timeout_ms: 60000
  validate_timeout_ms: 5000

pool:
  acquire_timeout_ms: 15000

storage:
  database_url: ${SQLBRIDGE_STORAGE_URL}

targets:
  sales:
    enabled: true
    descriptor: "Provider=oracle;Data Source=${SALES_HOST:-localhost}:1521/SALES;Max Pool Size=10"
    credentials_secret: ${SALES_SECRET_ARN}

  reporting:
    enabled: true
    descriptor: "Provider=postgres;Data Source=${REPORTING_HOST:-localhost}:5432/reporting;User Id=${REPORTING_USER:-report}"
    credentials_secret: REPORTING

  inventory:
    enabled: false
    descriptor: "Provider=mysql;Data Source=inventory:3306/stock;Validate Connection=false"
`
}
