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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"sqlbridge/shared/logger"
)

// Credential keys returned by every SecretsManager
const (
	SecretUsername = "username"
	SecretPassword = "password"
)

// SecretsManager resolves a secret reference into credential fields
type SecretsManager interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// secretsAPI is the subset of the Secrets Manager client in use
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager implements SecretsManager using AWS Secrets Manager
type AWSSecretsManager struct {
	client secretsAPI
	cache  *TTLCache[string, map[string]string]
	logger *logger.Logger
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	// Endpoint overrides the service endpoint (LocalStack, VPC endpoints)
	Endpoint string
	// Static credentials; the default chain is used when empty
	AccessKeyID     string
	SecretAccessKey string
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg, func(o *secretsmanager.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return newAWSSecretsManager(client, opts.CacheTTL), nil
}

func newAWSSecretsManager(client secretsAPI, ttl time.Duration) *AWSSecretsManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AWSSecretsManager{
		client: client,
		cache:  NewTTLCache[string, map[string]string](ttl),
		logger: logger.New("secrets"),
	}
}

// GetSecret retrieves a secret from AWS Secrets Manager.
// The secret value is expected to be a JSON object with string values.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	if value, ok := s.cache.Get(secretARN); ok {
		s.logger.Debug("", "", "Secret cache hit", map[string]interface{}{"secret": maskARN(secretARN)})
		return value, nil
	}

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var creds map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &creds); err != nil {
		// A bare string secret is taken as the password
		creds = map[string]string{SecretPassword: *result.SecretString}
	}

	s.cache.Set(secretARN, creds)
	s.logger.Info("", "", "Secret retrieved and cached", map[string]interface{}{"secret": maskARN(secretARN)})
	return creds, nil
}

// InvalidateSecret removes a secret from the cache
func (s *AWSSecretsManager) InvalidateSecret(secretARN string) {
	s.cache.Delete(secretARN)
}

// InvalidateAll clears the entire secret cache
func (s *AWSSecretsManager) InvalidateAll() {
	s.cache.Clear()
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// LocalSecretsManager keeps secrets in memory, for development and tests
type LocalSecretsManager struct {
	secrets map[string]map[string]string
	mu      sync.RWMutex
}

// NewLocalSecretsManager creates an empty in-memory secrets manager
func NewLocalSecretsManager() *LocalSecretsManager {
	return &LocalSecretsManager{secrets: make(map[string]map[string]string)}
}

// GetSecret retrieves a secret from local storage
func (s *LocalSecretsManager) GetSecret(_ context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if secret, exists := s.secrets[secretARN]; exists {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found in local secrets manager", maskARN(secretARN))
}

// SetSecret stores a secret locally
func (s *LocalSecretsManager) SetSecret(secretARN string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secretARN] = value
}

// EnvSecretsManager reads credentials from <PREFIX>_USERNAME and
// <PREFIX>_PASSWORD, where the secret reference is the prefix.
type EnvSecretsManager struct{}

// NewEnvSecretsManager creates a secrets manager that reads from environment variables
func NewEnvSecretsManager() *EnvSecretsManager {
	return &EnvSecretsManager{}
}

// GetSecret retrieves credentials from environment variables
func (s *EnvSecretsManager) GetSecret(_ context.Context, prefix string) (map[string]string, error) {
	creds := make(map[string]string)
	if v := os.Getenv(prefix + "_USERNAME"); v != "" {
		creds[SecretUsername] = v
	}
	if v := os.Getenv(prefix + "_PASSWORD"); v != "" {
		creds[SecretPassword] = v
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", prefix)
	}
	return creds, nil
}

// ChainSecretsManager tries each manager in order and returns the first hit
type ChainSecretsManager []SecretsManager

// GetSecret returns the first successful lookup, or the last error
func (c ChainSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	var lastErr error
	for _, m := range c {
		creds, err := m.GetSecret(ctx, secretARN)
		if err == nil {
			return creds, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no secrets manager configured")
	}
	return nil, lastErr
}
