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
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsAPI struct {
	values map[string]*string
	calls  int
	err    error
}

func (f *fakeSecretsAPI) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.values[aws.ToString(in.SecretId)]}, nil
}

const salesARN = "arn:aws:secretsmanager:eu-west-1:123456789012:secret:sales-db-AbCdEf"

func TestAWSSecretsManagerParsesAndCaches(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]*string{
		salesARN: aws.String(`{"username":"app","password":"s3cret"}`),
	}}
	m := newAWSSecretsManager(api, time.Minute)

	creds, err := m.GetSecret(context.Background(), salesARN)
	require.NoError(t, err)
	assert.Equal(t, "app", creds[SecretUsername])
	assert.Equal(t, "s3cret", creds[SecretPassword])

	_, err = m.GetSecret(context.Background(), salesARN)
	require.NoError(t, err)
	assert.Equal(t, 1, api.calls, "second lookup served from cache")

	m.InvalidateSecret(salesARN)
	_, err = m.GetSecret(context.Background(), salesARN)
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)

	m.InvalidateAll()
	_, err = m.GetSecret(context.Background(), salesARN)
	require.NoError(t, err)
	assert.Equal(t, 3, api.calls)
}

func TestAWSSecretsManagerPlainStringIsPassword(t *testing.T) {
	api := &fakeSecretsAPI{values: map[string]*string{salesARN: aws.String("hunter2")}}
	m := newAWSSecretsManager(api, 0)

	creds, err := m.GetSecret(context.Background(), salesARN)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{SecretPassword: "hunter2"}, creds)
}

func TestAWSSecretsManagerErrorsMaskARN(t *testing.T) {
	m := newAWSSecretsManager(&fakeSecretsAPI{err: errors.New("AccessDenied")}, 0)
	_, err := m.GetSecret(context.Background(), salesARN)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "123456789012")
	assert.Contains(t, err.Error(), "AccessDenied")

	m = newAWSSecretsManager(&fakeSecretsAPI{values: map[string]*string{}}, 0)
	_, err = m.GetSecret(context.Background(), salesARN)
	assert.ErrorContains(t, err, "no string value")
}

func TestMaskARN(t *testing.T) {
	assert.Equal(t, "***", maskARN("short"))
	assert.Equal(t, "...b-AbCdEf", maskARN(salesARN))
	assert.Len(t, maskARN(salesARN), 11)
}

func TestLocalSecretsManager(t *testing.T) {
	m := NewLocalSecretsManager()
	_, err := m.GetSecret(context.Background(), "sales")
	assert.Error(t, err)

	m.SetSecret("sales", map[string]string{SecretPassword: "pw"})
	creds, err := m.GetSecret(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, "pw", creds[SecretPassword])
}

func TestEnvSecretsManager(t *testing.T) {
	t.Setenv("REPORTING_USERNAME", "report")
	t.Setenv("REPORTING_PASSWORD", "pw")

	m := NewEnvSecretsManager()
	creds, err := m.GetSecret(context.Background(), "REPORTING")
	require.NoError(t, err)
	assert.Equal(t, "report", creds[SecretUsername])
	assert.Equal(t, "pw", creds[SecretPassword])

	_, err = m.GetSecret(context.Background(), "UNKNOWN_PREFIX")
	assert.Error(t, err)
}

func TestChainSecretsManager(t *testing.T) {
	local := NewLocalSecretsManager()
	local.SetSecret("sales", map[string]string{SecretPassword: "from-local"})

	chain := ChainSecretsManager{NewEnvSecretsManager(), local}
	creds, err := chain.GetSecret(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, "from-local", creds[SecretPassword])

	_, err = chain.GetSecret(context.Background(), "missing")
	assert.Error(t, err)

	_, err = ChainSecretsManager{}.GetSecret(context.Background(), "sales")
	assert.ErrorContains(t, err, "no secrets manager configured")
}
