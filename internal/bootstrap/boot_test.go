package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/metrics"
	"github.com/fpang/grok-image-edit/internal/ratelimit"
)

type fakeSSM struct {
	value *string
	err   error
	input *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: f.value}}, nil
}

func TestLoadAPIKey(t *testing.T) {
	f := &fakeSSM{value: aws.String("  xai-secret \n")}
	key, err := LoadAPIKey(context.Background(), f, "/grok/api-key")
	require.NoError(t, err)
	assert.Equal(t, "xai-secret", key)
	assert.Equal(t, "/grok/api-key", aws.ToString(f.input.Name))
	assert.True(t, aws.ToBool(f.input.WithDecryption))
}

func TestLoadAPIKey_Errors(t *testing.T) {
	_, err := LoadAPIKey(context.Background(), &fakeSSM{err: errors.New("access denied")}, "/p")
	assert.ErrorContains(t, err, "access denied")

	_, err = LoadAPIKey(context.Background(), &fakeSSM{value: aws.String(" ")}, "/p")
	assert.ErrorContains(t, err, "is empty")
}

func TestNewStore(t *testing.T) {
	opts := config.Default()

	store, closeFn, err := NewStore(context.Background(), opts, nil)
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.MemoryStore{}, store)
	assert.Nil(t, closeFn)

	opts.RateLimitBackend = config.BackendRedis
	_, _, err = NewStore(context.Background(), opts, nil)
	assert.ErrorContains(t, err, "redis_addr")

	opts.RateLimitBackend = config.BackendDynamoDB
	_, _, err = NewStore(context.Background(), opts, nil)
	assert.ErrorContains(t, err, "dynamodb_table")

	opts.DynamoDBTable = "rate-windows"
	calls := 0
	store, _, err = NewStore(context.Background(), opts, func(context.Context) (aws.Config, error) {
		calls++
		return aws.Config{Region: "us-east-1"}, nil
	})
	require.NoError(t, err)
	assert.IsType(t, &ratelimit.DynamoStore{}, store)
	assert.Equal(t, 1, calls)
}

func TestBuild_MemoryBackend(t *testing.T) {
	opts := config.Default()
	opts.APIKey = "test-key"

	app, err := Build(context.Background(), opts, metrics.Nop{})
	require.NoError(t, err)
	require.NotNil(t, app.Service)
	assert.Equal(t, "test-key", app.Options.APIKey)
	assert.NoError(t, app.Close())
}

func TestStartupLog(t *testing.T) {
	opts := config.Default()
	assert.NotPanics(t, func() {
		StartupLog("grok-edit", opts, time.Now()).Log()
	})
}
