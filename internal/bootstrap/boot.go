// Package bootstrap wires the edit service from configuration.
//
// The CLI and the Lambda entry point need the same subset of: AWS config,
// SSM parameter fetch, the rate window store, the S3 relay and startup
// logging. Each helper here is one of those steps so both entry points stay
// a short composition.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/grok-image-edit/internal/access"
	"github.com/fpang/grok-image-edit/internal/auth"
	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/edit"
	"github.com/fpang/grok-image-edit/internal/fetch"
	"github.com/fpang/grok-image-edit/internal/grok"
	"github.com/fpang/grok-image-edit/internal/logging"
	"github.com/fpang/grok-image-edit/internal/metrics"
	"github.com/fpang/grok-image-edit/internal/ratelimit"
	"github.com/fpang/grok-image-edit/internal/relay"
)

// redisKeyPrefix namespaces rate window keys in a shared Redis.
const redisKeyPrefix = "grok-edit:rate:"

// GetParameterAPI is the subset of the SSM client used to load secrets.
type GetParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// App is a wired edit service plus what it needs to shut down.
type App struct {
	Options config.Options
	Service *edit.Service

	closers []func() error
}

// Close releases store connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AWSConfigFunc returns the AWS config.
type AWSConfigFunc func(ctx context.Context) (aws.Config, error)

// lazyAWSConfig loads the default AWS config at most once, and only when a
// component needs it.
func lazyAWSConfig() AWSConfigFunc {
	var cached *aws.Config
	return func(ctx context.Context) (aws.Config, error) {
		if cached != nil {
			return *cached, nil
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
		}
		log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
		cached = &cfg
		return cfg, nil
	}
}

// Build wires an App from opts. A missing API key is not fatal: requests
// then fail with a ConfigError and the probe reports it.
func Build(ctx context.Context, opts config.Options, sink metrics.Sink) (*App, error) {
	app := &App{}
	awsConfig := lazyAWSConfig()

	if opts.APIKey == "" && opts.APIKeySSMParam != "" && os.Getenv(auth.APIKeyEnv) == "" {
		cfg, err := awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		key, err := LoadAPIKey(ctx, ssm.NewFromConfig(cfg), opts.APIKeySSMParam)
		if err != nil {
			return nil, err
		}
		opts.APIKey = key
	}
	if key, err := auth.GetAPIKey(opts.APIKey); err == nil {
		opts.APIKey = key
	} else {
		log.Warn().Err(err).Msg("No Grok API key configured, edits will be rejected")
	}

	store, closeStore, err := NewStore(ctx, opts, awsConfig)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		app.closers = append(app.closers, closeStore)
	}

	var s3Relay relay.Relay
	if opts.S3RelayConfigured() && !opts.NapRelayConfigured() {
		cfg, err := awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(cfg)
		s3Relay = relay.NewS3(client, s3.NewPresignClient(client), opts.RelayS3Bucket, opts.RelayS3Prefix, opts.PresignExpiry())
	}

	client := grok.NewClient(nil)
	app.Options = opts
	app.Service = edit.NewService(edit.Deps{
		Gate:     access.NewGate(store),
		Inflight: access.NewInflight(),
		Sender:   client,
		Prober:   client,
		Downloader: fetch.NewDownloader(fetch.Options{
			AllowPrivate: opts.AllowPrivateDownloads,
			MaxBytes:     opts.MaxDownloadBytes,
		}),
		S3Relay: s3Relay,
		Sink:    sink,
	})
	return app, nil
}

// LoadAPIKey reads the API key from an SSM SecureString parameter.
func LoadAPIKey(ctx context.Context, client GetParameterAPI, paramName string) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(paramName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read API key from SSM parameter %s: %w", paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || strings.TrimSpace(*result.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", paramName)
	}
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(start)).Msg("Grok API key loaded from SSM")
	return strings.TrimSpace(*result.Parameter.Value), nil
}

// NewStore creates the rate window store selected by rate_limit_backend. The
// returned close func is nil when there is nothing to release.
func NewStore(ctx context.Context, opts config.Options, awsConfig AWSConfigFunc) (ratelimit.Store, func() error, error) {
	switch opts.RateLimitBackend {
	case config.BackendRedis:
		if opts.RedisAddr == "" {
			return nil, nil, errors.New("rate_limit_backend is redis but redis_addr is empty")
		}
		rdb, err := ratelimit.NewRedisClient(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return ratelimit.NewRedisStore(rdb, redisKeyPrefix), rdb.Close, nil
	case config.BackendDynamoDB:
		if opts.DynamoDBTable == "" {
			return nil, nil, errors.New("rate_limit_backend is dynamodb but dynamodb_table is empty")
		}
		if awsConfig == nil {
			awsConfig = lazyAWSConfig()
		}
		cfg, err := awsConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		return ratelimit.NewDynamoStore(dynamodb.NewFromConfig(cfg), opts.DynamoDBTable), nil, nil
	default:
		return ratelimit.NewMemoryStore(), nil, nil
	}
}

// StartupLog builds the startup summary for opts.
func StartupLog(name string, opts config.Options, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		CommitHash(logging.EnvOrDefault("COMMIT_HASH", "dev")).
		BuildTime(logging.EnvOrDefault("BUILD_TIME", "unknown")).
		Endpoint("grok", opts.ServerURL).
		Endpoint("redis", opts.RedisAddr).
		Endpoint("otlp", opts.OTLPEndpoint).
		S3Bucket("relay", opts.RelayS3Bucket).
		DynamoTable("rateWindows", opts.DynamoDBTable).
		SSMParam("apiKey", opts.APIKeySSMParam).
		Feature("enabled", opts.Enabled).
		Feature("apiKey", opts.APIKey != "").
		Feature("autoCompress", opts.AutoCompressEnabled).
		Feature("rateLimit", opts.RateLimitEnabled).
		Feature("saveImages", opts.SaveImageEnabled).
		Feature("napRelay", opts.NapRelayConfigured()).
		Feature("singleTaskPerUser", opts.SingleTaskPerUser).
		Feature("httpAuth", opts.HTTPAuthSecret != "").
		Config("model", opts.ModelID).
		Config("rateBackend", opts.RateLimitBackend).
		Config("groupMode", string(opts.GroupControlMode)).
		Config("statusMode", string(opts.StatusMessageMode)).
		Config("timeout", opts.Timeout().String()).
		Config("maxRetries", fmt.Sprint(opts.MaxRetryAttempts)).
		InitDuration(time.Since(initStart))
}
