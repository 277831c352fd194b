// Package config defines the option snapshot consumed by the edit pipeline.
//
// Options is a plain value: callers take a copy per request (Clone) so a
// reload never changes the behaviour of a request already in flight.
package config

import (
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// StatusMode controls how much failure detail is shown to end users.
type StatusMode string

const (
	StatusVerbose StatusMode = "verbose"
	StatusMinimal StatusMode = "minimal"
	StatusSilent  StatusMode = "silent"
)

// GroupMode selects how group_list is interpreted.
type GroupMode string

const (
	GroupOff       GroupMode = "off"
	GroupWhitelist GroupMode = "whitelist"
	GroupBlacklist GroupMode = "blacklist"
)

// Rate limit scopes. "group" counts calls per group (falling back to the user
// in private chats); "user" always counts per user.
const (
	ScopeGroup = "group"
	ScopeUser  = "user"
)

// Rate window store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDynamoDB = "dynamodb"
)

// DefaultPromptPrefix keeps the model editing the supplied image instead of
// generating an unrelated one.
const DefaultPromptPrefix = "Edit the attached image instead of generating a new one. " +
	"Keep the subject, composition, viewpoint and background unchanged and only apply the requested changes."

// Options is the complete runtime configuration.
type Options struct {
	Enabled           bool       `mapstructure:"enabled"`
	ServerURL         string     `mapstructure:"server_url"`
	ModelID           string     `mapstructure:"model_id"`
	APIKey            string     `mapstructure:"api_key"`
	TimeoutSeconds    int        `mapstructure:"timeout_seconds"`
	MaxRetryAttempts  int        `mapstructure:"max_retry_attempts"`
	PromptPrefix      string     `mapstructure:"prompt_prefix"`
	StatusMessageMode StatusMode `mapstructure:"status_message_mode"`
	LogInputImageMeta bool       `mapstructure:"log_input_image_meta"`

	AutoCompressEnabled bool `mapstructure:"auto_compress_enabled"`
	AutoCompressMaxSide int  `mapstructure:"auto_compress_max_side"`
	AutoCompressQuality int  `mapstructure:"auto_compress_quality"`

	GroupControlMode GroupMode `mapstructure:"group_control_mode"`
	GroupList        []string  `mapstructure:"group_list"`

	RateLimitEnabled       bool   `mapstructure:"rate_limit_enabled"`
	RateLimitWindowSeconds int    `mapstructure:"rate_limit_window_seconds"`
	RateLimitMaxCalls      int    `mapstructure:"rate_limit_max_calls"`
	RateLimitScope         string `mapstructure:"rate_limit_scope"`
	RateLimitBackend       string `mapstructure:"rate_limit_backend"`

	MaxImagesPerResponse int    `mapstructure:"max_images_per_response"`
	SaveImageEnabled     bool   `mapstructure:"save_image_enabled"`
	NapServerAddress     string `mapstructure:"nap_server_address"`
	NapServerPort        int    `mapstructure:"nap_server_port"`

	// Supplementary settings.
	DataDir               string   `mapstructure:"data_dir"`
	AdminUsers            []string `mapstructure:"admin_users"`
	RetryBackoffSeconds   float64  `mapstructure:"retry_backoff_seconds"`
	SingleTaskPerUser     bool     `mapstructure:"single_task_per_user"`
	AllowPrivateDownloads bool     `mapstructure:"allow_private_downloads"`
	MaxDownloadBytes      int64    `mapstructure:"max_download_bytes"`

	RelayS3Bucket       string `mapstructure:"relay_s3_bucket"`
	RelayS3Prefix       string `mapstructure:"relay_s3_prefix"`
	RelayPresignMinutes int    `mapstructure:"relay_presign_minutes"`

	RedisAddr      string `mapstructure:"redis_addr"`
	RedisPassword  string `mapstructure:"redis_password"`
	RedisDB        int    `mapstructure:"redis_db"`
	DynamoDBTable  string `mapstructure:"dynamodb_table"`
	APIKeySSMParam string `mapstructure:"api_key_ssm_param"`

	LogLevel        string   `mapstructure:"log_level"`
	LogFormat       string   `mapstructure:"log_format"`
	HTTPAddr        string   `mapstructure:"http_addr"`
	HTTPCORSOrigins []string `mapstructure:"http_cors_origins"`
	HTTPAuthSecret  string   `mapstructure:"http_auth_secret"`
	HTTPAuthIssuer  string   `mapstructure:"http_auth_issuer"`

	OTLPEndpoint    string  `mapstructure:"otlp_endpoint"`
	TraceSampleRate float64 `mapstructure:"trace_sample_rate"`
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		Enabled:           true,
		ServerURL:         "https://api.x.ai",
		ModelID:           "grok-imagine-0.9",
		TimeoutSeconds:    120,
		MaxRetryAttempts:  3,
		PromptPrefix:      DefaultPromptPrefix,
		StatusMessageMode: StatusMinimal,

		AutoCompressEnabled: true,
		AutoCompressMaxSide: 1536,
		AutoCompressQuality: 85,

		GroupControlMode: GroupOff,

		RateLimitEnabled:       true,
		RateLimitWindowSeconds: 3600,
		RateLimitMaxCalls:      5,
		RateLimitScope:         ScopeGroup,
		RateLimitBackend:       BackendMemory,

		MaxImagesPerResponse: 4,

		DataDir:             "data",
		RetryBackoffSeconds: 1,
		SingleTaskPerUser:   true,
		MaxDownloadBytes:    32 << 20,
		RelayS3Prefix:       "grok-edit/",
		RelayPresignMinutes: 60,

		LogLevel:  "info",
		LogFormat: "console",
		HTTPAddr:  ":8080",

		HTTPAuthIssuer: "grok-image-edit",

		TraceSampleRate: 1,
	}
}

// Normalize replaces out-of-range values with defaults so the pipeline never
// sees a zero timeout or an unknown mode.
func (o Options) Normalize() Options {
	def := Default()

	o.ServerURL = strings.TrimRight(strings.TrimSpace(o.ServerURL), "/")
	if o.ServerURL == "" {
		o.ServerURL = def.ServerURL
	}
	o.ModelID = strings.TrimSpace(o.ModelID)
	if o.ModelID == "" {
		o.ModelID = def.ModelID
	}
	o.APIKey = strings.TrimSpace(o.APIKey)
	o.PromptPrefix = strings.TrimSpace(o.PromptPrefix)

	switch mode := StatusMode(strings.ToLower(strings.TrimSpace(string(o.StatusMessageMode)))); mode {
	case StatusVerbose, StatusMinimal, StatusSilent:
		o.StatusMessageMode = mode
	default:
		o.StatusMessageMode = StatusMinimal
	}
	switch mode := GroupMode(strings.ToLower(strings.TrimSpace(string(o.GroupControlMode)))); mode {
	case GroupWhitelist, GroupBlacklist:
		o.GroupControlMode = mode
	default:
		o.GroupControlMode = GroupOff
	}
	switch scope := strings.ToLower(strings.TrimSpace(o.RateLimitScope)); scope {
	case ScopeUser:
		o.RateLimitScope = scope
	default:
		o.RateLimitScope = ScopeGroup
	}
	switch backend := strings.ToLower(strings.TrimSpace(o.RateLimitBackend)); backend {
	case BackendRedis, BackendDynamoDB:
		o.RateLimitBackend = backend
	default:
		o.RateLimitBackend = BackendMemory
	}

	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = def.TimeoutSeconds
	}
	if o.MaxRetryAttempts < 0 {
		o.MaxRetryAttempts = 0
	}
	if o.AutoCompressMaxSide <= 0 {
		o.AutoCompressMaxSide = def.AutoCompressMaxSide
	}
	if o.AutoCompressQuality < 1 || o.AutoCompressQuality > 100 {
		o.AutoCompressQuality = def.AutoCompressQuality
	}
	if o.RateLimitWindowSeconds <= 0 {
		o.RateLimitWindowSeconds = def.RateLimitWindowSeconds
	}
	if o.RateLimitMaxCalls < 0 {
		o.RateLimitMaxCalls = 0
	}
	if o.MaxImagesPerResponse <= 0 {
		o.MaxImagesPerResponse = def.MaxImagesPerResponse
	}
	if o.RetryBackoffSeconds < 0 {
		o.RetryBackoffSeconds = 0
	}
	if o.MaxDownloadBytes <= 0 {
		o.MaxDownloadBytes = def.MaxDownloadBytes
	}
	if o.RelayPresignMinutes <= 0 {
		o.RelayPresignMinutes = def.RelayPresignMinutes
	}
	if o.NapServerPort < 0 || o.NapServerPort > 65535 {
		o.NapServerPort = 0
	}
	o.NapServerAddress = strings.TrimSpace(o.NapServerAddress)
	if o.TraceSampleRate < 0 || o.TraceSampleRate > 1 {
		o.TraceSampleRate = def.TraceSampleRate
	}
	o.OTLPEndpoint = strings.TrimSpace(o.OTLPEndpoint)
	o.HTTPAuthSecret = strings.TrimSpace(o.HTTPAuthSecret)
	o.HTTPAuthIssuer = strings.TrimSpace(o.HTTPAuthIssuer)
	if strings.TrimSpace(o.DataDir) == "" {
		o.DataDir = def.DataDir
	}

	o.GroupList = trimAll(o.GroupList)
	o.AdminUsers = trimAll(o.AdminUsers)
	o.HTTPCORSOrigins = trimAll(o.HTTPCORSOrigins)
	return o
}

// Clone returns a deep copy, so slices can not be shared between snapshots.
func (o Options) Clone() Options {
	o.GroupList = slices.Clone(o.GroupList)
	o.AdminUsers = slices.Clone(o.AdminUsers)
	o.HTTPCORSOrigins = slices.Clone(o.HTTPCORSOrigins)
	return o
}

// Timeout is the per-attempt deadline.
func (o Options) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// RateWindow is the rate limit window length.
func (o Options) RateWindow() time.Duration {
	return time.Duration(o.RateLimitWindowSeconds) * time.Second
}

// RetryBackoff is the pause between two attempts.
func (o Options) RetryBackoff() time.Duration {
	return time.Duration(o.RetryBackoffSeconds * float64(time.Second))
}

// PresignExpiry is how long S3 relay links stay valid.
func (o Options) PresignExpiry() time.Duration {
	return time.Duration(o.RelayPresignMinutes) * time.Minute
}

// ChatCompletionsURL is the edit endpoint.
func (o Options) ChatCompletionsURL() string {
	return o.ServerURL + "/v1/chat/completions"
}

// ModelsURL is used by the connectivity probe.
func (o Options) ModelsURL() string {
	return o.ServerURL + "/v1/models"
}

// NapRelayConfigured reports whether a NapCat file relay is set up.
func (o Options) NapRelayConfigured() bool {
	return o.NapServerAddress != "" && o.NapServerPort > 0
}

// S3RelayConfigured reports whether results are relayed through S3.
func (o Options) S3RelayConfigured() bool {
	return strings.TrimSpace(o.RelayS3Bucket) != ""
}

// RelayConfigured reports whether any relay is configured.
func (o Options) RelayConfigured() bool {
	return o.NapRelayConfigured() || o.S3RelayConfigured()
}

// IsAdmin reports whether userID may run admin diagnostics.
func (o Options) IsAdmin(userID string) bool {
	return userID != "" && slices.Contains(o.AdminUsers, userID)
}

// ImagesDir is where materialized artifacts are written.
func (o Options) ImagesDir() string {
	return filepath.Join(o.DataDir, "images")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
