package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GROK_EDIT_API_KEY.
const EnvPrefix = "GROK_EDIT"

var envPlaceholder = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load builds Options from defaults, an optional YAML file and environment
// variables, in that order of precedence (later wins).
func Load(path string) (Options, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Default())

	if path != "" {
		if err := loadConfigFile(v, path); err != nil {
			return Options{}, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return Options{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return opts.Normalize(), nil
}

// MustLoad is Load for main packages.
func MustLoad(path string) Options {
	opts, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return opts
}

func loadConfigFile(v *viper.Viper, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := v.ReadConfig(strings.NewReader(expandEnv(string(content)))); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:default} placeholders. Unknown
// variables without a default are left untouched.
func expandEnv(s string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		sub := envPlaceholder.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal.
func setDefaults(v *viper.Viper, d Options) {
	v.SetDefault("enabled", d.Enabled)
	v.SetDefault("server_url", d.ServerURL)
	v.SetDefault("model_id", d.ModelID)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("timeout_seconds", d.TimeoutSeconds)
	v.SetDefault("max_retry_attempts", d.MaxRetryAttempts)
	v.SetDefault("prompt_prefix", d.PromptPrefix)
	v.SetDefault("status_message_mode", string(d.StatusMessageMode))
	v.SetDefault("log_input_image_meta", d.LogInputImageMeta)

	v.SetDefault("auto_compress_enabled", d.AutoCompressEnabled)
	v.SetDefault("auto_compress_max_side", d.AutoCompressMaxSide)
	v.SetDefault("auto_compress_quality", d.AutoCompressQuality)

	v.SetDefault("group_control_mode", string(d.GroupControlMode))
	v.SetDefault("group_list", d.GroupList)

	v.SetDefault("rate_limit_enabled", d.RateLimitEnabled)
	v.SetDefault("rate_limit_window_seconds", d.RateLimitWindowSeconds)
	v.SetDefault("rate_limit_max_calls", d.RateLimitMaxCalls)
	v.SetDefault("rate_limit_scope", d.RateLimitScope)
	v.SetDefault("rate_limit_backend", d.RateLimitBackend)

	v.SetDefault("max_images_per_response", d.MaxImagesPerResponse)
	v.SetDefault("save_image_enabled", d.SaveImageEnabled)
	v.SetDefault("nap_server_address", d.NapServerAddress)
	v.SetDefault("nap_server_port", d.NapServerPort)

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("admin_users", d.AdminUsers)
	v.SetDefault("retry_backoff_seconds", d.RetryBackoffSeconds)
	v.SetDefault("single_task_per_user", d.SingleTaskPerUser)
	v.SetDefault("allow_private_downloads", d.AllowPrivateDownloads)
	v.SetDefault("max_download_bytes", d.MaxDownloadBytes)

	v.SetDefault("relay_s3_bucket", d.RelayS3Bucket)
	v.SetDefault("relay_s3_prefix", d.RelayS3Prefix)
	v.SetDefault("relay_presign_minutes", d.RelayPresignMinutes)

	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("redis_password", d.RedisPassword)
	v.SetDefault("redis_db", d.RedisDB)
	v.SetDefault("dynamodb_table", d.DynamoDBTable)
	v.SetDefault("api_key_ssm_param", d.APIKeySSMParam)

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("http_addr", d.HTTPAddr)
	v.SetDefault("http_cors_origins", d.HTTPCORSOrigins)
	v.SetDefault("http_auth_secret", d.HTTPAuthSecret)
	v.SetDefault("http_auth_issuer", d.HTTPAuthIssuer)
	v.SetDefault("otlp_endpoint", d.OTLPEndpoint)
	v.SetDefault("trace_sample_rate", d.TraceSampleRate)
}
