package auth

import (
	"context"
	"errors"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/grok-image-edit/internal/grok"
	"github.com/fpang/grok-image-edit/internal/metrics"
)

// ValidationError represents a specific type of API key validation failure.
type ValidationError struct {
	Type    ValidationErrorType
	Message string
	Err     error
}

// ValidationErrorType categorizes validation failures.
type ValidationErrorType int

const (
	// ErrTypeNoKey indicates no API key was found.
	ErrTypeNoKey ValidationErrorType = iota
	// ErrTypeInvalidKey indicates the API key is invalid or revoked.
	ErrTypeInvalidKey
	// ErrTypeNetworkError indicates a network connectivity issue.
	ErrTypeNetworkError
	// ErrTypeQuotaExceeded indicates the API quota has been exceeded.
	ErrTypeQuotaExceeded
	// ErrTypeUnknown indicates an unknown error occurred.
	ErrTypeUnknown
)

func (t ValidationErrorType) String() string {
	switch t {
	case ErrTypeNoKey:
		return "no_key"
	case ErrTypeInvalidKey:
		return "invalid"
	case ErrTypeNetworkError:
		return "network_error"
	case ErrTypeQuotaExceeded:
		return "quota"
	default:
		return "unknown"
	}
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ModelLister lists the models visible to a key.
type ModelLister interface {
	ListModels(ctx context.Context, target grok.Target) ([]string, error)
}

// ProbeResult describes a successful connectivity probe.
type ProbeResult struct {
	Models         []string
	ModelAvailable bool
	Elapsed        time.Duration
}

// ValidateAPIKey verifies the key by listing models at target, and reports
// whether model is among them. It returns a ValidationError on failure.
func ValidateAPIKey(ctx context.Context, lister ModelLister, target grok.Target, model string) (*ProbeResult, error) {
	if target.APIKey == "" {
		return nil, &ValidationError{Type: ErrTypeNoKey, Message: "API key is not configured"}
	}

	log.Debug().Str("url", target.URL).Msg("Validating API key")

	start := time.Now()
	models, err := lister.ListModels(ctx, target)
	elapsed := time.Since(start)

	result := "success"
	var valErr *ValidationError
	if err != nil {
		valErr = classifyError(err)
		result = valErr.Type.String()
	}

	if metrics.Enabled() {
		metrics.New(metrics.EMFNamespace).
			Dimension("Result", result).
			Duration("ApiKeyValidationMs", elapsed).
			Count("ApiKeyValidationResult").
			Flush()
	}

	if valErr != nil {
		return nil, valErr
	}

	res := &ProbeResult{
		Models:         models,
		ModelAvailable: slices.Contains(models, model),
		Elapsed:        elapsed,
	}
	log.Info().
		Dur("duration", elapsed).
		Int("models", len(models)).
		Bool("model_available", res.ModelAvailable).
		Msg("API key validated successfully")
	return res, nil
}

// classifyError analyzes an error and returns a ValidationError with the appropriate type.
func classifyError(err error) *ValidationError {
	var statusErr *grok.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		log.Error().Err(err).Msg("Network error during API validation")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "Network error - check connectivity to the API server",
			Err:     err,
		}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "incorrect api key") ||
		strings.Contains(errLower, "permission denied"):
		log.Error().Err(err).Msg("Invalid API key")
		return &ValidationError{
			Type:    ErrTypeInvalidKey,
			Message: "API key is invalid or has been revoked",
			Err:     err,
		}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "rate limit"):
		log.Error().Err(err).Msg("API quota exceeded")
		return &ValidationError{
			Type:    ErrTypeQuotaExceeded,
			Message: "API quota exceeded or rate limited",
			Err:     err,
		}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "no such host"):
		log.Error().Err(err).Msg("Network error during API validation")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "Network error - check connectivity to the API server",
			Err:     err,
		}

	default:
		log.Error().Err(err).Msg("Unknown error during API validation")
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "Failed to validate API key",
			Err:     err,
		}
	}
}

// classifyStatus categorizes an HTTP status returned by the API.
func classifyStatus(err *grok.StatusError) *ValidationError {
	switch {
	case err.StatusCode == 400 || err.StatusCode == 401 || err.StatusCode == 403:
		log.Error().Int("code", err.StatusCode).Msg("Authentication failed - invalid API key")
		return &ValidationError{
			Type:    ErrTypeInvalidKey,
			Message: "API key is invalid, expired, or lacks permissions",
			Err:     err,
		}

	case err.StatusCode == 429:
		log.Error().Int("code", err.StatusCode).Msg("Rate limit exceeded")
		return &ValidationError{
			Type:    ErrTypeQuotaExceeded,
			Message: "API rate limit exceeded - try again later",
			Err:     err,
		}

	case err.StatusCode >= 500:
		log.Error().Int("code", err.StatusCode).Msg("Server error during validation")
		return &ValidationError{
			Type:    ErrTypeNetworkError,
			Message: "API server error - try again later",
			Err:     err,
		}

	default:
		log.Error().Int("code", err.StatusCode).Msg("Unexpected API status")
		return &ValidationError{
			Type:    ErrTypeUnknown,
			Message: "Unexpected API response",
			Err:     err,
		}
	}
}
