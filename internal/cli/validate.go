package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/grok-image-edit/internal/auth"
)

// ReadImageFile checks that path is a regular file no larger than maxBytes
// and returns its contents.
func ReadImageFile(path string, maxBytes int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image not found: %s", path)
		}
		return nil, fmt.Errorf("failed to access image: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", path)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("image is %d bytes, limit is %d", info.Size(), maxBytes)
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return os.ReadFile(path)
}

// ValidationMessage explains an auth.ValidationError to a terminal user.
func ValidationMessage(err error) string {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		return "Unexpected error during API key validation"
	}
	switch validationErr.Type {
	case auth.ErrTypeNoKey:
		return "No API key configured. Set GROK_API_KEY or api_key in the config file"
	case auth.ErrTypeInvalidKey:
		return "Invalid API key. Please check your API key and try again"
	case auth.ErrTypeNetworkError:
		return "Network error. Please check your connection and server_url"
	case auth.ErrTypeQuotaExceeded:
		return "API quota exceeded. Please try again later or check your usage limits"
	default:
		return "API key validation failed"
	}
}

// HandleValidationError logs err with a user-facing explanation.
func HandleValidationError(err error) {
	log.Error().Err(err).Msg(ValidationMessage(err))
}
