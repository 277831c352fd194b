package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// APIKeyEnv is read when no key is configured.
	APIKeyEnv = "GROK_API_KEY"
	// PassphraseFileEnv points at a GPG passphrase file for non-interactive use.
	PassphraseFileEnv = "GROK_EDIT_GPG_PASSPHRASE_FILE"

	credentialDir  = ".grok-image-edit"
	credentialFile = "credentials.gpg"
)

// ErrNoAPIKey is returned when no source yields a key.
var ErrNoAPIKey = errors.New("API key not found")

// GetAPIKey retrieves the xAI API key.
// Priority order:
//  1. configured, the value from config, GROK_EDIT_API_KEY or SSM
//  2. GROK_API_KEY environment variable
//  3. GPG-encrypted file at ~/.grok-image-edit/credentials.gpg
func GetAPIKey(configured string) (string, error) {
	if key := strings.TrimSpace(configured); key != "" {
		log.Debug().Msg("Using API key from configuration")
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv(APIKeyEnv)); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Debug().Err(err).Msg("No API key source available")
	return "", fmt.Errorf("%w: set api_key, %s or create ~/%s/%s", ErrNoAPIKey, APIKeyEnv, credentialDir, credentialFile)
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet", "--batch"}
	if passphrasePath := os.Getenv(PassphraseFileEnv); passphrasePath != "" {
		if err := checkPassphraseFile(passphrasePath); err != nil {
			log.Warn().Err(err).Str("passphrase_file", passphrasePath).Msg("Ignoring passphrase file")
		} else {
			args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
		}
	}

	args = append(args, credPath)
	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// checkPassphraseFile requires the file to exist and be owner-only.
func checkPassphraseFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("insecure permissions %04o (should be 0600)", mode)
	}
	return nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}
