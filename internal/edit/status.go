package edit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fpang/grok-image-edit/internal/access"
	"github.com/fpang/grok-image-edit/internal/config"
)

const genericFailure = "Image edit failed, please try again later."

// DeniedError converts a gate denial into a PermissionError.
func DeniedError(d access.Decision, opts config.Options) *Error {
	var msg string
	switch d.Reason {
	case access.ReasonGroupBlocked:
		msg = "Image editing is not available in this group."
	case access.ReasonRateLimited:
		msg = fmt.Sprintf("The edit limit of %d per %s has been reached, please try again later.",
			opts.RateLimitMaxCalls, opts.RateWindow())
		if d.RetryAfter > 0 {
			msg = fmt.Sprintf("The edit limit of %d per %s has been reached, try again in %s.",
				opts.RateLimitMaxCalls, opts.RateWindow(), d.RetryAfter.Round(time.Second))
		}
	case access.ReasonBusy:
		msg = "You already have an image edit in progress, please wait for it to finish."
	case access.ReasonAnonymous:
		msg = "The request does not identify a user."
	default:
		msg = "Image editing is not allowed here."
	}
	return newError(KindPermission, string(d.Reason), msg, nil)
}

// StatusText renders err for end users according to the status mode.
// Silent mode shows nothing. Input, permission and configuration errors are
// instructions rather than failure detail, so minimal mode shows them too;
// every other kind gets a generic notice in minimal mode and full detail in
// verbose mode.
func StatusText(mode config.StatusMode, err error) string {
	if err == nil || mode == config.StatusSilent {
		return ""
	}

	var e *Error
	if !errors.As(err, &e) {
		if mode == config.StatusVerbose {
			return "Image edit failed: " + err.Error()
		}
		return genericFailure
	}

	switch e.Kind {
	case KindInput, KindPermission, KindConfig:
		return e.Message
	}
	if mode != config.StatusVerbose {
		return genericFailure
	}

	detail := e.Message
	if e.Err != nil {
		detail += " (" + e.Err.Error() + ")"
	}
	return fmt.Sprintf("Image edit failed [%s]: %s", e.Kind, detail)
}

// AcceptedText is the notice sent when a task starts, empty in silent mode.
func AcceptedText(mode config.StatusMode, taskID string) string {
	if mode == config.StatusSilent {
		return ""
	}
	return "Editing your image with Grok, please wait...\n" +
		"Task ID: " + taskID + "\n" +
		"If a timeout is reported but an image arrives later, the edit succeeded."
}

// HelpText lists the available commands.
func HelpText() string {
	var sb strings.Builder
	sb.WriteString("Grok image edit\n\n")
	sb.WriteString("Usage:\n")
	sb.WriteString("  1. Send an image\n")
	sb.WriteString("  2. Reply to it with: /edit <instructions>\n\n")
	sb.WriteString("Examples:\n")
	sb.WriteString("  /edit add sunglasses to the character\n")
	sb.WriteString("  /edit make it cyberpunk style\n")
	sb.WriteString("  /edit replace the background with snowy mountains\n\n")
	sb.WriteString("Admin commands:\n")
	sb.WriteString("  /grok-probe  test the API connection\n")
	sb.WriteString("  /grok-help   show this help\n\n")
	sb.WriteString("Edits can take a while, please be patient.\n")
	return sb.String()
}
