// Package access decides whether an edit request may run: group policy, the
// per-identity rate window and the single-task-per-user guard.
package access

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/grok-image-edit/internal/config"
	"github.com/fpang/grok-image-edit/internal/ratelimit"
)

// Reason explains a denial.
type Reason string

const (
	ReasonGroupBlocked Reason = "group-blocked"
	ReasonRateLimited  Reason = "rate-limited"
	ReasonBusy         Reason = "busy"
	ReasonAnonymous    Reason = "anonymous"
)

// Identity is who sent a request. GroupID is empty for private chats.
type Identity struct {
	UserID  string
	GroupID string
}

// Anonymous reports whether id names nobody.
func (id Identity) Anonymous() bool {
	return id.UserID == "" && id.GroupID == ""
}

// Decision is the result of Authorize.
type Decision struct {
	Allowed bool
	Reason  Reason
	// RetryAfter is set for rate-limited denials when the store knows when the
	// window resets.
	RetryAfter time.Duration
}

// Allow is the Decision for an admitted request.
var Allow = Decision{Allowed: true}

// Deny builds a denial.
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	return fmt.Sprintf("denied(%s)", d.Reason)
}

// Gate combines the group policy with a rate window store.
type Gate struct {
	store ratelimit.Store
	now   func() time.Time
}

// NewGate creates a Gate backed by store.
func NewGate(store ratelimit.Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// Authorize evaluates group policy first, then the rate window. A denied group
// never touches the rate window. A failing store admits the request: losing a
// rate window backend must not take the feature down with it. An identity
// with neither a user nor a group is denied, since it has no window of its own.
func (g *Gate) Authorize(ctx context.Context, id Identity, opts config.Options) Decision {
	if id.Anonymous() {
		return Deny(ReasonAnonymous)
	}
	if !GroupAllowed(opts.GroupControlMode, opts.GroupList, id.GroupID) {
		return Deny(ReasonGroupBlocked)
	}
	if !opts.RateLimitEnabled {
		return Allow
	}

	key := RateKey(opts.RateLimitScope, id)
	d, err := g.store.Allow(ctx, key, opts.RateLimitMaxCalls, opts.RateWindow())
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Rate window check failed, admitting request")
		return Allow
	}
	if d.Allowed {
		log.Debug().Str("key", key).Int("count", d.Count).Int("max", opts.RateLimitMaxCalls).Msg("Rate window admitted call")
		return Allow
	}

	denied := Deny(ReasonRateLimited)
	if !d.ResetAt.IsZero() {
		if wait := d.ResetAt.Sub(g.now()); wait > 0 {
			denied.RetryAfter = wait
		}
	}
	return denied
}

// GroupAllowed applies the group policy. Private chats (empty groupID) are
// always allowed.
func GroupAllowed(mode config.GroupMode, list []string, groupID string) bool {
	if groupID == "" {
		return true
	}
	switch mode {
	case config.GroupWhitelist:
		return slices.Contains(list, groupID)
	case config.GroupBlacklist:
		return !slices.Contains(list, groupID)
	default:
		return true
	}
}

// RateKey names the rate window an identity counts against. With the group
// scope a private chat falls back to the user.
func RateKey(scope string, id Identity) string {
	if scope != config.ScopeUser && id.GroupID != "" {
		return "group:" + id.GroupID
	}
	return "user:" + id.UserID
}
