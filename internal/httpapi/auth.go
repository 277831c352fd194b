package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/fpang/grok-image-edit/internal/access"
	"github.com/fpang/grok-image-edit/internal/edit"
)

const identityKey = "identity"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrNoUser       = errors.New("token has no user_id")
)

// Claims carries the caller identity. GroupID is empty for private use.
type Claims struct {
	UserID  string `json:"user_id"`
	GroupID string `json:"group_id,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the access identity named by the claims.
func (c *Claims) Identity() access.Identity {
	return access.Identity{UserID: c.UserID, GroupID: c.GroupID}
}

// TokenManager issues and verifies HS256 bearer tokens.
type TokenManager struct {
	secret []byte
	issuer string
}

// NewTokenManager returns nil when secret is empty, which leaves the
// protected routes closed.
func NewTokenManager(secret, issuer string) *TokenManager {
	if secret == "" {
		return nil
	}
	return &TokenManager{secret: []byte(secret), issuer: issuer}
}

// Issue signs a token for userID, valid for ttl.
func (m *TokenManager) Issue(userID, groupID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrNoUser
	}
	now := time.Now()
	claims := Claims{
		UserID:  userID,
		GroupID: groupID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse verifies the signature, issuer and expiry of token.
func (m *TokenManager) Parse(token string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return nil, ErrNoUser
	}
	return claims, nil
}

// Auth requires a valid bearer token and stores the caller identity in the
// gin context. Without a token manager every request is refused with 503.
func Auth(m *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{
				Error:  "authentication is not configured",
				Kind:   string(edit.KindConfig),
				Reason: "auth-not-configured",
			})
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortUnauthorized(c, "invalid authorization format")
			return
		}

		claims, err := m.Parse(token)
		if err != nil {
			abortUnauthorized(c, err.Error())
			return
		}
		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="grok-edit"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
		Error:  msg,
		Kind:   string(edit.KindPermission),
		Reason: "unauthorized",
	})
}

// identityFrom returns the identity stored by Auth.
func identityFrom(c *gin.Context) access.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(access.Identity); ok {
			return id
		}
	}
	return access.Identity{}
}
