// Package token issues and validates the signed bearer tokens that carry
// tenant identity. Tokens are HS256 JWTs with a fixed "access" type claim;
// validity is purely a function of the signing secret, expiry and claim
// shape, with no external state.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aeluslabs/tenantgate/internal/domain"
)

const tokenType = "access"

// Claims is the decoded view of an access token.
type Claims struct {
	TenantID uuid.UUID
	UserID   *uuid.UUID
	IssuedAt time.Time
	ExpireAt time.Time
}

type Codec struct {
	secret     []byte
	defaultTTL time.Duration
}

// NewCodec builds a codec from the process-wide signing secret. The secret
// is loaded once at startup and never mutated.
func NewCodec(secret string, defaultTTL time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("token: signing secret is empty")
	}
	if defaultTTL <= 0 {
		defaultTTL = 30 * time.Minute
	}
	return &Codec{secret: []byte(secret), defaultTTL: defaultTTL}, nil
}

// TTL returns the lifetime applied by Issue.
func (c *Codec) TTL() time.Duration {
	return c.defaultTTL
}

// Issue creates an access token with the default TTL.
func (c *Codec) Issue(tenantID uuid.UUID, userID *uuid.UUID, extra map[string]interface{}) (string, error) {
	return c.IssueWithTTL(tenantID, userID, extra, c.defaultTTL)
}

// IssueWithTTL creates an access token expiring ttl from now. A zero or
// negative ttl produces an already-expired token.
func (c *Codec) IssueWithTTL(tenantID uuid.UUID, userID *uuid.UUID, extra map[string]interface{}, ttl time.Duration) (string, error) {
	now := time.Now().UTC()

	claims := jwt.MapClaims{
		"tenant_id": tenantID.String(),
		"type":      tokenType,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	if userID != nil {
		claims["user_id"] = userID.String()
	}
	for k, v := range extra {
		claims[k] = v
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies signature and expiry and returns the token claims.
// Returns domain.ErrTokenExpired for expired tokens and domain.ErrTokenInvalid
// for anything else wrong with the token.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}

	mc, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, domain.ErrTokenInvalid
	}

	if typ, _ := mc["type"].(string); typ != tokenType {
		return nil, fmt.Errorf("%w: invalid token type", domain.ErrTokenInvalid)
	}

	tenantStr, _ := mc["tenant_id"].(string)
	if tenantStr == "" {
		return nil, fmt.Errorf("%w: missing tenant_id claim", domain.ErrTokenInvalid)
	}
	tenantID, err := uuid.Parse(tenantStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid tenant_id format", domain.ErrTokenInvalid)
	}

	out := &Claims{TenantID: tenantID}

	if userStr, _ := mc["user_id"].(string); userStr != "" {
		if userID, err := uuid.Parse(userStr); err == nil {
			out.UserID = &userID
		}
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpireAt = exp.Time
	}

	return out, nil
}

// ExtractTenantID decodes the token and returns its tenant claim.
func (c *Codec) ExtractTenantID(tokenStr string) (uuid.UUID, error) {
	claims, err := c.Decode(tokenStr)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.TenantID, nil
}

// Verify reports whether a token is currently valid.
func (c *Codec) Verify(tokenStr string) bool {
	_, err := c.Decode(tokenStr)
	return err == nil
}
