// Package token issues and verifies the JWTs handed to clients.
package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"keyless-recovery/internal/config"
)

// AppVersion is stamped on session tokens.
const AppVersion = "1.0.0"

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingClient = errors.New("token has no clientId claim")
	ErrNoSigningKey  = errors.New("no JWT signing key configured")
	ErrCannotVerify  = errors.New("no JWT verification key configured")
)

type Claims struct {
	ClientID   string `json:"clientId"`
	AppVersion string `json:"appVersion,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
	Keyshare   string `json:"keyshare,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	issuer    string
}

// NewSigner uses RS256 when a private key path is configured, HS256 otherwise.
func NewSigner(cfg config.JWTConfig) (*Signer, error) {
	if cfg.PrivateKeyPath != "" {
		return newRSASigner(cfg)
	}
	if cfg.Secret == "" {
		return nil, ErrNoSigningKey
	}
	secret := []byte(cfg.Secret)
	return &Signer{
		method:    jwt.SigningMethodHS256,
		signKey:   secret,
		verifyKey: secret,
		issuer:    cfg.Issuer,
	}, nil
}

func newRSASigner(cfg config.JWTConfig) (*Signer, error) {
	pemBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read JWT private key: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWT private key: %w", err)
	}

	var publicKey *rsa.PublicKey = &privateKey.PublicKey
	if cfg.PublicKeyPath != "" {
		pubBytes, err := os.ReadFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT public key: %w", err)
		}
		if publicKey, err = jwt.ParseRSAPublicKeyFromPEM(pubBytes); err != nil {
			return nil, fmt.Errorf("failed to parse JWT public key: %w", err)
		}
	}

	return NewRSASigner(privateKey, publicKey, cfg.Issuer), nil
}

// NewRSASigner signs with privateKey and verifies with publicKey. Either may
// be nil for a verify-only or sign-only signer.
func NewRSASigner(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, issuer string) *Signer {
	s := &Signer{method: jwt.SigningMethodRS256, issuer: issuer}
	if privateKey != nil {
		s.signKey = privateKey
	}
	if publicKey != nil {
		s.verifyKey = publicKey
	}
	return s
}

// Sign fills in the issuer and issue time when absent and signs claims.
func (s *Signer) Sign(claims Claims) (string, error) {
	if s.signKey == nil {
		return "", ErrNoSigningKey
	}
	if claims.Issuer == "" {
		claims.Issuer = s.issuer
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(time.Now())
	}

	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and requires a clientId claim.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	if s.verifyKey == nil {
		return nil, ErrCannotVerify
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.verifyKey, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ClientID == "" {
		return nil, ErrMissingClient
	}
	return claims, nil
}

// SessionClaims builds the claims of a session token. The phone doubles as
// subject and client id.
func SessionClaims(phone, sessionID, keyshare string, expiresAt time.Time) Claims {
	return Claims{
		ClientID:   phone,
		AppVersion: AppVersion,
		SessionID:  sessionID,
		Keyshare:   keyshare,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   phone,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
}

// ClientClaims builds the claims of a client application token.
func ClientClaims(clientID, appVersion string, ttl time.Duration) Claims {
	c := Claims{ClientID: clientID, AppVersion: appVersion}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return c
}
