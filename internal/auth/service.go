package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnauthorized is returned for missing, malformed or rejected credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotConfigured is returned when no signing secret is set.
	ErrNotConfigured = errors.New("authentication is not configured")
)

const defaultTokenTTL = time.Hour

// Method tells how a principal authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodJWT    Method = "jwt"
)

// Principal is the authenticated caller.
type Principal struct {
	Subject string
	Method  Method
}

// APIKey is a long-lived credential. Only the bcrypt hash of the secret is
// kept.
type APIKey struct {
	Subject string
	Hash    []byte
}

// Config configures the authenticator.
type Config struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
	APIKeys   []APIKey
}

// Service authenticates agents by API key or HS256 access token.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
	keys   map[string][][]byte
	now    func() time.Time
}

// NewService builds an authenticator.
func NewService(cfg Config) *Service {
	s := &Service{
		secret: []byte(cfg.JWTSecret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		keys:   make(map[string][][]byte),
		now:    time.Now,
	}
	if s.ttl <= 0 {
		s.ttl = defaultTokenTTL
	}
	for _, k := range cfg.APIKeys {
		s.keys[k.Subject] = append(s.keys[k.Subject], k.Hash)
	}
	return s
}

// Enabled reports whether any credential can be verified.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0 || len(s.keys) > 0
}

// Authenticate verifies a bearer credential. Three dot-separated segments
// are treated as a JWT; anything else as "<subject>:<secret>" API key.
func (s *Service) Authenticate(_ context.Context, credential string) (Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Principal{}, ErrUnauthorized
	}
	if strings.Count(credential, ".") == 2 {
		sub, err := s.ParseToken(credential)
		if err != nil {
			return Principal{}, err
		}
		return Principal{Subject: sub, Method: MethodJWT}, nil
	}
	sub, err := s.VerifyAPIKey(credential)
	if err != nil {
		return Principal{}, err
	}
	return Principal{Subject: sub, Method: MethodAPIKey}, nil
}

// VerifyAPIKey checks a "<subject>:<secret>" key and returns the subject.
func (s *Service) VerifyAPIKey(key string) (string, error) {
	subject, secret, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || subject == "" || secret == "" {
		return "", ErrUnauthorized
	}
	for _, hash := range s.keys[subject] {
		if bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil {
			return subject, nil
		}
	}
	return "", ErrUnauthorized
}

// IssueToken signs a short-lived access token for subject.
func (s *Service) IssueToken(subject string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, ErrNotConfigured
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseToken verifies an access token and returns its subject.
func (s *Service) ParseToken(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrUnauthorized
	}
	var claims jwt.RegisteredClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}

// HashSecret returns the bcrypt hash to configure for an API key secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ParseAPIKeys decodes "subject:bcrypt-hash" pairs.
func ParseAPIKeys(pairs []string) ([]APIKey, error) {
	var keys []APIKey
	for _, pair := range pairs {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		subject, hash, ok := strings.Cut(pair, ":")
		if !ok || subject == "" || hash == "" {
			return nil, fmt.Errorf("api key %q must be subject:bcrypt-hash", subject)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("api key for %s: %w", subject, err)
		}
		keys = append(keys, APIKey{Subject: subject, Hash: []byte(hash)})
	}
	return keys, nil
}
