// Package server contains HTTP handlers for the identity service.
// This file validates the tokens relayers present when delivering messages.
package server

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/RegistryAccord/registryaccord-onchainid-go/internal/storage"
)

// maxClockSkew tolerates relayer clocks running slightly ahead.
const maxClockSkew = 5 * time.Minute

var errMissingBearer = errors.New("missing bearer token")

// relayerClaims identifies the relayer that signed a token.
type relayerClaims struct {
	KeyID   string
	Subject string
	ID      string
}

// relayerValidator checks relayer JWTs against the stored relayer keys.
type relayerValidator struct {
	keys     storage.RelayerKeyStore
	issuer   string
	audience string
	now      func() time.Time
}

func newRelayerValidator(keys storage.RelayerKeyStore, issuer, audience string, now func() time.Time) *relayerValidator {
	return &relayerValidator{keys: keys, issuer: issuer, audience: audience, now: now}
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(token), nil
}

// ValidateToken validates a relayer token with fail-closed semantics.
// It checks alg, kid, iss, aud, iat, exp and jti and verifies the signature
// with a key that is usable now.
func (v *relayerValidator) ValidateToken(ctx context.Context, tokenString string) (relayerClaims, error) {
	now := v.now()
	var kid string
	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodEdDSA.Alg()}),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithIssuedAt(),
		jwtlib.WithLeeway(maxClockSkew),
		jwtlib.WithTimeFunc(func() time.Time { return now }),
	)
	token, err := parser.Parse(tokenString, func(token *jwtlib.Token) (interface{}, error) {
		// Get key ID from header
		id, ok := token.Header["kid"].(string)
		if !ok || id == "" {
			return nil, fmt.Errorf("missing kid header")
		}
		kid = id

		// Look up the key in storage
		key, err := v.keys.GetRelayerKey(ctx, kid)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve key with kid %s: %w", kid, err)
		}
		if !key.Usable(now) {
			return nil, fmt.Errorf("key with kid %s is not usable", kid)
		}
		if len(key.PublicKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("key with kid %s has invalid size", kid)
		}
		return ed25519.PublicKey(key.PublicKey), nil
	})
	if err != nil {
		return relayerClaims{}, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok {
		return relayerClaims{}, fmt.Errorf("failed to parse claims")
	}

	// Validate issuer
	iss, err := claims.GetIssuer()
	if err != nil || iss == "" {
		return relayerClaims{}, fmt.Errorf("missing or invalid iss claim")
	}
	if v.issuer != "" && iss != v.issuer {
		return relayerClaims{}, fmt.Errorf("iss claim mismatch: expected %s, got %s", v.issuer, iss)
	}

	// Validate audience
	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 {
		return relayerClaims{}, fmt.Errorf("missing or invalid aud claim")
	}
	if v.audience != "" && !slices.Contains(aud, v.audience) {
		return relayerClaims{}, fmt.Errorf("aud claim mismatch: expected %s", v.audience)
	}

	// Validate issued at
	if iat, err := claims.GetIssuedAt(); err != nil || iat == nil {
		return relayerClaims{}, fmt.Errorf("missing or invalid iat claim")
	}

	// Validate JWT ID
	jti, ok := claims["jti"].(string)
	if !ok || jti == "" {
		return relayerClaims{}, fmt.Errorf("missing or invalid jti claim")
	}

	sub, _ := claims.GetSubject()
	return relayerClaims{KeyID: kid, Subject: sub, ID: jti}, nil
}
