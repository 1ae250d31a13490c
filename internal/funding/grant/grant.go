// Package grant verifies operator grants: short-lived Ed25519-signed JWTs
// that authorize privileged contract operations (fund withdrawal, goal
// extension, stake management, pausing) on behalf of a contract owner.
package grant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/cyclefund/internal/platform/errors"
)

// Operation names grants can cover.
const (
	OpWithdrawFunds = "withdraw_funds"
	OpExtendGoal    = "extend_goal"
	OpPause         = "pause"
	OpManageStake   = "manage_stake"
)

// operatorGrantEnv holds raw env values before post-parse validation.
type operatorGrantEnv struct {
	Issuer    string `env:"CYCLEFUND_OPERATOR_GRANT_ISSUER"`
	Audience  string `env:"CYCLEFUND_OPERATOR_GRANT_AUDIENCE"`
	PublicKey string `env:"CYCLEFUND_OPERATOR_GRANT_PUBLIC_KEY"`
}

// Config defines how operator grants are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Expectation defines the contract and operation a grant must cover.
type Expectation struct {
	ContractID string
	Operation  string
}

// Claims captures validated operator grant claims.
type Claims struct {
	Issuer     string
	Audience   []string
	ExpiresAt  time.Time
	NotBefore  time.Time
	IssuedAt   time.Time
	JWTID      string
	ContractID string
	Operator   string
	Operations []string
}

// operatorClaims is the internal claims type used for JWT parsing.
type operatorClaims struct {
	jwt.RegisteredClaims
	ContractID string   `json:"contract_id"`
	Operator   string   `json:"operator"`
	Operations []string `json:"operations"`
}

// LoadConfigFromEnv reads operator grant verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw operatorGrantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse operator grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("CYCLEFUND_OPERATOR_GRANT_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("CYCLEFUND_OPERATOR_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("CYCLEFUND_OPERATOR_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode operator grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("operator grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Validate verifies an operator grant token against the expected contract
// and operation, and returns its claims.
func Validate(grant string, expected Expectation, cfg Config) (Claims, error) {
	grant = strings.TrimSpace(grant)
	if grant == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "operator grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return Claims{}, errors.New("operator grant verifier is not configured")
	}

	var parsed operatorClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"operator grant issuer mismatch",
			map[string]string{"Field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"operator grant audience mismatch",
			map[string]string{"Field": "audience"},
		)
	}

	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "operator grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "operator grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeGrantExpired, "operator grant is expired")
	}
	if parsed.NotBefore != nil {
		nbf := parsed.NotBefore.Time.UTC()
		if now.Before(nbf) {
			return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "operator grant not active yet")
		}
	}

	if strings.TrimSpace(parsed.Operator) == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "operator grant subject is required")
	}
	if strings.TrimSpace(parsed.ContractID) == "" || parsed.ContractID != expected.ContractID {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"operator grant contract mismatch",
			map[string]string{"Field": "contract_id"},
		)
	}
	if !operationCovered(parsed.Operations, expected.Operation) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"operator grant does not cover the operation",
			map[string]string{"Field": "operations"},
		)
	}

	claims := Claims{
		Issuer:     parsed.Issuer,
		Audience:   []string(parsed.Audience),
		ExpiresAt:  exp,
		JWTID:      parsed.ID,
		ContractID: parsed.ContractID,
		Operator:   parsed.Operator,
		Operations: parsed.Operations,
	}
	if parsed.NotBefore != nil {
		claims.NotBefore = parsed.NotBefore.Time.UTC()
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeGrantInvalid, "operator grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeGrantInvalid, "operator grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeGrantInvalid, "operator grant is invalid")
}

// operationCovered reports whether the grant's operation list covers the
// expected operation. A "*" entry covers every operation.
func operationCovered(operations []string, expected string) bool {
	for _, op := range operations {
		if op == "*" || op == expected {
			return true
		}
	}
	return false
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
