// Package operatorgrant generates operator grant key pairs and mints signed
// grant tokens for privileged funding operations.
package operatorgrant

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Run generates an operator grant key pair and writes exports.
func Run(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate operator grant key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export CYCLEFUND_OPERATOR_GRANT_PRIVATE_KEY=%s\n", base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export CYCLEFUND_OPERATOR_GRANT_PUBLIC_KEY=%s\n", base64.RawStdEncoding.EncodeToString(publicKey)); err != nil {
		return err
	}
	return nil
}

// MintInput describes the grant to mint.
type MintInput struct {
	Issuer     string
	Audience   string
	ContractID string
	Operator   string
	Operations []string
	GrantID    string
	TTL        time.Duration
	Now        func() time.Time
}

// Mint signs an operator grant token with the given Ed25519 private key.
func Mint(privateKey ed25519.PrivateKey, input MintInput) (string, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	if strings.TrimSpace(input.Issuer) == "" || strings.TrimSpace(input.Audience) == "" {
		return "", errors.New("issuer and audience are required")
	}
	if strings.TrimSpace(input.ContractID) == "" {
		return "", errors.New("contract id is required")
	}
	if strings.TrimSpace(input.Operator) == "" {
		return "", errors.New("operator is required")
	}
	if len(input.Operations) == 0 {
		return "", errors.New("at least one operation is required")
	}
	if strings.TrimSpace(input.GrantID) == "" {
		return "", errors.New("grant id is required")
	}
	if input.TTL <= 0 {
		return "", errors.New("ttl must be positive")
	}
	now := time.Now
	if input.Now != nil {
		now = input.Now
	}
	issuedAt := now().UTC()

	claims := struct {
		jwt.RegisteredClaims
		ContractID string   `json:"contract_id"`
		Operator   string   `json:"operator"`
		Operations []string `json:"operations"`
	}{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    input.Issuer,
			Audience:  jwt.ClaimStrings{input.Audience},
			ID:        input.GrantID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(input.TTL)),
		},
		ContractID: input.ContractID,
		Operator:   input.Operator,
		Operations: input.Operations,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(privateKey)
	if err != nil {
		return "", fmt.Errorf("sign operator grant: %w", err)
	}
	return token, nil
}
