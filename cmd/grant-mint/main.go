// Package main provides a one-shot utility for minting operator grants.
//
// It signs a short-lived grant token for one contract and operation set
// using the operator grant private key.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/louisbranch/cyclefund/internal/platform/config"
	"github.com/louisbranch/cyclefund/internal/platform/id"
	"github.com/louisbranch/cyclefund/internal/tools/operatorgrant"
)

func main() {
	issuer := flag.String("issuer", "cyclefund-operator", "grant issuer")
	audience := flag.String("audience", "cyclefund-funding", "grant audience")
	contract := flag.String("contract", "", "contract the grant covers")
	operator := flag.String("operator", "", "operator address the grant names")
	operations := flag.String("operations", "", "comma-separated operations, or * for all")
	ttl := flag.Duration("ttl", 5*time.Minute, "grant lifetime")
	flag.Parse()

	raw := strings.TrimSpace(os.Getenv("CYCLEFUND_OPERATOR_GRANT_PRIVATE_KEY"))
	if raw == "" {
		config.Exitf("CYCLEFUND_OPERATOR_GRANT_PRIVATE_KEY is required")
	}
	keyBytes, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		keyBytes, err = base64.StdEncoding.DecodeString(raw)
	}
	if err != nil {
		config.Exitf("decode private key: %v", err)
	}

	grantID, err := id.NewID()
	if err != nil {
		config.Exitf("generate grant id: %v", err)
	}

	var ops []string
	for _, op := range strings.Split(*operations, ",") {
		if op = strings.TrimSpace(op); op != "" {
			ops = append(ops, op)
		}
	}

	token, err := operatorgrant.Mint(ed25519.PrivateKey(keyBytes), operatorgrant.MintInput{
		Issuer:     *issuer,
		Audience:   *audience,
		ContractID: *contract,
		Operator:   *operator,
		Operations: ops,
		GrantID:    grantID,
		TTL:        *ttl,
	})
	if err != nil {
		config.Exitf("mint operator grant: %v", err)
	}
	fmt.Println(token)
}
