// Package main provides a one-shot utility for operator grant key generation.
//
// It emits the asymmetric keypair used to sign and verify operator grants.
package main

import (
	"os"

	"github.com/louisbranch/cyclefund/internal/platform/config"
	"github.com/louisbranch/cyclefund/internal/tools/operatorgrant"
)

func main() {
	if err := operatorgrant.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate operator grant key: %v", err)
	}
}
