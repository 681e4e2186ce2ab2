// Package main provides a one-shot utility for access token key generation.
//
// It emits the asymmetric keypair the gateway uses to verify access tokens.
package main

import (
	"os"

	"github.com/vendloc/vendloc/internal/platform/config"
	"github.com/vendloc/vendloc/internal/tools/tokenkey"
)

func main() {
	if err := tokenkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate access token key: %v", err)
	}
}
