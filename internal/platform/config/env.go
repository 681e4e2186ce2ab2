// Package config holds the small helpers every vendloc command shares for
// loading its configuration and reporting startup failures.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from the process environment using its env struct
// tags. Vendloc variables carry the VENDLOC_ prefix in the tags themselves.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
