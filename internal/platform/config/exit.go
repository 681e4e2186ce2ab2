package config

import (
	"fmt"
	"os"
)

// Exitf prints a startup failure to stderr and terminates the process with
// exit code 1. Command mains call it before the logger is configured.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
