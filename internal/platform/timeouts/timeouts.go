// Package timeouts defines shared timeout constants used across the gateway.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// StoreCall caps a single shared-store round trip. A store call that exceeds
// it is treated as a store failure by the caller's failure policy.
const StoreCall = 2 * time.Second

// AuthCall caps the wait time for a token introspection round trip.
const AuthCall = 3 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
