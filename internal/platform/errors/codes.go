// Package errors provides structured error handling for the gateway.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Auth errors
	CodeUnauthorized Code = "UNAUTHORIZED"

	// Input errors
	CodeInvalidCoordinate Code = "INVALID_COORDINATE"
	CodeInvalidBounds     Code = "INVALID_BOUNDS"
	CodeInvalidPayload    Code = "INVALID_PAYLOAD"
	CodeEntityIDEmpty     Code = "ENTITY_ID_EMPTY"
	CodeEntityKindInvalid Code = "ENTITY_KIND_INVALID"

	// Traffic errors
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"

	// Registry errors
	CodeUnknownConnection Code = "UNKNOWN_CONNECTION"
	CodeUnknownEntity     Code = "UNKNOWN_ENTITY"

	// Infrastructure errors
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"
	CodeIndexUnavailable Code = "INDEX_UNAVAILABLE"
)

// Wire error codes delivered in error frames to the originating connection.
const (
	WireInvalidArgument   = "INVALID_ARGUMENT"
	WireUnauthenticated   = "UNAUTHENTICATED"
	WireResourceExhausted = "RESOURCE_EXHAUSTED"
	WireNotFound          = "NOT_FOUND"
	WireUnavailable       = "UNAVAILABLE"
	WireInternal          = "INTERNAL"
)

// WireCode maps domain codes to the transport-level error codes.
func (c Code) WireCode() string {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeInvalidCoordinate,
		CodeInvalidBounds,
		CodeInvalidPayload,
		CodeEntityIDEmpty,
		CodeEntityKindInvalid:
		return WireInvalidArgument

	case CodeUnauthorized:
		return WireUnauthenticated

	case CodeRateLimitExceeded:
		return WireResourceExhausted

	// Lookup misses are logged, not fatal; the wire shape still needs a code.
	case CodeUnknownConnection,
		CodeUnknownEntity:
		return WireNotFound

	case CodeStoreUnavailable,
		CodeIndexUnavailable:
		return WireUnavailable

	default:
		return WireInternal
	}
}
