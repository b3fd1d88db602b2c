// Package common contains shared constants and sentinel errors used across
// TurboCore components.
package common

// AuthorizationHeaderName is the HTTP header and gRPC metadata key carrying
// the bearer access token.
const AuthorizationHeaderName = "authorization"

// BearerScheme is the only accepted authorization scheme (case-insensitive).
const BearerScheme = "bearer"

// DefaultIssuer is the iss claim stamped on every token when none is configured.
const DefaultIssuer = "TurboCore"
