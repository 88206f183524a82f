package auth

import (
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Header and metadata keys read by the gateway. gRPC metadata keys are the
// lower-cased forms of the same names.
const (
	// HeaderAuthorization carries "Bearer <token>" or "API-Key <token>".
	HeaderAuthorization = "Authorization"

	// HeaderAPIKey carries the client token when Authorization is absent.
	HeaderAPIKey = "X-API-Key"

	// HeaderAPIToken is the last-resort token header.
	HeaderAPIToken = "X-API-Token"

	// HeaderAPISignature carries the signed token. It is mandatory.
	HeaderAPISignature = "X-API-Signature"

	// HeaderTenant carries the tenant hint when the host has no tenant
	// subdomain.
	HeaderTenant = "X-Tenant-ID"
)

// Authorization schemes accepted in [HeaderAuthorization], compared
// case-insensitively.
const (
	SchemeBearer = "Bearer"
	SchemeAPIKey = "API-Key"
)

// Metadata is the read side of a request's headers. HTTP headers and gRPC
// metadata both satisfy it through [HTTPHeader] and [GRPCMetadata].
type Metadata interface {
	// Get returns the first value for key, or "" if absent.
	Get(key string) string
}

// HTTPHeader adapts an [http.Header].
type HTTPHeader http.Header

// Get returns the first value for the canonicalized key.
func (h HTTPHeader) Get(key string) string {
	return http.Header(h).Get(key)
}

// GRPCMetadata adapts incoming gRPC metadata. Keys are lower-cased before
// lookup.
type GRPCMetadata metadata.MD

// Get returns the first value for key.
func (m GRPCMetadata) Get(key string) string {
	vals := metadata.MD(m).Get(strings.ToLower(key))
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// MapMetadata is a plain map, mostly useful in tests and tooling.
type MapMetadata map[string]string

// Get prefers an exact key match, then any case-insensitive one.
func (m MapMetadata) Get(key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// ExtractToken returns the client token from md. Precedence: the
// Authorization header with a Bearer or API-Key scheme, then X-API-Key, then
// X-API-Token. It returns "" when none is present.
func ExtractToken(md Metadata) string {
	if token := tokenFromAuthorization(md.Get(HeaderAuthorization)); token != "" {
		return token
	}
	if token := strings.TrimSpace(md.Get(HeaderAPIKey)); token != "" {
		return token
	}
	return strings.TrimSpace(md.Get(HeaderAPIToken))
}

// ExtractSignature returns the signed token from md, or "".
func ExtractSignature(md Metadata) string {
	return strings.TrimSpace(md.Get(HeaderAPISignature))
}

func tokenFromAuthorization(value string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return ""
	}
	if !strings.EqualFold(scheme, SchemeBearer) && !strings.EqualFold(scheme, SchemeAPIKey) {
		return ""
	}
	return strings.TrimSpace(token)
}
