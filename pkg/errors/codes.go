package errors

// Code represents a machine-readable error code. Codes follow the pattern
// CATEGORY_XXX where CATEGORY selects the HTTP status and XXX is a stable
// numeric suffix. Codes never change once assigned.
type Code string

// Error code categories:
//
//	VAL_xxx     - 400 Bad Request
//	AUTH_xxx    - 401 Unauthorized
//	AUTHZ_xxx   - 403 Forbidden
//	NF_xxx      - 404 Not Found
//	CONF_xxx    - 409 Conflict
//	INT_xxx     - 500 Internal Server Error
//	UNAVAIL_xxx - 503 Service Unavailable
//	TIMEOUT_xxx - 504 Gateway Timeout
const (
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"
	CodeValidationFormat   Code = "VAL_003"

	// CodeValidationTenantMissing indicates a request carried no tenant hint
	// (neither a tenant subdomain nor the tenant header).
	CodeValidationTenantMissing Code = "VAL_005"

	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates a signed token's validity segment
	// lies in the past.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid covers unknown tokens and signature
	// mismatches. Clients see "authenticationFailed".
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationMissing indicates that no token or no signature
	// header was presented. Clients see "authenticatorMissing".
	CodeAuthenticationMissing Code = "AUTH_004"

	// CodeAuthenticationBlocked indicates the credential resolved but is
	// inactive. Clients see "clientBlocked".
	CodeAuthenticationBlocked Code = "AUTH_005"

	CodeAuthorization       Code = "AUTHZ_001"
	CodeAuthorizationDenied Code = "AUTHZ_002"

	CodeNotFound Code = "NF_001"

	// CodeNotFoundCredential indicates no credential record exists for a
	// token in the authoritative store.
	CodeNotFoundCredential Code = "NF_003"

	// CodeNotFoundTenant indicates no connection config exists for a tenant.
	CodeNotFoundTenant Code = "NF_004"

	CodeConflict Code = "CONF_001"

	CodeInternal              Code = "INT_001"
	CodeInternalDatabase      Code = "INT_002"
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalStorage indicates the credential cache failed to persist
	// to or load from its durable store. It is logged, never returned to
	// clients.
	CodeInternalStorage Code = "INT_004"

	CodeUnavailable           Code = "UNAVAIL_001"
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeUnavailableTenant indicates the tenant's connection pool or schema
	// is not ready. Callers may retry later.
	CodeUnavailableTenant Code = "UNAVAIL_004"

	CodeTimeout         Code = "TIMEOUT_001"
	CodeTimeoutDatabase Code = "TIMEOUT_002"
)

// reasons maps codes that reach clients to their stable reason strings.
var reasons = map[Code]string{
	CodeValidation:              "invalidRequest",
	CodeValidationRequired:      "invalidRequest",
	CodeValidationFormat:        "invalidRequest",
	CodeValidationTenantMissing: "tenantMissing",
	CodeAuthentication:          "authenticationFailed",
	CodeAuthenticationExpired:   "authenticationFailed",
	CodeAuthenticationInvalid:   "authenticationFailed",
	CodeAuthenticationMissing:   "authenticatorMissing",
	CodeAuthenticationBlocked:   "clientBlocked",
	CodeAuthorization:           "forbidden",
	CodeAuthorizationDenied:     "forbidden",
	CodeNotFound:                "notFound",
	CodeNotFoundCredential:      "authenticationFailed",
	CodeNotFoundTenant:          "tenantNotFound",
	CodeConflict:                "conflict",
	CodeInternal:                "internalError",
	CodeInternalDatabase:        "internalError",
	CodeInternalConfiguration:   "internalError",
	CodeInternalStorage:         "storageFault",
	CodeUnavailable:             "serviceUnavailable",
	CodeUnavailableDependency:   "serviceUnavailable",
	CodeUnavailableTenant:       "tenantNotReady",
	CodeTimeout:                 "timeout",
	CodeTimeoutDatabase:         "timeout",
}

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// Reason returns the client-facing reason string for the code. Unknown codes
// report "internalError".
func (c Code) Reason() string {
	if r, ok := reasons[c]; ok {
		return r
	}
	return "internalError"
}
