package auth

import (
	"strconv"
)

// Headers set on requests forwarded to downstream services once the
// gateway has authenticated the caller. Downstream services trust them only
// on the internal network.
const (
	HeaderClientID      = "X-Client-ID"
	HeaderClientName    = "X-Client-Name"
	HeaderClientProfile = "X-Client-Profile"
	HeaderClientRoot    = "X-Client-Root"
)

// credentialHeaders are stripped from forwarded requests.
var credentialHeaders = []string{
	HeaderAuthorization,
	HeaderAPIKey,
	HeaderAPIToken,
	HeaderAPISignature,
}

func identityHeaders(id *Identity) map[string]string {
	return map[string]string{
		HeaderClientID:      strconv.FormatInt(id.ClientID, 10),
		HeaderClientName:    id.Name,
		HeaderClientProfile: strconv.FormatInt(id.ProfileID, 10),
		HeaderClientRoot:    strconv.FormatBool(id.IsPrivileged),
	}
}

// IdentityFromHeaders rebuilds a forwarded identity. It reports false when
// the client id header is missing or malformed. The token is not forwarded,
// so Token is always empty.
func IdentityFromHeaders(md Metadata) (*Identity, bool) {
	id, err := strconv.ParseInt(md.Get(HeaderClientID), 10, 64)
	if err != nil {
		return nil, false
	}
	profile, _ := strconv.ParseInt(md.Get(HeaderClientProfile), 10, 64)
	root, _ := strconv.ParseBool(md.Get(HeaderClientRoot))
	return &Identity{
		ClientID:     id,
		Name:         md.Get(HeaderClientName),
		Active:       true,
		ProfileID:    profile,
		IsPrivileged: root,
	}, true
}
