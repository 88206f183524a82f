package auth

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Validity segment layouts. A validity of exactly eight digits is a UTC
// calendar day and the token is good through the end of that day; fourteen
// digits is a UTC instant; any other all-digit value is Unix seconds.
const (
	validityDayLayout     = "20060102"
	validityInstantLayout = "20060102150405"
)

// signingMethod computes and checks the keyed digest. HS256 compares in
// constant time.
var signingMethod = jwt.SigningMethodHS256

// sigEncoding is the encoding of the signature segment. Strict decoding
// rejects non-zero trailing bits, so every character of the segment counts.
var sigEncoding = base64.RawURLEncoding.Strict()

// SignedToken is the parsed form of "<identifier>-<validity>.<signature>".
// The signature covers "<identifier>.<validity>".
type SignedToken struct {
	Identifier string
	Validity   string
	Signature  string
}

// SigningString returns the bytes the signature is computed over.
func (t SignedToken) SigningString() string {
	return t.Identifier + "." + t.Validity
}

// String returns the wire form.
func (t SignedToken) String() string {
	return t.Identifier + "-" + t.Validity + "." + t.Signature
}

// ParseSignedToken splits raw on its final "." and the remainder on its last
// "-". All three segments must be non-empty.
func ParseSignedToken(raw string) (SignedToken, error) {
	dot := strings.LastIndexByte(raw, '.')
	if dot <= 0 || dot == len(raw)-1 {
		return SignedToken{}, sserr.New(sserr.CodeValidationFormat, "auth: signed token has no signature segment")
	}
	head := raw[:dot]
	dash := strings.LastIndexByte(head, '-')
	if dash <= 0 || dash == len(head)-1 {
		return SignedToken{}, sserr.New(sserr.CodeValidationFormat, "auth: signed token has no validity segment")
	}
	return SignedToken{
		Identifier: head[:dash],
		Validity:   head[dash+1:],
		Signature:  raw[dot+1:],
	}, nil
}

// Sign returns the wire token for identifier and validity under secret.
// The identifier may itself contain "-" and "."; the validity may not.
func Sign(identifier, validity, secret string) (string, error) {
	if identifier == "" || secret == "" {
		return "", sserr.New(sserr.CodeValidationRequired, "auth: identifier and secret are required")
	}
	if _, err := parseValidity(validity); err != nil {
		return "", err
	}
	tok := SignedToken{Identifier: identifier, Validity: validity}
	sig, err := signingMethod.Sign(tok.SigningString(), []byte(secret))
	if err != nil {
		return "", sserr.Wrap(err, sserr.CodeInternal, "auth: sign token")
	}
	tok.Signature = sigEncoding.EncodeToString(sig)
	return tok.String(), nil
}

// Verifier checks signed tokens against a clock.
type Verifier struct {
	// Now returns the current time. Nil means [time.Now].
	Now func() time.Time
}

// Verify reports whether signedToken is well formed, within its validity
// and signed with secret. It never panics: malformed input, an empty
// secret, an elapsed validity and a digest mismatch all report false.
func (v Verifier) Verify(signedToken, secret string) bool {
	if secret == "" {
		return false
	}
	tok, err := ParseSignedToken(signedToken)
	if err != nil {
		return false
	}
	notAfter, err := parseValidity(tok.Validity)
	if err != nil || v.now().After(notAfter) {
		return false
	}
	sig, err := sigEncoding.DecodeString(tok.Signature)
	if err != nil {
		return false
	}
	return signingMethod.Verify(tok.SigningString(), sig, []byte(secret)) == nil
}

func (v Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// Verify checks signedToken against secret using the wall clock.
func Verify(signedToken, secret string) bool {
	return Verifier{}.Verify(signedToken, secret)
}

// parseValidity returns the last instant at which a token with validity v
// is still accepted.
func parseValidity(v string) (time.Time, error) {
	if v == "" || strings.TrimLeft(v, "0123456789") != "" {
		return time.Time{}, sserr.Newf(sserr.CodeValidationFormat, "auth: validity %q is not numeric", v)
	}
	switch len(v) {
	case len(validityDayLayout):
		day, err := time.ParseInLocation(validityDayLayout, v, time.UTC)
		if err != nil {
			return time.Time{}, sserr.Wrapf(err, sserr.CodeValidationFormat, "auth: invalid validity date %q", v)
		}
		return day.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	case len(validityInstantLayout):
		at, err := time.ParseInLocation(validityInstantLayout, v, time.UTC)
		if err != nil {
			return time.Time{}, sserr.Wrapf(err, sserr.CodeValidationFormat, "auth: invalid validity instant %q", v)
		}
		return at, nil
	default:
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}, sserr.Wrapf(err, sserr.CodeValidationFormat, "auth: invalid validity %q", v)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
}
