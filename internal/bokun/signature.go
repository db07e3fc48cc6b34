package bokun

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
)

const (
	// HeaderPrefix marks the vendor headers included in the signature.
	HeaderPrefix = "x-bokun"
	// SignatureHeader carries the HMAC and is excluded from the canonical
	// string it signs.
	SignatureHeader = "x-bokun-hmac"
)

// Verifier validates inbound webhook authenticity. The signature is
// HMAC-SHA256 over a canonical query-string encoding of every vendor
// header except the signature header itself, names lower-cased and sorted.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Enabled reports whether a shared secret is configured. With no secret,
// verification is disabled and the caller decides whether to accept
// unsigned payloads.
func (v *Verifier) Enabled() bool {
	return v.secret != ""
}

// Verify checks the signature header against the canonical header string.
// It never returns an error: a missing signature or an empty header set is
// simply a failed verification.
func (v *Verifier) Verify(headers http.Header) bool {
	if !v.Enabled() || len(headers) == 0 {
		return false
	}

	signature := headers.Get(SignatureHeader)
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(CanonicalHeaderString(headers)))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// CanonicalHeaderString builds the signed representation of the vendor
// headers: every header whose name case-insensitively starts with the
// vendor prefix, excluding the signature header, lower-cased, sorted by
// name and joined as a standard query string. url.Values.Encode sorts by
// key, which gives the required ordering.
func CanonicalHeaderString(headers http.Header) string {
	values := url.Values{}
	for name, vals := range headers {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, HeaderPrefix) || lower == SignatureHeader {
			continue
		}
		for _, val := range vals {
			values.Add(lower, val)
		}
	}
	return values.Encode()
}

// Sign computes the signature for a header set. Used by tests and by
// outbound webhook simulation tooling.
func Sign(headers http.Header, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(CanonicalHeaderString(headers)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
