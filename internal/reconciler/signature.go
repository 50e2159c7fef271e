package reconciler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// signatureHeaders are the header names providers have used across API
// versions; the first non-empty one wins.
var signatureHeaders = []string{
	"X-Pfy-Signature",
	"X-Provider-Signature",
	"X-Webhook-Signature",
}

// VerifySignature checks an inbound provider callback against the
// shared secret. Both hex and base64 digest encodings are accepted, and
// an optional "sha256=" prefix is tolerated. Comparison is timing-safe.
func VerifySignature(secret string, body []byte, headers http.Header) bool {
	if secret == "" {
		return false
	}
	var signature string
	for _, name := range signatureHeaders {
		if v := strings.TrimSpace(headers.Get(name)); v != "" {
			signature = v
			break
		}
	}
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	digest := mac.Sum(nil)

	hexDigest := hex.EncodeToString(digest)
	if hmac.Equal([]byte(hexDigest), []byte(strings.ToLower(signature))) {
		return true
	}
	b64Digest := base64.StdEncoding.EncodeToString(digest)
	return hmac.Equal([]byte(b64Digest), []byte(signature))
}
