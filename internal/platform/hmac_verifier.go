package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/smallbiznis/printforge/internal/config"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	"go.uber.org/fx"
)

// HMACVerifier validates platform webhook signatures: base64 HMAC-SHA256
// of the raw body with the app's shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(cfg config.Config) platformdomain.WebhookVerifier {
	return &HMACVerifier{secret: []byte(cfg.PlatformWebhookSecret)}
}

func (v *HMACVerifier) Verify(shopDomain string, payload []byte, headers http.Header) error {
	if len(v.secret) == 0 {
		return platformdomain.ErrInvalidSignature
	}
	signature := strings.TrimSpace(headers.Get("X-Platform-Hmac-Sha256"))
	if signature == "" {
		return platformdomain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return platformdomain.ErrInvalidSignature
	}
	return nil
}

var Module = fx.Module("platform",
	fx.Provide(NewHMACVerifier),
)
