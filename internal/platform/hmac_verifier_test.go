package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/smallbiznis/printforge/internal/config"
	platformdomain "github.com/smallbiznis/printforge/internal/platform/domain"
	"github.com/stretchr/testify/assert"
)

func signPlatform(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestHMACVerifier(t *testing.T) {
	verifier := NewHMACVerifier(config.Config{PlatformWebhookSecret: "app-secret"})
	body := []byte(`{"id":5001}`)

	t.Run("valid signature", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Platform-Hmac-Sha256", signPlatform("app-secret", body))
		assert.NoError(t, verifier.Verify("example.myshop.test", body, headers))
	})

	t.Run("tampered body", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("X-Platform-Hmac-Sha256", signPlatform("app-secret", []byte(`{"id":5002}`)))
		err := verifier.Verify("example.myshop.test", body, headers)
		assert.ErrorIs(t, err, platformdomain.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		err := verifier.Verify("example.myshop.test", body, http.Header{})
		assert.ErrorIs(t, err, platformdomain.ErrInvalidSignature)
	})

	t.Run("unconfigured secret rejects everything", func(t *testing.T) {
		bare := NewHMACVerifier(config.Config{})
		headers := http.Header{}
		headers.Set("X-Platform-Hmac-Sha256", signPlatform("", body))
		err := bare.Verify("example.myshop.test", body, headers)
		assert.ErrorIs(t, err, platformdomain.ErrInvalidSignature)
	})
}
