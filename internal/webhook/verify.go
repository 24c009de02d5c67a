// Package webhook verifies and parses inbound Trello webhook deliveries.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
)

// SignatureHeader carries Trello's HMAC of the delivery.
const SignatureHeader = "X-Trello-Webhook"

// Verify checks a delivery signature. Trello signs base64(HMAC-SHA1(body ||
// callbackURL)) with the application secret; the callback URL is part of
// the signed content, so a payload replayed against a different receiver
// fails verification. Comparison is constant-time.
func Verify(body []byte, callbackURL, secret, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callbackURL))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Sign computes the signature Trello would attach to a delivery. Used by
// tests and the local delivery tool.
func Sign(body []byte, callbackURL, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(callbackURL))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
