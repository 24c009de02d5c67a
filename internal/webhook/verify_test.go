package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testSecret   = "super-secret"
	testCallback = "https://boardcast.example.com/webhooks/trello"
)

func TestVerify_AcceptsValidSignature(t *testing.T) {
	body := []byte(`{"action":{"type":"createCard"}}`)
	sig := Sign(body, testCallback, testSecret)

	assert.True(t, Verify(body, testCallback, testSecret, sig))
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	body := []byte(`{"action":{"type":"createCard"}}`)
	sig := Sign(body, testCallback, testSecret)

	tampered := []byte(`{"action":{"type":"deleteCard"}}`)
	assert.False(t, Verify(tampered, testCallback, testSecret, sig))
}

func TestVerify_RejectsWrongCallbackURL(t *testing.T) {
	// The callback URL is part of the signed content: a delivery captured
	// for one receiver must not verify against another.
	body := []byte(`{"action":{"type":"createCard"}}`)
	sig := Sign(body, "https://other.example.com/webhooks/trello", testSecret)

	assert.False(t, Verify(body, testCallback, testSecret, sig))
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	body := []byte(`{}`)
	sig := Sign(body, testCallback, "different-secret")

	assert.False(t, Verify(body, testCallback, testSecret, sig))
}

func TestVerify_RejectsMissingSignature(t *testing.T) {
	assert.False(t, Verify([]byte(`{}`), testCallback, testSecret, ""))
}

func TestVerify_RejectsWithEmptySecret(t *testing.T) {
	body := []byte(`{}`)
	sig := Sign(body, testCallback, "")

	// A blank secret must never verify anything, even a matching blank-key
	// signature. Otherwise a misconfigured deployment accepts every POST.
	assert.False(t, Verify(body, testCallback, "", sig))
}

func TestVerify_RejectsGarbageSignature(t *testing.T) {
	assert.False(t, Verify([]byte(`{}`), testCallback, testSecret, "not-base64-$$$"))
}

func TestSign_Deterministic(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.Equal(t, Sign(body, testCallback, testSecret), Sign(body, testCallback, testSecret))
}
