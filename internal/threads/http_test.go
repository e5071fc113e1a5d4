package threads

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object_type":"brands","object_id":"abc","from":"a@b.c","body":"hi"}`)
	secret := "webhook-secret"

	if !verifySignature(body, sign(body, secret), secret) {
		t.Fatal("valid signature rejected")
	}
	if verifySignature(body, sign(body, "other-secret"), secret) {
		t.Fatal("signature from wrong secret accepted")
	}
	if verifySignature(body, "", secret) {
		t.Fatal("empty signature accepted")
	}
	if verifySignature([]byte("tampered"), sign(body, secret), secret) {
		t.Fatal("tampered body accepted")
	}
}
