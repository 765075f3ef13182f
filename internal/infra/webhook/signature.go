package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	SignatureHeader = "X-Signature"
	signaturePrefix = "sha256="
)

// Sign returns the X-Signature value for body: sha256=<hex hmac>.
func Sign(secret string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return signaturePrefix + hex.EncodeToString(h.Sum(nil))
}

// Verify checks a received X-Signature header against body.
func Verify(secret string, body []byte, header string) bool {
	got, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return false
	}
	want, _ := strings.CutPrefix(Sign(secret, body), signaturePrefix)
	return hmac.Equal([]byte(strings.ToLower(got)), []byte(want))
}
