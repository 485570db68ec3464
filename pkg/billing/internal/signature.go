package internal

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// SignHex returns the lowercase hex HMAC-SHA256 of body under secret
func SignHex(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHexHMAC compares signature against the HMAC-SHA256 of body in constant time.
// An empty secret or signature never verifies.
func VerifyHexHMAC(secret, body []byte, signature string) bool {
	if len(secret) == 0 {
		return false
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	expected := SignHex(secret, body)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
