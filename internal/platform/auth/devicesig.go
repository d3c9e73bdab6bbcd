package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
)

// SignDevicePayload computes the signature a device attaches to a reading:
// base64(HMAC-SHA256(secret, "{timestamp}." + body)). The body is signed
// exactly as transmitted, byte for byte.
func SignDevicePayload(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyDeviceSignature checks a submitted signature in constant time.
func VerifyDeviceSignature(secret string, timestamp int64, body []byte, signature string) bool {
	want := SignDevicePayload(secret, timestamp, body)
	return hmac.Equal([]byte(signature), []byte(want))
}
