package connectors

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

type signatureEncoding int

const (
	encodingBase64 signatureEncoding = iota
	encodingHex
)

// sign returns the HMAC-SHA256 of payload in the given encoding.
func sign(payload []byte, secret string, enc signatureEncoding) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sum := mac.Sum(nil)
	if enc == encodingHex {
		return hex.EncodeToString(sum)
	}
	return base64.StdEncoding.EncodeToString(sum)
}

// validateHMAC checks an HMAC-SHA256 signature in constant time. A leading
// "sha256=" marker is accepted.
func validateHMAC(payload []byte, signature, secret string, enc signatureEncoding) bool {
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" || secret == "" {
		return false
	}
	var got []byte
	var err error
	if enc == encodingHex {
		got, err = hex.DecodeString(strings.ToLower(signature))
	} else {
		got, err = base64.StdEncoding.DecodeString(signature)
	}
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
