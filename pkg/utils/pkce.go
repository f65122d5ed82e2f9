package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const verifierCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._~"

// GenerateRandomString 生成 PKCE verifier (RFC 7636 要求 43~128 位)
func GenerateRandomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	var sb strings.Builder
	sb.Grow(length)
	for _, v := range b {
		sb.WriteByte(verifierCharset[int(v)%len(verifierCharset)])
	}
	return sb.String(), nil
}

// GenerateCodeChallenge S256: Base64Url(SHA256(verifier))，不带填充
func GenerateCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
