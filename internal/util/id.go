package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 128-bit hex id, optionally prefixed with "prefix_".
func NewID(prefix string) string {
	id := randomHex(16)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// RequestID returns a short random id for correlating log lines.
func RequestID() string {
	return randomHex(8)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
