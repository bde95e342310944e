package rlm

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// fingerprint16 hashes v (via its JSON encoding) and returns a 16-hex-char
// prefix, used for sub-call cache keys. promptId is computed separately by
// FingerprintPrompt over the raw prompt bytes.
func fingerprint16(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// v is always a struct of strings/ints built internally; a marshal
		// failure here means a programming error, not bad input.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}

// FingerprintPrompt computes promptId = fingerprint(prompt). Two
// environments with identical prompt text share the same id.
func FingerprintPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])[:16]
}
