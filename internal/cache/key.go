package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GenerateCacheKey generates a cache key from sentence text and voice.
// Text is NFC-normalized and trimmed so that equivalent sentences share a key.
func GenerateCacheKey(text, voice string) string {
	normalized := norm.NFC.String(strings.TrimSpace(text))
	data := fmt.Sprintf("%s|%s", normalized, voice)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16]) // Use first 16 bytes for shorter keys
}
