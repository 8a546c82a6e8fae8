package cache

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

// DefaultMaxKeyLength bounds sanitized keys below the limits of common cache backends.
const DefaultMaxKeyLength = 200

var (
	unsafeKeyChars  = regexp.MustCompile(`[^\w\-.]`)
	underscoreRuns  = regexp.MustCompile(`_+`)
	hashSuffixBytes = 1 + hex.EncodedLen(md5.Size)
)

// SanitizeKey maps an arbitrary string onto a backend-safe key. Characters
// outside [A-Za-z0-9_.-] become underscores and runs of underscores collapse.
// Keys longer than maxLen are cut and suffixed with the md5 of the original
// key so that distinct long inputs stay distinct.
func SanitizeKey(key string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxKeyLength
	}

	sanitized := unsafeKeyChars.ReplaceAllString(key, "_")
	sanitized = underscoreRuns.ReplaceAllString(sanitized, "_")

	if len(sanitized) <= maxLen {
		return sanitized
	}

	sum := md5.Sum([]byte(key))
	keep := maxLen - hashSuffixBytes
	if keep < 0 {
		keep = 0
	}

	return sanitized[:keep] + "_" + hex.EncodeToString(sum[:])
}

// distinctKey is SanitizeKey for keys that must not collide: whenever
// sanitizing replaced anything, the md5 of key is appended.
func distinctKey(key string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxKeyLength
	}

	sanitized := SanitizeKey(key, maxLen)
	if sanitized == key {
		return sanitized
	}

	sum := md5.Sum([]byte(key))
	hash := hex.EncodeToString(sum[:])
	if strings.HasSuffix(sanitized, "_"+hash) {
		return sanitized
	}

	keep := maxLen - hashSuffixBytes
	if keep < 0 {
		keep = 0
	}
	if len(sanitized) > keep {
		sanitized = sanitized[:keep]
	}
	sanitized = strings.TrimSuffix(sanitized, "_")
	if sanitized == "" {
		return hash
	}
	return sanitized + "_" + hash
}
