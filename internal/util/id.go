package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier with a type prefix, e.g. "exp_…"
// for export jobs or "page_…" for pages.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
