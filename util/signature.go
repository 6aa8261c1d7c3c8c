package util

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ComputeSQLSignature - Generates a stable identifier for an obfuscated statement
// text, as 16 lowercase hex digits. Equal texts always have equal signatures.
func ComputeSQLSignature(obfuscatedText string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(obfuscatedText))
}
