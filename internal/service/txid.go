package service

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var txidPattern = regexp.MustCompile(`^[A-Za-z0-9]{26,35}$`)

// NewTxID returns a fresh 32-character hex transaction identifier.
func NewTxID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidTxID reports whether s has the shape the gateway accepts for a txid.
func ValidTxID(s string) bool {
	return txidPattern.MatchString(s)
}
