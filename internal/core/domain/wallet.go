package domain

import (
	"strings"
	"time"
)

// WalletBinding links an on-chain address to a user. Only verified bindings
// accrue quest credit or receive rewards.
type WalletBinding struct {
	Address   string
	UserID    string
	Verified  bool
	CreatedAt time.Time
}

// NormalizeAddress returns the canonical lower-cased form of an address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
