package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IsEvmAddress checks whether address is a 20-byte hex EVM address, with or without 0x
func IsEvmAddress(address string) bool {
	return address != "" && common.IsHexAddress(address)
}

// NormalizeAddress lower-cases an EVM address and adds the 0x prefix if missing.
// Anything that is not an EVM address is returned trimmed and lower-cased.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if IsEvmAddress(address) {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}
	return strings.ToLower(address)
}

// SameAddress case-insensitive address comparison
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// NormalizeTxHash lower-cases a transaction hash and adds the 0x prefix if missing
func NormalizeTxHash(hash string) string {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" || strings.HasPrefix(hash, "0x") {
		return hash
	}
	return "0x" + hash
}
