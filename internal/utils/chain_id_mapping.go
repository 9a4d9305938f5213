package utils

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseChainID accepts the indexer's hex form ("0x89") as well as plain decimal ("137")
func ParseChainID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty chain id")
	}

	var (
		chainID uint64
		err     error
	)
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		// hexutil.DecodeUint64 rejects zero-padded quantities, which some indexers emit
		chainID, err = strconv.ParseUint(raw[2:], 16, 63)
	} else {
		chainID, err = strconv.ParseUint(raw, 10, 63)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid chain id %q: %w", raw, err)
	}
	if chainID == 0 {
		return 0, fmt.Errorf("invalid chain id %q: must be positive", raw)
	}
	return int64(chainID), nil
}

// FormatChainID hex form used on the wire
func FormatChainID(chainID int64) string {
	return hexutil.EncodeUint64(uint64(chainID))
}

// ChainIDFromSubject extracts the chain id from the last token of a NATS subject
// such as "indexer.transfers.0x89" or "indexer.transfers.137"
func ChainIDFromSubject(subject string) (int64, error) {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return 0, fmt.Errorf("subject %q carries no chain id", subject)
	}
	return ParseChainID(subject[idx+1:])
}
