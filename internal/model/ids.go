package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EntityID composes the chain-qualified key used for pools, tokens and pool extensions.
func EntityID(chainID uint64, address string) string {
	return fmt.Sprintf("%d_%s", chainID, strings.ToLower(address))
}

// BucketID composes the key of an hourly or daily bucket.
func BucketID(chainID uint64, index uint64, poolAddress string) string {
	return fmt.Sprintf("%d_%d-%s", chainID, index, strings.ToLower(poolAddress))
}

// NormalizeAddress lowercases a 20-byte address or a 32-byte singleton pool id.
func NormalizeAddress(input string) (string, error) {
	input = strings.TrimSpace(input)
	if common.IsHexAddress(input) {
		return strings.ToLower(common.HexToAddress(input).Hex()), nil
	}
	data, err := hexutil.Decode(input)
	if err != nil {
		return "", fmt.Errorf("invalid address: %s", input)
	}
	if len(data) != common.HashLength {
		return "", fmt.Errorf("invalid address length %d: %s", len(data), input)
	}
	return strings.ToLower(common.BytesToHash(data).Hex()), nil
}
