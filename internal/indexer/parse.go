package indexer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"ammLedger/internal/model"
)

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

// ParseTopic0 converts string topic0 hashes into common.Hash.
func ParseTopic0(inputs []string) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic0: %s", input)
		}
		if len(data) != 32 {
			return nil, fmt.Errorf("invalid topic0 length: %s", input)
		}
		topics = append(topics, common.BytesToHash(data))
	}
	return topics, nil
}

// ParseTokenIDs converts token references into entity ids. An entry is either
// "<chainID>:<address>" or a bare address on defaultChainID.
func ParseTokenIDs(defaultChainID uint64, inputs []string) ([]string, error) {
	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		chainID := defaultChainID
		address := input
		if prefix, rest, ok := strings.Cut(input, ":"); ok {
			parsed, err := strconv.ParseUint(prefix, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid chain id in %q: %w", input, err)
			}
			chainID, address = parsed, rest
		}
		if chainID == 0 {
			return nil, fmt.Errorf("token %q needs a chain id", input)
		}
		normalized, err := model.NormalizeAddress(address)
		if err != nil {
			return nil, err
		}
		ids = append(ids, model.EntityID(chainID, normalized))
	}
	return ids, nil
}

// ParseProtocols converts an address=protocol map into pinned pool protocols.
func ParseProtocols(inputs map[string]string) (map[common.Address]model.Protocol, error) {
	out := make(map[common.Address]model.Protocol, len(inputs))
	for address, name := range inputs {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("invalid pool address: %s", address)
		}
		protocol := model.Protocol(strings.ToLower(strings.TrimSpace(name)))
		switch protocol {
		case model.ProtocolConstantProduct, model.ProtocolConcentrated, model.ProtocolDynamicFee:
		default:
			return nil, fmt.Errorf("unknown protocol %q for %s", name, address)
		}
		out[common.HexToAddress(address)] = protocol
	}
	return out, nil
}
