package dex

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"ammLedger/internal/model"
)

// DefaultConstantProductFeePpm is the swap fee of Uniswap V2 style pairs.
const DefaultConstantProductFeePpm = 3000

// ContractCaller performs read-only contract calls. *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolInfo is the immutable pool metadata attached to every decoded event.
type PoolInfo struct {
	Protocol   model.Protocol
	Token0     model.TokenRef
	Token1     model.TokenRef
	FeeTierPpm uint32
}

// MetadataResolver resolves pool metadata. hint is the protocol implied by the log's topic, or
// "" when the topic is shared between protocols.
type MetadataResolver interface {
	Pool(ctx context.Context, pool common.Address, hint model.Protocol) (PoolInfo, error)
}

// ResolverConfig configures a ChainResolver.
type ResolverConfig struct {
	// Protocols pins the protocol of specific pools and skips detection.
	Protocols             map[common.Address]model.Protocol
	ConstantProductFeePpm uint32
}

// ChainResolver loads pool and token metadata with eth_call and caches it for the process
// lifetime.
type ChainResolver struct {
	caller ContractCaller
	abis   ABIs
	cfg    ResolverConfig
	logger *zap.Logger

	pools  *xsync.Map[common.Address, PoolInfo]
	tokens *xsync.Map[common.Address, model.TokenRef]
}

func NewChainResolver(caller ContractCaller, cfg ResolverConfig, logger *zap.Logger) (*ChainResolver, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	abis, err := LoadABIs()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConstantProductFeePpm == 0 {
		cfg.ConstantProductFeePpm = DefaultConstantProductFeePpm
	}
	return &ChainResolver{
		caller: caller,
		abis:   abis,
		cfg:    cfg,
		logger: logger,
		pools:  xsync.NewMap[common.Address, PoolInfo](),
		tokens: xsync.NewMap[common.Address, model.TokenRef](),
	}, nil
}

// Pool returns cached metadata or fetches token0, token1, the protocol and the fee tier.
func (r *ChainResolver) Pool(ctx context.Context, pool common.Address, hint model.Protocol) (PoolInfo, error) {
	if info, ok := r.pools.Load(pool); ok {
		return info, nil
	}

	protocol := hint
	if pinned, ok := r.cfg.Protocols[pool]; ok {
		protocol = pinned
	}

	token0, err := r.callAddress(ctx, pool, "token0")
	if err != nil {
		return PoolInfo{}, err
	}
	token1, err := r.callAddress(ctx, pool, "token1")
	if err != nil {
		return PoolInfo{}, err
	}

	if protocol == "" {
		protocol = r.detect(ctx, pool)
	}

	info := PoolInfo{Protocol: protocol}
	switch protocol {
	case model.ProtocolConstantProduct:
		info.FeeTierPpm = r.cfg.ConstantProductFeePpm
	default:
		fee, err := r.callUint(ctx, pool, "fee")
		if err != nil && protocol != model.ProtocolDynamicFee {
			return PoolInfo{}, err
		}
		if err == nil {
			info.FeeTierPpm = uint32(fee.Uint64())
		}
	}

	if info.Token0, err = r.Token(ctx, token0); err != nil {
		return PoolInfo{}, err
	}
	if info.Token1, err = r.Token(ctx, token1); err != nil {
		return PoolInfo{}, err
	}

	info, _ = r.pools.LoadOrStore(pool, info)
	r.logger.Debug("pool metadata resolved",
		zap.String("pool", strings.ToLower(pool.Hex())),
		zap.String("protocol", string(info.Protocol)),
		zap.Uint32("fee_ppm", info.FeeTierPpm),
	)
	return info, nil
}

// detect tells Algebra pools, which expose plugin(), from plain concentrated pools.
func (r *ChainResolver) detect(ctx context.Context, pool common.Address) model.Protocol {
	if _, err := r.callAddress(ctx, pool, "plugin"); err == nil {
		return model.ProtocolDynamicFee
	}
	return model.ProtocolConcentrated
}

// Token returns the token's decimals, symbol and name. Symbol and name fall back to bytes32
// encodings and are left empty when neither call works.
func (r *ChainResolver) Token(ctx context.Context, token common.Address) (model.TokenRef, error) {
	if ref, ok := r.tokens.Load(token); ok {
		return ref, nil
	}
	ref := model.TokenRef{Address: strings.ToLower(token.Hex())}

	values, err := r.call(ctx, token, r.abis.ERC20String, "decimals")
	if err != nil {
		return ref, fmt.Errorf("token %s: %w", ref.Address, err)
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return ref, fmt.Errorf("token %s decimals: %w", ref.Address, err)
	}
	ref.Decimals = decimals
	ref.Symbol = r.tokenText(ctx, token, "symbol")
	ref.Name = r.tokenText(ctx, token, "name")

	ref, _ = r.tokens.LoadOrStore(token, ref)
	return ref, nil
}

func (r *ChainResolver) tokenText(ctx context.Context, token common.Address, method string) string {
	if values, err := r.call(ctx, token, r.abis.ERC20String, method); err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	values, err := r.call(ctx, token, r.abis.ERC20Bytes32, method)
	if err != nil {
		r.logger.Debug("token text call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
		return ""
	}
	text, _ := bytes32ToString(values[0])
	return text
}

func (r *ChainResolver) callAddress(ctx context.Context, pool common.Address, method string) (common.Address, error) {
	values, err := r.call(ctx, pool, r.abis.Concentrated, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", method, err)
	}
	return addr, nil
}

func (r *ChainResolver) callUint(ctx context.Context, pool common.Address, method string) (*big.Int, error) {
	values, err := r.call(ctx, pool, r.abis.Concentrated, method)
	if err != nil {
		return nil, err
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return value, nil
}

func (r *ChainResolver) call(ctx context.Context, to common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v)
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
