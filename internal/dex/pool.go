package dex

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"clmmRebalancer/internal/model"
)

// Caller performs read-only contract calls. *chain.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TokenCache caches token decimals by address.
type TokenCache struct {
	mu   sync.RWMutex
	data map[common.Address]uint8
}

func NewTokenCache() *TokenCache {
	return &TokenCache{data: make(map[common.Address]uint8)}
}

func (c *TokenCache) Get(address common.Address) (uint8, bool) {
	c.mu.RLock()
	decimals, ok := c.data[address]
	c.mu.RUnlock()
	return decimals, ok
}

func (c *TokenCache) Set(address common.Address, decimals uint8) {
	c.mu.Lock()
	c.data[address] = decimals
	c.mu.Unlock()
}

// PoolReader builds pool snapshots from a V3-style pool contract.
type PoolReader struct {
	caller Caller
	tokens *TokenCache
	logger *zap.Logger
}

func NewPoolReader(caller Caller, logger *zap.Logger) *PoolReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolReader{caller: caller, tokens: NewTokenCache(), logger: logger}
}

// FetchPool reads immutable pool fields, slot0 and liquidity at the latest
// block. The price is token1 per token0 adjusted by token decimals.
func (r *PoolReader) FetchPool(ctx context.Context, pool string) (model.PoolSnapshot, error) {
	if r.caller == nil {
		return model.PoolSnapshot{}, fmt.Errorf("chain client is nil")
	}
	if !common.IsHexAddress(pool) {
		return model.PoolSnapshot{}, fmt.Errorf("invalid pool address %q", pool)
	}
	address := common.HexToAddress(pool)

	poolABI, err := V3PoolABI()
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := r.call(ctx, address, poolABI, "token0")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("token0: %w", err)
	}

	values, err = r.call(ctx, address, poolABI, "token1")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("token1: %w", err)
	}

	values, err = r.call(ctx, address, poolABI, "fee")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	fee, err := asBigInt(values[0])
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("fee: %w", err)
	}

	values, err = r.call(ctx, address, poolABI, "tickSpacing")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	spacingInt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("tick spacing: %w", err)
	}
	spacing, err := int24FromBig(spacingInt)
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("tick spacing: %w", err)
	}

	values, err = r.call(ctx, address, poolABI, "liquidity")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	liquidity, err := asBigInt(values[0])
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("liquidity: %w", err)
	}

	values, err = r.call(ctx, address, poolABI, "slot0")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	if len(values) < 2 {
		return model.PoolSnapshot{}, fmt.Errorf("slot0: unexpected output length %d", len(values))
	}
	sqrtPrice, err := asBigInt(values[0])
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("slot0 sqrt price: %w", err)
	}
	tickInt, err := asBigInt(values[1])
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("slot0 tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("slot0 tick: %w", err)
	}

	decimals0, err := r.decimals(ctx, token0)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	decimals1, err := r.decimals(ctx, token1)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	price := SqrtPriceX96ToPrice(sqrtPrice, decimals0, decimals1)

	r.logger.Debug("pool snapshot",
		zap.String("pool", address.Hex()),
		zap.Int32("tick", tick),
		zap.String("price", price.Text('g', 12)),
	)

	return model.PoolSnapshot{
		Whirlpool:        address.Hex(),
		MintA:            token0.Hex(),
		MintB:            token1.Hex(),
		TickSpacing:      spacing,
		CurrentTick:      tick,
		CurrentSqrtPrice: sqrtPrice.String(),
		CurrentPrice:     price.Text('g', 17),
		Liquidity:        liquidity.String(),
		FeeRate:          uint32(fee.Uint64()),
	}, nil
}

func (r *PoolReader) decimals(ctx context.Context, token common.Address) (uint8, error) {
	if decimals, ok := r.tokens.Get(token); ok {
		return decimals, nil
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := r.call(ctx, token, erc20, "decimals")
	if err != nil {
		return 0, fmt.Errorf("token %s: %w", token.Hex(), err)
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return 0, fmt.Errorf("token %s decimals: %w", token.Hex(), err)
	}
	r.tokens.Set(token, decimals)
	return decimals, nil
}

func (r *PoolReader) call(ctx context.Context, to common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := r.caller.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty output", method)
	}
	return values, nil
}

var q192 = new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 192))

// SqrtPriceX96ToPrice converts a Q64.96 square-root price into token1 per
// token0 in whole units.
func SqrtPriceX96ToPrice(sqrtPriceX96 *big.Int, decimals0, decimals1 uint8) *big.Float {
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	price := new(big.Float).SetPrec(256).SetInt(sq)
	price.Quo(price, q192)

	shift := int(decimals0) - int(decimals1)
	if shift != 0 {
		exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs(shift))), nil)
		factor := new(big.Float).SetPrec(256).SetInt(exp)
		if shift > 0 {
			price.Mul(price, factor)
		} else {
			price.Quo(price, factor)
		}
	}
	return price
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
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
