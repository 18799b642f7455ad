package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
)

// Wallet holds the signing key.
type Wallet struct {
	key solana.PrivateKey
}

// LoadWallet parses a base58 secret key or a JSON byte array.
func LoadWallet(secret string) (*Wallet, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("wallet secret is empty")
	}
	if strings.HasPrefix(secret, "[") {
		var raw []int
		if err := json.Unmarshal([]byte(secret), &raw); err != nil {
			return nil, fmt.Errorf("parse key array: %w", err)
		}
		key := make(solana.PrivateKey, len(raw))
		for i, v := range raw {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("invalid key byte at %d: %d", i, v)
			}
			key[i] = byte(v)
		}
		if len(key) != 64 {
			return nil, fmt.Errorf("invalid key length: %d", len(key))
		}
		return &Wallet{key: key}, nil
	}
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid wallet key format, use base58 or a JSON array: %w", err)
	}
	return &Wallet{key: key}, nil
}

func (w *Wallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

func (w *Wallet) signer(key solana.PublicKey) *solana.PrivateKey {
	if key.Equals(w.key.PublicKey()) {
		return &w.key
	}
	return nil
}

// BalanceReader reads wallet balances for the two pool assets. The native
// SOL mint is read as the lamport balance.
type BalanceReader struct {
	RPC   *rpc.Client
	Owner solana.PublicKey
	MintA string
	MintB string
}

// Balances returns both balances in smallest units.
func (b *BalanceReader) Balances(ctx context.Context) (decimal.Decimal, decimal.Decimal, error) {
	a, err := b.balance(ctx, b.MintA)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balance %s: %w", b.MintA, err)
	}
	bb, err := b.balance(ctx, b.MintB)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("balance %s: %w", b.MintB, err)
	}
	return a, bb, nil
}

func (b *BalanceReader) balance(ctx context.Context, mint string) (decimal.Decimal, error) {
	if mint == SOLMint {
		res, err := b.RPC.GetBalance(ctx, b.Owner, rpc.CommitmentConfirmed)
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromBigInt(new(big.Int).SetUint64(res.Value), 0), nil
	}

	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse mint: %w", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(b.Owner, mintKey)
	if err != nil {
		return decimal.Zero, fmt.Errorf("derive token account: %w", err)
	}
	res, err := b.RPC.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return decimal.Zero, err
	}
	if res == nil || res.Value == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(res.Value.Amount)
}
