package swap

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Sender signs aggregator transactions with the wallet and submits them.
type Sender struct {
	RPC            *rpc.Client
	Wallet         *Wallet
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	Logger         *zap.Logger
}

// Send signs the base64 transaction and broadcasts it.
func (s *Sender) Send(ctx context.Context, txBase64 string) (solana.Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("parse transaction: %w", err)
	}

	if _, err := tx.Sign(s.Wallet.signer); err != nil {
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := s.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// Confirm polls the signature status until it is confirmed or finalized.
func (s *Sender) Confirm(ctx context.Context, sig solana.Signature) error {
	timeout := s.ConfirmTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		res, err := s.RPC.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			logger.Warn("signature status failed", zap.String("signature", sig.String()), zap.Error(err))
		} else if len(res.Value) > 0 && res.Value[0] != nil {
			status := res.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("transaction %s not confirmed within %s", sig, timeout)
		case <-timer.C:
		}
	}
}
