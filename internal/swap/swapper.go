package swap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"clmmRebalancer/internal/executor"
)

// Request is one swap to execute.
type Request struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Result describes an executed swap.
type Result struct {
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	TxID       string `json:"txid"`
}

// Swapper quotes, builds, signs and sends a swap under the gateway retry
// policy. Once a transaction has been broadcast, failures are terminal so a
// retry can never spend twice.
type Swapper struct {
	Client  *Client
	Sender  *Sender
	Gateway *executor.Gateway
	Policy  executor.Policy
	Logger  *zap.Logger
}

func (s *Swapper) Swap(ctx context.Context, req Request) (Result, error) {
	if s.Client == nil || s.Sender == nil || s.Sender.Wallet == nil {
		return Result{}, fmt.Errorf("swapper is not configured")
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var res Result
	err := s.Gateway.Retry(ctx, "swap", s.Policy, func(ctx context.Context) error {
		quote, err := s.Client.Quote(ctx, QuoteRequest{
			InputMint:   req.InputMint,
			OutputMint:  req.OutputMint,
			Amount:      req.Amount,
			SlippageBps: req.SlippageBps,
		})
		if err != nil {
			return err
		}
		txBase64, err := s.Client.BuildSwap(ctx, quote, s.Sender.Wallet.PublicKey().String())
		if err != nil {
			return err
		}

		sig, err := s.Sender.Send(ctx, txBase64)
		if err != nil {
			return executor.Terminal(err)
		}
		logger.Info("swap sent",
			zap.String("signature", sig.String()),
			zap.String("in_amount", quote.InAmount),
			zap.String("out_amount", quote.OutAmount),
		)
		res = Result{
			InputMint:  req.InputMint,
			OutputMint: req.OutputMint,
			InAmount:   quote.InAmount,
			OutAmount:  quote.OutAmount,
			TxID:       sig.String(),
		}
		if err := s.Sender.Confirm(ctx, sig); err != nil {
			return executor.Terminal(fmt.Errorf("confirm swap %s: %w", sig, err))
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}
