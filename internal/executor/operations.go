package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"clmmRebalancer/internal/model"
)

// Operation names understood by the chain executor.
const (
	OpFetchPosition = "fetch-position"
	OpFetchPool     = "fetch-pool"
	OpWithdrawAll   = "withdraw-all"
	OpOpenPosition  = "open-position"
)

var (
	// ReadPolicy applies to read-only fetches.
	ReadPolicy = Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, Timeout: 120 * time.Second}
	// TxPolicy applies to operations that submit transactions.
	TxPolicy = Policy{MaxRetries: 3, BaseDelay: 2 * time.Second, Timeout: 180 * time.Second}
)

// OpenRequest describes a new position.
type OpenRequest struct {
	Pool       string
	LowerPrice float64
	UpperPrice float64
	Amount     uint64
	UseTokenB  bool
}

// Args renders the request as open-position arguments.
func (r OpenRequest) Args() []string {
	args := []string{
		r.Pool,
		strconv.FormatFloat(r.LowerPrice, 'f', -1, 64),
		strconv.FormatFloat(r.UpperPrice, 'f', -1, 64),
		strconv.FormatUint(r.Amount, 10),
	}
	if r.UseTokenB {
		args = append(args, "--token-b")
	}
	return args
}

// Client exposes the executor operations as typed calls.
type Client struct {
	gateway *Gateway
	Read    Policy
	Tx      Policy
}

func NewClient(gateway *Gateway) *Client {
	return &Client{gateway: gateway, Read: ReadPolicy, Tx: TxPolicy}
}

func (c *Client) FetchPosition(ctx context.Context, positionMint string) (model.PositionSnapshot, error) {
	var snap model.PositionSnapshot
	err := c.invoke(ctx, Call{Operation: OpFetchPosition, Args: []string{positionMint}, Policy: c.Read}, &snap)
	return snap, err
}

func (c *Client) FetchPool(ctx context.Context, pool string) (model.PoolSnapshot, error) {
	var snap model.PoolSnapshot
	err := c.invoke(ctx, Call{Operation: OpFetchPool, Args: []string{pool}, Policy: c.Read}, &snap)
	return snap, err
}

func (c *Client) WithdrawAll(ctx context.Context, positionMint string) (model.WithdrawResult, error) {
	var res model.WithdrawResult
	err := c.invoke(ctx, Call{Operation: OpWithdrawAll, Args: []string{positionMint}, Policy: c.Tx}, &res)
	return res, err
}

func (c *Client) OpenPosition(ctx context.Context, req OpenRequest) (model.OpenPositionResult, error) {
	var res model.OpenPositionResult
	err := c.invoke(ctx, Call{Operation: OpOpenPosition, Args: req.Args(), Policy: c.Tx}, &res)
	return res, err
}

func (c *Client) invoke(ctx context.Context, call Call, out any) error {
	payload, err := c.gateway.Invoke(ctx, call)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &OperationError{
			Operation: call.Operation,
			Kind:      KindTerminal,
			Message:   fmt.Sprintf("decode payload: %v", err),
			Err:       ErrMalformedOutput,
		}
	}
	return nil
}
