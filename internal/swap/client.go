package swap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL     = "https://api.jup.ag/swap/v1"
	DefaultSlippageBps = 50
	MaxSlippageBps     = 100

	SOLMint  = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// MaxPriceImpactPct rejects quotes that would move the market more than 1%.
var MaxPriceImpactPct = decimal.NewFromInt(1)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the swap aggregator quote and swap endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    Doer
}

func NewClient(baseURL, apiKey string, doer Doer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: doer}
}

// QuoteRequest asks for a route from InputMint to OutputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Quote is the aggregator quote. Raw keeps the exact response, which the
// swap endpoint expects back unchanged.
type Quote struct {
	InputMint            string `json:"inputMint"`
	InAmount             string `json:"inAmount"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	SwapMode             string `json:"swapMode"`
	SlippageBps          int    `json:"slippageBps"`
	PriceImpactPct       string `json:"priceImpactPct"`

	Raw json.RawMessage `json:"-"`
}

// ClampSlippage applies the default and the hard ceiling.
func ClampSlippage(bps int) int {
	if bps <= 0 {
		return DefaultSlippageBps
	}
	if bps > MaxSlippageBps {
		return MaxSlippageBps
	}
	return bps
}

// Quote fetches a quote and rejects it when the price impact is too high.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(ClampSlippage(req.SlippageBps)))
	params.Set("restrictIntermediateTokens", "true")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+params.Encode(), nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build quote request: %w", err)
	}
	body, err := c.do(httpReq)
	if err != nil {
		return Quote{}, fmt.Errorf("quote: %w", err)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return Quote{}, fmt.Errorf("quote error: %s", envelope.Error)
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	quote.Raw = json.RawMessage(body)

	impact := decimal.Zero
	if quote.PriceImpactPct != "" {
		impact, err = decimal.NewFromString(quote.PriceImpactPct)
		if err != nil {
			return Quote{}, fmt.Errorf("invalid price impact %q: %w", quote.PriceImpactPct, err)
		}
	}
	if impact.GreaterThan(MaxPriceImpactPct) {
		return Quote{}, fmt.Errorf("price impact too high: %s%% > %s%%", impact.StringFixed(2), MaxPriceImpactPct)
	}
	return quote, nil
}

type priorityLevel struct {
	MaxLamports   uint64 `json:"maxLamports"`
	PriorityLevel string `json:"priorityLevel"`
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	DynamicSlippage           bool            `json:"dynamicSlippage"`
	PrioritizationFeeLamports struct {
		PriorityLevelWithMaxLamports priorityLevel `json:"priorityLevelWithMaxLamports"`
	} `json:"prioritizationFeeLamports"`
}

// BuildSwap returns the base64 unsigned transaction for quote.
func (c *Client) BuildSwap(ctx context.Context, quote Quote, userPublicKey string) (string, error) {
	if len(quote.Raw) == 0 {
		return "", fmt.Errorf("quote has no raw response")
	}
	payload := swapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           userPublicKey,
		DynamicComputeUnitLimit: true,
		DynamicSlippage:         true,
	}
	payload.PrioritizationFeeLamports.PriorityLevelWithMaxLamports = priorityLevel{
		MaxLamports:   1_000_000,
		PriorityLevel: "veryHigh",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("build swap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	body, err := c.do(httpReq)
	if err != nil {
		return "", fmt.Errorf("swap: %w", err)
	}

	var resp struct {
		SwapTransaction string          `json:"swapTransaction"`
		Error           string          `json:"error"`
		SimulationError json.RawMessage `json:"simulationError"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode swap response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("swap error: %s", resp.Error)
	}
	if sim := bytes.TrimSpace(resp.SimulationError); len(sim) > 0 && !bytes.Equal(sim, []byte("null")) {
		return "", fmt.Errorf("simulation failed: %s", sim)
	}
	if resp.SwapTransaction == "" {
		return "", fmt.Errorf("swap response has no transaction")
	}
	return resp.SwapTransaction, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
