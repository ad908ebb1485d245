// internal/dex/jupiter/client.go
package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"go.uber.org/zap"
)

const maxBodySize = 4 << 20

// Client talks to a Jupiter-compatible aggregator. Quotes and swaps use
// separate endpoint pools since they are rate limited independently.
type Client struct {
	quotes      *rpc.ResilientClient
	swaps       *rpc.ResilientClient
	httpClient  *http.Client
	priorityFee uint64
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPriorityFee sets a fixed prioritization fee in lamports. Zero lets
// the aggregator decide.
func WithPriorityFee(lamports uint64) Option {
	return func(c *Client) { c.priorityFee = lamports }
}

// NewClient creates an aggregator client.
func NewClient(quotes, swaps *rpc.ResilientClient, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		quotes:     quotes,
		swaps:      swaps,
		httpClient: http.DefaultClient,
		logger:     logger.Named("jupiter"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Quote fetches the best exact-in route for req.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: zero quote amount", rpc.ErrInvalidResponse)
	}

	return rpc.Call(ctx, c.quotes, "quote", func(ctx context.Context, ep *rpc.Endpoint) (*Quote, error) {
		q := url.Values{}
		q.Set("inputMint", req.InputMint)
		q.Set("outputMint", req.OutputMint)
		q.Set("amount", strconv.FormatUint(req.Amount, 10))
		q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL(ep, "quote")+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}

		body, err := c.do(httpReq)
		if err != nil {
			return nil, err
		}
		return decodeQuote(body)
	})
}

// SwapTransaction asks the aggregator to build the transaction for quote,
// paid and signed by owner. The returned transaction is unsigned.
func (c *Client) SwapTransaction(ctx context.Context, quote *Quote, owner solana.PublicKey) (*solana.Transaction, error) {
	payload := swapRequest{
		QuoteResponse:           quote.Raw,
		UserPublicKey:           owner.String(),
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	}
	if c.priorityFee > 0 {
		payload.PrioritizationFeeLamports = c.priorityFee
	} else {
		payload.PrioritizationFeeLamports = "auto"
	}
	data, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode swap request: %w", err)
	}

	return rpc.Call(ctx, c.swaps, "swap", func(ctx context.Context, ep *rpc.Endpoint) (*solana.Transaction, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(ep, "swap"), bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		body, err := c.do(httpReq)
		if err != nil {
			return nil, err
		}

		var resp swapResponse
		if err := sonic.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: decode swap response: %v", rpc.ErrInvalidResponse, err)
		}
		return DecodeTransaction(resp.SwapTransaction)
	})
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", rpc.ErrConnectionFailed, err)
	}

	if statusErr := rpc.StatusError(resp.StatusCode); statusErr != nil {
		var apiErr errorResponse
		if sonic.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%w: %s", statusErr, apiErr.Error)
		}
		return nil, statusErr
	}
	return body, nil
}

func decodeQuote(body []byte) (*Quote, error) {
	var raw quoteResponse
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode quote: %v", rpc.ErrInvalidResponse, err)
	}

	in, err := parseAmount(raw.InAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: inAmount: %v", rpc.ErrInvalidResponse, err)
	}
	out, err := parseAmount(raw.OutAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: outAmount: %v", rpc.ErrInvalidResponse, err)
	}
	minOut, err := parseAmount(raw.OtherAmountThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: otherAmountThreshold: %v", rpc.ErrInvalidResponse, err)
	}
	impact, err := parseFloat(raw.PriceImpactPct)
	if err != nil {
		return nil, fmt.Errorf("%w: priceImpactPct: %v", rpc.ErrInvalidResponse, err)
	}

	return &Quote{
		InputMint:      raw.InputMint,
		OutputMint:     raw.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		MinOutAmount:   minOut,
		PriceImpactPct: impact * 100,
		SlippageBps:    raw.SlippageBps,
		Raw:            append([]byte(nil), body...),
	}, nil
}

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	if b64 == "" {
		return nil, fmt.Errorf("%w: empty swap transaction", rpc.ErrInvalidResponse)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: swap transaction base64: %v", rpc.ErrInvalidResponse, err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: swap transaction: %v", rpc.ErrInvalidResponse, err)
	}
	return tx, nil
}

func endpointURL(ep *rpc.Endpoint, path string) string {
	return strings.TrimRight(ep.URL, "/") + "/" + path
}
