// internal/dex/jupiter/types.go
package jupiter

import (
	"encoding/json"
	"strconv"
)

// WrappedSOL is the mint used for the SOL leg of every swap.
const WrappedSOL = "So11111111111111111111111111111111111111112"

// QuoteRequest asks for an exact-in route.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// Quote is a priced route. Raw keeps the aggregator payload verbatim, the
// swap endpoint needs it back unchanged.
type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	MinOutAmount   uint64
	PriceImpactPct float64
	SlippageBps    int
	Raw            json.RawMessage
}

type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports any             `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
