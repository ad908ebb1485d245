// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"go.uber.org/zap"
)

// ConfirmationState is the coarse state of a submitted signature.
type ConfirmationState int

const (
	StatePending ConfirmationState = iota
	StateConfirmed
	StateFailed
)

func (s ConfirmationState) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// SignatureStatus is the result of a single status poll.
type SignatureStatus struct {
	State ConfirmationState
	Slot  uint64
	Err   error
}

// TokenAmount is a raw SPL token balance with its decimals.
type TokenAmount struct {
	Raw      uint64
	Decimals uint8
}

// UI converts the raw amount to whole tokens.
func (a TokenAmount) UI() float64 {
	return float64(a.Raw) / pow10(a.Decimals)
}

func pow10(d uint8) float64 {
	f := 1.0
	for i := uint8(0); i < d; i++ {
		f *= 10
	}
	return f
}

// Client is a thin adapter over solana-go. Every call goes through the
// resilient client, so endpoint selection, blacklisting and retries apply.
type Client struct {
	rc         *rpc.ResilientClient
	commitment solanarpc.CommitmentType
	logger     *zap.Logger
}

// NewClient creates a chain client over rc.
func NewClient(rc *rpc.ResilientClient, logger *zap.Logger) *Client {
	return &Client{
		rc:         rc,
		commitment: solanarpc.CommitmentConfirmed,
		logger:     logger.Named("solbc-client"),
	}
}

// BlockhashValid reports whether a transaction built on hash can still
// land. Once it is false an unconfirmed signature is dead for good.
func (c *Client) BlockhashValid(ctx context.Context, hash solana.Hash) (bool, error) {
	return rpc.Call(ctx, c.rc, "isBlockhashValid", func(ctx context.Context, ep *rpc.Endpoint) (bool, error) {
		res, err := ep.RPC().IsBlockhashValid(ctx, hash, c.commitment)
		if err != nil {
			return false, classify(err)
		}
		if res == nil {
			return false, fmt.Errorf("%w: empty isBlockhashValid result", rpc.ErrInvalidResponse)
		}
		return res.Value, nil
	})
}

// SendTransaction submits an already signed transaction. Resubmitting the
// same transaction is harmless: the cluster deduplicates by signature.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("%w: transaction is not signed", rpc.ErrInvalidResponse)
	}
	expected := tx.Signatures[0]

	return rpc.Call(ctx, c.rc, "sendTransaction", func(ctx context.Context, ep *rpc.Endpoint) (solana.Signature, error) {
		sig, err := ep.RPC().SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: c.commitment,
		})
		if err != nil {
			if isAlreadyProcessed(err) {
				c.logger.Debug("Transaction already processed",
					zap.String("signature", expected.String()))
				return expected, nil
			}
			return solana.Signature{}, classify(err)
		}
		return sig, nil
	})
}

// SignatureStatus polls the status of sig once.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureStatus, error) {
	return rpc.Call(ctx, c.rc, "getSignatureStatuses", func(ctx context.Context, ep *rpc.Endpoint) (SignatureStatus, error) {
		res, err := ep.RPC().GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return SignatureStatus{}, classify(err)
		}
		if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
			return SignatureStatus{State: StatePending}, nil
		}

		st := res.Value[0]
		if st.Err != nil {
			return SignatureStatus{
				State: StateFailed,
				Slot:  st.Slot,
				Err:   fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err),
			}, nil
		}
		switch st.ConfirmationStatus {
		case solanarpc.ConfirmationStatusConfirmed, solanarpc.ConfirmationStatusFinalized:
			return SignatureStatus{State: StateConfirmed, Slot: st.Slot}, nil
		default:
			return SignatureStatus{State: StatePending, Slot: st.Slot}, nil
		}
	})
}

// GetBalance returns the SOL balance of owner in lamports.
func (c *Client) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return rpc.Call(ctx, c.rc, "getBalance", func(ctx context.Context, ep *rpc.Endpoint) (uint64, error) {
		res, err := ep.RPC().GetBalance(ctx, owner, c.commitment)
		if err != nil {
			return 0, classify(err)
		}
		return res.Value, nil
	})
}

// SOLDelta returns the lamport change a confirmed transaction caused for its
// fee payer, net of the network fee. Jupiter swaps are built with the wallet
// as fee payer, so account 0 is the wallet.
func (c *Client) SOLDelta(ctx context.Context, sig solana.Signature) (int64, error) {
	version := uint64(0)
	return rpc.Call(ctx, c.rc, "getTransaction", func(ctx context.Context, ep *rpc.Endpoint) (int64, error) {
		res, err := ep.RPC().GetTransaction(ctx, sig, &solanarpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     c.commitment,
			MaxSupportedTransactionVersion: &version,
		})
		if err != nil {
			return 0, classify(err)
		}
		if res.Meta == nil || len(res.Meta.PreBalances) == 0 || len(res.Meta.PostBalances) == 0 {
			return 0, fmt.Errorf("%w: no balance metadata for %s", rpc.ErrInvalidResponse, sig)
		}
		return int64(res.Meta.PostBalances[0]) - int64(res.Meta.PreBalances[0]), nil
	})
}

// GetTokenBalance returns the balance of the associated token account of
// owner for mint. A missing account reads as zero.
func (c *Client) GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (TokenAmount, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return TokenAmount{}, fmt.Errorf("derive token account: %w", err)
	}

	return rpc.Call(ctx, c.rc, "getTokenAccountBalance", func(ctx context.Context, ep *rpc.Endpoint) (TokenAmount, error) {
		res, err := ep.RPC().GetTokenAccountBalance(ctx, ata, c.commitment)
		if err != nil {
			if isAccountNotFound(err) {
				return TokenAmount{}, nil
			}
			return TokenAmount{}, classify(err)
		}
		if res == nil || res.Value == nil {
			return TokenAmount{}, nil
		}
		raw, err := strconv.ParseUint(res.Value.Amount, 10, 64)
		if err != nil {
			return TokenAmount{}, fmt.Errorf("%w: token amount %q", rpc.ErrInvalidResponse, res.Value.Amount)
		}
		return TokenAmount{Raw: raw, Decimals: res.Value.Decimals}, nil
	})
}
