// internal/blockchain/solbc/errors.go
package solbc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
)

var (
	// ErrTransactionFailed means the transaction landed with an execution error.
	ErrTransactionFailed = errors.New("transaction failed on chain")
)

// JSON-RPC server error codes that indicate a node-side transient condition.
const (
	codeBlockNotAvailable   = -32004
	codeNodeUnhealthy       = -32005
	codeSlotSkipped         = -32007
	codeMinContextSlot      = -32016
	codeTooManyRequestsHTTP = 429
)

// classify maps solana-go errors onto the rpc error taxonomy so that the
// resilient client can decide whether to retry.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case codeTooManyRequestsHTTP:
			return fmt.Errorf("%w: %s", rpc.ErrRateLimit, rpcErr.Message)
		case codeBlockNotAvailable, codeNodeUnhealthy, codeSlotSkipped, codeMinContextSlot:
			return fmt.Errorf("%w: %s", rpc.ErrConnectionFailed, rpcErr.Message)
		default:
			return fmt.Errorf("%w: %s (code %d)", rpc.ErrInvalidResponse, rpcErr.Message, rpcErr.Code)
		}
	}
	return err
}

// isAccountNotFound reports the RPC answer for a token account that does
// not exist yet.
func isAccountNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") ||
		strings.Contains(msg, "not found")
}

// isAlreadyProcessed reports a resubmission of a transaction the cluster
// has already seen.
func isAlreadyProcessed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already been processed") ||
		strings.Contains(msg, "alreadyprocessed")
}
