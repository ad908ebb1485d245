// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

var ErrMissingKey = errors.New("wallet private key is empty")

// Wallet holds the trading key and signs swap transactions.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[solana.PublicKey]solana.PublicKey
}

// NewWallet creates a wallet from a base58-encoded 64-byte private key.
func NewWallet(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBase58 = strings.TrimSpace(privateKeyBase58)
	if privateKeyBase58 == "" {
		return nil, ErrMissingKey
	}
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	return FromPrivateKey(solana.PrivateKey(privateKeyBytes)), nil
}

// FromPrivateKey wraps an already decoded key.
func FromPrivateKey(key solana.PrivateKey) *Wallet {
	return &Wallet{
		PrivateKey: key,
		PublicKey:  key.PublicKey(),
		ataCache:   make(map[solana.PublicKey]solana.PublicKey),
	}
}

// LoadFromFile reads a base58 key from path (a single line).
func LoadFromFile(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	return NewWallet(string(raw))
}

// Address returns the wallet public key.
func (w *Wallet) Address() solana.PublicKey {
	return w.PublicKey
}

// Sign signs tx with the wallet key. The wallet must be the only
// required signer. Placeholder signatures from the aggregator are replaced.
func (w *Wallet) Sign(tx *solana.Transaction) error {
	tx.Signatures = nil
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}

// ATA returns the associated token account of the wallet for mint.
func (w *Wallet) ATA(mint solana.PublicKey) (solana.PublicKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ata, ok := w.ataCache[mint]; ok {
		return ata, nil
	}
	ata, _, err := solana.FindAssociatedTokenAddress(w.PublicKey, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	w.ataCache[mint] = ata
	return ata, nil
}

// String returns the public key.
func (w *Wallet) String() string {
	return w.PublicKey.String()
}
