// internal/execution/router.go
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/dex/jupiter"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/types"
)

var (
	ErrPriceImpact    = errors.New("price impact above limit")
	ErrUnconfirmed    = errors.New("transaction not confirmed")
	ErrAlreadyOpen    = errors.New("asset already has an open position")
	ErrNoOpenPosition = errors.New("no open position for asset")
	ErrEmptyFill      = errors.New("swap produced no output")
	ErrInvalidAsset   = errors.New("invalid asset address")
	// ErrEntryPending means an earlier entry on the asset is still unconfirmed
	// and may yet land.
	ErrEntryPending = errors.New("earlier entry still pending")
)

// Market quotes and builds swaps.
type Market interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.Quote, error)
	SwapTransaction(ctx context.Context, quote *jupiter.Quote, owner solana.PublicKey) (*solana.Transaction, error)
}

// Chain submits transactions and reads balances.
type Chain interface {
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (solbc.SignatureStatus, error)
	BlockhashValid(ctx context.Context, hash solana.Hash) (bool, error)
	SOLDelta(ctx context.Context, sig solana.Signature) (int64, error)
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (solbc.TokenAmount, error)
}

// Signer signs swap transactions. Implemented by wallet.Wallet.
type Signer interface {
	Address() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// Config controls execution.
type Config struct {
	SlippageBps       int
	MaxPriceImpactPct float64
	ConfirmPolls      int
	ConfirmDelay      time.Duration
	// ResubmitEvery resends the signed transaction every N pending polls.
	// Zero disables resubmission.
	ResubmitEvery int
	// SettleTimeout bounds submit + confirm + settlement, which run
	// detached from the caller's cancellation.
	SettleTimeout            time.Duration
	ExhaustionAlertThreshold int
	Rules                    position.Rules
}

// Router turns entry and exit decisions into confirmed swaps and ledger
// transitions.
type Router struct {
	market    Market
	chain     Chain
	signer    Signer
	ledger    *position.Ledger
	publisher events.Publisher
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	exhaustMu sync.Mutex
	exhausted int

	lastBalance atomic.Uint64

	pendingMu sync.Mutex
	pending   map[string]pendingEntry
}

// entryOrder is what an entry swap was quoted for, kept so the fill can be
// recorded whenever the swap confirms.
type entryOrder struct {
	asset  string
	symbol string
	mint   solana.PublicKey
	before solbc.TokenAmount
	spent  uint64
	quoted uint64
}

// pendingEntry is an entry whose outcome was unknown when the router gave
// up confirming it. It blocks new entries on the asset until it lands, fails
// or its blockhash expires.
type pendingEntry struct {
	order     entryOrder
	sig       solana.Signature
	blockhash solana.Hash
}

// submitted identifies a signed swap that was handed to the cluster.
type submitted struct {
	sig       solana.Signature
	blockhash solana.Hash
}

// NewRouter wires a router.
func NewRouter(market Market, chain Chain, signer Signer, ledger *position.Ledger, publisher events.Publisher, cfg Config, logger *zap.Logger) *Router {
	if publisher == nil {
		publisher = events.Discard
	}
	if cfg.ConfirmPolls <= 0 {
		cfg.ConfirmPolls = 30
	}
	if cfg.ConfirmDelay <= 0 {
		cfg.ConfirmDelay = time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = time.Duration(cfg.ConfirmPolls+10) * cfg.ConfirmDelay
	}
	if cfg.ExhaustionAlertThreshold <= 0 {
		cfg.ExhaustionAlertThreshold = 3
	}
	return &Router{
		market:    market,
		chain:     chain,
		signer:    signer,
		ledger:    ledger,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.Named("router"),
		now:       time.Now,
		pending:   make(map[string]pendingEntry),
	}
}

// EnterPosition buys sizeSOL worth of the candidate asset and records the
// position once the swap is confirmed.
//
// An earlier entry on the same asset that was never confirmed is resolved
// first: if it landed the position is adopted and returned with
// ErrAlreadyOpen, if it can still land ErrEntryPending is returned.
func (r *Router) EnterPosition(ctx context.Context, c types.Candidate, sizeSOL float64) (position.Position, error) {
	unlock := r.ledger.LockAsset(c.Asset)
	defer unlock()

	if existing, ok := r.ledger.OpenFor(c.Asset); ok {
		return existing, ErrAlreadyOpen
	}

	log := logger.WithOperation(r.logger, "enter").With(
		zap.String("asset", c.Asset),
		zap.String("symbol", c.Symbol),
		zap.Float64("size_sol", sizeSOL))

	if p, ok := r.pendingFor(c.Asset); ok {
		adopted, err := r.resolve(ctx, log, p)
		if err != nil {
			return position.Position{}, err
		}
		if adopted.ID != "" {
			r.opened(adopted)
			return adopted, ErrAlreadyOpen
		}
	}

	pos, txRef, err := r.enter(ctx, log, c, sizeSOL)
	r.observe(err)
	if err != nil {
		log.Warn("Entry failed", zap.String("tx", txRef), zap.Error(err))
		r.emit(&events.ExecutionFailedEvent{
			BaseEvent: events.NewBase(events.EntryFailed, r.now()),
			Asset:     c.Asset,
			Side:      events.SideBuy,
			Size:      sizeSOL,
			TxRef:     txRef,
			Reason:    failureReason(err),
			Error:     err.Error(),
		})
		return position.Position{}, err
	}

	r.opened(pos)
	return pos, nil
}

func (r *Router) opened(pos position.Position) {
	r.emit(&events.TradeEvent{
		BaseEvent: events.NewBase(events.PositionOpened, r.now()),
		Asset:     pos.Asset,
		Symbol:    pos.Symbol,
		Side:      events.SideBuy,
		Size:      pos.Size,
		Price:     pos.EntryPrice,
		TxRef:     pos.EntryTx,
	})
}

func (r *Router) enter(ctx context.Context, log *zap.Logger, c types.Candidate, sizeSOL float64) (position.Position, string, error) {
	mint, err := solana.PublicKeyFromBase58(c.Asset)
	if err != nil {
		return position.Position{}, "", fmt.Errorf("%w: %v", ErrInvalidAsset, err)
	}
	lamports := types.ToLamports(sizeSOL)
	if lamports == 0 {
		return position.Position{}, "", fmt.Errorf("%w: size %v SOL", ErrEmptyFill, sizeSOL)
	}
	owner := r.signer.Address()

	before, err := r.chain.GetTokenBalance(ctx, owner, mint)
	if err != nil {
		return position.Position{}, "", fmt.Errorf("read token balance: %w", err)
	}

	quote, err := r.market.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   jupiter.WrappedSOL,
		OutputMint:  c.Asset,
		Amount:      lamports,
		SlippageBps: r.cfg.SlippageBps,
	})
	if err != nil {
		return position.Position{}, "", fmt.Errorf("quote: %w", err)
	}
	if r.cfg.MaxPriceImpactPct > 0 && quote.PriceImpactPct > r.cfg.MaxPriceImpactPct {
		return position.Position{}, "", fmt.Errorf("%w: %.2f%% > %.2f%%", ErrPriceImpact, quote.PriceImpactPct, r.cfg.MaxPriceImpactPct)
	}
	if quote.OutAmount == 0 {
		return position.Position{}, "", fmt.Errorf("%w: quote returns zero tokens", ErrEmptyFill)
	}

	order := entryOrder{
		asset:  c.Asset,
		symbol: c.Symbol,
		mint:   mint,
		before: before,
		spent:  quote.InAmount,
		quoted: quote.OutAmount,
	}

	sub, settleCtx, cancel, err := r.execute(ctx, log, quote)
	defer cancel()
	if err != nil {
		if sub.sig != (solana.Signature{}) && !errors.Is(err, solbc.ErrTransactionFailed) {
			r.remember(pendingEntry{order: order, sig: sub.sig, blockhash: sub.blockhash})
			log.Warn("Entry outcome unknown, holding asset until its blockhash expires",
				zap.String("tx", sub.sig.String()))
		}
		return position.Position{}, txString(sub.sig), err
	}

	pos, err := r.record(settleCtx, log, order, sub.sig)
	if err != nil {
		return position.Position{}, sub.sig.String(), err
	}
	log.Info("Entry confirmed",
		zap.String("tx", sub.sig.String()),
		zap.Float64("price", pos.EntryPrice),
		zap.Float64("tokens", pos.Size))
	return pos, sub.sig.String(), nil
}

// record opens the position for a confirmed entry swap. The fill is what
// actually landed in the token account.
func (r *Router) record(ctx context.Context, log *zap.Logger, o entryOrder, sig solana.Signature) (position.Position, error) {
	after, err := r.chain.GetTokenBalance(ctx, r.signer.Address(), o.mint)
	received := uint64(0)
	decimals := o.before.Decimals
	if err == nil {
		decimals = after.Decimals
		if after.Raw > o.before.Raw {
			received = after.Raw - o.before.Raw
		}
	} else {
		log.Warn("Post-trade balance unavailable, using quoted amount", zap.Error(err))
	}
	if received == 0 {
		received = o.quoted
	}

	size := solbc.TokenAmount{Raw: received, Decimals: decimals}.UI()
	spent := types.ToSOL(o.spent)
	pos, _, err := r.ledger.Open(ctx, position.Fill{
		Asset:    o.asset,
		Symbol:   o.symbol,
		Price:    spent / size,
		Size:     size,
		SizeRaw:  received,
		Decimals: decimals,
		Value:    spent,
		TxRef:    sig.String(),
		Time:     r.now(),
	}, r.cfg.Rules)
	return pos, err
}

// resolve settles an entry left unconfirmed. It returns the adopted position
// if the swap landed, a zero position once the swap can no longer land, and
// ErrEntryPending while it still might. Validity is read before the status so
// a pending status on an expired blockhash is final.
func (r *Router) resolve(ctx context.Context, log *zap.Logger, p pendingEntry) (position.Position, error) {
	valid, err := r.chain.BlockhashValid(ctx, p.blockhash)
	if err != nil {
		return position.Position{}, fmt.Errorf("%w: %s: %v", ErrEntryPending, p.sig, err)
	}
	st, err := r.chain.SignatureStatus(ctx, p.sig)
	if err != nil {
		return position.Position{}, fmt.Errorf("%w: %s: %v", ErrEntryPending, p.sig, err)
	}

	switch {
	case st.State == solbc.StateConfirmed:
		pos, err := r.record(ctx, log, p.order, p.sig)
		if err != nil {
			return position.Position{}, err
		}
		r.forget(p.order.asset)
		log.Info("Late entry landed, position adopted",
			zap.String("tx", p.sig.String()),
			zap.Float64("price", pos.EntryPrice),
			zap.Float64("tokens", pos.Size))
		return pos, nil
	case st.State == solbc.StateFailed, !valid:
		r.forget(p.order.asset)
		log.Info("Unconfirmed entry can no longer land",
			zap.String("tx", p.sig.String()),
			zap.Stringer("state", st.State))
		return position.Position{}, nil
	default:
		return position.Position{}, fmt.Errorf("%w: %s", ErrEntryPending, p.sig)
	}
}

// SettlePending resolves every tracked unconfirmed entry and returns how many
// were adopted as open positions.
func (r *Router) SettlePending(ctx context.Context) int {
	r.pendingMu.Lock()
	assets := make([]string, 0, len(r.pending))
	for asset := range r.pending {
		assets = append(assets, asset)
	}
	r.pendingMu.Unlock()

	adopted := 0
	for _, asset := range assets {
		if ctx.Err() != nil {
			break
		}
		if r.settle(ctx, asset) {
			adopted++
		}
	}
	return adopted
}

func (r *Router) settle(ctx context.Context, asset string) bool {
	unlock := r.ledger.LockAsset(asset)
	defer unlock()

	p, ok := r.pendingFor(asset)
	if !ok {
		return false
	}
	log := logger.WithOperation(r.logger, "settle").With(
		zap.String("asset", asset),
		zap.String("symbol", p.order.symbol))
	pos, err := r.resolve(ctx, log, p)
	if err != nil {
		log.Debug("Entry still unresolved", zap.Error(err))
		return false
	}
	if pos.ID == "" {
		return false
	}
	r.opened(pos)
	return true
}

// PendingEntries returns the number of unconfirmed entries being tracked.
func (r *Router) PendingEntries() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

func (r *Router) pendingFor(asset string) (pendingEntry, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	p, ok := r.pending[asset]
	return p, ok
}

func (r *Router) remember(p pendingEntry) {
	r.pendingMu.Lock()
	r.pending[p.order.asset] = p
	r.pendingMu.Unlock()
}

func (r *Router) forget(asset string) {
	r.pendingMu.Lock()
	delete(r.pending, asset)
	r.pendingMu.Unlock()
}

// ExitPosition sells the full recorded size of the open position on asset.
// If the sale is not confirmed the position stays open.
func (r *Router) ExitPosition(ctx context.Context, asset string, reason position.ExitReason) (position.Position, error) {
	unlock := r.ledger.LockAsset(asset)
	defer unlock()

	pos, ok := r.ledger.OpenFor(asset)
	if !ok {
		return position.Position{}, fmt.Errorf("%w: %s", ErrNoOpenPosition, asset)
	}

	log := logger.WithOperation(r.logger, "exit").With(
		zap.String("asset", asset),
		zap.String("position_id", pos.ID),
		zap.String("reason", string(reason)))

	closed, txRef, err := r.exit(ctx, log, pos, reason)
	r.observe(err)
	if err != nil {
		log.Warn("Exit failed", zap.String("tx", txRef), zap.Error(err))
		r.emit(&events.ExecutionFailedEvent{
			BaseEvent: events.NewBase(events.ExitFailed, r.now()),
			Asset:     asset,
			Side:      events.SideSell,
			Size:      pos.Size,
			TxRef:     txRef,
			Reason:    string(reason),
			Error:     err.Error(),
		})
		return pos, err
	}

	r.emit(&events.TradeEvent{
		BaseEvent: events.NewBase(events.PositionClosed, r.now()),
		Asset:     closed.Asset,
		Symbol:    closed.Symbol,
		Side:      events.SideSell,
		Size:      closed.Size,
		Price:     closed.ExitPrice,
		TxRef:     closed.ExitTx,
		Reason:    string(reason),
		PnL:       closed.RealizedPnL,
	})
	return closed, nil
}

func (r *Router) exit(ctx context.Context, log *zap.Logger, pos position.Position, reason position.ExitReason) (position.Position, string, error) {
	if pos.SizeRaw == 0 {
		return position.Position{}, "", fmt.Errorf("%w: position has no recorded size", ErrEmptyFill)
	}

	quote, err := r.market.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   pos.Asset,
		OutputMint:  jupiter.WrappedSOL,
		Amount:      pos.SizeRaw,
		SlippageBps: r.cfg.SlippageBps,
	})
	if err != nil {
		return position.Position{}, "", fmt.Errorf("quote: %w", err)
	}
	if r.cfg.MaxPriceImpactPct > 0 && quote.PriceImpactPct > r.cfg.MaxPriceImpactPct {
		// exits are never blocked on impact
		log.Warn("High price impact on exit",
			zap.Float64("impact_pct", quote.PriceImpactPct),
			zap.Uint64("min_out", types.MinAmountOut(quote.OutAmount, r.cfg.SlippageBps)))
	}

	sub, settleCtx, cancel, err := r.execute(ctx, log, quote)
	defer cancel()
	if err != nil {
		return position.Position{}, txString(sub.sig), err
	}
	sig := sub.sig

	proceeds := r.proceeds(settleCtx, log, sig, quote)
	fill := position.Fill{
		Asset: pos.Asset,
		Price: proceeds / pos.Size,
		Value: proceeds,
		TxRef: sig.String(),
		Time:  r.now(),
	}
	closed, err := r.ledger.Close(settleCtx, pos.ID, fill, reason)
	if err != nil {
		return position.Position{}, sig.String(), err
	}
	log.Info("Exit confirmed",
		zap.String("tx", sig.String()),
		zap.Float64("price", closed.ExitPrice),
		zap.Float64("pnl", closed.RealizedPnL))
	return closed, sig.String(), nil
}

// proceeds is the SOL the confirmed sale credited to the wallet, net of the
// network fee. The quote is used only when the transaction cannot be read.
func (r *Router) proceeds(ctx context.Context, log *zap.Logger, sig solana.Signature, quote *jupiter.Quote) float64 {
	delta, err := r.chain.SOLDelta(ctx, sig)
	if err != nil {
		log.Warn("Realized proceeds unavailable, using quoted amount",
			zap.String("tx", sig.String()),
			zap.Uint64("quoted_lamports", quote.OutAmount),
			zap.Error(err))
		return types.ToSOL(quote.OutAmount)
	}
	if delta <= 0 {
		log.Warn("Sale credited no SOL", zap.String("tx", sig.String()), zap.Int64("lamports_delta", delta))
		return 0
	}
	if uint64(delta) < types.MinAmountOut(quote.OutAmount, r.cfg.SlippageBps) {
		log.Debug("Realized proceeds below slippage floor",
			zap.Int64("lamports", delta),
			zap.Uint64("quoted_lamports", quote.OutAmount))
	}
	return types.ToSOL(uint64(delta))
}

// execute builds and signs the swap once, then submits and confirms it on
// a context detached from the caller so a stop request cannot abandon a
// transaction mid-flight. The returned context is valid until cancel. A
// non-zero signature in the result means the swap may have reached the
// cluster.
func (r *Router) execute(ctx context.Context, log *zap.Logger, quote *jupiter.Quote) (submitted, context.Context, context.CancelFunc, error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SettleTimeout)

	tx, err := r.market.SwapTransaction(ctx, quote, r.signer.Address())
	if err != nil {
		return submitted{}, settleCtx, cancel, fmt.Errorf("build swap: %w", err)
	}
	if err := r.signer.Sign(tx); err != nil {
		return submitted{}, settleCtx, cancel, err
	}
	sub := submitted{sig: tx.Signatures[0], blockhash: tx.Message.RecentBlockhash}

	if _, err := r.chain.SendTransaction(settleCtx, tx); err != nil {
		return sub, settleCtx, cancel, fmt.Errorf("submit: %w", err)
	}
	log.Debug("Transaction submitted", zap.String("tx", sub.sig.String()))

	if err := r.confirm(settleCtx, log, tx, sub.sig); err != nil {
		return sub, settleCtx, cancel, err
	}
	return sub, settleCtx, cancel, nil
}

// confirm polls the signature status a bounded number of times.
func (r *Router) confirm(ctx context.Context, log *zap.Logger, tx *solana.Transaction, sig solana.Signature) error {
	var lastErr error
	for poll := 0; poll < r.cfg.ConfirmPolls; poll++ {
		if poll > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUnconfirmed, ctx.Err())
			case <-time.After(r.cfg.ConfirmDelay):
			}
		}

		st, err := r.chain.SignatureStatus(ctx, sig)
		if err != nil {
			lastErr = err
			log.Debug("Status poll failed", zap.Int("poll", poll), zap.Error(err))
			continue
		}

		switch st.State {
		case solbc.StateConfirmed:
			return nil
		case solbc.StateFailed:
			return st.Err
		}

		if r.cfg.ResubmitEvery > 0 && poll > 0 && poll%r.cfg.ResubmitEvery == 0 {
			if _, err := r.chain.SendTransaction(ctx, tx); err != nil {
				log.Debug("Resubmit failed", zap.Error(err))
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %d polls: %v", ErrUnconfirmed, r.cfg.ConfirmPolls, lastErr)
	}
	return fmt.Errorf("%w after %d polls", ErrUnconfirmed, r.cfg.ConfirmPolls)
}

// Price values an open position at the current sell quote, in SOL per
// whole token.
func (r *Router) Price(ctx context.Context, p position.Position) (float64, error) {
	if p.SizeRaw == 0 || p.Size <= 0 {
		return 0, fmt.Errorf("%w: position %s", ErrEmptyFill, p.ID)
	}
	quote, err := r.market.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   p.Asset,
		OutputMint:  jupiter.WrappedSOL,
		Amount:      p.SizeRaw,
		SlippageBps: r.cfg.SlippageBps,
	})
	r.observe(err)
	if err != nil {
		return 0, err
	}
	return types.ToSOL(quote.OutAmount) / p.Size, nil
}

// AvailableSOL reads the wallet SOL balance.
func (r *Router) AvailableSOL(ctx context.Context) (float64, error) {
	lamports, err := r.chain.GetBalance(ctx, r.signer.Address())
	r.observe(err)
	if err != nil {
		return 0, err
	}
	r.lastBalance.Store(math.Float64bits(types.ToSOL(lamports)))
	return types.ToSOL(lamports), nil
}

// LastKnownSOL returns the most recent balance read without a network call.
func (r *Router) LastKnownSOL() float64 {
	return math.Float64frombits(r.lastBalance.Load())
}

// observe tracks consecutive retry exhaustion and raises an alert once the
// streak reaches the threshold.
func (r *Router) observe(err error) {
	r.exhaustMu.Lock()
	if !errors.Is(err, rpc.ErrExhaustedRetries) {
		if err == nil {
			r.exhausted = 0
		}
		r.exhaustMu.Unlock()
		return
	}
	r.exhausted++
	n := r.exhausted
	r.exhaustMu.Unlock()

	if n == r.cfg.ExhaustionAlertThreshold {
		r.logger.Error("Endpoint pools exhausted repeatedly", zap.Int("consecutive", n), zap.Error(err))
		r.emit(&events.PoolExhaustedEvent{
			BaseEvent:   events.NewBase(events.EndpointPoolExhausted, r.now()),
			Consecutive: n,
			LastError:   err.Error(),
		})
	}
}

func (r *Router) emit(e events.Event) {
	if err := r.publisher.Publish(e); err != nil {
		r.logger.Debug("Event not published", zap.String("type", string(e.Type())), zap.Error(err))
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPriceImpact):
		return "price_impact"
	case errors.Is(err, ErrUnconfirmed), errors.Is(err, ErrEntryPending):
		return "unconfirmed"
	case errors.Is(err, solbc.ErrTransactionFailed):
		return "failed_on_chain"
	case errors.Is(err, rpc.ErrExhaustedRetries):
		return "exhausted_retries"
	case errors.Is(err, ErrEmptyFill), errors.Is(err, ErrInvalidAsset):
		return "invalid"
	default:
		return "error"
	}
}

func txString(sig solana.Signature) string {
	if sig == (solana.Signature{}) {
		return ""
	}
	return sig.String()
}
