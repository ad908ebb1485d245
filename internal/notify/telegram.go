// internal/notify/telegram.go
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/bot"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

// Sender is the part of tgbot.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Controller exposes engine state to chat commands.
type Controller interface {
	Status() bot.Status
	ListPositions(filter position.Filter) []position.Position
}

// Commander routes control commands, normally a *bot.CommandBus.
type Commander interface {
	Send(ctx context.Context, cmd bot.ControlCommand) error
}

// Telegram pushes lifecycle events to one chat and answers a few operator
// commands from that chat.
type Telegram struct {
	sender Sender
	chatID int64
	logger *zap.Logger
	bot    *tgbot.BotAPI
}

// NewTelegram connects to the bot API.
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	api, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	t := NewWithSender(api, chatID, logger)
	t.bot = api
	return t, nil
}

// NewWithSender builds a notifier on any Sender.
func NewWithSender(sender Sender, chatID int64, logger *zap.Logger) *Telegram {
	return &Telegram{sender: sender, chatID: chatID, logger: logger.Named("telegram")}
}

// Send delivers a plain text message. Failures are logged only.
func (t *Telegram) Send(msg string) {
	if t == nil || t.sender == nil || t.chatID == 0 {
		return
	}
	if _, err := t.sender.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		t.logger.Warn("Failed to send telegram message", zap.Error(err))
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Handler returns an events.Handler that forwards notable events.
func (t *Telegram) Handler() events.Handler {
	return events.HandlerFunc(func(_ context.Context, event events.Event) error {
		if msg, ok := Format(event); ok {
			t.Send(msg)
		}
		return nil
	})
}

// Format renders an event as a chat message. ok is false for events that
// are not worth a notification.
func Format(event events.Event) (msg string, ok bool) {
	switch e := event.(type) {
	case *events.TradeEvent:
		name := e.Symbol
		if name == "" {
			name = logger.ShortenAddress(e.Asset)
		}
		if e.Side == events.SideBuy {
			return fmt.Sprintf("🟢 Opened %s\nsize %.4f @ %.9f SOL\ntx %s",
				name, e.Size, e.Price, logger.ShortenSignature(e.TxRef)), true
		}
		icon := "🔴"
		if e.PnL > 0 {
			icon = "💰"
		}
		return fmt.Sprintf("%s Closed %s (%s)\nexit @ %.9f SOL, PnL %+.4f SOL\ntx %s",
			icon, name, e.Reason, e.Price, e.PnL, logger.ShortenSignature(e.TxRef)), true
	case *events.ExecutionFailedEvent:
		if e.Type() != events.ExitFailed {
			return "", false
		}
		return fmt.Sprintf("⚠️ Exit failed for %s (%s): %s\nwill retry next cycle",
			logger.ShortenAddress(e.Asset), e.Reason, e.Error), true
	case *events.PoolExhaustedEvent:
		return fmt.Sprintf("🚨 Endpoints exhausted %d times in a row\nlast error: %s",
			e.Consecutive, e.LastError), true
	case *events.EndpointBlacklistedEvent:
		return fmt.Sprintf("⛔️ %s endpoint %s blacklisted until %s (%d failures)",
			e.Pool, e.URL, e.Until.UTC().Format(time.TimeOnly), e.Failures), true
	case *events.EngineStateEvent:
		if e.Type() == events.EngineStarted {
			return fmt.Sprintf("▶️ Engine started, %d open positions", e.OpenPositions), true
		}
		return fmt.Sprintf("⏹ Engine stopped, %d open positions", e.OpenPositions), true
	}
	return "", false
}

// Start long-polls for chat commands until ctx is done. Only messages from
// the configured chat are honoured.
func (t *Telegram) Start(ctx context.Context, ctrl Controller, commands Commander) error {
	if t == nil || t.bot == nil {
		return errors.New("telegram bot not connected")
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		defer t.bot.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg := upd.Message
				if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
					continue
				}
				t.Send(HandleCommand(ctx, msg.Command(), msg.CommandArguments(), ctrl, commands))
			}
		}
	}()
	return nil
}

// HandleCommand executes one chat command and returns the reply.
func HandleCommand(ctx context.Context, command, args string, ctrl Controller, commands Commander) string {
	now := time.Now()
	switch command {
	case "status":
		return FormatStatus(ctrl.Status())
	case "positions":
		return FormatPositions(ctrl.ListPositions(position.FilterOpen))
	case "start":
		if err := commands.Send(ctx, bot.StartEngineCommand{Source: "telegram", Timestamp: now}); err != nil {
			return "❗️ " + err.Error()
		}
		return "▶️ Starting"
	case "stop":
		if err := commands.Send(ctx, bot.StopEngineCommand{Source: "telegram", Timestamp: now}); err != nil {
			return "❗️ " + err.Error()
		}
		return "⏹ Stopped"
	case "exit":
		asset := strings.TrimSpace(args)
		if asset == "" {
			return "usage: /exit <asset>"
		}
		if err := commands.Send(ctx, bot.ForceExitCommand{Asset: asset, Source: "telegram", Timestamp: now}); err != nil {
			return "❗️ " + err.Error()
		}
		return "✅ Exit sent for " + logger.ShortenAddress(asset)
	default:
		return "commands: /status /positions /start /stop /exit <asset>"
	}
}

func FormatStatus(s bot.Status) string {
	state := "stopped"
	if s.Active {
		state = "running"
	}
	return fmt.Sprintf("📊 Engine %s\nopen %d, closed %d\navailable %.4f SOL, deployed %.4f SOL",
		state, s.OpenPositionCount, s.ClosedPositionCount, s.AvailableCapital, s.DeployedCapital)
}

func FormatPositions(open []position.Position) string {
	if len(open) == 0 {
		return "📭 No open positions"
	}
	var b strings.Builder
	b.WriteString("📊 Open positions:\n")
	for _, p := range open {
		name := p.Symbol
		if name == "" {
			name = logger.ShortenAddress(p.Asset)
		}
		fmt.Fprintf(&b, "- %s cost %.4f SOL, entry %.9f, last %.9f, uPnL %+.4f\n",
			name, p.CostBasis, p.EntryPrice, p.CurrentPrice, p.UnrealizedPnL())
	}
	return b.String()
}
