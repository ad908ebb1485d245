package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sniper/internal/bot"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbot.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbot.Chattable) (tgbot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbot.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbot.Message{}, f.err
}

type fakeController struct {
	status bot.Status
	open   []position.Position
}

func (c *fakeController) Status() bot.Status { return c.status }

func (c *fakeController) ListPositions(position.Filter) []position.Position { return c.open }

type fakeCommander struct {
	got []bot.ControlCommand
	err error
}

func (c *fakeCommander) Send(_ context.Context, cmd bot.ControlCommand) error {
	c.got = append(c.got, cmd)
	return c.err
}

const asset = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

func TestFormat(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event events.Event
		want  []string
		skip  bool
	}{
		{
			name: "buy",
			event: &events.TradeEvent{BaseEvent: events.NewBase(events.PositionOpened, at),
				Asset: asset, Symbol: "POPCAT", Side: events.SideBuy, Size: 1000, Price: 0.0001, TxRef: "sig"},
			want: []string{"Opened POPCAT", "size 1000.0000"},
		},
		{
			name: "profitable sell",
			event: &events.TradeEvent{BaseEvent: events.NewBase(events.PositionClosed, at),
				Asset: asset, Side: events.SideSell, Price: 0.00012, Reason: "PROFIT_TARGET", PnL: 0.05},
			want: []string{"💰", "7GCi...W2hr", "PROFIT_TARGET", "+0.0500"},
		},
		{
			name: "losing sell",
			event: &events.TradeEvent{BaseEvent: events.NewBase(events.PositionClosed, at),
				Asset: asset, Side: events.SideSell, Reason: "STOP_LOSS", PnL: -0.02},
			want: []string{"🔴", "-0.0200"},
		},
		{
			name: "exit failed",
			event: &events.ExecutionFailedEvent{BaseEvent: events.NewBase(events.ExitFailed, at),
				Asset: asset, Reason: "unconfirmed", Error: "transaction not confirmed"},
			want: []string{"Exit failed", "retry"},
		},
		{
			name: "entry failures are quiet",
			event: &events.ExecutionFailedEvent{BaseEvent: events.NewBase(events.EntryFailed, at),
				Asset: asset, Error: "boom"},
			skip: true,
		},
		{
			name:  "pool exhausted",
			event: &events.PoolExhaustedEvent{BaseEvent: events.NewBase(events.EndpointPoolExhausted, at), Consecutive: 3, LastError: "429"},
			want:  []string{"3 times", "429"},
		},
		{
			name: "blacklisted",
			event: &events.EndpointBlacklistedEvent{BaseEvent: events.NewBase(events.EndpointBlacklisted, at),
				Pool: "rpc", URL: "https://rpc.example.com", Failures: 3, Until: at.Add(time.Minute)},
			want: []string{"rpc endpoint https://rpc.example.com", "15:01:00"},
		},
		{
			name:  "engine stopped",
			event: &events.EngineStateEvent{BaseEvent: events.NewBase(events.EngineStopped, at), OpenPositions: 2},
			want:  []string{"Engine stopped, 2 open"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := Format(tt.event)
			if tt.skip {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			for _, w := range tt.want {
				assert.Contains(t, msg, w)
			}
		})
	}
}

func TestHandler_SendsToChat(t *testing.T) {
	sender := &fakeSender{}
	tg := NewWithSender(sender, 42, zaptest.NewLogger(t))

	h := tg.Handler()
	require.NoError(t, h.Handle(context.Background(), &events.EngineStateEvent{
		BaseEvent: events.NewBase(events.EngineStarted, time.Now()),
	}))
	require.NoError(t, h.Handle(context.Background(), &events.ExecutionFailedEvent{
		BaseEvent: events.NewBase(events.EntryFailed, time.Now()),
	}))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(42), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "Engine started")
}

func TestSend_ErrorsAreSwallowed(t *testing.T) {
	sender := &fakeSender{err: errors.New("forbidden")}
	tg := NewWithSender(sender, 42, zaptest.NewLogger(t))
	tg.Sendf("hello %d", 1)
	assert.Len(t, sender.sent, 1)

	var nilTG *Telegram
	nilTG.Send("ignored")
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()
	ctrl := &fakeController{
		status: bot.Status{Active: true, OpenPositionCount: 1, AvailableCapital: 4.5, DeployedCapital: 0.5},
		open: []position.Position{{
			Asset: asset, Symbol: "POPCAT", EntryPrice: 0.0001, CurrentPrice: 0.00011,
			Size: 5000, CostBasis: 0.5, State: position.StateOpen,
		}},
	}
	cmds := &fakeCommander{}

	assert.Contains(t, HandleCommand(ctx, "status", "", ctrl, cmds), "Engine running")
	assert.Contains(t, HandleCommand(ctx, "positions", "", ctrl, cmds), "POPCAT")

	assert.Equal(t, "▶️ Starting", HandleCommand(ctx, "start", "", ctrl, cmds))
	assert.Equal(t, "⏹ Stopped", HandleCommand(ctx, "stop", "", ctrl, cmds))
	assert.Equal(t, "usage: /exit <asset>", HandleCommand(ctx, "exit", " ", ctrl, cmds))
	assert.Contains(t, HandleCommand(ctx, "exit", asset, ctrl, cmds), "Exit sent")

	require.Len(t, cmds.got, 3)
	assert.Equal(t, "start_engine", cmds.got[0].GetType())
	assert.Equal(t, "stop_engine", cmds.got[1].GetType())
	exit, ok := cmds.got[2].(bot.ForceExitCommand)
	require.True(t, ok)
	assert.Equal(t, asset, exit.Asset)
	assert.Equal(t, "telegram", exit.Source)

	cmds.err = bot.ErrAlreadyRunning
	assert.Contains(t, HandleCommand(ctx, "start", "", ctrl, cmds), "❗️")

	assert.Contains(t, HandleCommand(ctx, "help", "", ctrl, cmds), "/status")
}

func TestFormatPositions_Empty(t *testing.T) {
	assert.Equal(t, "📭 No open positions", FormatPositions(nil))
}
