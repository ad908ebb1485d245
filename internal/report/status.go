// internal/report/status.go
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/bot"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
)

// Snapshot is everything the status report shows.
type Snapshot struct {
	Status    bot.Status
	Open      []position.Position
	Endpoints []rpc.EndpointStatus
	Now       time.Time
}

// Render draws the engine summary, open positions and endpoint health.
func Render(s Snapshot) string {
	sections := []string{renderHeader(s.Status)}
	sections = append(sections, renderPositions(s.Open, s.Now))
	if len(s.Endpoints) > 0 {
		sections = append(sections, renderEndpoints(s.Endpoints, s.Now))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderHeader(st bot.Status) string {
	state := stoppedStyle.Render("STOPPED")
	if st.Active {
		state = runningStyle.Render("RUNNING")
	}
	line := func(label, value string) string {
		return labelStyle.Render(label) + " " + valueStyle.Render(value)
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Engine")+" "+state,
		line("open positions:", fmt.Sprintf("%d", st.OpenPositionCount)),
		line("closed positions:", fmt.Sprintf("%d", st.ClosedPositionCount)),
		line("available:", fmt.Sprintf("%.4f SOL", st.AvailableCapital)),
		line("deployed:", fmt.Sprintf("%.4f SOL", st.DeployedCapital)),
	)
	return boxStyle.Render(body)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(labelStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderPositions(open []position.Position, now time.Time) string {
	if len(open) == 0 {
		return labelStyle.Render("no open positions")
	}
	t := newTable("Asset", "Entry", "Last", "Peak", "Cost", "uPnL", "Held")
	for _, p := range open {
		name := p.Symbol
		if name == "" {
			name = logger.ShortenAddress(p.Asset)
		}
		upnl := p.UnrealizedPnL()
		t.Row(
			name,
			fmt.Sprintf("%.9f", p.EntryPrice),
			fmt.Sprintf("%.9f", p.CurrentPrice),
			fmt.Sprintf("%.9f", p.PeakPrice),
			fmt.Sprintf("%.4f", p.CostBasis),
			pnlStyle(upnl).Render(fmt.Sprintf("%+.4f (%+.1f%%)", upnl, p.PnLPercent())),
			p.Held(now).Truncate(time.Second).String(),
		)
	}
	return titleStyle.Render("Open positions") + "\n" + t.String()
}

func renderEndpoints(eps []rpc.EndpointStatus, now time.Time) string {
	t := newTable("Pool", "Endpoint", "Window", "Fails", "OK/Err", "State")
	for _, ep := range eps {
		state := positiveStyle.Render("healthy")
		if ep.Blacklisted {
			state = negativeStyle.Render("blacklisted " + ep.BlacklistedUntil.Sub(now).Truncate(time.Second).String())
		}
		t.Row(
			ep.Pool,
			shortURL(ep.URL),
			fmt.Sprintf("%d/%d", ep.RequestCount, ep.WindowCapacity),
			fmt.Sprintf("%d", ep.ConsecutiveFailures),
			fmt.Sprintf("%d/%d", ep.Successes, ep.Failures),
			state,
		)
	}
	return titleStyle.Render("Endpoints") + "\n" + t.String()
}

func shortURL(u string) string {
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	if len(u) > 40 {
		return u[:37] + "..."
	}
	return u
}
