package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"ScalpSentinel/internal/model"
)

const (
	colorGreen = 3066993
	colorRed   = 15158332
	colorBlue  = 3447003
	colorAmber = 15105570
)

var rankMarks = []string{"🥇", "🥈", "🥉"}

// TickerSelection announces the active set chosen by the scan.
func (d *Dispatcher) TickerSelection(res model.ScanResult) {
	var b strings.Builder
	if len(res.Active) > 1 {
		fmt.Fprintf(&b, "Top %d tickers selected for monitoring:\n", len(res.Active))
		for _, t := range res.Active {
			mark := "•"
			if t.Rank >= 1 && t.Rank <= len(rankMarks) {
				mark = rankMarks[t.Rank-1]
			}
			fmt.Fprintf(&b, "%s #%d %s (score %.3f)\n", mark, t.Rank, t.Symbol, t.Score)
		}
	} else {
		fmt.Fprintf(&b, "%s has been selected for today's trading", res.Winner.Symbol)
	}
	d.enqueue(Message{
		Title:       "🎯 Active Tickers Selected",
		Description: strings.TrimRight(b.String(), "\n"),
		Color:       colorGreen,
		Fields: []Field{
			{Name: "Top Score", Value: fmt.Sprintf("%.3f/100", res.Winner.Score), Inline: true},
			{Name: "Monitoring", Value: fmt.Sprintf("%d ticker(s)", max(len(res.Active), 1)), Inline: true},
		},
		Footer: "Pre-market scan",
	})
}

func (d *Dispatcher) Signal(sig model.Signal) {
	title, color := "📈 Trading Signal Detected", colorGreen
	if sig.Direction == model.DirectionPut {
		title, color = "📉 Trading Signal Detected", colorRed
	}
	d.enqueue(Message{
		Title:       title,
		Description: fmt.Sprintf("%s - %s", sig.Symbol, strings.ToUpper(string(sig.Direction))),
		Color:       color,
		Fields: []Field{
			{Name: "Price", Value: fmt.Sprintf("$%.2f", sig.Price), Inline: true},
			{Name: "RSI", Value: fmt.Sprintf("%.2f", sig.Indicators.RSI), Inline: true},
			{Name: "Reason", Value: sig.Reason},
		},
		Footer: "Signal detector",
	})
}

func (d *Dispatcher) OrderFilled(pos model.OpenPosition) {
	d.enqueue(Message{
		Title:       "✅ Order Filled",
		Description: fmt.Sprintf("Entered position in %s", pos.Ticker),
		Color:       colorGreen,
		Fields: []Field{
			{Name: "Contract", Value: pos.OptionSymbol},
			{Name: "Direction", Value: strings.ToUpper(string(pos.Direction)), Inline: true},
			{Name: "Quantity", Value: fmt.Sprintf("%dx", pos.Contracts), Inline: true},
			{Name: "Fill Price", Value: fmt.Sprintf("$%.2f", pos.EntryPrice), Inline: true},
			{Name: "Total Cost", Value: fmt.Sprintf("$%.2f", pos.EntryPrice*float64(pos.Contracts)*100), Inline: true},
		},
		Footer: "Order execution",
	})
}

func (d *Dispatcher) PositionClosed(pos model.OpenPosition, rec model.TradeRecord) {
	title, color := "🎉 Position Closed - PROFIT", colorGreen
	if rec.PnLPct < 0 {
		title, color = "⚠️ Position Closed - LOSS", colorRed
	}
	d.enqueue(Message{
		Title:       title,
		Description: fmt.Sprintf("Exited position in %s", rec.Ticker),
		Color:       color,
		Fields: []Field{
			{Name: "Contract", Value: pos.OptionSymbol},
			{Name: "Quantity", Value: fmt.Sprintf("%dx", rec.Contracts), Inline: true},
			{Name: "Exit Price", Value: fmt.Sprintf("$%.2f", rec.ExitPrice), Inline: true},
			{Name: "P/L", Value: fmt.Sprintf("%+.2f%%", rec.PnLPct), Inline: true},
			{Name: "Exit Reason", Value: rec.ExitReason},
		},
		Footer: "Position management",
	})
}

// Error reports a failed task. Long messages are truncated.
func (d *Dispatcher) Error(where string, err error) {
	text := err.Error()
	if len(text) > 1000 {
		text = text[:1000]
	}
	d.enqueue(Message{
		Title:       "🚨 Error Alert",
		Description: fmt.Sprintf("An error occurred in %s", where),
		Color:       colorRed,
		Fields:      []Field{{Name: "Error", Value: text}},
		Footer:      "Error handler",
	})
}

func (d *Dispatcher) BreakerTripped(st model.BreakerState) {
	d.enqueue(Message{
		Title:       "⚠️ CIRCUIT BREAKER ACTIVATED",
		Description: "Bot operations halted for safety. Manual reset required.",
		Color:       colorRed,
		Fields: []Field{
			{Name: "Context", Value: st.Context, Inline: true},
			{Name: "Tripped At", Value: st.TrippedAt.Format(time.RFC3339), Inline: true},
		},
		Footer: "Risk control",
	})
}

func (d *Dispatcher) DailyLimit(limitPct float64, st model.DailyLimitState) {
	d.enqueue(Message{
		Title:       "🛑 DAILY LOSS LIMIT HIT",
		Description: "Trading suspended for today",
		Color:       colorRed,
		Fields: []Field{
			{Name: "Loss", Value: fmt.Sprintf("%.2f%%", st.PnLPct), Inline: true},
			{Name: "Limit", Value: fmt.Sprintf("%.2f%%", limitPct), Inline: true},
			{Name: "Trades", Value: fmt.Sprintf("%d", st.TradeCount), Inline: true},
		},
		Footer: "Risk control",
	})
}

func (d *Dispatcher) Paused() {
	d.enqueue(Message{Title: "⏸️ Trading PAUSED", Color: colorAmber})
}

func (d *Dispatcher) Resumed() {
	d.enqueue(Message{Title: "▶️ Trading RESUMED", Color: colorGreen})
}

func (d *Dispatcher) ForceClosing(ticker string) {
	d.enqueue(Message{Title: "🚨 FORCE CLOSING", Description: ticker, Color: colorAmber})
}

// Startup announces the bot is online. nextScan may be zero.
func (d *Dispatcher) Startup(mode string, nextScan time.Time) {
	desc := fmt.Sprintf("Bot is online in %s mode.", strings.ToUpper(mode))
	if !nextScan.IsZero() {
		desc += fmt.Sprintf("\nNext pre-market scan: %s", nextScan.Format("Mon 2006-01-02 15:04 MST"))
	}
	d.enqueue(Message{
		Title:       "✅ Bot Started Successfully",
		Description: desc,
		Color:       colorBlue,
		Fields:      []Field{{Name: "Mode", Value: strings.ToUpper(mode), Inline: true}},
	})
}

// Text sends a free-form message, used for command acknowledgements.
func (d *Dispatcher) Text(title, body string) {
	d.enqueue(Message{Title: title, Description: body, Color: colorBlue})
}

// RenderHTML renders a message in Telegram's HTML subset.
func RenderHTML(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(msg.Title))
	if msg.Description != "" {
		b.WriteString(html.EscapeString(msg.Description))
		b.WriteString("\n")
	}
	if len(msg.Fields) > 0 {
		b.WriteString("\n")
	}
	for _, f := range msg.Fields {
		fmt.Fprintf(&b, "%s: <code>%s</code>\n", html.EscapeString(f.Name), html.EscapeString(f.Value))
	}
	return strings.TrimRight(b.String(), "\n")
}
