package alerting

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var markdownV2Reserved = []string{"\\", ".", "-", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "=", "|", "{", "}", "!"}

// EscapeMarkdownV2 escapes Telegram MarkdownV2 reserved characters.
func EscapeMarkdownV2(text string) string {
	for _, char := range markdownV2Reserved {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func plain(text string) string { return text }

// FormatPrice prints a USD price with thousands separators and precision scaled to magnitude.
func FormatPrice(price decimal.Decimal) string {
	v := price.InexactFloat64()
	decimals := 6
	switch {
	case v >= 1000:
		decimals = 0
	case v > 1.2:
		decimals = 2
	case v > 0 && v < 0.00001:
		decimals = 8
	}
	p := message.NewPrinter(language.English)
	return "$" + p.Sprintf(fmt.Sprintf("%%.%df", decimals), v)
}

// FormatPct prints a signed percentage with two decimals.
func FormatPct(pct decimal.Decimal) string {
	s := pct.StringFixed(2)
	if pct.Sign() > 0 {
		s = "+" + s
	}
	return s + "%"
}

// RenderPlain renders an event without markup.
func RenderPlain(ev Event) string {
	return renderMessage(ev, plain, plain)
}

// RenderMarkdownV2 renders an event for Telegram's MarkdownV2 parse mode.
func RenderMarkdownV2(ev Event) string {
	return renderMessage(ev, EscapeMarkdownV2, func(s string) string { return "*" + EscapeMarkdownV2(s) + "*" })
}

func renderMessage(ev Event, esc, bold func(string) string) string {
	symbol := ev.Symbol
	if symbol == "" {
		symbol = ev.Asset.Symbol
	}

	b := strings.Builder{}
	switch ev.Kind {
	case KindIntraday:
		icon := "⚡"
		b.WriteString(fmt.Sprintf("%s %s %s\n", icon, bold(symbol), esc(fmt.Sprintf("intraday move %s %s", ev.Direction, FormatPct(ev.ChangePct)))))
		b.WriteString(esc(fmt.Sprintf("Price: %s (previous %s)\n", FormatPrice(ev.Price), FormatPrice(ev.Reference))))
		b.WriteString(esc(fmt.Sprintf("Threshold: %s%%", ev.ThresholdPct.StringFixed(2))))
	case KindDailyUp, KindDailyDown:
		icon := "📈"
		verb := "up"
		if ev.Kind == KindDailyDown {
			icon = "📉"
			verb = "down"
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", icon, bold(symbol), esc(fmt.Sprintf("is %s %s today", verb, FormatPct(ev.ChangePct)))))
		b.WriteString(esc(fmt.Sprintf("Price: %s (open %s)\n", FormatPrice(ev.Price), FormatPrice(ev.Reference))))
		b.WriteString(esc(fmt.Sprintf("Threshold: %s", FormatPct(ev.ThresholdPct))))
	case KindNewATH:
		b.WriteString(fmt.Sprintf("🚀 %s %s\n", bold(symbol), esc("new all-time high: "+FormatPrice(ev.Price))))
		prior := fmt.Sprintf("Previous ATH: %s", FormatPrice(ev.Reference))
		if ev.AthDate != nil && !ev.AthDate.IsZero() {
			prior += fmt.Sprintf(" (%s, %s)", ev.AthDate.UTC().Format("2006-01-02"), humanize.Time(*ev.AthDate))
		}
		b.WriteString(esc(prior + "\n"))
		b.WriteString(esc(fmt.Sprintf("Gain vs ATH: %s", FormatPct(ev.ChangePct))))
	case KindRecap:
		b.WriteString(fmt.Sprintf("📊 %s\n", bold("Daily recap "+ev.RecapDay)))
		for _, line := range ev.Recap {
			b.WriteString(fmt.Sprintf("%s %s\n", bold(line.Symbol), esc(fmt.Sprintf("O %s H %s L %s C %s (%s)",
				FormatPrice(line.Open), FormatPrice(line.High), FormatPrice(line.Low), FormatPrice(line.Close), FormatPct(line.ChangePct)))))
		}
	default:
		b.WriteString(esc(fmt.Sprintf("%s %s %s", ev.Kind, symbol, FormatPrice(ev.Price))))
	}
	return strings.TrimRight(b.String(), "\n")
}
