package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hotelbook/concierge/internal/knowledge"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// renderResponse prints a resolved answer the way a chat widget would lay
// it out: the text, then options or room cards.
func renderResponse(w io.Writer, resp knowledge.Response) {
	fmt.Fprintln(w, resp.Text)
	switch body := resp.Body.(type) {
	case knowledge.OptionsBody:
		for _, o := range body.Options {
			fmt.Fprintf(w, "  • %s", colorize(colorBold, o.Option))
			if o.Detail != "" {
				fmt.Fprintf(w, " - %s", o.Detail)
			}
			fmt.Fprintln(w)
		}
	case knowledge.RoomsBody:
		for _, name := range body.Rooms {
			fmt.Fprintf(w, "  • %s", colorize(colorBold, name))
			if d, ok := body.Details[name]; ok {
				fmt.Fprintf(w, " %s", priceLabel(d))
				if d.Description != "" {
					fmt.Fprintf(w, "\n    %s", d.Description)
				}
			}
			fmt.Fprintln(w)
		}
		if body.ButtonName != "" {
			fmt.Fprintf(w, "  [%s]\n", body.ButtonName)
		}
	}
}

func priceLabel(d knowledge.RoomDetail) string {
	if d.PromoPrice != nil && *d.PromoPrice < d.BasePrice {
		return fmt.Sprintf("(%.2f, now %.2f)", d.BasePrice, *d.PromoPrice)
	}
	return fmt.Sprintf("(%.2f)", d.BasePrice)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
