package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/reviewdesk/internal/controller"
	"github.com/kalambet/reviewdesk/internal/feedback"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func stars(n int) string {
	if n <= 0 {
		return "unrated"
	}
	return strings.Repeat("★", n)
}

// printRecord writes one record as a card headed by its position.
func printRecord(w io.Writer, rec feedback.Record, pos, total int) {
	fmt.Fprintf(w, "%s  %s\n", colorize(colorBold, fmt.Sprintf("[%d/%d] %s", pos, total, rec.Author)), colorize(colorYellow, stars(rec.Stars)))
	fmt.Fprintf(w, "%s\n", colorize(colorDim, rec.Date+"  "+rec.URL))
	fmt.Fprintf(w, "\n%s\n\n", rec.Text)
}

// renderView prints what the panel shows in v's state.
func renderView(w io.Writer, v controller.View) {
	switch v.State {
	case controller.Idle:
		fmt.Fprintln(w, "No records yet. Open a review list or a mail message and type \"scrape\".")
	case controller.Scraping:
		fmt.Fprintln(w, colorize(colorCyan, "→ Scraping the active page..."))
	case controller.Failed:
		msg := "something went wrong"
		if v.Failure != nil {
			msg = v.Failure.Message
		}
		fmt.Fprintln(w, colorize(colorRed, "✗ "+msg))
	case controller.GeneratingReply:
		fmt.Fprintln(w, colorize(colorCyan, "→ Generating a reply..."))
	case controller.Ready, controller.ReplyShown:
		rec, ok := v.Current()
		if !ok {
			fmt.Fprintln(w, "The session is empty.")
			return
		}
		printRecord(w, rec, v.Cursor+1, len(v.Records))
		if v.State == controller.ReplyShown {
			fmt.Fprintln(w, colorize(colorGreen, "Suggested reply:"))
			fmt.Fprintf(w, "%s\n\n", v.Reply)
		}
	}
}
