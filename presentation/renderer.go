package presentation

import (
	"fmt"
	"strings"

	"pricemux/internal/domain"
)

// ANSI color codes
const (
	ansiReset    = "\033[0m"
	ansiRed      = "\033[31m"
	ansiGreen    = "\033[32m"
	ansiYellow   = "\033[33m"
	ansiDim      = "\033[2m"
	ansiClearEOL = "\033[K"
)

// Colorize applies ANSI color to a string
func Colorize(s, color string) string {
	return color + s + ansiReset
}

// Renderer formats the snapshot board for the terminal.
type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// RenderLine renders the full board as one line. live selects the
// carriage-return overwrite form used between history prints.
func (r *Renderer) RenderLine(snaps []domain.PriceSnapshot, liveVenues []string, live bool) string {
	var sb strings.Builder

	if live {
		sb.WriteString("\r")
	}

	sb.WriteString(Colorize("[MUX] ", ansiDim))

	for i, s := range snaps {
		if i > 0 {
			sb.WriteString(Colorize("  |  ", ansiDim))
		}
		sb.WriteString(renderSnapshot(s))
	}

	if len(liveVenues) > 0 {
		sb.WriteString(Colorize("  ["+strings.Join(liveVenues, ",")+"]", ansiDim))
	} else {
		sb.WriteString(Colorize("  [offline]", ansiDim))
	}

	if live {
		sb.WriteString(ansiClearEOL)
	}

	return sb.String()
}

func renderSnapshot(s domain.PriceSnapshot) string {
	if s.Unsupported {
		return s.Symbol + " " + Colorize("unsupported", ansiDim)
	}
	if s.DisplayPrice <= 0 {
		return s.Symbol + " " + Colorize("--", ansiYellow)
	}

	col := ansiYellow
	arrow := "·"
	switch s.Direction {
	case domain.DirectionUp:
		col = ansiGreen
		arrow = "↑"
	case domain.DirectionDown:
		col = ansiRed
		arrow = "↓"
	}

	price := Colorize(fmt.Sprintf("%s %s", formatPrice(s.DisplayPrice), arrow), col)

	chCol := ansiYellow
	if s.DisplayChange24h > 0 {
		chCol = ansiGreen
	} else if s.DisplayChange24h < 0 {
		chCol = ansiRed
	}
	change := Colorize(fmt.Sprintf("%+.2f%%", s.DisplayChange24h), chCol)

	out := fmt.Sprintf("%s %s %s", s.Symbol, price, change)
	if s.Source == domain.SourceCache || s.Source == domain.SourceRestored {
		out += " " + Colorize("("+s.Source+")", ansiDim)
	}
	return out
}

// formatPrice picks precision by magnitude so sub-cent assets stay legible.
func formatPrice(p float64) string {
	switch {
	case p >= 1000:
		return fmt.Sprintf("%.2f", p)
	case p >= 1:
		return fmt.Sprintf("%.4f", p)
	default:
		return fmt.Sprintf("%.6f", p)
	}
}
