// Package ui renders a live terminal view of a replay.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/position-engine/internal/position"
	"github.com/tathienbao/position-engine/internal/types"
	"golang.org/x/term"
)

// ANSI escape codes
const (
	ClearLine   = "\033[2K"
	MoveToStart = "\r"
	HideCursor  = "\033[?25l"
	ShowCursor  = "\033[?25h"
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorCyan   = "\033[36m"
	ColorDim    = "\033[2m"
	ColorBold   = "\033[1m"
)

// Candle represents OHLC data for one bar
type Candle struct {
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// ReplayView draws recent bars with the position's entry and armed exits
// overlaid, plus a status line. It is fed bars by the engine and trades by
// the position manager.
type ReplayView struct {
	out io.Writer

	mu          sync.Mutex
	candles     []Candle
	maxCandles  int
	chartHeight int
	width       int

	currentBar  int
	totalBars   int
	startEquity decimal.Decimal
	equity      decimal.Decimal
	trades      int
	wins        int
	view        position.PositionView

	// Track lines printed for cleanup
	linesPrinted int
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// NewReplayView creates a view writing to out.
func NewReplayView(out io.Writer, totalBars int, startEquity decimal.Decimal) *ReplayView {
	width := terminalWidth(out)

	maxCandles := width - 20 // Leave room for price axis
	if maxCandles < 20 {
		maxCandles = 20
	}
	if maxCandles > 100 {
		maxCandles = 100
	}

	return &ReplayView{
		out:         out,
		candles:     make([]Candle, 0, maxCandles),
		maxCandles:  maxCandles,
		chartHeight: 12,
		width:       width,
		totalBars:   totalBars,
		startEquity: startEquity,
		equity:      startEquity,
	}
}

// Start hides the cursor.
func (v *ReplayView) Start() {
	fmt.Fprint(v.out, HideCursor)
	fmt.Fprintln(v.out)
}

// Stop restores the cursor.
func (v *ReplayView) Stop() {
	fmt.Fprint(v.out, ShowCursor)
	fmt.Fprintln(v.out)
}

// OnBar records the bar and redraws with the position as it stands after
// the bar was processed.
func (v *ReplayView) OnBar(bar types.MarketEvent, view position.PositionView) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.candles = append(v.candles, Candle{Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close})
	if len(v.candles) > v.maxCandles {
		v.candles = v.candles[1:]
	}
	v.currentBar++
	v.view = view
	v.render()
}

// OnEvent implements position.Listener.
func (v *ReplayView) OnEvent(ev position.Event) {
	if ev.Kind != position.EventTradeFinalized || ev.Trade == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	v.trades++
	if ev.Trade.IsWin() {
		v.wins++
	}
	v.equity = v.equity.Add(ev.Trade.NetPnL)
}

// Render draws the current state.
func (v *ReplayView) Render() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.render()
}

func (v *ReplayView) render() {
	// Move cursor up to overwrite previous frame
	if v.linesPrinted > 0 {
		fmt.Fprintf(v.out, "\033[%dA", v.linesPrinted)
	}

	var lines []string
	lines = append(lines, v.progressLine())
	lines = append(lines, v.renderChart()...)
	lines = append(lines, v.positionLine(), v.statsLine())

	for _, line := range lines {
		fmt.Fprint(v.out, ClearLine)
		fmt.Fprintln(v.out, line)
	}
	v.linesPrinted = len(lines)
}

func (v *ReplayView) progressLine() string {
	progress := 0.0
	if v.totalBars > 0 {
		progress = float64(v.currentBar) / float64(v.totalBars)
	}
	if progress > 1 {
		progress = 1
	}
	progressWidth := v.width - 30
	if progressWidth < 20 {
		progressWidth = 20
	}
	filled := int(progress * float64(progressWidth))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", progressWidth-filled)
	return fmt.Sprintf("%s%s %.1f%% [%d/%d]%s",
		ColorCyan, bar, progress*100, v.currentBar, v.totalBars, ColorReset)
}

func (v *ReplayView) positionLine() string {
	pv := v.view
	if pv.IsFlat() {
		return fmt.Sprintf("%sPosition:%s %s", ColorBold, ColorReset, pv.State)
	}
	line := fmt.Sprintf("%sPosition:%s %s %s %d @ %s",
		ColorBold, ColorReset, pv.State, pv.Side, abs(pv.OpenQuantity), pv.AvgEntryPrice.StringFixed(2))
	if sl, ok := pv.ArmedStopLoss.Get(); ok {
		line += fmt.Sprintf(" │ %sSL%s %s", ColorRed, ColorReset, sl.StringFixed(2))
	}
	if tp, ok := pv.ArmedTakeProfit.Get(); ok {
		line += fmt.Sprintf(" │ %sTP%s %s", ColorGreen, ColorReset, tp.StringFixed(2))
	}
	return line
}

func (v *ReplayView) statsLine() string {
	pnlPct := decimal.Zero
	if !v.startEquity.IsZero() {
		pnlPct = v.equity.Sub(v.startEquity).Div(v.startEquity).Mul(decimal.NewFromInt(100))
	}
	pnlColor := ColorGreen
	if pnlPct.IsNegative() {
		pnlColor = ColorRed
	}
	winRate := 0.0
	if v.trades > 0 {
		winRate = float64(v.wins) / float64(v.trades) * 100
	}

	return fmt.Sprintf("%sEquity:%s $%.2f (%s%+.2f%%%s) │ %sTrades:%s %d │ %sWin:%s %.1f%%",
		ColorBold, ColorReset, v.equity.InexactFloat64(),
		pnlColor, pnlPct.InexactFloat64(), ColorReset,
		ColorBold, ColorReset, v.trades,
		ColorBold, ColorReset, winRate)
}

// level is a horizontal price line drawn behind the candles.
type level struct {
	price decimal.Decimal
	glyph rune
	color string
}

func (v *ReplayView) levels() []level {
	var out []level
	if !v.view.IsFlat() {
		out = append(out, level{v.view.AvgEntryPrice, '┄', ColorYellow})
	}
	if sl, ok := v.view.ArmedStopLoss.Get(); ok {
		out = append(out, level{sl, '─', ColorRed})
	}
	if tp, ok := v.view.ArmedTakeProfit.Get(); ok {
		out = append(out, level{tp, '─', ColorGreen})
	}
	return out
}

// renderChart creates ASCII candlestick chart
func (v *ReplayView) renderChart() []string {
	height := v.chartHeight
	if len(v.candles) < 2 {
		lines := make([]string, height)
		for i := range lines {
			lines[i] = ColorDim + "│" + ColorReset
		}
		return lines
	}

	levels := v.levels()

	// Price range covers the candles and any drawn levels
	minPrice := v.candles[0].Low
	maxPrice := v.candles[0].High
	for _, c := range v.candles {
		minPrice = decimal.Min(minPrice, c.Low)
		maxPrice = decimal.Max(maxPrice, c.High)
	}
	for _, l := range levels {
		minPrice = decimal.Min(minPrice, l.price)
		maxPrice = decimal.Max(maxPrice, l.price)
	}

	priceRange := maxPrice.Sub(minPrice)
	if priceRange.IsZero() {
		priceRange = decimal.NewFromInt(1)
	}
	padding := priceRange.Mul(decimal.RequireFromString("0.05"))
	minPrice = minPrice.Sub(padding)
	maxPrice = maxPrice.Add(padding)
	priceRange = maxPrice.Sub(minPrice)

	width := len(v.candles)
	chart := make([][]rune, height)
	colors := make([][]string, height)
	for i := range chart {
		chart[i] = make([]rune, width)
		colors[i] = make([]string, width)
		for j := range chart[i] {
			chart[i][j] = ' '
			colors[i][j] = ColorReset
		}
	}

	for _, l := range levels {
		y := priceToY(l.price, minPrice, priceRange, height)
		if y < 0 || y >= height {
			continue
		}
		for x := range chart[y] {
			chart[y][x] = l.glyph
			colors[y][x] = l.color
		}
	}

	for x, candle := range v.candles {
		color := ColorRed
		if candle.Close.GreaterThanOrEqual(candle.Open) {
			color = ColorGreen
		}

		// 0 = top, height-1 = bottom
		highY := priceToY(candle.High, minPrice, priceRange, height)
		lowY := priceToY(candle.Low, minPrice, priceRange, height)
		openY := priceToY(candle.Open, minPrice, priceRange, height)
		closeY := priceToY(candle.Close, minPrice, priceRange, height)

		bodyTop, bodyBottom := openY, closeY
		if closeY < openY {
			bodyTop, bodyBottom = closeY, openY
		}

		for y := highY; y <= lowY; y++ {
			if y >= 0 && y < height {
				chart[y][x] = '│'
				colors[y][x] = color
			}
		}
		for y := bodyTop; y <= bodyBottom; y++ {
			if y >= 0 && y < height {
				chart[y][x] = '█'
				colors[y][x] = color
			}
		}
	}

	lines := make([]string, height)
	for y := 0; y < height; y++ {
		var sb strings.Builder

		if y%(height/4) == 0 {
			price := yToPrice(y, minPrice, priceRange, height)
			sb.WriteString(fmt.Sprintf("%s%9.2f%s │", ColorDim, price.InexactFloat64(), ColorReset))
		} else {
			sb.WriteString(fmt.Sprintf("%s          │%s", ColorDim, ColorReset))
		}

		for x := 0; x < width; x++ {
			sb.WriteString(colors[y][x])
			sb.WriteRune(chart[y][x])
		}
		sb.WriteString(ColorReset)

		lines[y] = sb.String()
	}

	axisLine := strings.Repeat("─", width)
	lines = append(lines, fmt.Sprintf("%s          └%s%s", ColorDim, axisLine, ColorReset))

	return lines
}

// priceToY converts a price to y coordinate
func priceToY(price, minPrice, priceRange decimal.Decimal, height int) int {
	if priceRange.IsZero() {
		return height / 2
	}
	normalized := price.Sub(minPrice).Div(priceRange)
	y := decimal.NewFromInt(int64(height - 1)).Sub(normalized.Mul(decimal.NewFromInt(int64(height - 1))))
	return int(y.IntPart())
}

// yToPrice converts y coordinate back to price
func yToPrice(y int, minPrice, priceRange decimal.Decimal, height int) decimal.Decimal {
	normalized := decimal.NewFromInt(int64(height - 1 - y)).Div(decimal.NewFromInt(int64(height - 1)))
	return minPrice.Add(priceRange.Mul(normalized))
}

// terminalWidth returns the width of out when it is a terminal, else 80.
func terminalWidth(out io.Writer) int {
	f, ok := out.(*os.File)
	if !ok || !IsTerminal(f) {
		return 80
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 80
	}
	return width
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
