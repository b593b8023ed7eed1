package backtest

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"time"
)

// TradeLogEntry represents a single closed trade in the simulation.
type TradeLogEntry struct {
	Symbol      string    `json:"symbol"`
	Entry       float64   `json:"entry"`
	Exit        float64   `json:"exit"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
	PnL         float64   `json:"pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	Reason      string    `json:"reason"`
	Confidence  float64   `json:"confidence"`
	HoldingBars int       `json:"holding_bars"`
}

// SymbolSummary aggregates the closed trades of one symbol.
type SymbolSummary struct {
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	WinRate        float64 `json:"win_rate"`
	AvgProfitPct   float64 `json:"avg_profit_pct"`
	AvgHoldingBars float64 `json:"avg_holding_bars"`
}

// Results holds the outcome of a simulation run.
type Results struct {
	StartingCapital float64 `json:"starting_capital"`
	FinalCapital    float64 `json:"final_capital"`

	Trades int `json:"trades"`
	Wins   int `json:"wins"`
	Losses int `json:"losses"`

	MaxDrawdown float64   `json:"max_drawdown"`
	EquityCurve []float64 `json:"equity_curve"`

	TradeLog  []TradeLogEntry           `json:"trade_log"`
	PerSymbol map[string]*SymbolSummary `json:"per_symbol"`
	Halted    map[string]string         `json:"halted"`

	// Bars where evaluation could not or did not take place.
	SkippedBars         int `json:"skipped_bars"`
	FilteredBars        int `json:"filtered_bars"`
	InsufficientCapital int `json:"insufficient_capital"`

	Metrics map[string]float64 `json:"metrics"`
}

func newResults(startingCapital float64, symbols []string) *Results {
	r := &Results{
		StartingCapital: startingCapital,
		PerSymbol:       make(map[string]*SymbolSummary, len(symbols)),
		Halted:          make(map[string]string),
		Metrics:         make(map[string]float64),
	}
	for _, sym := range symbols {
		r.PerSymbol[sym] = &SymbolSummary{}
	}
	return r
}

func (r *Results) record(t TradeLogEntry) {
	r.TradeLog = append(r.TradeLog, t)
	r.Trades++
	sum := r.PerSymbol[t.Symbol]
	if sum == nil {
		sum = &SymbolSummary{}
		r.PerSymbol[t.Symbol] = sum
	}
	sum.Trades++
	if t.PnLPct > 0 {
		r.Wins++
		sum.Wins++
	} else {
		r.Losses++
		sum.Losses++
	}
}

func (r *Results) finish(finalCapital float64) {
	r.FinalCapital = finalCapital

	maxEquity := r.StartingCapital
	for _, eq := range r.EquityCurve {
		if eq > maxEquity {
			maxEquity = eq
		}
		if dd := maxEquity - eq; dd > r.MaxDrawdown {
			r.MaxDrawdown = dd
		}
	}

	for sym, sum := range r.PerSymbol {
		var totalPct float64
		var totalBars int
		for _, t := range r.TradeLog {
			if t.Symbol != sym {
				continue
			}
			totalPct += t.PnLPct
			totalBars += t.HoldingBars
		}
		if sum.Trades > 0 {
			sum.WinRate = float64(sum.Wins) / float64(sum.Trades) * 100
			sum.AvgProfitPct = totalPct / float64(sum.Trades)
			sum.AvgHoldingBars = float64(totalBars) / float64(sum.Trades)
		}
	}

	r.calculateMetrics()
}

func (r *Results) calculateMetrics() {
	if r.Trades > 0 {
		r.Metrics["win_rate"] = float64(r.Wins) / float64(r.Trades) * 100
	}

	var totalPct, winPct, lossPct float64
	var winCount, lossCount int
	for _, t := range r.TradeLog {
		totalPct += t.PnLPct
		if t.PnLPct > 0 {
			winPct += t.PnLPct
			winCount++
		} else {
			lossPct += t.PnLPct
			lossCount++
		}
	}
	if r.Trades > 0 {
		r.Metrics["avg_profit_pct"] = totalPct / float64(r.Trades)
	}
	if winCount > 0 {
		r.Metrics["avg_win_pct"] = winPct / float64(winCount)
	}
	if lossCount > 0 {
		r.Metrics["avg_loss_pct"] = lossPct / float64(lossCount)
	}
	if lossPct != 0 {
		r.Metrics["profit_factor"] = -winPct / lossPct
	}

	if r.Trades > 0 {
		mean := totalPct / float64(r.Trades)
		var variance float64
		for _, t := range r.TradeLog {
			variance += (t.PnLPct - mean) * (t.PnLPct - mean)
		}
		std := math.Sqrt(variance / float64(r.Trades))
		r.Metrics["std_pnl_pct"] = std
		if std > 0 {
			r.Metrics["sharpe"] = mean / std
		}
	}

	if r.StartingCapital > 0 {
		r.Metrics["total_return_pct"] = (r.FinalCapital - r.StartingCapital) / r.StartingCapital * 100
	}
}

// PrintSummary logs the simulation results, overall then per symbol.
func (r *Results) PrintSummary() {
	log.Printf("Simulation Results:")
	log.Printf("  Capital: start=%.2f, final=%.2f, return=%.2f%%",
		r.StartingCapital, r.FinalCapital, r.Metrics["total_return_pct"])
	log.Printf("  Trades=%d, Wins=%d, Losses=%d, WinRate=%.2f%%",
		r.Trades, r.Wins, r.Losses, r.Metrics["win_rate"])
	log.Printf("  AvgProfit=%.2f%%, AvgWin=%.2f%%, AvgLoss=%.2f%%, ProfitFactor=%.2f",
		r.Metrics["avg_profit_pct"], r.Metrics["avg_win_pct"], r.Metrics["avg_loss_pct"], r.Metrics["profit_factor"])
	log.Printf("  MaxDrawdown=%.2f, Sharpe=%.2f", r.MaxDrawdown, r.Metrics["sharpe"])
	log.Printf("  Skipped=%d bars (indicators), Filtered=%d (performance), InsufficientCapital=%d",
		r.SkippedBars, r.FilteredBars, r.InsufficientCapital)

	symbols := make([]string, 0, len(r.PerSymbol))
	for sym := range r.PerSymbol {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		sum := r.PerSymbol[sym]
		if sum.Trades == 0 {
			continue
		}
		log.Printf("  %s: Trades=%d, WinRate=%.1f%%, AvgProfit=%.2f%%, AvgHolding=%.1f bars",
			sym, sum.Trades, sum.WinRate, sum.AvgProfitPct, sum.AvgHoldingBars)
	}
	for sym, reason := range r.Halted {
		log.Printf("  %s: HALTED (%s)", sym, reason)
	}
}

// SaveCSV writes the trade log and equity curve to CSV files.
func (r *Results) SaveCSV(tradesFile, equityFile string) {
	tradeRows := [][]string{{"Trade#", "Symbol", "Entry", "EntryTime", "Exit", "ExitTime", "PnL", "PnLPct", "Reason", "HoldingBars"}}
	for i, t := range r.TradeLog {
		tradeRows = append(tradeRows, []string{
			fmt.Sprintf("%d", i+1),
			t.Symbol,
			fmt.Sprintf("%.2f", t.Entry),
			t.EntryTime.Format(time.RFC3339),
			fmt.Sprintf("%.2f", t.Exit),
			t.ExitTime.Format(time.RFC3339),
			fmt.Sprintf("%.2f", t.PnL),
			fmt.Sprintf("%.2f", t.PnLPct),
			t.Reason,
			fmt.Sprintf("%d", t.HoldingBars),
		})
	}

	equityRows := [][]string{{"Step", "Equity"}}
	for i, eq := range r.EquityCurve {
		equityRows = append(equityRows, []string{
			fmt.Sprintf("%d", i+1),
			fmt.Sprintf("%.2f", eq),
		})
	}

	saveCSV(tradesFile, tradeRows)
	saveCSV(equityFile, equityRows)
}

// saveCSV saves data to a CSV file
func saveCSV(filename string, rows [][]string) error {
	f, err := os.Create(filename)
	if err != nil {
		log.Printf("Error creating CSV file %s: %v", filename, err)
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	for _, row := range rows {
		if err := w.Write(row); err != nil {
			log.Printf("Error writing to CSV file %s: %v", filename, err)
			return err
		}
	}

	log.Printf("Saved results to %s", filename)
	return nil
}
