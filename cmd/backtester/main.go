// Command backtester replays a strategy over a CSV candle file and prints the
// run summary as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"crypto-market-analyzer/internal/backtest"
	"crypto-market-analyzer/internal/logging"
	"crypto-market-analyzer/internal/market"
)

func main() {
	var (
		csvPath   = flag.String("csv", "", "candle CSV file (timestamp,open,high,low,close,volume)")
		symbol    = flag.String("symbol", "BTCUSDT", "symbol label for the run")
		timeframe = flag.String("timeframe", "1h", "candle timeframe")
		kind      = flag.String("strategy", "ma_crossover", "strategy kind: ma_crossover or structure")
		fast      = flag.Int("fast", 10, "fast SMA period (ma_crossover)")
		slow      = flag.Int("slow", 30, "slow SMA period (ma_crossover)")
		lookback  = flag.Int("lookback", 5, "swing lookback (structure)")
		capital   = flag.Float64("capital", 10000, "initial capital")
		stopPct   = flag.Float64("stop", 0, "stop loss percent (0 disables)")
		tpPct     = flag.Float64("tp", 0, "take profit percent (0 disables)")
		nextOpen  = flag.Bool("next-open", false, "fill entries at the next candle's open")
		withTrades = flag.Bool("trades", false, "include the trade ledger in the output")
		verbose   = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *csvPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtester -csv <file> [-strategy ma_crossover|structure] ...")
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(logging.Settings{Level: level})

	tf, err := market.ParseTimeframe(*timeframe)
	if err != nil {
		fatal(err)
	}
	candles, err := market.LoadCandlesCSV(*csvPath)
	if err != nil {
		fatal(err)
	}

	strategy, err := backtest.NewStrategy(backtest.StrategyConfig{
		Kind:          backtest.StrategyKind(*kind),
		FastPeriod:    *fast,
		SlowPeriod:    *slow,
		SwingLookback: *lookback,
	})
	if err != nil {
		fatal(err)
	}

	cfg := backtest.DefaultRunConfig(*capital)
	cfg.StopLossPercent = *stopPct
	cfg.TakeProfitPercent = *tpPct
	cfg.EntryOnNextOpen = *nextOpen

	series := market.Series{Symbol: *symbol, Timeframe: tf, Candles: candles}
	result, err := backtest.NewEngine(logger).Run(series, strategy, cfg)
	if err != nil {
		fatal(err)
	}

	out := map[string]any{
		"run_id":          result.RunID,
		"symbol":          result.Symbol,
		"strategy":        result.Strategy,
		"start_time":      result.StartTime,
		"end_time":        result.EndTime,
		"initial_capital": result.InitialCapital,
		"final_equity":    result.FinalEquity,
		"metrics":         result.Metrics,
		"suggestions":     result.Suggestions,
	}
	if *withTrades {
		out["trades"] = result.Trades
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "backtester:", err)
	os.Exit(1)
}
