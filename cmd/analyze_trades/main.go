package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"chart-trade-analyzer/config"
	"chart-trade-analyzer/internal/database"
	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/trade"
)

type InstrumentStats struct {
	Instrument    string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	Breakeven     int
	TotalPnL      float64
	TotalWins     float64
	TotalLosses   float64
	WinRate       float64
	AvgPnL        float64
}

type ConfidenceBucket struct {
	MinConf       float64
	MaxConf       float64
	TotalTrades   int
	WinningTrades int
	TotalPnL      float64
	WinRate       float64
}

func main() {
	days := flag.Int("days", 30, "look back this many days (0 = all)")
	user := flag.String("user", "", "only trades of this user")
	instrument := flag.String("instrument", "", "only trades of this instrument")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.NewDB(ctx, cfg.DatabaseConfig, zerolog.Nop())
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	filter := storage.TradeFilter{
		UserID:     *user,
		Phase:      trade.PhaseComplete,
		Instrument: strings.ToUpper(*instrument),
	}
	if *days > 0 {
		filter.Since = time.Now().AddDate(0, 0, -*days)
	}

	trades, err := db.ListTrades(ctx, filter)
	if err != nil {
		fmt.Printf("Query failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("CHART TRADE HISTORY ANALYSIS")
	fmt.Println(strings.Repeat("=", 80))

	var closed []*trade.Trade
	for _, t := range trades {
		if t.ParentID == "" && t.Outcome.Known() {
			closed = append(closed, t)
		}
	}
	if len(closed) == 0 {
		fmt.Println("No trades with a reported outcome found")
		return
	}

	printInstrumentStats(closed)
	printConfidenceBuckets(closed)
	printExecutionBehavior(closed)

	setups, err := db.ListSetupPatterns(ctx)
	if err != nil {
		fmt.Printf("Failed to load setup patterns: %v\n", err)
		os.Exit(1)
	}
	printSetupPatterns(setups)
}

func pnl(t *trade.Trade) float64 {
	if t.ActualPnL == nil {
		return 0
	}
	return *t.ActualPnL
}

func printInstrumentStats(trades []*trade.Trade) {
	stats := make(map[string]*InstrumentStats)
	for _, t := range trades {
		s, ok := stats[t.Instrument]
		if !ok {
			s = &InstrumentStats{Instrument: t.Instrument}
			stats[t.Instrument] = s
		}
		s.TotalTrades++
		p := pnl(t)
		s.TotalPnL += p
		switch t.Outcome {
		case trade.OutcomeWin:
			s.WinningTrades++
			s.TotalWins += p
		case trade.OutcomeLoss:
			s.LosingTrades++
			s.TotalLosses += p
		default:
			s.Breakeven++
		}
	}

	list := make([]*InstrumentStats, 0, len(stats))
	for _, s := range stats {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].TotalPnL > list[j].TotalPnL })

	fmt.Println("\nBY INSTRUMENT")
	fmt.Printf("%-10s %7s %5s %5s %5s %8s %12s %10s\n", "Instrument", "Trades", "Win", "Loss", "BE", "WinRate", "Total P&L", "Avg P&L")
	fmt.Println(strings.Repeat("-", 80))
	var total float64
	for _, s := range list {
		total += s.TotalPnL
		fmt.Printf("%-10s %7d %5d %5d %5d %7.1f%% %12.2f %10.2f\n",
			s.Instrument, s.TotalTrades, s.WinningTrades, s.LosingTrades, s.Breakeven, s.WinRate, s.TotalPnL, s.AvgPnL)
	}
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-10s %7d %41.2f\n", "TOTAL", len(trades), total)
}

func printConfidenceBuckets(trades []*trade.Trade) {
	buckets := []*ConfidenceBucket{
		{MinConf: 0, MaxConf: 0.5},
		{MinConf: 0.5, MaxConf: 0.65},
		{MinConf: 0.65, MaxConf: 0.8},
		{MinConf: 0.8, MaxConf: 1.01},
	}
	for _, t := range trades {
		for _, b := range buckets {
			if t.Confidence >= b.MinConf && t.Confidence < b.MaxConf {
				b.TotalTrades++
				b.TotalPnL += pnl(t)
				if t.Outcome == trade.OutcomeWin {
					b.WinningTrades++
				}
				break
			}
		}
	}

	fmt.Println("\nBY ANALYSIS CONFIDENCE")
	fmt.Printf("%-12s %7s %8s %12s\n", "Confidence", "Trades", "WinRate", "Total P&L")
	fmt.Println(strings.Repeat("-", 42))
	for _, b := range buckets {
		if b.TotalTrades > 0 {
			b.WinRate = float64(b.WinningTrades) / float64(b.TotalTrades) * 100
		}
		hi := b.MaxConf
		if hi > 1 {
			hi = 1
		}
		fmt.Printf("%4.2f - %4.2f  %7d %7.1f%% %12.2f\n", b.MinConf, hi, b.TotalTrades, b.WinRate, b.TotalPnL)
	}
}

func printExecutionBehavior(trades []*trade.Trade) {
	type behavior struct {
		count  int
		wins   int
		impact float64
	}
	byPattern := make(map[string]*behavior)
	for _, t := range trades {
		for _, p := range t.ExecutionPatterns {
			b, ok := byPattern[p]
			if !ok {
				b = &behavior{}
				byPattern[p] = b
			}
			b.count++
			if t.Outcome == trade.OutcomeWin {
				b.wins++
			}
			if t.RRImpact != nil {
				b.impact += *t.RRImpact
			}
		}
	}
	if len(byPattern) == 0 {
		return
	}

	names := make([]string, 0, len(byPattern))
	for name := range byPattern {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("\nEXECUTION BEHAVIOR")
	fmt.Printf("%-18s %7s %8s %12s\n", "Pattern", "Trades", "WinRate", "Avg RR Δ")
	fmt.Println(strings.Repeat("-", 48))
	for _, name := range names {
		b := byPattern[name]
		fmt.Printf("%-18s %7d %7.1f%% %12.2f\n", name, b.count,
			float64(b.wins)/float64(b.count)*100, b.impact/float64(b.count))
	}
}

func printSetupPatterns(stats []trade.SetupPatternStat) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].ConfidenceScore > stats[j].ConfidenceScore })

	fmt.Println("\nLEARNED SETUP CONFIDENCE")
	fmt.Printf("%-20s %7s %8s %11s\n", "Setup", "Seen", "Success", "Confidence")
	fmt.Println(strings.Repeat("-", 50))
	for _, s := range stats {
		if s.TotalCount == 0 {
			continue
		}
		fmt.Printf("%-20s %7d %7.1f%% %11.2f\n", s.PatternName, s.TotalCount, s.SuccessRate()*100, s.ConfidenceScore)
	}
}
