package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"chart-trade-analyzer/internal/timeframe"
)

func main() {
	style := flag.String("style", string(timeframe.DefaultStyle), "trading style: scalping, day_trading, swing, position")
	primary := flag.String("primary", "", "label of the primary timeframe")
	asJSON := flag.Bool("json", false, "print the hierarchy as JSON")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: classify_timeframes [flags] LABEL...\n\n")
		fmt.Fprintf(os.Stderr, "Example: classify_timeframes -style scalping -primary 5m 1m 5m 15m 1H\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	labels := flag.Args()
	if len(labels) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	inputs := make([]timeframe.Input, 0, len(labels))
	for _, label := range labels {
		inputs = append(inputs, timeframe.Input{
			Label:     label,
			IsPrimary: *primary != "" && timeframe.Normalize(label) == timeframe.Normalize(*primary),
		})
	}

	classifier := timeframe.NewClassifier(timeframe.TradingStyle(*style))
	h, err := classifier.Resolve(inputs)
	if err != nil {
		fmt.Printf("Failed to resolve hierarchy: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(h); err != nil {
			fmt.Printf("Failed to encode hierarchy: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf(" TIMEFRAME HIERARCHY (%s)\n", classifier.Style())
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("%-10s %-13s %-9s %7s %9s %-14s %s\n", "Label", "Category", "Priority", "Weight", "Minutes", "Suitability", "Role")
	fmt.Println(strings.Repeat("-", 72))
	for _, e := range h.Entries {
		label := e.Label
		if e.IsPrimary {
			label += "*"
		}
		role := string(e.Role)
		if role == "" {
			role = "-"
		}
		fmt.Printf("%-10s %-13s %-9s %7.1f %9.0f %-14s %s\n",
			label, e.Category, e.Priority, e.Weight, e.Minutes, e.Suitability, role)
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("Primary:      %s\n", h.Primary)
	fmt.Printf("Completeness: %d%%\n", h.Completeness)
	if missing := h.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, r := range missing {
			names[i] = string(r)
		}
		fmt.Printf("Missing:      %s\n", strings.Join(names, ", "))
	}
}
