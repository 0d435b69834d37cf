package analysis

import (
	"fmt"
	"strings"

	"chart-trade-analyzer/internal/ai/llm"
	"chart-trade-analyzer/internal/timeframe"
	"chart-trade-analyzer/internal/trade"
)

func systemPrompt() string {
	quoted := make([]string, len(trade.SetupPatterns))
	for i, p := range trade.SetupPatterns {
		quoted[i] = `"` + p + `"`
	}
	return fmt.Sprintf(llm.SystemPromptChartAnalysis, strings.Join(quoted, ", "))
}

// buildUserPrompt describes the upload batch, the trader's context and the
// risk limits the plan will be checked against
func buildUserPrompt(h *timeframe.Hierarchy, tc TradingContext, cfg *Config, notes string) string {
	var b strings.Builder

	b.WriteString("TRADING CONTEXT:\n")
	fmt.Fprintf(&b, "- Instrument: %s\n", tc.Instrument)
	fmt.Fprintf(&b, "- Trading style: %s\n", tc.TradingStyle)
	fmt.Fprintf(&b, "- Session: %s\n", tc.SessionInfo)
	fmt.Fprintf(&b, "- Account size: %.2f\n", tc.AccountSize)
	fmt.Fprintf(&b, "- Contracts: %g\n", tc.Contracts)
	fmt.Fprintf(&b, "- Time: %s\n", tc.Timestamp.UTC().Format("2006-01-02 15:04 MST"))

	if h != nil {
		b.WriteString("\nTIMEFRAME HIERARCHY:\n")
		for _, e := range h.Entries {
			role := "context only"
			if e.Role != timeframe.RoleNone {
				role = string(e.Role)
			}
			primary := ""
			if e.IsPrimary {
				primary = ", primary"
			}
			fmt.Fprintf(&b, "- Image %d \"%s\": %s, %s%s\n", e.Index+1, e.Label, e.Category, role, primary)
		}
		fmt.Fprintf(&b, "- Completeness: %d/100\n", h.Completeness)
		if missing := h.Missing(); len(missing) > 0 {
			names := make([]string, len(missing))
			for i, r := range missing {
				names[i] = string(r)
			}
			fmt.Fprintf(&b, "- Missing roles: %s\n", strings.Join(names, ", "))
		}
	}

	b.WriteString("\nRISK LIMITS:\n")
	fmt.Fprintf(&b, "- Max risk per trade: %.2f\n", cfg.MaxRiskPerTrade)
	fmt.Fprintf(&b, "- Minimum risk/reward: %.2f\n", cfg.MinRiskReward)

	if notes = strings.TrimSpace(notes); notes != "" {
		b.WriteString("\nTRADER NOTES:\n")
		b.WriteString(notes)
		b.WriteString("\n")
	}

	b.WriteString("\nAnalyze the charts and respond with the JSON object.")
	return b.String()
}
