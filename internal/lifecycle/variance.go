package lifecycle

import (
	"math"

	"chart-trade-analyzer/internal/trade"
)

// Thresholds are the point distances beyond which a deviation from the
// plan counts as a behavioral pattern
type Thresholds struct {
	Entry  float64 `json:"entry" yaml:"entry"`
	Stop   float64 `json:"stop" yaml:"stop"`
	Target float64 `json:"target" yaml:"target"`
}

// Levels is an entry/stop/target triple
type Levels struct {
	Entry  float64
	Stop   float64
	Target float64
}

// RR returns |target-entry| / |entry-stop|, 0 when undefined
func (l Levels) RR() float64 {
	if l.Entry <= 0 || l.Stop <= 0 || l.Target <= 0 {
		return 0
	}
	risk := math.Abs(l.Entry - l.Stop)
	if risk == 0 {
		return 0
	}
	return round2(math.Abs(l.Target-l.Entry) / risk)
}

// Priced reports whether entry and stop are set. Fallback plans without
// extracted levels carry zeros here.
func (l Levels) Priced() bool {
	return l.Entry > 0 && l.Stop > 0
}

// Variance is actual minus planned, per level
type Variance struct {
	Entry    float64
	Stop     float64
	Target   float64
	ActualRR float64
	RRImpact float64
}

// Compare computes the variance of actual against planned
func Compare(planned, actual Levels) Variance {
	v := Variance{
		Entry:    round2(actual.Entry - planned.Entry),
		Stop:     round2(actual.Stop - planned.Stop),
		Target:   round2(actual.Target - planned.Target),
		ActualRR: actual.RR(),
	}
	v.RRImpact = round2(v.ActualRR - planned.RR())
	return v
}

// Classify names the behavioral patterns in a variance. Variances are
// multiplied by the direction sign, so a long entered above plan and a
// short entered below plan are both early entries.
func Classify(dir trade.Direction, v Variance, th Thresholds) []string {
	sign := dir.Sign()
	if sign == 0 {
		return []string{}
	}
	out := []string{}

	switch e := sign * v.Entry; {
	case e > th.Entry:
		out = append(out, trade.ExecEarlyEntry)
	case e < -th.Entry:
		out = append(out, trade.ExecLateEntry)
	}
	switch s := sign * v.Stop; {
	case s > th.Stop:
		out = append(out, trade.ExecStopTightening)
	case s < -th.Stop:
		out = append(out, trade.ExecStopWidening)
	}
	switch tg := sign * v.Target; {
	case tg > th.Target:
		out = append(out, trade.ExecTargetExtension)
	case tg < -th.Target:
		out = append(out, trade.ExecTargetReduction)
	}
	return out
}

// PnL is the realized result of one trade: the exit is the target on a win
// and the stop on a loss
func PnL(dir trade.Direction, actual Levels, outcome trade.Outcome, pointValue, contracts float64) float64 {
	if pointValue <= 0 {
		pointValue = 1
	}
	if contracts <= 0 {
		contracts = 1
	}
	var exit float64
	switch outcome {
	case trade.OutcomeWin:
		exit = actual.Target
	case trade.OutcomeLoss:
		exit = actual.Stop
	default:
		return 0
	}
	if exit <= 0 || actual.Entry <= 0 {
		return 0
	}
	return round2((exit - actual.Entry) * dir.Sign() * pointValue * contracts)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
