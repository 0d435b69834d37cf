package trade

import (
	"errors"
	"fmt"
)

// Phase is the lifecycle state of a trade record
type Phase int

const (
	PhaseUnknown Phase = iota
	PhasePreTrade
	PhaseExecution
	PhaseComplete
)

var ErrUnknownPhase = errors.New("unknown trade phase")

func (p Phase) String() string {
	switch p {
	case PhasePreTrade:
		return "pre_trade"
	case PhaseExecution:
		return "execution"
	case PhaseComplete:
		return "complete"
	case PhaseUnknown:
		return "unknown"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ParsePhase parses the persisted form of a phase
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "pre_trade":
		return PhasePreTrade, nil
	case "execution":
		return PhaseExecution, nil
	case "complete":
		return PhaseComplete, nil
	}
	return PhaseUnknown, fmt.Errorf("%w: %q", ErrUnknownPhase, s)
}

// CanTransitionTo reports whether a record in phase p may move to next.
// A pre-trade record only ever advances to complete once its execution is
// linked; execution records are created in their final phase.
func (p Phase) CanTransitionTo(next Phase) bool {
	switch p {
	case PhasePreTrade:
		return next == PhaseComplete
	case PhaseExecution, PhaseComplete, PhaseUnknown:
		return false
	}
	return false
}

func (p Phase) MarshalText() ([]byte, error) {
	if p == PhaseUnknown {
		return nil, ErrUnknownPhase
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
