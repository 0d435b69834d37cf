package lifecycle

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"chart-trade-analyzer/internal/trade"
)

func TestClassify(t *testing.T) {
	th := Thresholds{Entry: 2, Stop: 2, Target: 2}

	tests := []struct {
		name    string
		dir     trade.Direction
		planned Levels
		actual  Levels
		want    []string
	}{
		{
			name:    "long early entry",
			dir:     trade.DirectionLong,
			planned: Levels{19700, 19680, 19740},
			actual:  Levels{19703, 19680, 19740},
			want:    []string{trade.ExecEarlyEntry},
		},
		{
			name:    "long late entry widened stop reduced target",
			dir:     trade.DirectionLong,
			planned: Levels{19700, 19680, 19740},
			actual:  Levels{19695, 19670, 19730},
			want:    []string{trade.ExecLateEntry, trade.ExecStopWidening, trade.ExecTargetReduction},
		},
		{
			name:    "short mirrored",
			dir:     trade.DirectionShort,
			planned: Levels{5000, 5010, 4980},
			actual:  Levels{4996, 5006, 4975},
			want:    []string{trade.ExecEarlyEntry, trade.ExecStopTightening, trade.ExecTargetExtension},
		},
		{
			name:    "within threshold",
			dir:     trade.DirectionLong,
			planned: Levels{100, 90, 120},
			actual:  Levels{102, 88, 118},
			want:    []string{},
		},
		{
			name:    "neutral direction",
			dir:     trade.DirectionNeutral,
			planned: Levels{100, 90, 120},
			actual:  Levels{110, 80, 130},
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.dir, Compare(tt.planned, tt.actual), th)
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestCompare(t *testing.T) {
	v := Compare(Levels{19700, 19680, 19740}, Levels{19700, 19690, 19740})
	if v.Stop != 10 {
		t.Errorf("Expected stop variance 10, got %v", v.Stop)
	}
	if v.ActualRR != 4 {
		t.Errorf("Expected actual RR 4, got %v", v.ActualRR)
	}
	if v.RRImpact != 2 {
		t.Errorf("Expected RR impact 2, got %v", v.RRImpact)
	}
}

func TestPnL(t *testing.T) {
	long := Levels{100, 90, 120}
	short := Levels{100, 110, 80}

	tests := []struct {
		dir     trade.Direction
		levels  Levels
		outcome trade.Outcome
		want    float64
	}{
		{trade.DirectionLong, long, trade.OutcomeWin, 400},
		{trade.DirectionLong, long, trade.OutcomeLoss, -200},
		{trade.DirectionShort, short, trade.OutcomeWin, 400},
		{trade.DirectionShort, short, trade.OutcomeLoss, -200},
		{trade.DirectionLong, long, trade.OutcomeBreakeven, 0},
		{trade.DirectionLong, long, trade.OutcomePending, 0},
	}
	for _, tt := range tests {
		if got := PnL(tt.dir, tt.levels, tt.outcome, 10, 2); got != tt.want {
			t.Errorf("PnL(%s, %s): expected %v, got %v", tt.dir, tt.outcome, tt.want, got)
		}
	}
}

func TestExecutionToken(t *testing.T) {
	token, hash, err := NewExecutionToken(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewExecutionToken failed: %v", err)
	}
	if len(token) != 43 {
		t.Errorf("Expected 43-character token, got %d", len(token))
	}
	if hash == token {
		t.Error("Expected hash to differ from token")
	}
	if err := VerifyExecutionToken(hash, token); err != nil {
		t.Errorf("Expected token to verify, got %v", err)
	}
	if err := VerifyExecutionToken(hash, token+"x"); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("Expected ErrTokenMismatch, got %v", err)
	}
	if err := VerifyExecutionToken("", token); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("Expected ErrTokenMismatch for empty hash, got %v", err)
	}
	if err := VerifyExecutionToken("garbage", token); !errors.Is(err, ErrTokenMismatch) {
		t.Errorf("Expected ErrTokenMismatch for malformed hash, got %v", err)
	}

	other, _, _ := NewExecutionToken(bcrypt.MinCost)
	if other == token {
		t.Error("Expected distinct tokens")
	}
}
