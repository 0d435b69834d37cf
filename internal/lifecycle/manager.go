// Package lifecycle links a pre-trade plan to its execution exactly once and
// feeds the differences into pattern learning.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"chart-trade-analyzer/internal/analysis"
	"chart-trade-analyzer/internal/events"
	"chart-trade-analyzer/internal/risk"
	"chart-trade-analyzer/internal/storage"
	"chart-trade-analyzer/internal/timeframe"
	"chart-trade-analyzer/internal/trade"
)

// PatternRecorder receives learning signals
type PatternRecorder interface {
	RecordSetupOutcome(ctx context.Context, pattern string, outcome trade.Outcome) (*trade.SetupPatternStat, error)
	RecordExecutionPattern(ctx context.Context, pattern string, impact float64, at time.Time) (*trade.ExecutionPatternStat, error)
}

// FileRemover deletes uploaded screenshots that no record references
type FileRemover interface {
	Remove(refs ...trade.FileRef) error
}

// Recorder counts lifecycle transitions
type Recorder interface {
	ObserveTradeEvent(event string)
}

// Config controls variance classification and token hashing
type Config struct {
	Thresholds Thresholds `json:"thresholds" yaml:"thresholds"`
	TokenCost  int        `json:"token_cost" yaml:"token_cost"`
}

// DefaultConfig uses 2-point thresholds
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{Entry: 2, Stop: 2, Target: 2},
		TokenCost:  bcrypt.DefaultCost,
	}
}

// PreTradeInput is everything known when the plan is recorded
type PreTradeInput struct {
	UserID      string
	Context     analysis.TradingContext
	Hierarchy   *timeframe.Hierarchy
	Result      *analysis.Result
	Validation  risk.Validation
	Screenshots []trade.FileRef
	Notes       string
}

// PreTradeReceipt carries the raw token. It is returned once and never
// stored.
type PreTradeReceipt struct {
	Trade          *trade.Trade `json:"trade"`
	ExecutionToken string       `json:"execution_token"`
}

// ExecutionInput is what the trader reports after taking the trade
type ExecutionInput struct {
	Token        string
	ActualEntry  float64
	ActualStop   float64
	ActualTarget float64 // 0 keeps the planned target
	Outcome      trade.Outcome
	Screenshot   *trade.FileRef
	Notes        string
	Timestamp    time.Time
}

// ExecutionReport is the result of a successful link
type ExecutionReport struct {
	PreTrade  *trade.Trade `json:"pre_trade"`
	Execution *trade.Trade `json:"execution"`
	Patterns  []string     `json:"patterns"`
	RRImpact  float64      `json:"rr_impact"`
}

// Manager owns the pre-trade -> execution -> complete lifecycle
type Manager struct {
	store    storage.TradeStore
	patterns PatternRecorder
	files    FileRemover
	bus      *events.EventBus
	recorder Recorder
	config   Config
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures optional collaborators
type Option func(*Manager)

func WithFileRemover(f FileRemover) Option { return func(m *Manager) { m.files = f } }
func WithEventBus(b *events.EventBus) Option { return func(m *Manager) { m.bus = b } }
func WithRecorder(r Recorder) Option { return func(m *Manager) { m.recorder = r } }

// NewManager creates a lifecycle manager
func NewManager(store storage.TradeStore, patterns PatternRecorder, config Config, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		patterns: patterns,
		config:   config,
		logger:   logger.With().Str("component", "TradeLifecycle").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreatePreTrade persists a validated plan and issues its execution token
func (m *Manager) CreatePreTrade(ctx context.Context, in PreTradeInput) (*PreTradeReceipt, error) {
	if in.Result == nil {
		m.cleanup(in.Screenshots...)
		return nil, fmt.Errorf("%w: analysis result is required", ErrInvalidInput)
	}

	token, hash, err := NewExecutionToken(m.config.TokenCost)
	if err != nil {
		m.cleanup(in.Screenshots...)
		return nil, err
	}

	res := in.Result
	now := m.now().UTC()
	t := &trade.Trade{
		ID:                 m.newID(),
		UserID:             in.UserID,
		Phase:              trade.PhasePreTrade,
		Timestamp:          in.Context.Timestamp,
		Instrument:         in.Context.Instrument,
		TradingStyle:       in.Context.TradingStyle,
		SessionInfo:        in.Context.SessionInfo,
		Direction:          res.Direction,
		Screenshots:        append([]trade.FileRef{}, in.Screenshots...),
		PatternType:        res.PatternType,
		SetupQuality:       res.SetupQuality,
		Confidence:         res.Confidence,
		AnalysisSource:     res.Source,
		PlannedEntry:       res.EntryPrice,
		PlannedStop:        res.StopLoss,
		PlannedTarget:      res.TakeProfit,
		PlannedRR:          res.RiskRewardRatio,
		RiskAmount:         res.RiskAmount,
		WithinLimits:       in.Validation.WithinLimits,
		Violations:         in.Validation.Violations,
		ExecutionTokenHash: hash,
		Outcome:            trade.OutcomePending,
		Contracts:          in.Context.Contracts,
		PointValue:         1,
		Notes:              in.Notes,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	}
	if res.Specialization != nil && res.Specialization.PointValue > 0 {
		t.PointValue = res.Specialization.PointValue
	}
	if h := in.Hierarchy; h != nil {
		t.PrimaryTimeframe = h.Primary
		t.Completeness = h.Completeness
		t.TimeframeRoles = make(map[string]string, len(h.Entries))
		for label, role := range h.Roles() {
			t.TimeframeRoles[label] = string(role)
		}
	}
	if raw, err := json.Marshal(res); err == nil {
		t.Analysis = raw
	}

	if err := m.store.CreateTrade(ctx, t); err != nil {
		m.cleanup(in.Screenshots...)
		m.logger.Error().Err(err).Str("instrument", t.Instrument).Msg("Failed to persist pre-trade")
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	m.observe("created")
	if m.bus != nil {
		m.bus.PublishTradeCreated(t.UserID, t.ID, t.Instrument, t.PatternType, t.WithinLimits)
	}
	m.logger.Info().
		Str("trade_id", t.ID).
		Str("instrument", t.Instrument).
		Str("pattern", t.PatternType).
		Bool("within_limits", t.WithinLimits).
		Msg("Pre-trade recorded")

	return &PreTradeReceipt{Trade: t, ExecutionToken: token}, nil
}

// SubmitExecution links an execution to its plan. The token is checked
// first; the phase change itself is a single check-and-set in the store so
// concurrent submissions with the same token succeed at most once.
func (m *Manager) SubmitExecution(ctx context.Context, tradeID string, in ExecutionInput) (*ExecutionReport, error) {
	var shot []trade.FileRef
	if in.Screenshot != nil {
		shot = append(shot, *in.Screenshot)
	}
	fail := func(err error) (*ExecutionReport, error) {
		m.cleanup(shot...)
		return nil, err
	}

	if in.ActualEntry <= 0 || in.ActualStop <= 0 || in.ActualTarget < 0 {
		return fail(fmt.Errorf("%w: actual entry and stop must be positive", ErrInvalidInput))
	}
	outcome := in.Outcome
	if outcome == "" {
		outcome = trade.OutcomePending
	}
	if _, err := trade.ParseOutcome(string(outcome)); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}

	current, err := m.store.GetTrade(ctx, tradeID)
	if err != nil {
		return fail(m.mapStoreError(err))
	}
	if current.Phase == trade.PhaseExecution {
		return fail(fmt.Errorf("%w: %s is an execution record", ErrInvalidInput, tradeID))
	}
	if err := VerifyExecutionToken(current.ExecutionTokenHash, in.Token); err != nil {
		m.observe("token_mismatch")
		m.logger.Warn().Str("trade_id", tradeID).Msg("Execution token mismatch")
		return fail(err)
	}
	if current.Phase != trade.PhasePreTrade {
		m.observe("token_consumed")
		return fail(ErrTokenConsumed)
	}

	at := in.Timestamp
	if at.IsZero() {
		at = m.now()
	}
	at = at.UTC()

	var report ExecutionReport
	parent, execution, err := m.store.LinkExecution(ctx, tradeID, func(p *trade.Trade) (*trade.Trade, error) {
		if p.Phase != trade.PhasePreTrade {
			return nil, ErrTokenConsumed
		}

		dir := p.Direction
		actual := Levels{Entry: in.ActualEntry, Stop: in.ActualStop, Target: in.ActualTarget}
		if actual.Target == 0 {
			actual.Target = p.PlannedTarget
		}
		if dir.Sign() == 0 {
			dir = trade.DirectionFromLevels(actual.Entry, actual.Target)
		}
		planned := Levels{Entry: p.PlannedEntry, Stop: p.PlannedStop, Target: p.PlannedTarget}
		v := Compare(planned, actual)
		found := Classify(dir, v, m.config.Thresholds)
		var varEntry, varStop, varTarget, rrImpact *float64
		if planned.Priced() {
			varEntry, varStop, varTarget = trade.Float(v.Entry), trade.Float(v.Stop), trade.Float(v.Target)
			rrImpact = trade.Float(v.RRImpact)
		} else {
			// nothing to deviate from
			found = []string{}
			v.RRImpact = 0
		}
		pnl := PnL(dir, actual, outcome, p.PointValue, p.Contracts)

		exec := &trade.Trade{
			ID:                m.newID(),
			UserID:            p.UserID,
			ParentID:          p.ID,
			Phase:             trade.PhaseExecution,
			Timestamp:         at,
			Instrument:        p.Instrument,
			TradingStyle:      p.TradingStyle,
			SessionInfo:       p.SessionInfo,
			Direction:         dir,
			Screenshots:       append([]trade.FileRef{}, shot...),
			PatternType:       p.PatternType,
			AnalysisSource:    p.AnalysisSource,
			PlannedEntry:      p.PlannedEntry,
			PlannedStop:       p.PlannedStop,
			PlannedTarget:     p.PlannedTarget,
			PlannedRR:         p.PlannedRR,
			ActualEntry:       trade.Float(actual.Entry),
			ActualStop:        trade.Float(actual.Stop),
			ActualTarget:      trade.Float(actual.Target),
			ActualRR:          trade.Float(v.ActualRR),
			VarianceEntry:     varEntry,
			VarianceStop:      varStop,
			VarianceTarget:    varTarget,
			RRImpact:          rrImpact,
			RiskAmount:        p.RiskAmount,
			WithinLimits:      p.WithinLimits,
			ExecutionPatterns: found,
			Outcome:           outcome,
			Contracts:         p.Contracts,
			PointValue:        p.PointValue,
			ActualPnL:         trade.Float(pnl),
			Notes:             in.Notes,
			CreatedAt:         at,
			UpdatedAt:         at,
		}

		p.Phase = trade.PhaseComplete
		p.LinkedExecutionID = exec.ID
		p.ActualEntry, p.ActualStop, p.ActualTarget, p.ActualRR = exec.ActualEntry, exec.ActualStop, exec.ActualTarget, exec.ActualRR
		p.VarianceEntry, p.VarianceStop, p.VarianceTarget = exec.VarianceEntry, exec.VarianceStop, exec.VarianceTarget
		p.RRImpact = exec.RRImpact
		p.ExecutionPatterns = found
		p.Outcome = outcome
		p.ActualPnL = exec.ActualPnL
		p.UpdatedAt = at

		report.Patterns = found
		report.RRImpact = v.RRImpact
		return exec, nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenConsumed) || errors.Is(err, storage.ErrConflict) {
			m.observe("token_consumed")
			return fail(ErrTokenConsumed)
		}
		m.logger.Error().Err(err).Str("trade_id", tradeID).Msg("Failed to link execution")
		return fail(m.mapStoreError(err))
	}
	report.PreTrade, report.Execution = parent, execution

	for _, name := range report.Patterns {
		if _, err := m.patterns.RecordExecutionPattern(ctx, name, report.RRImpact, at); err != nil {
			m.logger.Warn().Err(err).Str("pattern", name).Msg("Failed to record execution pattern")
		}
	}
	if outcome.Known() {
		m.recordOutcome(ctx, parent.PatternType, outcome)
	}

	m.observe("execution_linked")
	if m.bus != nil {
		m.bus.PublishExecutionLinked(parent.UserID, parent.ID, execution.ID, report.Patterns, report.RRImpact)
		if outcome.Known() {
			m.bus.PublishOutcomeReported(parent.UserID, parent.ID, string(outcome), *execution.ActualPnL)
		}
	}
	m.logger.Info().
		Str("trade_id", parent.ID).
		Str("execution_id", execution.ID).
		Strs("patterns", report.Patterns).
		Float64("rr_impact", report.RRImpact).
		Msg("Execution linked")
	return &report, nil
}

// ReportOutcome records the result of an executed trade whose outcome was
// still pending
func (m *Manager) ReportOutcome(ctx context.Context, tradeID string, outcome trade.Outcome) (*trade.Trade, error) {
	if !outcome.Known() {
		return nil, fmt.Errorf("%w: outcome must be win, loss or breakeven", ErrInvalidInput)
	}

	updated, err := m.store.UpdateTrade(ctx, tradeID, func(t *trade.Trade) error {
		if t.Phase != trade.PhaseComplete {
			return ErrNotExecuted
		}
		if t.Outcome.Known() {
			return ErrOutcomeAlreadyReported
		}
		t.Outcome = outcome
		t.ActualPnL = trade.Float(PnL(t.Direction, actualLevels(t), outcome, t.PointValue, t.Contracts))
		t.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotExecuted) || errors.Is(err, ErrOutcomeAlreadyReported) {
			return nil, err
		}
		return nil, m.mapStoreError(err)
	}

	if updated.LinkedExecutionID != "" {
		_, err := m.store.UpdateTrade(ctx, updated.LinkedExecutionID, func(e *trade.Trade) error {
			e.Outcome = outcome
			e.ActualPnL = trade.Float(PnL(e.Direction, actualLevels(e), outcome, e.PointValue, e.Contracts))
			e.UpdatedAt = updated.UpdatedAt
			return nil
		})
		if err != nil {
			m.logger.Warn().Err(err).Str("execution_id", updated.LinkedExecutionID).Msg("Failed to update execution outcome")
		}
	}

	m.recordOutcome(ctx, updated.PatternType, outcome)

	m.observe("outcome_reported")
	if m.bus != nil {
		m.bus.PublishOutcomeReported(updated.UserID, updated.ID, string(outcome), *updated.ActualPnL)
	}
	return updated, nil
}

// GetTrade returns one trade
func (m *Manager) GetTrade(ctx context.Context, id string) (*trade.Trade, error) {
	t, err := m.store.GetTrade(ctx, id)
	if err != nil {
		return nil, m.mapStoreError(err)
	}
	return t, nil
}

// ListTrades returns trades newest first
func (m *Manager) ListTrades(ctx context.Context, filter storage.TradeFilter) ([]*trade.Trade, error) {
	trades, err := m.store.ListTrades(ctx, filter)
	if err != nil {
		return nil, m.mapStoreError(err)
	}
	return trades, nil
}

func (m *Manager) recordOutcome(ctx context.Context, pattern string, outcome trade.Outcome) {
	if strings.TrimSpace(pattern) == "" {
		pattern = trade.UnknownPattern
	}
	if _, err := m.patterns.RecordSetupOutcome(ctx, pattern, outcome); err != nil {
		m.logger.Warn().Err(err).Str("pattern", pattern).Msg("Failed to record setup outcome")
	}
}

func (m *Manager) mapStoreError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrTradeNotFound
	case errors.Is(err, storage.ErrInvalidInput):
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func (m *Manager) cleanup(refs ...trade.FileRef) {
	if m.files == nil || len(refs) == 0 {
		return
	}
	if err := m.files.Remove(refs...); err != nil {
		m.logger.Warn().Err(err).Int("files", len(refs)).Msg("Failed to remove uploaded files")
	}
}

func (m *Manager) observe(event string) {
	if m.recorder != nil {
		m.recorder.ObserveTradeEvent(event)
	}
}

func actualLevels(t *trade.Trade) Levels {
	var l Levels
	if t.ActualEntry != nil {
		l.Entry = *t.ActualEntry
	}
	if t.ActualStop != nil {
		l.Stop = *t.ActualStop
	}
	if t.ActualTarget != nil {
		l.Target = *t.ActualTarget
	}
	return l
}
