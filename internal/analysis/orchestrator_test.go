package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chart-trade-analyzer/internal/ai/llm"
	"chart-trade-analyzer/internal/timeframe"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

type fakeProvider struct {
	mu       sync.Mutex
	response string
	err      error
	block    bool
	calls    int
	last     llm.VisionRequest
}

func (f *fakeProvider) Analyze(ctx context.Context, req llm.VisionRequest) (string, error) {
	f.mu.Lock()
	f.calls++
	f.last = req
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.response, f.err
}

type fakeSpecializer struct {
	spec Specialization
}

func (f fakeSpecializer) Advise(h *timeframe.Hierarchy, tc TradingContext) Specialization {
	return f.spec
}

type fakeLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

type fakeRecorder struct {
	sources []string
	kinds   []string
}

func (f *fakeRecorder) ObserveAnalysis(source, failureKind string, elapsed time.Duration) {
	f.sources = append(f.sources, source)
	f.kinds = append(f.kinds, failureKind)
}

func testHierarchy(t *testing.T) *timeframe.Hierarchy {
	t.Helper()
	h, err := timeframe.Resolve([]timeframe.Input{
		{Label: "1min"},
		{Label: "15min", IsPrimary: true},
		{Label: "daily"},
	})
	require.NoError(t, err)
	return h
}

func testContext(t *testing.T) TradingContext {
	t.Helper()
	tc := TradingContext{Instrument: "nq", TradingStyle: "scalping"}
	require.NoError(t, tc.ApplyDefaults())
	return tc
}

func testFiles() []ChartFile {
	return []ChartFile{
		{Timeframe: "1min", Data: pngHeader, ContentType: "image/png"},
		{Timeframe: "15min", Data: pngHeader},
		{Timeframe: "daily", Data: pngHeader},
	}
}

const providerJSON = "```json\n" + `{"pattern_type":"breakout","setup_quality":7,"direction":"long","confidence":0.6,
"entry_price":19700,"stop_loss":19680,"take_profit":19760,"risk_reward_ratio":3,"risk_amount":400,
"timeframe_analysis":[{"timeframe":"daily","trend":"bullish"}],"key_levels":[19680],"reasoning":"range break","warnings":[]}` + "\n```"

func TestRequestAnalysisProviderSuccess(t *testing.T) {
	provider := &fakeProvider{response: providerJSON}
	recorder := &fakeRecorder{}
	spec := Specialization{Applied: true, Profile: "NQ", ConfidenceDelta: 0.1, RiskMultiplier: 1, PointValue: 20, Notes: []string{"entry timeframe present"}}

	o := NewOrchestrator(provider, DefaultConfig(), zerolog.Nop(),
		WithSpecializer(fakeSpecializer{spec: spec}),
		WithRecorder(recorder))

	res := o.RequestAnalysis(context.Background(), testFiles(), testContext(t), testHierarchy(t), "watch the open")

	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, "breakout", res.PatternType)
	assert.Equal(t, 3.0, res.RiskRewardRatio)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
	assert.False(t, res.LowConfidence)
	require.NotNil(t, res.Specialization)
	assert.Equal(t, "NQ", res.Specialization.Profile)
	assert.Contains(t, res.Warnings, "entry timeframe present")
	assert.Equal(t, []string{SourceProvider}, recorder.sources)

	require.Len(t, provider.last.Images, 3)
	assert.Equal(t, "image/png", provider.last.Images[1].MediaType)
	assert.Contains(t, provider.last.Prompt, `"15min": short_term, structure, primary`)
	assert.Contains(t, provider.last.Prompt, "watch the open")
	assert.Contains(t, provider.last.System, `"liquidity_sweep"`)
}

func TestRequestAnalysisFallbackOnFailure(t *testing.T) {
	notes := "entry 19700 stop 19680 target 19740"

	tests := []struct {
		name     string
		provider *fakeProvider
		wantKind string
	}{
		{"auth", &fakeProvider{err: &llm.ProviderError{Kind: llm.KindAuth, Message: "bad key"}}, "auth"},
		{"transient", &fakeProvider{err: &llm.ProviderError{Kind: llm.KindTransient, StatusCode: 503}}, "transient"},
		{"plain error", &fakeProvider{err: errors.New("connection reset")}, "transient"},
		{"no json", &fakeProvider{response: "I cannot read these charts."}, "transient"},
		{"timeout", &fakeProvider{block: true}, "transient"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ProviderTimeout = 20 * time.Millisecond
			o := NewOrchestrator(tt.provider, cfg, zerolog.Nop())

			res := o.RequestAnalysis(context.Background(), testFiles(), testContext(t), testHierarchy(t), notes)

			assert.Equal(t, SourceFallback, res.Source)
			assert.Equal(t, tt.wantKind, res.FailureKind)
			assert.True(t, res.LowConfidence)
			assert.Equal(t, 19700.0, res.EntryPrice)
			assert.Equal(t, 19680.0, res.StopLoss)
			assert.Equal(t, 19740.0, res.TakeProfit)
			assert.Equal(t, 2.0, res.RiskRewardRatio)
		})
	}
}

func TestRequestAnalysisWithoutProvider(t *testing.T) {
	o := NewOrchestrator(nil, nil, zerolog.Nop())
	res := o.RequestAnalysis(context.Background(), testFiles(), testContext(t), testHierarchy(t), "")

	if !res.IsFallback() {
		t.Fatal("Expected fallback result")
	}
	if res.FailureKind != string(llm.KindAuth) {
		t.Errorf("Expected auth failure kind, got %s", res.FailureKind)
	}
	if res.SetupQuality != 1 {
		t.Errorf("Expected placeholder quality 1, got %d", res.SetupQuality)
	}
}

func TestRequestAnalysisRateLimited(t *testing.T) {
	provider := &fakeProvider{response: providerJSON}
	limiter := &fakeLimiter{allow: false}
	o := NewOrchestrator(provider, nil, zerolog.Nop(), WithLimiter(limiter))

	ctx := WithRateKey(context.Background(), "user-42")
	res := o.RequestAnalysis(ctx, testFiles(), testContext(t), testHierarchy(t), "")

	assert.True(t, res.IsFallback())
	assert.Equal(t, "transient", res.FailureKind)
	assert.Equal(t, 0, provider.calls)
	assert.Equal(t, []string{"user-42"}, limiter.keys)
}

func TestRequestAnalysisLimiterErrorFailsOpen(t *testing.T) {
	provider := &fakeProvider{response: providerJSON}
	o := NewOrchestrator(provider, nil, zerolog.Nop(), WithLimiter(&fakeLimiter{err: errors.New("redis down")}))

	res := o.RequestAnalysis(context.Background(), testFiles(), testContext(t), testHierarchy(t), "")

	assert.Equal(t, SourceProvider, res.Source)
	assert.Equal(t, 1, provider.calls)
}

type fakeBreaker struct {
	open     bool
	recorded []bool
}

func (f *fakeBreaker) Allow() (bool, string) {
	if f.open {
		return false, "circuit breaker open"
	}
	return true, ""
}

func (f *fakeBreaker) Record(success bool) { f.recorded = append(f.recorded, success) }

func TestRequestAnalysisBreaker(t *testing.T) {
	provider := &fakeProvider{err: &llm.ProviderError{Kind: llm.KindTransient, StatusCode: 503, Err: llm.ErrTransient}}
	breaker := &fakeBreaker{}
	o := NewOrchestrator(provider, nil, zerolog.Nop(), WithBreaker(breaker))

	res := o.RequestAnalysis(context.Background(), testFiles(), testContext(t), testHierarchy(t), "")
	assert.True(t, res.IsFallback())
	assert.Equal(t, []bool{false}, breaker.recorded)

	breaker.open = true
	res = o.RequestAnalysis(context.Background(), testFiles(), testContext(t), testHierarchy(t), "")
	assert.True(t, res.IsFallback())
	assert.Equal(t, "transient", res.FailureKind)
	assert.Equal(t, 1, provider.calls, "open breaker skips the provider")
}

func TestRequestAnalysisReadsFilesFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chart.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	provider := &fakeProvider{response: providerJSON}
	o := NewOrchestrator(provider, nil, zerolog.Nop())

	files := []ChartFile{
		{Timeframe: "1min", Path: path},
		{Timeframe: "15min", Path: filepath.Join(dir, "missing.png")},
	}
	res := o.RequestAnalysis(context.Background(), files, testContext(t), testHierarchy(t), "")

	assert.Equal(t, SourceProvider, res.Source)
	require.Len(t, provider.last.Images, 1)
	assert.Equal(t, "1min", provider.last.Images[0].Label)
}

func TestRequestAnalysisNoReadableImages(t *testing.T) {
	provider := &fakeProvider{response: providerJSON}
	o := NewOrchestrator(provider, nil, zerolog.Nop())

	files := []ChartFile{{Timeframe: "5min", Path: filepath.Join(t.TempDir(), "gone.png")}}
	res := o.RequestAnalysis(context.Background(), files, testContext(t), testHierarchy(t), "stop 90 target 120")

	assert.True(t, res.IsFallback())
	assert.Equal(t, 0, provider.calls)
	assert.Equal(t, 100.0, res.EntryPrice)
}

func TestBuildUserPromptListsMissingRoles(t *testing.T) {
	h, err := timeframe.Resolve([]timeframe.Input{{Label: "weekly"}, {Label: "4h"}, {Label: "5m"}})
	require.NoError(t, err)

	prompt := buildUserPrompt(h, testContext(t), DefaultConfig(), "")
	if !strings.Contains(prompt, "Missing roles: trend") {
		t.Errorf("Expected missing trend role in prompt, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "TRADER NOTES") {
		t.Error("Expected no notes section for empty notes")
	}
}
