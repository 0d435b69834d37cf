package analysis

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chart-trade-analyzer/internal/ai/llm"
	"chart-trade-analyzer/internal/timeframe"
)

// VisionProvider is the external chart-reading model
type VisionProvider interface {
	Analyze(ctx context.Context, req llm.VisionRequest) (string, error)
}

// Specializer supplies the instrument/style overlay for a request
type Specializer interface {
	Advise(h *timeframe.Hierarchy, tc TradingContext) Specialization
}

// Limiter bounds provider calls per key
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Breaker short-circuits provider calls while the provider keeps failing
type Breaker interface {
	Allow() (bool, string)
	Record(success bool)
}

// Recorder receives one observation per analysis
type Recorder interface {
	ObserveAnalysis(source, failureKind string, elapsed time.Duration)
}

// Config controls provider calls and the fallback
type Config struct {
	ProviderTimeout     time.Duration `json:"provider_timeout" yaml:"provider_timeout"`
	FallbackRewardRatio float64       `json:"fallback_reward_ratio" yaml:"fallback_reward_ratio"`
	MaxRiskPerTrade     float64       `json:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	MinRiskReward       float64       `json:"min_risk_reward" yaml:"min_risk_reward"`
}

// DefaultConfig returns the orchestrator defaults
func DefaultConfig() *Config {
	return &Config{
		ProviderTimeout:     45 * time.Second,
		FallbackRewardRatio: 2.0,
		MaxRiskPerTrade:     500,
		MinRiskReward:       2.0,
	}
}

// ChartFile is one uploaded screenshot. Data is read from Path when empty.
type ChartFile struct {
	Timeframe   string
	Path        string
	Size        int64
	ContentType string
	Data        []byte
}

// Orchestrator turns an upload batch into a Result. It never fails: every
// provider problem ends in the deterministic fallback.
type Orchestrator struct {
	provider    VisionProvider
	specializer Specializer
	limiter     Limiter
	breaker     Breaker
	recorder    Recorder
	config      *Config
	logger      zerolog.Logger
	readFile    func(string) ([]byte, error)
	now         func() time.Time
}

// Option configures optional collaborators
type Option func(*Orchestrator)

func WithSpecializer(s Specializer) Option { return func(o *Orchestrator) { o.specializer = s } }
func WithLimiter(l Limiter) Option { return func(o *Orchestrator) { o.limiter = l } }
func WithBreaker(b Breaker) Option { return func(o *Orchestrator) { o.breaker = b } }
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// NewOrchestrator creates an orchestrator. provider may be nil, in which
// case every request uses the fallback.
func NewOrchestrator(provider VisionProvider, cfg *Config, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &Orchestrator{
		provider: provider,
		config:   cfg,
		logger:   logger.With().Str("component", "analysis").Logger(),
		readFile: os.ReadFile,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the active configuration
func (o *Orchestrator) Config() *Config {
	return o.config
}

// RequestAnalysis asks the provider to read the charts and falls back to
// note parsing on any failure
func (o *Orchestrator) RequestAnalysis(ctx context.Context, files []ChartFile, tc TradingContext, h *timeframe.Hierarchy, notes string) *Result {
	start := o.now()

	var spec *Specialization
	pointValue := 1.0
	if o.specializer != nil {
		s := o.specializer.Advise(h, tc)
		spec = &s
		if s.PointValue > 0 {
			pointValue = s.PointValue
		}
	}

	res, err := o.callProvider(ctx, files, tc, h, notes, pointValue)
	if err != nil {
		kind := string(llm.KindOf(err))
		o.logger.Warn().
			Err(err).
			Str("failure_kind", kind).
			Str("instrument", tc.Instrument).
			Int("images", len(files)).
			Msg("Analysis provider failed, using fallback")
		res = synthesizeFallback(notes, h, o.config.FallbackRewardRatio, pointValue, kind)
	} else if len(res.Repairs) > 0 {
		o.logger.Debug().Strs("repairs", res.Repairs).Msg("Provider response repaired")
	}

	if spec != nil {
		res.ApplySpecialization(*spec)
	}

	elapsed := o.now().Sub(start)
	if o.recorder != nil {
		o.recorder.ObserveAnalysis(res.Source, res.FailureKind, elapsed)
	}
	o.logger.Info().
		Str("source", res.Source).
		Str("pattern", res.PatternType).
		Float64("confidence", res.Confidence).
		Dur("elapsed", elapsed).
		Msg("Analysis completed")
	return res
}

func (o *Orchestrator) callProvider(ctx context.Context, files []ChartFile, tc TradingContext, h *timeframe.Hierarchy, notes string, pointValue float64) (*Result, error) {
	if o.provider == nil {
		return nil, &llm.ProviderError{Kind: llm.KindAuth, Message: "no provider configured", Err: llm.ErrNoAPIKey}
	}

	if o.limiter != nil {
		key := rateKeyFrom(ctx)
		allowed, err := o.limiter.Allow(ctx, key)
		if err != nil {
			// fail open
			o.logger.Warn().Err(err).Msg("Rate limiter unavailable")
		} else if !allowed {
			return nil, &llm.ProviderError{Kind: llm.KindTransient, StatusCode: http.StatusTooManyRequests, Message: "rate limit exceeded for " + key, Err: llm.ErrTransient}
		}
	}

	images := o.loadImages(files)
	if len(images) == 0 {
		return nil, &llm.ProviderError{Kind: llm.KindTransient, Message: "no readable chart images", Err: llm.ErrTransient}
	}

	timeout := o.config.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ProviderTimeout
	}
	if o.breaker != nil {
		if ok, reason := o.breaker.Allow(); !ok {
			return nil, &llm.ProviderError{Kind: llm.KindTransient, StatusCode: http.StatusServiceUnavailable, Message: reason, Err: llm.ErrTransient}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := o.provider.Analyze(callCtx, llm.VisionRequest{
		System: systemPrompt(),
		Prompt: buildUserPrompt(h, tc, o.config, notes),
		Images: images,
	})
	if o.breaker != nil {
		o.breaker.Record(err == nil)
	}
	if err != nil {
		return nil, err
	}

	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, &llm.ProviderError{Kind: llm.KindTransient, Message: err.Error(), Err: err}
	}
	return parseProviderResult(obj, pointValue), nil
}

// loadImages reads each file and sniffs its media type. Unreadable files
// are skipped.
func (o *Orchestrator) loadImages(files []ChartFile) []llm.Image {
	images := make([]llm.Image, 0, len(files))
	for _, f := range files {
		data := f.Data
		if len(data) == 0 {
			var err error
			data, err = o.readFile(f.Path)
			if err != nil {
				o.logger.Warn().Err(err).Str("timeframe", f.Timeframe).Msg("Failed to read chart image")
				continue
			}
		}
		images = append(images, llm.Image{
			Label:     f.Timeframe,
			MediaType: mediaType(f.ContentType, data),
			Data:      data,
		})
	}
	return images
}

func mediaType(declared string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return "image/png"
}

