package api

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"chart-trade-analyzer/internal/analysis"
	"chart-trade-analyzer/internal/lifecycle"
	"chart-trade-analyzer/internal/logging"
	"chart-trade-analyzer/internal/risk"
	"chart-trade-analyzer/internal/timeframe"
	"chart-trade-analyzer/internal/trade"
	"chart-trade-analyzer/internal/uploads"
)

const multipartMemory = 32 << 20

// handleCreateAnalysis ingests a screenshot batch, analyses it, validates
// the plan and records the pre-trade
// POST /api/analyses
//
// Files are sent as files[<timeframe label>]. An optional repeated
// "timeframes" field fixes the input order, otherwise labels are sorted.
func (s *Server) handleCreateAnalysis(c *gin.Context) {
	userID := s.getUserID(c)
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	defer func() {
		if c.Request.MultipartForm != nil {
			_ = c.Request.MultipartForm.RemoveAll()
		}
	}()

	var tc analysis.TradingContext
	if err := c.ShouldBind(&tc); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid trading context: "+err.Error())
		return
	}
	if err := tc.ApplyDefaults(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateStruct(&tc); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid trading context: "+err.Error())
		return
	}

	files := fileFields(c.Request.MultipartForm.File)
	labels, err := orderedLabels(files, c.Request.MultipartForm.Value["timeframes"])
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	primary := strings.TrimSpace(c.PostForm("primary"))
	if primary == "" {
		primary = tc.PrimaryTimeframe
	}
	inputs, err := timeframeInputs(labels, primary)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	h, err := timeframe.NewClassifier(tc.Style()).Resolve(inputs)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	tc.PrimaryTimeframe = h.Primary

	batch, err := s.deps.Uploads.NewBatch()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create upload batch")
		errorResponse(c, http.StatusInternalServerError, "Failed to store uploads")
		return
	}

	charts := make([]analysis.ChartFile, 0, len(labels))
	for _, label := range labels {
		ref, err := saveUpload(batch, label, files[label])
		if err != nil {
			_ = batch.Discard()
			errorResponse(c, uploadStatus(err), err.Error())
			return
		}
		charts = append(charts, analysis.ChartFile{
			Timeframe:   ref.Timeframe,
			Path:        ref.Path,
			Size:        ref.Size,
			ContentType: ref.ContentType,
		})
	}

	log := logging.AnalysisContext(logging.FromContext(ctx), userID, tc.Instrument, len(charts))
	notes := c.PostForm("notes")

	result := s.deps.Orchestrator.RequestAnalysis(analysis.WithRateKey(ctx, userID), charts, tc, h, notes)

	session := risk.SessionContext{Timestamp: tc.Timestamp, AccountSize: tc.AccountSize}
	if result.Specialization != nil {
		session.RiskMultiplier = result.Specialization.RiskMultiplier
	}
	validation := s.deps.Validator.Validate(result, session)

	receipt, err := s.deps.Lifecycle.CreatePreTrade(ctx, lifecycle.PreTradeInput{
		UserID:      userID,
		Context:     tc,
		Hierarchy:   h,
		Result:      result,
		Validation:  validation,
		Screenshots: batch.Files(),
		Notes:       notes,
	})
	if err != nil {
		// the manager already removed the files
		log.Error().Err(err).Msg("Failed to record pre-trade")
		errorResponse(c, lifecycleStatus(err), err.Error())
		return
	}
	if err := batch.Commit(); err != nil {
		log.Warn().Err(err).Str("batch", batch.ID).Msg("Failed to mark upload batch committed")
	}

	if s.deps.EventBus != nil {
		s.deps.EventBus.PublishAnalysisCompleted(userID, result.Source, result.FailureKind, result.Confidence)
	}
	log.Info().
		Str("trade_id", receipt.Trade.ID).
		Str("source", result.Source).
		Bool("within_limits", validation.WithinLimits).
		Msg("Analysis recorded")

	c.JSON(http.StatusCreated, gin.H{
		"success":         true,
		"trade":           receipt.Trade,
		"execution_token": receipt.ExecutionToken,
		"analysis":        result,
		"validation":      validation,
		"hierarchy":       h,
		"missing_roles":   h.Missing(),
	})
}

type fileHeaders = map[string]*multipart.FileHeader

func fileFields(form map[string][]*multipart.FileHeader) fileHeaders {
	out := make(fileHeaders)
	for key, headers := range form {
		if !strings.HasPrefix(key, "files[") || !strings.HasSuffix(key, "]") || len(headers) == 0 {
			continue
		}
		label := strings.TrimSpace(key[len("files[") : len(key)-1])
		if label == "" {
			continue
		}
		out[label] = headers[0]
	}
	return out
}

func orderedLabels(files fileHeaders, order []string) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("at least one screenshot is required as files[<timeframe>]")
	}

	var labels []string
	seen := make(map[string]bool, len(files))
	for _, raw := range order {
		for _, label := range strings.Split(raw, ",") {
			label = strings.TrimSpace(label)
			if label == "" || seen[label] {
				continue
			}
			if _, ok := files[label]; !ok {
				return nil, fmt.Errorf("timeframe %q has no uploaded file", label)
			}
			seen[label] = true
			labels = append(labels, label)
		}
	}

	var rest []string
	for label := range files {
		if !seen[label] {
			rest = append(rest, label)
		}
	}
	sort.Strings(rest)
	return append(labels, rest...), nil
}

func timeframeInputs(labels []string, primary string) ([]timeframe.Input, error) {
	inputs := make([]timeframe.Input, len(labels))
	found := primary == ""
	for i, label := range labels {
		inputs[i] = timeframe.Input{Label: label}
		if primary != "" && timeframe.Normalize(label) == timeframe.Normalize(primary) {
			inputs[i].IsPrimary = true
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("primary timeframe %q was not uploaded", primary)
	}
	return inputs, nil
}

func saveUpload(batch *uploads.Batch, label string, f *multipart.FileHeader) (trade.FileRef, error) {
	r, err := f.Open()
	if err != nil {
		return trade.FileRef{}, fmt.Errorf("open upload %q: %w", label, err)
	}
	defer r.Close()
	return batch.Save(label, r)
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, uploads.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, uploads.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, uploads.ErrEmptyFile):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type classifyRequest struct {
	Labels       []string `json:"labels" validate:"required,min=1,max=10,dive,required,max=64"`
	TradingStyle string   `json:"trading_style" default:"day_trading" validate:"oneof=scalping day_trading swing position"`
}

// handleClassifyTimeframes classifies labels without uploading anything
// POST /api/timeframes/classify
func (s *Server) handleClassifyTimeframes(c *gin.Context) {
	var req classifyRequest
	if err := bindJSON(c, &req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	classifier := timeframe.NewClassifier(timeframe.TradingStyle(req.TradingStyle))
	out := make([]timeframe.Classification, 0, len(req.Labels))
	for _, label := range req.Labels {
		if err := timeframe.ValidateLabel(label); err != nil {
			errorResponse(c, http.StatusBadRequest, fmt.Sprintf("%v: %q", err, label))
			return
		}
		out = append(out, classifier.Classify(label))
	}
	successResponse(c, out)
}

type hierarchyRequest struct {
	Timeframes   []timeframe.Input `json:"timeframes" validate:"required,min=1,max=10"`
	TradingStyle string            `json:"trading_style" default:"day_trading" validate:"oneof=scalping day_trading swing position"`
}

// handleResolveHierarchy assigns roles to a set of labels
// POST /api/timeframes/hierarchy
func (s *Server) handleResolveHierarchy(c *gin.Context) {
	var req hierarchyRequest
	if err := bindJSON(c, &req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	h, err := timeframe.NewClassifier(timeframe.TradingStyle(req.TradingStyle)).Resolve(req.Timeframes)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"data":          h,
		"missing_roles": h.Missing(),
	})
}
