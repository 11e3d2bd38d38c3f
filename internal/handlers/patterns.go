package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/coilworks/hvac-backend/internal/pkg/errors"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/services"
	"github.com/coilworks/hvac-backend/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type PatternHandler struct {
	analysis    services.AnalysisService
	ranker      services.Ranker
	writer      services.PatternWriter
	feedback    services.FeedbackService
	patternRepo repos.PatternRepo
}

func NewPatternHandler(
	analysis services.AnalysisService,
	ranker services.Ranker,
	writer services.PatternWriter,
	feedback services.FeedbackService,
	patternRepo repos.PatternRepo,
) *PatternHandler {
	return &PatternHandler{
		analysis:    analysis,
		ranker:      ranker,
		writer:      writer,
		feedback:    feedback,
		patternRepo: patternRepo,
	}
}

func parseCompanyID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("companyId must be a valid UUID")
	}
	return id, nil
}

type analyzeRequest struct {
	CompanyID string `json:"companyId"`
}

// AnalyzeHistoricalData runs the full pattern aggregation for a tenant.
func (ph *PatternHandler) AnalyzeHistoricalData(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		RespondError(c, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	companyID, err := parseCompanyID(req.CompanyID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	analysis, err := ph.analysis.AnalyzeHistoricalData(c.Request.Context(), companyID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "historical analysis failed", err)
		return
	}
	RespondOK(c, analysis, "Historical data analysis completed")
}

type relatedRequest struct {
	Symptoms       []string `json:"symptoms"`
	EquipmentModel string   `json:"equipmentModel"`
	CompanyID      string   `json:"companyId"`
}

// FindRelatedPatterns returns candidate patterns for a symptom set,
// ordered by stored scores. No query-time rescoring happens here.
func (ph *PatternHandler) FindRelatedPatterns(c *gin.Context) {
	var req relatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "symptoms must be an array", err)
		return
	}
	if req.Symptoms == nil {
		RespondError(c, http.StatusBadRequest, "symptoms must be an array", nil)
		return
	}
	if req.CompanyID == "" {
		RespondError(c, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	companyID, err := parseCompanyID(req.CompanyID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	patterns, err := ph.ranker.RelatedPatterns(c.Request.Context(), companyID, services.DiagnosticContext{
		Symptoms:       req.Symptoms,
		EquipmentModel: req.EquipmentModel,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "pattern lookup failed", err)
		return
	}
	RespondOK(c, patterns, "")
}

type symptomOutcomeRequest struct {
	Symptoms       []string `json:"symptoms"`
	Diagnosis      string   `json:"diagnosis"`
	Outcome        string   `json:"outcome"`
	EquipmentModel string   `json:"equipmentModel"`
	CompanyID      string   `json:"companyId"`
}

// CreateSymptomOutcome records one symptom-diagnosis-outcome
// observation, reinforcing the pattern if it already exists.
func (ph *PatternHandler) CreateSymptomOutcome(c *gin.Context) {
	var req symptomOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Symptoms) == 0 {
		RespondError(c, http.StatusBadRequest, "symptoms is required", nil)
		return
	}
	if req.Diagnosis == "" {
		RespondError(c, http.StatusBadRequest, "diagnosis is required", nil)
		return
	}
	if req.CompanyID == "" {
		RespondError(c, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	if !services.IsCanonicalOutcome(req.Outcome) {
		RespondError(c, http.StatusBadRequest, "outcome must be one of: success, partial, failed", nil)
		return
	}
	companyID, err := parseCompanyID(req.CompanyID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	pattern, err := ph.writer.WriteSymptomOutcome(c.Request.Context(), companyID, req.Symptoms, req.Diagnosis, req.Outcome, req.EquipmentModel)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "pattern write failed", err)
		return
	}
	RespondOK(c, pattern, "Symptom-outcome pattern recorded")
}

type rangeRequest struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

type measurementAnomalyRequest struct {
	Parameter     string        `json:"parameter"`
	Value         *float64      `json:"value"`
	ExpectedRange *rangeRequest `json:"expectedRange"`
	Diagnosis     string        `json:"diagnosis"`
	CompanyID     string        `json:"companyId"`
}

// CreateMeasurementAnomaly records an out-of-range reading. An in-range
// value is acknowledged without creating anything.
func (ph *PatternHandler) CreateMeasurementAnomaly(c *gin.Context) {
	var req measurementAnomalyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Parameter == "" {
		RespondError(c, http.StatusBadRequest, "parameter is required", nil)
		return
	}
	if req.Value == nil {
		RespondError(c, http.StatusBadRequest, "value is required", nil)
		return
	}
	if req.ExpectedRange == nil || req.ExpectedRange.Min == nil || req.ExpectedRange.Max == nil {
		RespondError(c, http.StatusBadRequest, "expectedRange with min and max is required", nil)
		return
	}
	if req.Diagnosis == "" {
		RespondError(c, http.StatusBadRequest, "diagnosis is required", nil)
		return
	}
	if req.CompanyID == "" {
		RespondError(c, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	companyID, err := parseCompanyID(req.CompanyID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	band := types.Range{Min: *req.ExpectedRange.Min, Max: *req.ExpectedRange.Max}
	pattern, err := ph.writer.WriteMeasurementAnomaly(c.Request.Context(), companyID, req.Parameter, *req.Value, band, req.Diagnosis)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidRange) {
			RespondError(c, http.StatusBadRequest, "expectedRange min must not exceed max", nil)
			return
		}
		RespondError(c, http.StatusInternalServerError, "pattern write failed", err)
		return
	}
	if pattern == nil {
		RespondOK(c, nil, "Measurement within expected range, no anomaly recorded")
		return
	}
	RespondOK(c, pattern, "Measurement anomaly recorded")
}

type feedbackRequest struct {
	Helpful          *bool                   `json:"helpful"`
	CorrectDiagnosis *bool                   `json:"correct_diagnosis"`
	TechnicianRating *int                    `json:"technician_rating"`
	ActualOutcome    string                  `json:"actual_outcome"`
	AdditionalNotes  string                  `json:"additional_notes"`
	SessionID        string                  `json:"session_id"`
	UserID           string                  `json:"user_id"`
	CompanyID        string                  `json:"companyId"`
	Session          *feedbackSessionRequest `json:"session"`
}

type feedbackSessionRequest struct {
	Symptoms       []string `json:"symptoms"`
	Diagnosis      string   `json:"diagnosis"`
	EquipmentModel string   `json:"equipment_model"`
}

// UpdatePatternFeedback folds technician feedback into a pattern's
// stored confidence.
func (ph *PatternHandler) UpdatePatternFeedback(c *gin.Context) {
	patternID, err := uuid.Parse(c.Param("patternId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "patternId must be a valid UUID", nil)
		return
	}

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Helpful == nil {
		RespondError(c, http.StatusBadRequest, "helpful is required", nil)
		return
	}
	if req.CorrectDiagnosis == nil {
		RespondError(c, http.StatusBadRequest, "correct_diagnosis is required", nil)
		return
	}
	if req.CompanyID == "" {
		RespondError(c, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	companyID, err := parseCompanyID(req.CompanyID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.TechnicianRating != nil && (*req.TechnicianRating < 1 || *req.TechnicianRating > 5) {
		RespondError(c, http.StatusBadRequest, "technician_rating must be between 1 and 5", nil)
		return
	}

	fb := services.Feedback{
		Helpful:          *req.Helpful,
		CorrectDiagnosis: *req.CorrectDiagnosis,
		TechnicianRating: req.TechnicianRating,
		ActualOutcome:    req.ActualOutcome,
		AdditionalNotes:  req.AdditionalNotes,
		SessionID:        req.SessionID,
	}
	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "user_id must be a valid UUID", nil)
			return
		}
		fb.UserID = userID
	}
	if req.Session != nil {
		fb.Session = &services.TroubleshootingSession{
			Symptoms:       req.Session.Symptoms,
			Diagnosis:      req.Session.Diagnosis,
			EquipmentModel: req.Session.EquipmentModel,
		}
	}

	if err := ph.feedback.Apply(c.Request.Context(), companyID, patternID, fb); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			RespondError(c, http.StatusNotFound, "pattern not found", nil)
			return
		}
		RespondError(c, http.StatusInternalServerError, "feedback update failed", err)
		return
	}
	RespondOK(c, gin.H{"pattern_id": patternID}, "Feedback recorded")
}

// ListPatternsByType pages a tenant's patterns of one type, newest
// activity first.
func (ph *PatternHandler) ListPatternsByType(c *gin.Context) {
	companyID, err := parseCompanyID(c.Param("companyId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	patternType := c.Param("type")
	if !types.IsValidPatternType(patternType) {
		RespondError(c, http.StatusBadRequest, "type must be one of: symptom_outcome, equipment_failure, measurement_anomaly, seasonal_pattern", nil)
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			RespondError(c, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			RespondError(c, http.StatusBadRequest, "offset must be a non-negative integer", nil)
			return
		}
		offset = parsed
	}

	patterns, err := ph.patternRepo.ListByType(c.Request.Context(), nil, companyID, patternType, limit, offset)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "pattern listing failed", err)
		return
	}
	RespondOK(c, patterns, "")
}

type troubleshootRequest struct {
	Symptoms          []string                    `json:"symptoms"`
	Measurements      map[string]float64          `json:"measurements"`
	EquipmentModel    string                      `json:"equipmentModel"`
	CompanyID         string                      `json:"companyId"`
	AmbientConditions *services.AmbientConditions `json:"ambientConditions"`
	Season            string                      `json:"season"`
}

// EnhancedTroubleshoot rescores stored patterns against the live
// situation and returns ranked patterns, recommendations, and the
// confidence-bucket summary.
func (ph *PatternHandler) EnhancedTroubleshoot(c *gin.Context) {
	var req troubleshootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Symptoms == nil {
		RespondError(c, http.StatusBadRequest, "symptoms must be an array", nil)
		return
	}
	if req.CompanyID == "" {
		RespondError(c, http.StatusBadRequest, "companyId is required", nil)
		return
	}
	companyID, err := parseCompanyID(req.CompanyID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	result, err := ph.ranker.Troubleshoot(c.Request.Context(), companyID, services.DiagnosticContext{
		Symptoms:          req.Symptoms,
		Measurements:      req.Measurements,
		EquipmentModel:    req.EquipmentModel,
		AmbientConditions: req.AmbientConditions,
		Season:            req.Season,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "troubleshooting failed", err)
		return
	}
	RespondOK(c, result, "")
}
