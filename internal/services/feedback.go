package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	errs "github.com/coilworks/hvac-backend/internal/pkg/errors"
	"github.com/coilworks/hvac-backend/internal/logger"
	"github.com/coilworks/hvac-backend/internal/repos"
	"github.com/coilworks/hvac-backend/internal/types"
)

// feedbackSmoothing is the EMA factor pulling durable confidence toward
// the rating implied by feedback. 0.3 keeps single reviews influential
// without letting one opinion overwrite accumulated trust.
const feedbackSmoothing = 0.3

// Feedback is one technician verdict on a pattern. Helpful and
// CorrectDiagnosis form the quick path; TechnicianRating, ActualOutcome,
// SessionID, and Session belong to the detailed path.
type Feedback struct {
	Helpful          bool
	CorrectDiagnosis bool
	TechnicianRating *int
	ActualOutcome    string
	AdditionalNotes  string
	// SessionID, when set, records a DiagnosticOutcome for the session.
	SessionID string
	UserID    uuid.UUID
	// Session, when set, can seed a fresh symptom_outcome pattern even if
	// the target pattern no longer matches.
	Session *TroubleshootingSession
}

// Rating collapses feedback to a 1..5 score: the explicit technician
// rating when present, else 5 for helpful-and-correct, else 2.
func (f Feedback) Rating() int {
	if f.TechnicianRating != nil && *f.TechnicianRating >= 1 && *f.TechnicianRating <= 5 {
		return *f.TechnicianRating
	}
	if f.Helpful && f.CorrectDiagnosis {
		return 5
	}
	return 2
}

type FeedbackService interface {
	// Apply folds feedback into the pattern's durable confidence.
	// Returns ErrNotFound when the pattern is missing from the tenant
	// and the feedback carries no session to learn from instead.
	Apply(ctx context.Context, companyID, patternID uuid.UUID, fb Feedback) error
}

type feedbackService struct {
	db          *gorm.DB
	log         *logger.Logger
	patternRepo repos.PatternRepo
	outcomeRepo repos.OutcomeRepo
	writer      PatternWriter
	cache       PatternCache
	now         func() time.Time
}

func NewFeedbackService(db *gorm.DB, baseLog *logger.Logger, patternRepo repos.PatternRepo, outcomeRepo repos.OutcomeRepo, writer PatternWriter, cache PatternCache) FeedbackService {
	return &feedbackService{
		db:          db,
		log:         baseLog.With("service", "FeedbackService"),
		patternRepo: patternRepo,
		outcomeRepo: outcomeRepo,
		writer:      writer,
		cache:       cache,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (fs *feedbackService) Apply(ctx context.Context, companyID, patternID uuid.UUID, fb Feedback) error {
	rating := fb.Rating()

	pattern, err := fs.patternRepo.GetByID(ctx, nil, companyID, patternID)
	switch {
	case err == nil:
		if err := fs.adjustConfidence(ctx, pattern, rating); err != nil {
			return err
		}
	case errors.Is(err, errs.ErrNotFound) && fb.Session != nil:
		// Detailed feedback can arrive after the pattern was superseded;
		// the session itself is still evidence worth keeping.
		fs.log.Debug("Feedback target missing, learning from session instead", "pattern_id", patternID)
	default:
		return err
	}

	if fb.Session != nil {
		if err := fs.learnFromSession(ctx, companyID, fb); err != nil {
			fs.log.Warn("Could not create pattern from feedback session", "error", err)
		}
	}

	if fb.SessionID != "" {
		if err := fs.recordOutcome(ctx, companyID, patternID, fb, rating); err != nil {
			fs.log.Warn("Could not store diagnostic outcome for feedback", "session_id", fb.SessionID, "error", err)
		}
	}

	if fs.cache != nil {
		fs.cache.InvalidateCompany(ctx, companyID)
	}
	return nil
}

// adjustConfidence nudges the durable score toward rating*20 with a
// fixed smoothing factor, bounded to [0,100]. Rating 5 strictly raises
// any score below 100; rating 2 strictly lowers any score above 40.
func (fs *feedbackService) adjustConfidence(ctx context.Context, pattern *types.Pattern, rating int) error {
	target := float64(rating) * 20
	updated := ClampScore(pattern.ConfidenceScore + feedbackSmoothing*(target-pattern.ConfidenceScore))

	if err := fs.patternRepo.UpdateConfidence(ctx, nil, pattern.ID, updated, fs.now()); err != nil {
		return fmt.Errorf("update confidence: %w", err)
	}
	fs.log.Debug("Applied feedback to pattern",
		"pattern_id", pattern.ID,
		"rating", rating,
		"confidence_before", pattern.ConfidenceScore,
		"confidence_after", updated,
	)
	return nil
}

func (fs *feedbackService) learnFromSession(ctx context.Context, companyID uuid.UUID, fb Feedback) error {
	session := fb.Session
	if len(session.Symptoms) == 0 || session.Diagnosis == "" {
		return nil
	}
	outcome := fb.ActualOutcome
	if outcome == "" {
		outcome = session.Outcome
	}
	if outcome == "" || outcome == OutcomeUnknown {
		return nil
	}
	_, err := fs.writer.WriteSymptomOutcome(ctx, companyID, session.Symptoms, session.Diagnosis, outcome, session.EquipmentModel)
	return err
}

func (fs *feedbackService) recordOutcome(ctx context.Context, companyID, patternID uuid.UUID, fb Feedback, rating int) error {
	recommendations, err := json.Marshal(map[string]interface{}{
		"pattern_id": patternID,
	})
	if err != nil {
		return err
	}

	outcome := fb.ActualOutcome
	if outcome == "" && fb.Session != nil {
		outcome = fb.Session.Outcome
	}
	resolution, err := json.Marshal(map[string]interface{}{
		"outcome":        outcome,
		"success_rating": rating,
	})
	if err != nil {
		return err
	}

	return fs.outcomeRepo.Create(ctx, nil, &types.DiagnosticOutcome{
		TroubleshootingSessionID: fb.SessionID,
		CompanyID:                companyID,
		UserID:                   fb.UserID,
		AIRecommendations:        recommendations,
		FinalResolution:          resolution,
		SuccessRating:            rating,
		FollowupRequired:         NormalizeOutcome(outcome) != OutcomeSuccess,
		Notes:                    fb.AdditionalNotes,
	})
}
