// Package service implements the study analysis pipeline and the patient
// timeline queries on top of the domain interfaces.
package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/archive"
	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/narrative"
	"github.com/radprogressor-server/internal/progression"
	"github.com/radprogressor-server/internal/report"
	"github.com/radprogressor-server/internal/repository"
	"github.com/radprogressor-server/internal/vision"
)

// AnalysisService runs one submission through classification, scoring,
// trend derivation, narrative generation and persistence.
type AnalysisService struct {
	repo     domain.StudyRepository
	vision   domain.VisionClassifier
	reports  domain.ReportClassifier
	narrator domain.Narrator
	archive  domain.ImageArchive
	builder  *RecordBuilder
	locker   *PatientLocker
	logger   *logrus.Logger
}

// Option configures an AnalysisService
type Option func(*AnalysisService)

// WithWeights overrides the default progression score weights.
func WithWeights(w progression.Weights) Option {
	return func(s *AnalysisService) {
		s.builder.weights = w
	}
}

// WithArchive keeps a copy of every normalized image.
func WithArchive(a domain.ImageArchive) Option {
	return func(s *AnalysisService) {
		s.archive = a
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *AnalysisService) {
		s.builder.now = now
	}
}

// WithIDGenerator overrides study id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *AnalysisService) {
		s.builder.newID = newID
	}
}

// WithLocker shares a patient locker between services.
func WithLocker(l *PatientLocker) Option {
	return func(s *AnalysisService) {
		s.locker = l
	}
}

// NewAnalysisService creates the analysis pipeline. The narrator is wrapped so
// that narrative failures fall back to the templated summaries.
func NewAnalysisService(
	repo domain.StudyRepository,
	visionClassifier domain.VisionClassifier,
	reportClassifier domain.ReportClassifier,
	narrator domain.Narrator,
	logger *logrus.Logger,
	opts ...Option,
) *AnalysisService {
	s := &AnalysisService{
		repo:     repo,
		vision:   visionClassifier,
		reports:  reportClassifier,
		narrator: narrative.NewBestEffort(narrator, logger),
		archive:  archive.Nop{},
		builder:  NewRecordBuilder(progression.DefaultWeights()),
		locker:   NewPatientLocker(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Analyze processes a single study submission end to end.
func (s *AnalysisService) Analyze(ctx context.Context, sub *domain.Submission) (*domain.StudyAnalysis, error) {
	startTime := time.Now()
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	log := s.logger.WithFields(logrus.Fields{
		"patient_id": sub.PatientID,
		"study_date": sub.StudyDate,
	})
	log.Info("Starting study analysis")

	// Step 1: ensure the patient exists
	if err := s.repo.UpsertPatient(ctx, sub.PatientID); err != nil {
		return nil, err
	}

	// Step 2: classify the image
	labels, err := s.predict(ctx, sub)
	if err != nil {
		log.WithError(err).Error("Vision classification failed")
		return nil, err
	}

	// Step 3: extract and classify the report
	nlp, err := report.Analyze(ctx, s.reports, sub.ReportText)
	if err != nil {
		log.WithError(err).Error("Report classification failed")
		return nil, err
	}

	// Steps 4 to 8 see a consistent history for this patient.
	unlock := s.locker.Lock(sub.PatientID)
	defer unlock()

	timeline, err := s.repo.Timeline(ctx, sub.PatientID)
	if err != nil {
		return nil, err
	}

	draft, err := s.builder.Draft(sub, labels, nlp, repository.History(timeline))
	if err != nil {
		return nil, err
	}

	genai, err := narrative.Summaries(ctx, s.narrator, draft.NarrativeInput())
	if err != nil {
		return nil, domain.Wrap(domain.ErrNarrativeGeneration, "narrative generation failed", err)
	}

	imageRef, err := s.archiveImage(ctx, sub, draft.ID())
	if err != nil {
		log.WithError(err).Error("Image archive failed")
		return nil, err
	}

	record := s.builder.Finalize(draft, genai, imageRef)
	if err := s.repo.InsertStudy(ctx, record); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"study_id":          record.ID,
		"progression_score": record.ProgressionScore,
		"trend":             draft.Trend.Direction,
		"last_delta":        draft.Trend.LastDelta,
		"prior_studies":     len(timeline),
		"duration_ms":       time.Since(startTime).Milliseconds(),
	}).Info("Study analysis completed")

	return record.Analysis(draft.Trend), nil
}

func (s *AnalysisService) predict(ctx context.Context, sub *domain.Submission) (domain.FindingsVector, error) {
	labels, err := s.vision.Predict(ctx, sub.Image)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) || errors.Is(err, domain.ErrClassifierUnavailable) {
			return nil, err
		}
		return nil, domain.Wrap(domain.ErrClassifierUnavailable, "vision classification failed", err)
	}
	if err := labels.Validate(); err != nil {
		return nil, domain.Wrap(domain.ErrClassifierUnavailable, "vision classifier returned an invalid findings vector", err)
	}
	return labels, nil
}

func (s *AnalysisService) archiveImage(ctx context.Context, sub *domain.Submission, studyID string) (string, error) {
	if _, ok := s.archive.(archive.Nop); ok {
		return "", nil
	}

	data, err := vision.EncodePNG(sub.Image)
	if err != nil {
		return "", domain.Wrap(domain.ErrStoreUnavailable, "encoding image for archive", err)
	}
	ref, err := s.archive.Put(ctx, archive.StudyKey(sub.PatientID, studyID), archive.ContentTypePNG, bytes.NewReader(data))
	if err != nil {
		return "", domain.Wrap(domain.ErrStoreUnavailable, "archiving image", err)
	}
	return ref, nil
}

func validateSubmission(sub *domain.Submission) error {
	if sub == nil {
		return domain.NewValidationError("submission", "submission is required", nil)
	}
	if strings.TrimSpace(sub.PatientID) == "" {
		return domain.NewValidationError("patient_id", "patient_id is required", sub.PatientID)
	}
	if strings.TrimSpace(sub.StudyDate) == "" {
		return domain.NewValidationError("study_date", "study_date is required", sub.StudyDate)
	}
	if sub.Image == nil || sub.Image.Bounds().Empty() {
		return domain.NewValidationError("image", "image is required", nil)
	}
	return nil
}
