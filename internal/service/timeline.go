package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/progression"
	"github.com/radprogressor-server/internal/repository"
)

// TimelineService answers patient history queries
type TimelineService struct {
	repo   domain.StudyRepository
	logger *logrus.Logger
}

// NewTimelineService creates a new timeline service
func NewTimelineService(repo domain.StudyRepository, logger *logrus.Logger) *TimelineService {
	return &TimelineService{repo: repo, logger: logger}
}

// Timeline returns the patient's ordered timeline. A patient without studies
// gets an empty timeline, not an error.
func (s *TimelineService) Timeline(ctx context.Context, patientID string) (*domain.PatientTimeline, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, domain.NewValidationError("patient_id", "patient_id is required", patientID)
	}

	records, err := s.repo.Timeline(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &domain.PatientTimeline{PatientID: patientID, Timeline: repository.Project(records)}, nil
}

// Latest returns the patient's most recent study, or ErrNotFound.
func (s *TimelineService) Latest(ctx context.Context, patientID string) (*domain.StudyRecord, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, domain.NewValidationError("patient_id", "patient_id is required", patientID)
	}
	return s.repo.Latest(ctx, patientID)
}

// Snapshot returns the latest study with a summary of the whole timeline.
func (s *TimelineService) Snapshot(ctx context.Context, patientID string) (*domain.PatientSnapshot, error) {
	latest, err := s.Latest(ctx, patientID)
	if err != nil {
		return nil, err
	}

	records, err := s.repo.Timeline(ctx, patientID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id":  patientID,
		"study_count": len(records),
	}).Debug("Built patient snapshot")

	return &domain.PatientSnapshot{
		PatientID:       patientID,
		LastStudy:       latest,
		TimelineSummary: progression.Summarize(repository.History(records)),
	}, nil
}
