// Package seed loads demo patient histories and writes them through the
// study repository.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/progression"
)

//go:embed demo.yaml
var demoFixture []byte

// StudyDateLayout is the calendar date format of seeded studies.
const StudyDateLayout = "2006-01-02"

// Fixture is one patient's demo history.
type Fixture struct {
	PatientID   string         `yaml:"patient_id"`
	BaseDaysAgo int            `yaml:"base_days_ago"`
	Studies     []FixtureStudy `yaml:"studies"`
}

// FixtureStudy is a study relative to the fixture's base date. Scores are
// not part of the fixture; they are derived from labels and change.
type FixtureStudy struct {
	OffsetDays       int                      `yaml:"offset_days"`
	Labels           map[domain.Label]float64 `yaml:"labels"`
	Findings         string                   `yaml:"findings"`
	Impression       string                   `yaml:"impression"`
	Change           domain.ChangeDirection   `yaml:"change"`
	ClinicianSummary string                   `yaml:"clinician_summary"`
	PatientSummary   string                   `yaml:"patient_summary"`
}

// Demo returns the embedded DEMO001 fixture.
func Demo() (*Fixture, error) {
	return Parse(demoFixture)
}

// Parse decodes a YAML fixture.
func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	if f.PatientID == "" {
		return nil, domain.NewValidationError("patient_id", "fixture patient_id is required", nil)
	}
	return &f, nil
}

// Records builds study records dated relative to now. Each record's score is
// recomputed from its labels and change with weights.
func (f *Fixture) Records(now time.Time, weights progression.Weights) ([]*domain.StudyRecord, error) {
	base := now.AddDate(0, 0, -f.BaseDaysAgo)
	records := make([]*domain.StudyRecord, 0, len(f.Studies))

	for i, s := range f.Studies {
		labels, err := domain.NewFindingsVector(s.Labels)
		if err != nil {
			return nil, fmt.Errorf("study %d: %w", i, err)
		}
		if !s.Change.IsValid() {
			return nil, fmt.Errorf("study %d: %w", i, domain.NewValidationError("change", "unknown change classification", string(s.Change)))
		}

		cv := domain.NewCVResult(labels)
		nlp := domain.NLPResult{
			Sections: domain.ReportSections{Findings: s.Findings, Impression: s.Impression},
			Change:   s.Change,
		}
		score, err := weights.Score(cv.SeverityScore, nlp.Delta())
		if err != nil {
			return nil, fmt.Errorf("study %d: %w", i, err)
		}

		records = append(records, &domain.StudyRecord{
			ID:               uuid.NewString(),
			PatientID:        f.PatientID,
			StudyDate:        base.AddDate(0, 0, s.OffsetDays).Format(StudyDateLayout),
			CVResult:         cv,
			NLPResult:        nlp,
			ProgressionScore: score,
			GenAIResult: domain.GenAIResult{
				ClinicianSummary: s.ClinicianSummary,
				PatientSummary:   s.PatientSummary,
			},
			CreatedAt: now.UTC().Add(time.Duration(i) * time.Millisecond),
		})
	}
	return records, nil
}

// Write upserts the patient and appends every record in order.
func Write(ctx context.Context, repo domain.StudyRepository, records []*domain.StudyRecord, logger *logrus.Logger) error {
	patients := map[string]bool{}
	for _, r := range records {
		if !patients[r.PatientID] {
			if err := repo.UpsertPatient(ctx, r.PatientID); err != nil {
				return err
			}
			patients[r.PatientID] = true
		}
		if err := repo.InsertStudy(ctx, r); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"patient_id":        r.PatientID,
			"study_date":        r.StudyDate,
			"progression_score": r.ProgressionScore,
		}).Debug("Seeded study")
	}
	return nil
}
