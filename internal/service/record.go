package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/progression"
)

// RecordBuilder assembles study records. Scores and trends are derived here
// and nowhere else, so a stored score always matches its inputs.
type RecordBuilder struct {
	weights progression.Weights
	now     func() time.Time
	newID   func() string
}

// NewRecordBuilder creates a builder using weights.
func NewRecordBuilder(weights progression.Weights) *RecordBuilder {
	return &RecordBuilder{
		weights: weights,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Draft is a record whose narrative and image reference are still pending.
type Draft struct {
	record domain.StudyRecord
	Trend  domain.TrendSummary
}

// NarrativeInput is what the narrator needs to describe the draft.
func (d *Draft) NarrativeInput() domain.NarrativeInput {
	return domain.NarrativeInput{
		Findings: d.record.NLPResult.Sections.Findings,
		Labels:   d.record.CVResult.Labels,
		Trend:    d.Trend,
	}
}

// ID returns the study id assigned to the draft.
func (d *Draft) ID() string {
	return d.record.ID
}

// Score returns the draft's progression score.
func (d *Draft) Score() float64 {
	return d.record.ProgressionScore
}

// Draft scores the study and computes its trend against history, the
// patient's previously stored score samples in timeline order.
func (b *RecordBuilder) Draft(sub *domain.Submission, labels domain.FindingsVector, nlp domain.NLPResult, history []domain.ScorePoint) (*Draft, error) {
	cv := domain.NewCVResult(labels)
	score, err := b.weights.Score(cv.SeverityScore, nlp.Delta())
	if err != nil {
		return nil, err
	}

	record := domain.StudyRecord{
		ID:               b.newID(),
		PatientID:        sub.PatientID,
		StudyDate:        sub.StudyDate,
		CVResult:         cv,
		NLPResult:        nlp,
		ProgressionScore: score,
		CreatedAt:        b.now().UTC(),
	}

	withCurrent := make([]domain.ScorePoint, 0, len(history)+1)
	withCurrent = append(withCurrent, history...)
	withCurrent = append(withCurrent, record.Point())

	return &Draft{record: record, Trend: progression.Trend(withCurrent)}, nil
}

// Finalize attaches the narrative and image reference and returns the record.
func (b *RecordBuilder) Finalize(d *Draft, genai domain.GenAIResult, imageRef string) *domain.StudyRecord {
	record := d.record
	record.GenAIResult = genai
	record.ImageRef = imageRef
	return &record
}
