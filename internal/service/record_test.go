package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/progression"
)

func TestRecordBuilder_Draft(t *testing.T) {
	builder := NewRecordBuilder(progression.DefaultWeights())
	builder.now = func() time.Time { return time.Date(2024, 1, 1, 8, 0, 0, 0, time.FixedZone("EST", -5*3600)) }
	builder.newID = func() string { return "study-1" }

	labels := labelsWithSeverity(t, 0.35)
	nlp := domain.NLPResult{
		Sections: domain.ReportSections{Findings: "Larger effusion."},
		Change:   domain.ChangeWorsened,
	}
	history := []domain.ScorePoint{{Date: "2024-01-01", Score: 0.304}}

	draft, err := builder.Draft(&domain.Submission{PatientID: "P001", StudyDate: "2024-02-01"}, labels, nlp, history)
	require.NoError(t, err)

	assert.Equal(t, "study-1", draft.ID())
	assert.InDelta(t, 0.545, draft.Score(), 1e-9)
	assert.Equal(t, domain.TrendUp, draft.Trend.Direction)
	assert.Equal(t, 0.241, draft.Trend.LastDelta)

	in := draft.NarrativeInput()
	assert.Equal(t, "Larger effusion.", in.Findings)
	assert.Equal(t, labels, in.Labels)
	assert.Equal(t, draft.Trend, in.Trend)

	record := builder.Finalize(draft, domain.GenAIResult{ClinicianSummary: "c", PatientSummary: "p"}, "s3://bucket/key.png")
	assert.Equal(t, "P001", record.PatientID)
	assert.Equal(t, "2024-02-01", record.StudyDate)
	assert.Equal(t, 0.35, record.CVResult.SeverityScore)
	assert.Equal(t, "s3://bucket/key.png", record.ImageRef)
	assert.Equal(t, time.UTC, record.CreatedAt.Location())
	assert.Equal(t, "c", record.GenAIResult.ClinicianSummary)
}

func TestRecordBuilder_FirstStudyIsFlat(t *testing.T) {
	builder := NewRecordBuilder(progression.DefaultWeights())

	draft, err := builder.Draft(&domain.Submission{PatientID: "P001", StudyDate: "2024-01-01"},
		labelsWithSeverity(t, 0.22), domain.EmptyNLPResult(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.FlatTrend(), draft.Trend)
	assert.NotEmpty(t, draft.ID())
}

func TestRecordBuilder_InvalidWeights(t *testing.T) {
	builder := NewRecordBuilder(progression.Weights{Alpha: -1, Beta: 0.3})

	_, err := builder.Draft(&domain.Submission{PatientID: "P001", StudyDate: "2024-01-01"},
		labelsWithSeverity(t, 0.22), domain.EmptyNLPResult(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
