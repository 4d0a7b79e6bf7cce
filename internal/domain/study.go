package domain

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// Patient is identified by an opaque external identifier.
type Patient struct {
	PatientID string    `json:"patient_id" db:"patient_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CVResult is the vision classifier output. SeverityScore is derived from the
// labels and cannot be set on its own.
type CVResult struct {
	Labels        FindingsVector `json:"labels"`
	SeverityScore float64        `json:"severity_score"`
}

// NewCVResult builds a CVResult whose severity is the maximum label probability.
func NewCVResult(labels FindingsVector) CVResult {
	return CVResult{Labels: labels, SeverityScore: labels.Severity()}
}

// UnmarshalJSON decodes the labels and re-derives the severity.
func (c *CVResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Labels FindingsVector `json:"labels"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = NewCVResult(raw.Labels)
	return nil
}

// NLPResult is the report-side analysis: extracted sections and the change
// classification. It serializes as {"sections", "change", "delta"}.
type NLPResult struct {
	Sections ReportSections  `json:"sections"`
	Change   ChangeDirection `json:"change"`
}

// Delta returns the integer delta of the change classification.
func (n NLPResult) Delta() int {
	return n.Change.Delta()
}

type nlpResultJSON struct {
	Sections ReportSections  `json:"sections"`
	Change   ChangeDirection `json:"change"`
	Delta    int             `json:"delta"`
}

// MarshalJSON adds the derived delta to the encoded form.
func (n NLPResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(nlpResultJSON{Sections: n.Sections, Change: n.Change, Delta: n.Change.Delta()})
}

// UnmarshalJSON rejects payloads whose delta disagrees with the direction.
func (n *NLPResult) UnmarshalJSON(data []byte) error {
	var raw nlpResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Change.IsValid() {
		return NewValidationError("change", "unknown change classification", string(raw.Change))
	}
	if raw.Change.Delta() != raw.Delta {
		return NewValidationError("delta", fmt.Sprintf("delta %d disagrees with change %q", raw.Delta, raw.Change), raw.Delta)
	}
	n.Sections = raw.Sections
	n.Change = raw.Change
	return nil
}

// EmptyNLPResult is the report analysis used when no report text is supplied.
func EmptyNLPResult() NLPResult {
	return NLPResult{Change: ChangeStable}
}

// ProgressionResult is the score and trend reported for one submission.
type ProgressionResult struct {
	ProgressionScore float64        `json:"progression_score"`
	TrendDirection   TrendDirection `json:"trend_direction"`
	LastDelta        float64        `json:"last_delta"`
}

// GenAIResult holds the clinician- and patient-facing summaries.
type GenAIResult struct {
	ClinicianSummary string `json:"clinician_summary"`
	PatientSummary   string `json:"patient_summary"`
}

// StudyRecord is the unit of persistence. It is created once per submission
// and never mutated afterwards.
type StudyRecord struct {
	ID               string      `json:"study_id" db:"id"`
	PatientID        string      `json:"patient_id" db:"patient_id"`
	StudyDate        string      `json:"study_date" db:"study_date"`
	CVResult         CVResult    `json:"cv_result" db:"cv_result"`
	NLPResult        NLPResult   `json:"nlp_result" db:"nlp_result"`
	ProgressionScore float64     `json:"progression_score" db:"progression_score"`
	GenAIResult      GenAIResult `json:"genai_result" db:"genai_result"`
	ImageRef         string      `json:"image_ref,omitempty" db:"image_ref"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
}

// Point projects the record onto its (date, score) sample.
func (r *StudyRecord) Point() ScorePoint {
	return ScorePoint{Date: r.StudyDate, Score: r.ProgressionScore}
}

// TimelineEntry projects the record onto the timeline view.
func (r *StudyRecord) TimelineEntry() TimelineEntry {
	return TimelineEntry{
		Date:             r.StudyDate,
		ProgressionScore: r.ProgressionScore,
		KeyLabels:        r.CVResult.Labels,
		Change:           r.NLPResult.Change,
	}
}

// Analysis combines the record with the trend computed for it.
func (r *StudyRecord) Analysis(trend TrendSummary) *StudyAnalysis {
	return &StudyAnalysis{
		StudyID:   r.ID,
		PatientID: r.PatientID,
		StudyDate: r.StudyDate,
		CVResult:  r.CVResult,
		NLPResult: r.NLPResult,
		ProgressionResult: ProgressionResult{
			ProgressionScore: r.ProgressionScore,
			TrendDirection:   trend.Direction,
			LastDelta:        trend.LastDelta,
		},
		GenAIResult: r.GenAIResult,
		ImageRef:    r.ImageRef,
	}
}

// StudyAnalysis is the response returned for a submission.
type StudyAnalysis struct {
	StudyID           string            `json:"study_id"`
	PatientID         string            `json:"patient_id"`
	StudyDate         string            `json:"study_date"`
	CVResult          CVResult          `json:"cv_result"`
	NLPResult         NLPResult         `json:"nlp_result"`
	ProgressionResult ProgressionResult `json:"progression_result"`
	GenAIResult       GenAIResult       `json:"genai_result"`
	ImageRef          string            `json:"image_ref,omitempty"`
}

// TimelineEntry is one element of a patient's ordered timeline.
type TimelineEntry struct {
	Date             string          `json:"date"`
	ProgressionScore float64         `json:"progression_score"`
	KeyLabels        FindingsVector  `json:"key_labels"`
	Change           ChangeDirection `json:"change"`
}

// Point projects the entry onto its (date, score) sample.
func (e TimelineEntry) Point() ScorePoint {
	return ScorePoint{Date: e.Date, Score: e.ProgressionScore}
}

// Points projects a timeline onto its score history.
func Points(entries []TimelineEntry) []ScorePoint {
	points := make([]ScorePoint, len(entries))
	for i, e := range entries {
		points[i] = e.Point()
	}
	return points
}

// PatientTimeline is the response of the timeline query.
type PatientTimeline struct {
	PatientID string          `json:"patient_id"`
	Timeline  []TimelineEntry `json:"timeline"`
}

// PatientSnapshot is the response of the snapshot query.
type PatientSnapshot struct {
	PatientID       string          `json:"patient_id"`
	LastStudy       *StudyRecord    `json:"last_study"`
	TimelineSummary TimelineSummary `json:"timeline_summary"`
}

// Submission is one study handed to the analysis pipeline.
type Submission struct {
	PatientID  string
	StudyDate  string
	Image      *image.Gray
	ReportText string
}

// Audience selects the tone of a narrative summary.
type Audience string

const (
	AudienceClinician Audience = "clinician"
	AudiencePatient   Audience = "patient"
)

// NarrativeInput is what the narrative generator sees.
type NarrativeInput struct {
	Findings string         `json:"findings"`
	Labels   FindingsVector `json:"labels"`
	Trend    TrendSummary   `json:"trend"`
}
