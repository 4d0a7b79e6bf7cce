// Package repository persists patients and their append-only study records.
package repository

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/radprogressor-server/internal/domain"
)

// studyColumns is the column order used by every study query.
var studyColumns = []string{
	"id", "patient_id", "study_date", "cv_result", "nlp_result",
	"progression_score", "genai_result", "image_ref", "created_at",
}

const timelineOrder = "study_date ASC, created_at ASC, id ASC"
const latestOrder = "study_date DESC, created_at DESC, id DESC"

// Postgres compares TEXT by the database collation; "C" keeps study dates bytewise.
const postgresTimelineOrder = `study_date COLLATE "C" ASC, created_at ASC, id ASC`
const postgresLatestOrder = `study_date COLLATE "C" DESC, created_at DESC, id DESC`

// encodedStudy holds the JSON payload columns of a study row.
type encodedStudy struct {
	CVResult    []byte
	NLPResult   []byte
	GenAIResult []byte
}

func encodeStudy(record *domain.StudyRecord) (*encodedStudy, error) {
	cv, err := json.Marshal(record.CVResult)
	if err != nil {
		return nil, fmt.Errorf("marshaling cv result: %w", err)
	}
	nlp, err := json.Marshal(record.NLPResult)
	if err != nil {
		return nil, fmt.Errorf("marshaling nlp result: %w", err)
	}
	genai, err := json.Marshal(record.GenAIResult)
	if err != nil {
		return nil, fmt.Errorf("marshaling genai result: %w", err)
	}
	return &encodedStudy{CVResult: cv, NLPResult: nlp, GenAIResult: genai}, nil
}

func (e *encodedStudy) decodeInto(record *domain.StudyRecord) error {
	if err := json.Unmarshal(e.CVResult, &record.CVResult); err != nil {
		return fmt.Errorf("unmarshaling cv result: %w", err)
	}
	if err := json.Unmarshal(e.NLPResult, &record.NLPResult); err != nil {
		return fmt.Errorf("unmarshaling nlp result: %w", err)
	}
	if err := json.Unmarshal(e.GenAIResult, &record.GenAIResult); err != nil {
		return fmt.Errorf("unmarshaling genai result: %w", err)
	}
	return nil
}

func validateRecord(record *domain.StudyRecord) error {
	if record == nil {
		return domain.NewValidationError("record", "study record is required", nil)
	}
	if strings.TrimSpace(record.ID) == "" {
		return domain.NewValidationError("id", "study id is required", record.ID)
	}
	if strings.TrimSpace(record.PatientID) == "" {
		return domain.NewValidationError("patient_id", "patient id is required", record.PatientID)
	}
	if record.ProgressionScore < 0 || record.ProgressionScore > 1 {
		return domain.NewValidationError("progression_score", "must be within [0,1]", record.ProgressionScore)
	}
	return record.CVResult.Labels.Validate()
}

// Project maps stored records onto timeline entries, preserving order.
func Project(records []*domain.StudyRecord) []domain.TimelineEntry {
	entries := make([]domain.TimelineEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, r.TimelineEntry())
	}
	return entries
}

// History maps stored records onto their (date, score) samples.
func History(records []*domain.StudyRecord) []domain.ScorePoint {
	points := make([]domain.ScorePoint, 0, len(records))
	for _, r := range records {
		points = append(points, r.Point())
	}
	return points
}

func storeError(op string, err error) error {
	return domain.Wrap(domain.ErrStoreUnavailable, op, err)
}
