package mcp

import (
	"context"
	"strings"

	"github.com/radprogressor-server/internal/domain"
	"github.com/radprogressor-server/internal/progression"
	"github.com/radprogressor-server/internal/report"
)

// PatientReader answers timeline and snapshot queries.
type PatientReader interface {
	Timeline(ctx context.Context, patientID string) (*domain.PatientTimeline, error)
	Snapshot(ctx context.Context, patientID string) (*domain.PatientSnapshot, error)
}

// PatientArgs selects a patient.
type PatientArgs struct {
	PatientID string `json:"patient_id" jsonschema:"the external patient identifier"`
}

// ScoreArgs are the inputs of the progression score calculator.
type ScoreArgs struct {
	Severity float64  `json:"severity" jsonschema:"maximum label probability, within [0,1]"`
	Delta    int      `json:"delta" jsonschema:"report change: -1 improved, 0 stable, 1 worsened"`
	Alpha    *float64 `json:"alpha,omitempty" jsonschema:"severity weight, default 0.7"`
	Beta     *float64 `json:"beta,omitempty" jsonschema:"change weight, default 0.3"`
}

// ScoreResult is returned by compute_progression_score.
type ScoreResult struct {
	ProgressionScore float64 `json:"progression_score"`
	Alpha            float64 `json:"alpha"`
	Beta             float64 `json:"beta"`
}

// ReportArgs carries free report text.
type ReportArgs struct {
	Text string `json:"text" jsonschema:"radiology report text"`
}

// ChangeResult is returned by classify_report_change.
type ChangeResult struct {
	Change domain.ChangeDirection `json:"change"`
	Delta  int                    `json:"delta"`
}

// Tools implements the MCP tool bodies independently of the protocol.
type Tools struct {
	patients PatientReader
	reports  domain.ReportClassifier
	weights  progression.Weights
}

// NewTools creates the tool set. weights are the defaults for scoring calls
// that do not override them.
func NewTools(patients PatientReader, reports domain.ReportClassifier, weights progression.Weights) *Tools {
	return &Tools{patients: patients, reports: reports, weights: weights}
}

// PatientTimeline returns the patient's ordered timeline.
func (t *Tools) PatientTimeline(ctx context.Context, args PatientArgs) (*domain.PatientTimeline, error) {
	return t.patients.Timeline(ctx, args.PatientID)
}

// PatientSnapshot returns the latest study and the timeline summary.
func (t *Tools) PatientSnapshot(ctx context.Context, args PatientArgs) (*domain.PatientSnapshot, error) {
	return t.patients.Snapshot(ctx, args.PatientID)
}

// ProgressionScore computes a score without touching any stored data.
func (t *Tools) ProgressionScore(_ context.Context, args ScoreArgs) (*ScoreResult, error) {
	w := t.weights
	if args.Alpha != nil {
		w.Alpha = *args.Alpha
	}
	if args.Beta != nil {
		w.Beta = *args.Beta
	}
	if args.Severity < 0 || args.Severity > 1 {
		return nil, domain.NewValidationError("severity", "must be within [0,1]", args.Severity)
	}

	score, err := w.Score(args.Severity, args.Delta)
	if err != nil {
		return nil, err
	}
	return &ScoreResult{ProgressionScore: score, Alpha: w.Alpha, Beta: w.Beta}, nil
}

// ReportSections extracts FINDINGS and IMPRESSION.
func (t *Tools) ReportSections(_ context.Context, args ReportArgs) (*domain.ReportSections, error) {
	sections := report.ExtractSections(args.Text)
	return &sections, nil
}

// ReportChange classifies the report's change direction.
func (t *Tools) ReportChange(ctx context.Context, args ReportArgs) (*ChangeResult, error) {
	if strings.TrimSpace(args.Text) == "" {
		return &ChangeResult{Change: domain.ChangeStable}, nil
	}
	nlp, err := report.Analyze(ctx, t.reports, args.Text)
	if err != nil {
		return nil, err
	}
	return &ChangeResult{Change: nlp.Change, Delta: nlp.Delta()}, nil
}
