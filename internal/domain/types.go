// Package domain contains the core entities for longitudinal chest-imaging
// progression analysis: finding vectors from the vision classifier, change
// classifications from report text, progression scores, trends and the
// append-only study records that tie them together.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Label is a finding label from the fixed chest X-ray vocabulary.
type Label string

const (
	Atelectasis   Label = "atelectasis"
	Consolidation Label = "consolidation"
	Effusion      Label = "effusion"
	Infiltration  Label = "infiltration"
	Pneumonia     Label = "pneumonia"
)

var vocabulary = []Label{Atelectasis, Consolidation, Effusion, Infiltration, Pneumonia}

// Vocabulary returns the ordered finding-label vocabulary.
func Vocabulary() []Label {
	out := make([]Label, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// IsValid reports whether the label belongs to the vocabulary.
func (l Label) IsValid() bool {
	for _, v := range vocabulary {
		if v == l {
			return true
		}
	}
	return false
}

// String returns the string representation of the label.
func (l Label) String() string {
	return string(l)
}

// LabelProbability is one entry of a FindingsVector.
type LabelProbability struct {
	Label       Label   `json:"label"`
	Probability float64 `json:"probability"`
}

// FindingsVector holds one independent probability per vocabulary label, in
// vocabulary order. Build it with NewFindingsVector so the invariants hold.
type FindingsVector []LabelProbability

// NewFindingsVector validates probs against the vocabulary and returns the
// vector in vocabulary order. Every label must be present exactly once, with
// no extras, and every probability must lie in [0,1].
func NewFindingsVector(probs map[Label]float64) (FindingsVector, error) {
	for label := range probs {
		if !label.IsValid() {
			return nil, NewValidationError("labels", "unknown finding label", string(label))
		}
	}

	vector := make(FindingsVector, 0, len(vocabulary))
	for _, label := range vocabulary {
		p, ok := probs[label]
		if !ok {
			return nil, NewValidationError("labels", "missing finding label", string(label))
		}
		if p < 0 || p > 1 || p != p {
			return nil, NewValidationError("labels", fmt.Sprintf("probability for %s outside [0,1]", label), p)
		}
		vector = append(vector, LabelProbability{Label: label, Probability: p})
	}
	return vector, nil
}

// Validate checks the vector against the vocabulary invariants.
func (f FindingsVector) Validate() error {
	if len(f) != len(vocabulary) {
		return NewValidationError("labels", "findings vector must cover the full vocabulary", len(f))
	}
	_, err := NewFindingsVector(f.Map())
	return err
}

// Severity is the maximum probability across the vector.
func (f FindingsVector) Severity() float64 {
	max := 0.0
	for _, lp := range f {
		if lp.Probability > max {
			max = lp.Probability
		}
	}
	return max
}

// Probability returns the probability of a label, or 0 when absent.
func (f FindingsVector) Probability(label Label) float64 {
	for _, lp := range f {
		if lp.Label == label {
			return lp.Probability
		}
	}
	return 0
}

// Map returns the vector as a label→probability map.
func (f FindingsVector) Map() map[Label]float64 {
	out := make(map[Label]float64, len(f))
	for _, lp := range f {
		out[lp.Label] = lp.Probability
	}
	return out
}

// MarshalJSON encodes the vector as a {label: probability} object. An empty
// vector encodes as null.
func (f FindingsVector) MarshalJSON() ([]byte, error) {
	if len(f) == 0 {
		return []byte("null"), nil
	}
	out := make(map[string]float64, len(f))
	for _, lp := range f {
		out[string(lp.Label)] = lp.Probability
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a {label: probability} object and validates it.
// null decodes to an empty vector.
func (f *FindingsVector) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = nil
		return nil
	}
	var raw map[Label]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	vector, err := NewFindingsVector(raw)
	if err != nil {
		return err
	}
	*f = vector
	return nil
}

// TopLabels returns the n most probable labels, highest first.
func (f FindingsVector) TopLabels(n int) []LabelProbability {
	sorted := make([]LabelProbability, len(f))
	copy(sorted, f)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Probability > sorted[j].Probability
	})
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// ChangeDirection is the coarse change classification derived from report text.
// The integer delta is always derived from the direction, so the two can never
// disagree.
type ChangeDirection string

const (
	ChangeImproved ChangeDirection = "improved"
	ChangeStable   ChangeDirection = "stable"
	ChangeWorsened ChangeDirection = "worsened"
)

// IsValid reports whether the direction is one of the three known values.
func (c ChangeDirection) IsValid() bool {
	switch c {
	case ChangeImproved, ChangeStable, ChangeWorsened:
		return true
	default:
		return false
	}
}

// Delta returns the signed delta for the direction: improved -1, stable 0,
// worsened +1. Unknown directions map to 0.
func (c ChangeDirection) Delta() int {
	switch c {
	case ChangeImproved:
		return -1
	case ChangeWorsened:
		return 1
	default:
		return 0
	}
}

// String returns the string representation of the direction.
func (c ChangeDirection) String() string {
	return string(c)
}

// ChangeFromDelta is the inverse of ChangeDirection.Delta.
func ChangeFromDelta(delta int) (ChangeDirection, error) {
	switch delta {
	case -1:
		return ChangeImproved, nil
	case 0:
		return ChangeStable, nil
	case 1:
		return ChangeWorsened, nil
	default:
		return "", NewValidationError("delta", "delta must be one of -1, 0, 1", delta)
	}
}

// ReportSections holds the labeled subsections of a report. An empty string
// means the report was not supplied or the section was not found.
type ReportSections struct {
	Findings   string `json:"findings"`
	Impression string `json:"impression"`
}

// TrendDirection is the direction of progression-score change.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// TrendSummary describes the change between the two most recent scores.
type TrendSummary struct {
	LastDelta float64        `json:"last_delta"`
	Direction TrendDirection `json:"direction"`
}

// FlatTrend is the trend reported when fewer than two studies exist.
func FlatTrend() TrendSummary {
	return TrendSummary{LastDelta: 0.0, Direction: TrendFlat}
}

// ScorePoint is one (date, score) sample of a patient's history.
type ScorePoint struct {
	Date  string  `json:"date"`
	Score float64 `json:"score"`
}

// TimelineSummary extends the trend with whole-history statistics.
type TimelineSummary struct {
	TrendSummary
	StudyCount int     `json:"study_count"`
	MeanScore  float64 `json:"mean_score"`
	Slope      float64 `json:"slope"`
}
