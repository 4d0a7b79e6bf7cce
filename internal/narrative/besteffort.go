package narrative

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/radprogressor-server/internal/domain"
)

// BestEffort never fails: errors and empty output from the wrapped narrator
// are replaced with the templated fallback and logged as warnings.
type BestEffort struct {
	next   domain.Narrator
	logger *logrus.Logger
}

// NewBestEffort wraps next.
func NewBestEffort(next domain.Narrator, logger *logrus.Logger) *BestEffort {
	return &BestEffort{next: next, logger: logger}
}

// Summarize implements domain.Narrator.
func (b *BestEffort) Summarize(ctx context.Context, in domain.NarrativeInput, audience domain.Audience) (string, error) {
	text, err := b.next.Summarize(ctx, in, audience)
	if err == nil && strings.TrimSpace(text) != "" {
		return text, nil
	}

	fields := logrus.Fields{
		"audience":  string(audience),
		"direction": string(in.Trend.Direction),
	}
	if err != nil {
		fields["error"] = err.Error()
	} else {
		fields["error"] = "empty summary"
	}
	b.logger.WithFields(fields).Warn("Narrative generation failed, using templated fallback")
	return Fallback(in, audience), nil
}

// Summaries produces both audience variants for one study.
func Summaries(ctx context.Context, n domain.Narrator, in domain.NarrativeInput) (domain.GenAIResult, error) {
	clinician, err := n.Summarize(ctx, in, domain.AudienceClinician)
	if err != nil {
		return domain.GenAIResult{}, err
	}
	patient, err := n.Summarize(ctx, in, domain.AudiencePatient)
	if err != nil {
		return domain.GenAIResult{}, err
	}
	return domain.GenAIResult{ClinicianSummary: clinician, PatientSummary: patient}, nil
}
