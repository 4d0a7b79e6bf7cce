// Package narrative produces the clinician and patient summaries attached to
// each study, with a deterministic fallback when generation fails.
package narrative

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/radprogressor-server/internal/domain"
)

// TemplateNarrator renders fixed hedge statements that reference the trend.
type TemplateNarrator struct{}

// NewTemplateNarrator creates the deterministic narrator
func NewTemplateNarrator() *TemplateNarrator {
	return &TemplateNarrator{}
}

// Summarize implements domain.Narrator. It never fails.
func (TemplateNarrator) Summarize(_ context.Context, in domain.NarrativeInput, audience domain.Audience) (string, error) {
	return Fallback(in, audience), nil
}

// Fallback returns the templated summary for audience.
func Fallback(in domain.NarrativeInput, audience domain.Audience) string {
	if audience == domain.AudiencePatient {
		return fmt.Sprintf("Plain-language note: Your recent chest images show signs that may relate to the lungs. "+
			"Overall trend looks %s. This tool cannot give medical advice. "+
			"Please talk to your clinician for interpretation.", in.Trend.Direction)
	}
	return fmt.Sprintf("Impression (draft): Pattern suggests possible changes in the above labels. "+
		"Recent trajectory is %s (Δ=%s). "+
		"Correlate clinically and compare with prior imaging.", in.Trend.Direction, formatDelta(in.Trend.LastDelta))
}

// formatDelta prints the shortest representation, always with a decimal point.
func formatDelta(d float64) string {
	s := strconv.FormatFloat(d, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
