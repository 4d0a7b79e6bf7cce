package report

import (
	"context"
	"strings"

	"github.com/radprogressor-server/internal/domain"
)

var (
	improvedKeywords = []string{"improved", "better", "resolved", "cleared", "decreased"}
	worsenedKeywords = []string{"worsened", "worse", "increased", "progression", "deteriorated", "new"}
)

// LexicalClassifier classifies change by counting directional keywords. Each
// keyword counts once no matter how often it appears; ties are stable.
type LexicalClassifier struct{}

// NewLexicalClassifier creates a keyword-based report classifier
func NewLexicalClassifier() *LexicalClassifier {
	return &LexicalClassifier{}
}

// Classify implements domain.ReportClassifier.
func (c *LexicalClassifier) Classify(ctx context.Context, text string) (domain.ChangeDirection, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lower := strings.ToLower(text)
	improved := countPresent(lower, improvedKeywords)
	worsened := countPresent(lower, worsenedKeywords)

	switch {
	case improved > worsened:
		return domain.ChangeImproved, nil
	case worsened > improved:
		return domain.ChangeWorsened, nil
	default:
		return domain.ChangeStable, nil
	}
}

// Analyze extracts sections and classifies the whole report text.
func Analyze(ctx context.Context, classifier domain.ReportClassifier, text string) (domain.NLPResult, error) {
	if strings.TrimSpace(text) == "" {
		return domain.EmptyNLPResult(), nil
	}

	change, err := classifier.Classify(ctx, text)
	if err != nil {
		return domain.NLPResult{}, domain.Wrap(domain.ErrClassifierUnavailable, "report classification failed", err)
	}
	if !change.IsValid() {
		return domain.NLPResult{}, domain.Wrap(domain.ErrClassifierUnavailable, "report classifier returned unknown direction", nil)
	}

	return domain.NLPResult{Sections: ExtractSections(text), Change: change}, nil
}

func countPresent(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}
