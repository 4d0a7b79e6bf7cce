// Package report extracts labeled sections from free-text radiology reports
// and classifies the change they describe.
package report

import (
	"regexp"
	"strings"

	"github.com/radprogressor-server/internal/domain"
)

// Headers are FINDING(S) and IMPRESSION(S). A truncated "IMPRESSIO" is not
// a header.
var (
	findingsPattern   = regexp.MustCompile(`(?is)FINDINGS?:?\s*(.*?)(?:IMPRESSION|CONCLUSION|\z)`)
	impressionPattern = regexp.MustCompile(`(?is)IMPRESSIONS?:?\s*(.*?)(?:CONCLUSION|\z)`)
)

// ExtractSections pulls the FINDINGS and IMPRESSION bodies out of text.
// Headers match case-insensitively with or without a trailing colon, and a
// missing header yields an empty section.
func ExtractSections(text string) domain.ReportSections {
	return domain.ReportSections{
		Findings:   capture(findingsPattern, text),
		Impression: capture(impressionPattern, text),
	}
}

func capture(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
