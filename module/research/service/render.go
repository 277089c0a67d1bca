package service

import (
	"strconv"
	"strings"

	"ResearchChat/module/research/model"
)

const unverifiedSuffix = " (source could not be verified)"

// FilterCitations drops the URL of every citation whose check failed and
// marks its title. checks[i] belongs to citations[i]; a citation without a
// check counts as failed. A citation already downgraded stays as it is.
func FilterCitations(citations []model.Citation, checks []model.CitationCheck) []model.Citation {
	out := make([]model.Citation, 0, len(citations))
	for i, c := range citations {
		if c.Unverified {
			out = append(out, c)
			continue
		}
		if i < len(checks) && checks[i].Usable() {
			out = append(out, c)
			continue
		}
		c.URL = ""
		c.Title += unverifiedSuffix
		c.Unverified = true
		out = append(out, c)
	}
	return out
}

// FinalText renders the summary followed by the numbered key developments.
func FinalText(r model.Report) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(r.ExecutiveSummary))
	if len(r.KeyDevelopments) == 0 {
		return sb.String()
	}
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString("Key developments:")
	for i, d := range r.KeyDevelopments {
		num := d.Number
		if num <= 0 {
			num = i + 1
		}
		sb.WriteString("\n\n")
		sb.WriteString(strconv.Itoa(num))
		sb.WriteString(". ")
		sb.WriteString(strings.TrimSpace(d.Title))
		if desc := strings.TrimSpace(d.Description); desc != "" {
			sb.WriteString("\n")
			sb.WriteString(desc)
		}
		if len(d.Citations) > 0 {
			sb.WriteString(" ")
			for _, id := range d.Citations {
				sb.WriteString("[")
				sb.WriteString(strconv.Itoa(id))
				sb.WriteString("]")
			}
		}
	}
	return sb.String()
}
