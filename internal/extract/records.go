package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/svat/internal/helpers"
	"github.com/mohammad-safakhou/svat/models"
)

const recordsPrompt = `You are a security analyst. Extract every vulnerability described in the report below.
Return ONLY a JSON array. Each element must have these string fields:
"vulnerability_name", "cve_id", "cwe_id", "description", "type", "severity", "risk", "recommended_fix", "cve_url", "cwe_url",
and an integer field "page" holding the page number shown in the "--- page N ---" marker where the vulnerability is described.
Use an empty string for unknown fields. Return [] when the report describes no vulnerabilities.

Report:
%s`

type rawRecord struct {
	Name           string          `json:"vulnerability_name"`
	CVEID          string          `json:"cve_id"`
	CWEID          string          `json:"cwe_id"`
	Description    string          `json:"description"`
	Type           string          `json:"type"`
	Severity       string          `json:"severity"`
	Risk           string          `json:"risk"`
	RecommendedFix string          `json:"recommended_fix"`
	CVEURL         string          `json:"cve_url"`
	CWEURL         string          `json:"cwe_url"`
	Page           json.RawMessage `json:"page"`
}

// RenderPages joins pages with 1-based page markers, stopping at limit runes.
func RenderPages(pages []Page, limit int) string {
	var b strings.Builder
	used := 0
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		block := fmt.Sprintf("--- page %d ---\n%s\n", p.Number+1, p.Text)
		n := len([]rune(block))
		if limit > 0 && used+n > limit {
			rest := limit - used
			if rest > 0 {
				b.WriteString(string([]rune(block)[:rest]))
			}
			break
		}
		b.WriteString(block)
		used += n
	}
	return b.String()
}

// ParseRecords decodes the model reply into vulnerability records. It
// accepts a bare array, a single object, or an object wrapping the array
// under "vulnerabilities". Page numbers are converted to 0-based; -1 means
// the model did not say.
func ParseRecords(reply string) ([]models.Vulnerability, error) {
	body, err := helpers.ExtractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("parse model reply: %w", err)
	}
	var raws []rawRecord
	switch body[0] {
	case '[':
		if err := json.Unmarshal([]byte(body), &raws); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	default:
		var wrapped struct {
			Vulnerabilities []rawRecord `json:"vulnerabilities"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err == nil && wrapped.Vulnerabilities != nil {
			raws = wrapped.Vulnerabilities
			break
		}
		var one rawRecord
		if err := json.Unmarshal([]byte(body), &one); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		raws = []rawRecord{one}
	}

	out := make([]models.Vulnerability, 0, len(raws))
	for _, r := range raws {
		v := models.Vulnerability{
			Name:           strings.TrimSpace(r.Name),
			CVEID:          strings.ToUpper(strings.TrimSpace(r.CVEID)),
			CWEID:          strings.ToUpper(strings.TrimSpace(r.CWEID)),
			Description:    strings.TrimSpace(r.Description),
			Type:           strings.TrimSpace(r.Type),
			Severity:       strings.TrimSpace(r.Severity),
			Risk:           strings.TrimSpace(r.Risk),
			RecommendedFix: strings.TrimSpace(r.RecommendedFix),
			CVEURL:         strings.TrimSpace(r.CVEURL),
			CWEURL:         strings.TrimSpace(r.CWEURL),
			Page:           pageNumber(r.Page) - 1,
		}
		if v.Name == "" && v.CVEID == "" && v.CWEID == "" && v.Description == "" {
			continue
		}
		if v.Name == "" {
			v.Name = firstNonEmpty(v.CVEID, v.CWEID, "Unnamed vulnerability")
		}
		out = append(out, v)
	}
	return out, nil
}

// pageNumber reads an int or numeric string; 0 when absent.
func pageNumber(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
		if n > 0 {
			return n
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
