package extract

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/svat/models"
)

// RecordText renders a record as the text that gets embedded.
func RecordText(v models.Vulnerability) string {
	var b strings.Builder
	line := func(label, val string) {
		if val != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, val)
		}
	}
	line("Vulnerability", v.Name)
	line("CVE", v.CVEID)
	line("CWE", v.CWEID)
	line("Type", v.Type)
	line("Severity", v.Severity)
	line("Risk", v.Risk)
	line("Description", v.Description)
	line("Recommended fix", v.RecommendedFix)
	return strings.TrimSpace(b.String())
}

// ToUnits turns records into embeddable units tagged with the file
// fingerprint. When no records were extracted the raw page text is used.
func ToUnits(records []models.Vulnerability, pages []Page, fingerprint, source string, c models.Chunking) []models.Unit {
	var units []models.Unit
	add := func(text string, page int, extra map[string]any) {
		for _, chunk := range Chunk(text, c.Size, c.Overlap) {
			meta := map[string]any{
				models.MetaFingerprint: fingerprint,
				models.MetaPage:        page,
				models.MetaSource:      source,
			}
			for k, v := range extra {
				meta[k] = v
			}
			units = append(units, models.Unit{Content: chunk, Metadata: meta})
		}
	}

	for _, r := range records {
		page := r.Page
		if page < 0 {
			page = locatePage(r, pages)
		}
		add(RecordText(r), page, map[string]any{
			models.MetaName: r.Name,
			models.MetaCVE:  r.CVEID,
			models.MetaCWE:  r.CWEID,
		})
	}
	if len(units) > 0 {
		return units
	}
	for _, p := range pages {
		add(p.Text, p.Number, nil)
	}
	return units
}

// locatePage guesses the page of a record by searching for its identifiers.
func locatePage(v models.Vulnerability, pages []Page) int {
	for _, needle := range []string{v.CVEID, v.CWEID, v.Name} {
		if needle == "" {
			continue
		}
		n := strings.ToLower(needle)
		for _, p := range pages {
			if strings.Contains(strings.ToLower(p.Text), n) {
				return p.Number
			}
		}
	}
	return 0
}
