// Package codescan asks a language model to review source code and turns
// the CVE and CWE identifiers it mentions into enriched findings.
package codescan

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/llm"
	"github.com/mohammad-safakhou/svat/internal/reference"
	"github.com/mohammad-safakhou/svat/internal/telemetry"
	"github.com/mohammad-safakhou/svat/models"
)

const analysisPrompt = `You are a security expert. Analyze the following code for potential security vulnerabilities.
Identify any CVE or CWE vulnerabilities, provide a description, and suggest fixes.
Code:
%s
Output format:
- Vulnerability: [Name]
- CVE ID: [CVE-XXXX-XXXX]
- CWE ID: [CWE-XXX]
- Description: [Description]
- Recommended Fix: [Fix]
`

const (
	notAvailable  = "N/A"
	unknown       = "Unknown"
	noDescription = "No description available"
)

var (
	cvePattern = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)
	cwePattern = regexp.MustCompile(`(?i)CWE-\d+`)
)

// ExtractIDs returns every CVE and CWE identifier in text, in order of
// appearance and uppercased. Repeated identifiers are kept.
func ExtractIDs(text string) (cves, cwes []string) {
	for _, m := range cvePattern.FindAllString(text, -1) {
		cves = append(cves, strings.ToUpper(m))
	}
	for _, m := range cwePattern.FindAllString(text, -1) {
		cwes = append(cwes, strings.ToUpper(m))
	}
	return cves, cwes
}

// HighSeverityThreshold is the lowest CVSS base score rated High.
const HighSeverityThreshold = 7.0

// ClassifySeverity rates a CVSS base score. A nil score is unresolvable.
func ClassifySeverity(score *float64) string {
	if score == nil {
		return notAvailable
	}
	if *score >= HighSeverityThreshold {
		return "High"
	}
	return "Medium"
}

// CVELookup resolves CVE details.
type CVELookup interface {
	Lookup(ctx context.Context, id string) (*reference.CVEDetails, error)
}

// CWELookup resolves CWE details.
type CWELookup interface {
	Lookup(ctx context.Context, id string) (*reference.CWEDetails, error)
}

// Report is the outcome of one scan.
type Report struct {
	Analysis string
	CVEs     []string
	CWEs     []string
	Findings []models.Finding
}

func (r *Report) Status() string {
	return fmt.Sprintf("Analyzed code and found %d CVEs and %d CWEs.", len(r.CVEs), len(r.CWEs))
}

// Analyzer runs code scans.
type Analyzer struct {
	Models     llm.Factory
	CVEs       CVELookup
	CWEs       CWELookup
	CVEPageURL string
	CWEPageURL string
	Logger     *log.Logger
}

func NewAnalyzer(factory llm.Factory, cves CVELookup, cwes CWELookup, cvePageURL, cwePageURL string, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCAN] ", log.LstdFlags)
	}
	if !strings.HasSuffix(cwePageURL, "/") {
		cwePageURL += "/"
	}
	return &Analyzer{Models: factory, CVEs: cves, CWEs: cwes, CVEPageURL: cvePageURL, CWEPageURL: cwePageURL, Logger: logger}
}

// Analyze sends code to the model and enriches every identifier in the
// reply. Model failures abort the scan; lookup failures degrade to
// placeholder rows.
func (a *Analyzer) Analyze(ctx context.Context, code string, opts models.ModelOptions) (*Report, error) {
	if strings.TrimSpace(code) == "" {
		return nil, apperr.New(apperr.ErrValidation, "Provided code or file is empty")
	}
	m, err := a.Models.NewChatModel(ctx, opts)
	if err != nil {
		return nil, err
	}
	analysis, err := llm.Complete(ctx, m, fmt.Sprintf(analysisPrompt, code))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "Error analyzing code with LLM")
	}

	r := &Report{Analysis: analysis, Findings: []models.Finding{}}
	r.CVEs, r.CWEs = ExtractIDs(analysis)
	for _, id := range r.CVEs {
		r.Findings = append(r.Findings, a.cveFinding(ctx, id))
	}
	for _, id := range r.CWEs {
		r.Findings = append(r.Findings, a.cweFinding(ctx, id))
	}
	telemetry.CodeFindings.WithLabelValues("cve").Add(float64(len(r.CVEs)))
	telemetry.CodeFindings.WithLabelValues("cwe").Add(float64(len(r.CWEs)))
	return r, nil
}

func (a *Analyzer) cveFinding(ctx context.Context, id string) models.Finding {
	f := models.Finding{
		Name:           id,
		CVEID:          id,
		CWEID:          notAvailable,
		Description:    noDescription,
		Type:           unknown,
		Severity:       notAvailable,
		Risk:           unknown,
		RecommendedFix: notAvailable,
		CVEURL:         reference.PageURL(a.CVEPageURL, id),
		CWEURL:         notAvailable,
	}
	d, err := a.CVEs.Lookup(ctx, id)
	if err != nil {
		telemetry.EnrichmentFailures.WithLabelValues("nvd").Inc()
		a.Logger.Printf("enrich %s: %v", id, err)
		return f
	}
	f.Description = d.Description
	f.Severity = ClassifySeverity(d.Score)
	return f
}

func (a *Analyzer) cweFinding(ctx context.Context, id string) models.Finding {
	f := models.Finding{
		Name:           id,
		CVEID:          notAvailable,
		CWEID:          id,
		Description:    noDescription,
		Type:           unknown,
		Severity:       "Medium",
		Risk:           unknown,
		RecommendedFix: notAvailable,
		CVEURL:         notAvailable,
		CWEURL:         a.CWEPageURL + reference.Number(id) + ".html",
	}
	d, err := a.CWEs.Lookup(ctx, id)
	if err != nil {
		telemetry.EnrichmentFailures.WithLabelValues("cwe").Inc()
		a.Logger.Printf("enrich %s: %v", id, err)
		return f
	}
	if d.Title != "" {
		f.Name = d.Title
	}
	if d.Description != "" {
		f.Description = d.Description
	}
	return f
}
