// Package reference looks up CVE and CWE identifiers in public catalogues.
package reference

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/helpers"
)

// CVEDetails is what the NVD knows about one CVE. Score is nil when no CVSS
// metric is published.
type CVEDetails struct {
	ID          string
	Description string
	Score       *float64
}

// NVDClient queries the NVD CVE API 2.0.
type NVDClient struct {
	HTTP    *helpers.HTTPClient
	BaseURL string
	APIKey  string
}

func NewNVDClient(http *helpers.HTTPClient, baseURL, apiKey string) *NVDClient {
	return &NVDClient{HTTP: http, BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey}
}

type nvdResponse struct {
	Vulnerabilities []struct {
		CVE struct {
			ID           string `json:"id"`
			Descriptions []struct {
				Lang  string `json:"lang"`
				Value string `json:"value"`
			} `json:"descriptions"`
			Metrics struct {
				V31 []cvssMetric `json:"cvssMetricV31"`
				V30 []cvssMetric `json:"cvssMetricV30"`
				V2  []cvssMetric `json:"cvssMetricV2"`
			} `json:"metrics"`
		} `json:"cve"`
	} `json:"vulnerabilities"`
}

type cvssMetric struct {
	CVSSData struct {
		BaseScore *float64 `json:"baseScore"`
	} `json:"cvssData"`
}

// Lookup fetches one CVE. Every failure is an enrichment error.
func (c *NVDClient) Lookup(ctx context.Context, id string) (*CVEDetails, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	endpoint := c.BaseURL + "?cveId=" + url.QueryEscape(id)
	headers := map[string]string{"Accept": "application/json"}
	if c.APIKey != "" {
		headers["apiKey"] = c.APIKey
	}
	body, err := c.HTTP.Get(ctx, endpoint, headers)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEnrichment, err, "nvd %s", id)
	}
	var resp nvdResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.ErrEnrichment, err, "decode nvd %s", id)
	}
	if len(resp.Vulnerabilities) == 0 {
		return nil, apperr.New(apperr.ErrEnrichment, "nvd %s: not found", id)
	}
	cve := resp.Vulnerabilities[0].CVE
	d := &CVEDetails{ID: id, Description: "No description available"}
	for _, desc := range cve.Descriptions {
		if desc.Lang == "en" && strings.TrimSpace(desc.Value) != "" {
			d.Description = strings.TrimSpace(desc.Value)
			break
		}
	}
	for _, metrics := range [][]cvssMetric{cve.Metrics.V31, cve.Metrics.V30, cve.Metrics.V2} {
		if s := firstScore(metrics); s != nil {
			d.Score = s
			break
		}
	}
	return d, nil
}

func firstScore(metrics []cvssMetric) *float64 {
	for _, m := range metrics {
		if m.CVSSData.BaseScore != nil {
			return m.CVSSData.BaseScore
		}
	}
	return nil
}

// PageURL is the human-readable MITRE page for a CVE.
func PageURL(base, id string) string {
	return base + url.QueryEscape(id)
}

