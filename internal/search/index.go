// Package search keeps a keyword index over stored vulnerability records.
package search

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/mapping"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/models"
)

const ownerField = "owner"

type document struct {
	Owner          string `json:"owner"`
	Name           string `json:"vulnerability_name"`
	CVEID          string `json:"cve_id"`
	CWEID          string `json:"cwe_id"`
	Description    string `json:"description"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Risk           string `json:"risk"`
	RecommendedFix string `json:"recommended_fix"`
	Collection     string `json:"collection_name"`
	FileName       string `json:"file_name"`
}

// Hit is a matching record with its relevance score.
type Hit struct {
	Vulnerability models.Vulnerability `json:"vulnerability"`
	Score         float64              `json:"score"`
}

// Index is an in-memory bleve index partitioned by owner.
type Index struct {
	idx bleve.Index
}

func buildMapping() mapping.IndexMapping {
	owner := bleve.NewTextFieldMapping()
	owner.Analyzer = keyword.Name
	owner.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(ownerField, owner)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func New() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// DocID is the natural key of a record within its owner's records.
func DocID(owner string, v models.Vulnerability) string {
	return strings.Join([]string{owner, v.Collection, v.Name, v.CVEID, v.CWEID}, "|")
}

// Add indexes records for owner. Re-adding a record replaces it.
func (i *Index) Add(owner string, vulns ...models.Vulnerability) error {
	if len(vulns) == 0 {
		return nil
	}
	b := i.idx.NewBatch()
	for _, v := range vulns {
		err := b.Index(DocID(owner, v), document{
			Owner:          owner,
			Name:           v.Name,
			CVEID:          v.CVEID,
			CWEID:          v.CWEID,
			Description:    v.Description,
			Type:           v.Type,
			Severity:       v.Severity,
			Risk:           v.Risk,
			RecommendedFix: v.RecommendedFix,
			Collection:     v.Collection,
			FileName:       v.FileName,
		})
		if err != nil {
			return fmt.Errorf("index %s: %w", v.Name, err)
		}
	}
	return i.idx.Batch(b)
}

// Search matches text against owner's records.
func (i *Index) Search(owner, text string, limit int) ([]Hit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.ErrValidation, "query parameter q is required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	ownerQ := bleve.NewTermQuery(owner)
	ownerQ.SetField(ownerField)
	q := bleve.NewConjunctionQuery(ownerQ, bleve.NewMatchQuery(text))

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"*"}
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		hits = append(hits, Hit{Vulnerability: fromFields(h.Fields), Score: h.Score})
	}
	return hits, nil
}

// Count returns the number of indexed records.
func (i *Index) Count() (uint64, error) {
	return i.idx.DocCount()
}

func (i *Index) Close() error {
	return i.idx.Close()
}

func fromFields(f map[string]interface{}) models.Vulnerability {
	s := func(k string) string {
		v, _ := f[k].(string)
		return v
	}
	return models.Vulnerability{
		Name:           s("vulnerability_name"),
		CVEID:          s("cve_id"),
		CWEID:          s("cwe_id"),
		Description:    s("description"),
		Type:           s("type"),
		Severity:       s("severity"),
		Risk:           s("risk"),
		RecommendedFix: s("recommended_fix"),
		Collection:     s("collection_name"),
		FileName:       s("file_name"),
	}
}
