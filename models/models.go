package models

import (
	"encoding/json"
	"time"
)

// Vulnerability is a structured record extracted from an uploaded report.
// (Name, CVEID, CWEID, Collection) is the natural key.
type Vulnerability struct {
	Name           string `json:"vulnerability_name"`
	CVEID          string `json:"cve_id,omitempty"`
	CWEID          string `json:"cwe_id,omitempty"`
	Description    string `json:"description"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Risk           string `json:"risk"`
	RecommendedFix string `json:"recommended_fix"`
	CVEURL         string `json:"cve_url,omitempty"`
	CWEURL         string `json:"cwe_url,omitempty"`
	Collection     string `json:"collection_name,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	// Page is the 0-based page the record was found on, -1 when unknown.
	Page int `json:"-"`
}

// Metadata keys stored with every embedded unit.
const (
	MetaFingerprint = "file_hash"
	MetaPage        = "page"
	MetaSource      = "source"
	MetaName        = "vulnerability_name"
	MetaCVE         = "cve_id"
	MetaCWE         = "cwe_id"
)

// Unit is a piece of text destined for embedding, with its metadata.
type Unit struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Fingerprint returns the content fingerprint carried by the unit.
func (u Unit) Fingerprint() string {
	if u.Metadata == nil {
		return ""
	}
	s, _ := u.Metadata[MetaFingerprint].(string)
	return s
}

// Page returns the 0-based page locator of the unit.
func (u Unit) Page() int {
	return PageOf(u.Metadata)
}

// PageOf reads a page locator out of a metadata map regardless of the
// numeric type it was decoded as.
func PageOf(meta map[string]any) int {
	switch v := meta[MetaPage].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}

// ScoredUnit is a stored unit returned by a similarity search.
type ScoredUnit struct {
	ID    string
	Unit  Unit
	Score float64
}

// ModelOptions selects and tunes the language model for a request. A nil
// Temperature leaves the host default in place; zero is sent as zero.
type ModelOptions struct {
	Name        string   `json:"model_name"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens"`
}

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }

// ChainOptions configures a retrieval chain bound to one collection.
type ChainOptions struct {
	Model ModelOptions `json:"model"`
	TopK  int          `json:"top_k"`
}

// Chunking controls how long record text is split before embedding.
type Chunking struct {
	Size    int `json:"chunk_size"`
	Overlap int `json:"chunk_overlap"`
}

// ProcessingResult is the durable outcome of one processed file or code scan.
type ProcessingResult struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	FileName         string          `json:"file_name"`
	CollectionName   string          `json:"collection_name"`
	VectorCollection string          `json:"vector_collection,omitempty"`
	Response         json.RawMessage `json:"response"`
	ResultURL        string          `json:"result_url"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Finding is one enriched CVE or CWE row produced by a code scan.
type Finding struct {
	Name           string `json:"vulnerability_name"`
	CVEID          string `json:"cve_id"`
	CWEID          string `json:"cwe_id"`
	Description    string `json:"description"`
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Risk           string `json:"risk"`
	RecommendedFix string `json:"recommended_fix"`
	CVEURL         string `json:"cve_url"`
	CWEURL         string `json:"cwe_url"`
}

// Source is a cited excerpt returned with a chat answer.
type Source struct {
	Content string `json:"content"`
	Page    int    `json:"page"`
}

// NewsItem is a single security news headline.
type NewsItem struct {
	Title     string `json:"title"`
	Link      string `json:"link"`
	Published string `json:"published"`
}

// User is an account able to upload documents.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}
