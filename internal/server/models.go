package server

import (
	"time"

	"github.com/mohammad-safakhou/svat/internal/session"
	"github.com/mohammad-safakhou/svat/models"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	FullName string `json:"full_name" form:"full_name"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// MeResponse describes the authenticated account.
type MeResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// ReportResponse is returned after a batch of files was ingested.
type ReportResponse struct {
	Status          string                 `json:"status"`
	Collections     []string               `json:"collections"`
	Vulnerabilities []models.Vulnerability `json:"vulnerabilities"`
	Results         []string               `json:"results"`
	Answers         map[string]interface{} `json:"answers,omitempty"`
	Message         string                 `json:"message"`
}

// AnswerResponse is a single-shot answer over an existing collection.
type AnswerResponse struct {
	CollectionName string          `json:"collection_name"`
	Message        string          `json:"message"`
	Sources        []models.Source `json:"sources"`
}

// CodeAnalysisResponse is returned by a code scan.
type CodeAnalysisResponse struct {
	Status          string           `json:"status"`
	Vulnerabilities []models.Finding `json:"vulnerabilities"`
	ResultURL       string           `json:"result_url,omitempty"`
	Message         string           `json:"message"`
}

// FilePayload is the stored response of one ingested file.
type FilePayload struct {
	FileName        string                 `json:"file_name"`
	CollectionName  string                 `json:"collection_name"`
	Fingerprint     string                 `json:"file_hash"`
	Stored          int                    `json:"stored_units"`
	Duplicate       bool                   `json:"duplicate"`
	Vulnerabilities []models.Vulnerability `json:"vulnerabilities"`
}

// CodePayload is the stored response of one code scan.
type CodePayload struct {
	FileName        string           `json:"file_name"`
	Status          string           `json:"status"`
	Analysis        string           `json:"analysis"`
	Vulnerabilities []models.Finding `json:"vulnerabilities"`
}

// RecordsResponse lists the persisted records of one processing result.
type RecordsResponse struct {
	CollectionName  string                 `json:"collection_name"`
	Vulnerabilities []models.Vulnerability `json:"vulnerabilities"`
}

// CollectionResponse summarises a vector collection.
type CollectionResponse struct {
	CollectionName string `json:"collection_name"`
	Units          int    `json:"units"`
	// Documents holds the fingerprint of every stored document.
	Documents []string `json:"documents"`
}

// SearchResponse lists vulnerability search hits.
type SearchResponse struct {
	Query string      `json:"query"`
	Hits  []SearchHit `json:"hits"`
}

// SearchHit is one matching stored record.
type SearchHit struct {
	models.Vulnerability
	Score float64 `json:"score"`
}

// ResultResponse wraps a stored payload with its bookkeeping fields.
type ResultResponse map[string]interface{}

func newResultResponse(payload map[string]interface{}, fileName, url string, created time.Time) ResultResponse {
	out := ResultResponse{}
	for k, v := range payload {
		out[k] = v
	}
	out["file_name"] = fileName
	out["result_url"] = url
	out["created_at"] = created
	return out
}

func answerOf(reply session.Reply) map[string]interface{} {
	return map[string]interface{}{"message": reply.Message, "sources": reply.Sources}
}
