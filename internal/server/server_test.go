package server

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/config"
	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/backend"
	"github.com/mohammad-safakhou/svat/internal/codescan"
	"github.com/mohammad-safakhou/svat/internal/dedup"
	"github.com/mohammad-safakhou/svat/internal/extract"
	"github.com/mohammad-safakhou/svat/internal/ingest"
	"github.com/mohammad-safakhou/svat/internal/news"
	"github.com/mohammad-safakhou/svat/internal/notify"
	"github.com/mohammad-safakhou/svat/internal/rag"
	"github.com/mohammad-safakhou/svat/internal/reference"
	"github.com/mohammad-safakhou/svat/internal/runtime"
	"github.com/mohammad-safakhou/svat/internal/search"
	"github.com/mohammad-safakhou/svat/internal/store"
	"github.com/mohammad-safakhou/svat/internal/vectorstore/memory"
	"github.com/mohammad-safakhou/svat/models"
)

var testSecret = []byte("test-secret")

type lenEmbedder struct{}

func (lenEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = []float64{float64(len(t)), 1}
	}
	return out, nil
}

type stubChain struct {
	collection string
	err        error
}

func (c stubChain) Ask(_ context.Context, q string) (*rag.Answer, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &rag.Answer{
		Text:      "answer to " + q + " from " + c.collection,
		Documents: []*schema.Document{{Content: " Log4Shell in logging ", MetaData: map[string]any{models.MetaPage: 1}}},
	}, nil
}

type fakeBackend struct {
	chainErr error
}

func (b *fakeBackend) Extract(_ context.Context, _, _ string, _ models.ModelOptions) (*extract.Document, error) {
	return &extract.Document{
		Pages: []extract.Page{{Number: 0, Text: "Executive summary"}, {Number: 1, Text: "CVE-2021-44228 in logging"}},
		Records: []models.Vulnerability{{
			Name: "Log4Shell", CVEID: "CVE-2021-44228", Severity: "Critical", Page: -1,
		}},
	}, nil
}

func (b *fakeBackend) BuildChain(_ context.Context, c string, _ models.ChainOptions) (backend.Chain, error) {
	if b.chainErr != nil {
		return nil, b.chainErr
	}
	return stubChain{collection: c}, nil
}

type cannedModel struct{ reply string }

func (m cannedModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m cannedModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

type cannedFactory struct {
	reply string
	last  models.ModelOptions
}

func (f *cannedFactory) NewChatModel(_ context.Context, opts models.ModelOptions) (model.BaseChatModel, error) {
	f.last = opts
	return cannedModel{reply: f.reply}, nil
}

type cveTable map[string]*reference.CVEDetails

func (t cveTable) Lookup(_ context.Context, id string) (*reference.CVEDetails, error) {
	if d, ok := t[id]; ok {
		return d, nil
	}
	return nil, apperr.New(apperr.ErrEnrichment, "not found")
}

type cweTable map[string]*reference.CWEDetails

func (t cweTable) Lookup(_ context.Context, id string) (*reference.CWEDetails, error) {
	if d, ok := t[id]; ok {
		return d, nil
	}
	return nil, apperr.New(apperr.ErrEnrichment, "not found")
}

type staticNews news.Digest

func (s staticNews) Latest(context.Context) news.Digest { return news.Digest(s) }

type testApp struct {
	app     *App
	e       *echo.Echo
	mock    sqlmock.Sqlmock
	vectors *memory.Storage
	be      *fakeBackend
	model   *cannedFactory
	index   *search.Index
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := &store.Store{DB: db}

	cfg := &config.Config{}
	cfg.Server.JWTSecret = string(testSecret)
	cfg.Ingestion.TempDir = t.TempDir()
	cfg.Normalize()

	vectors := memory.NewStorage()
	be := &fakeBackend{}
	orch := ingest.NewOrchestrator(cfg.Ingestion, be, dedup.NewGate(vectors, lenEmbedder{}, nil, nil), nil, nil)
	factory := &cannedFactory{}
	analyzer := codescan.NewAnalyzer(factory,
		cveTable{"CVE-2023-1234": {ID: "CVE-2023-1234", Description: "Overflow", Score: floatPtr(7.0)}},
		cweTable{"CWE-79": {ID: "CWE-79", Title: "Cross-site Scripting", Description: "XSS"}},
		cfg.Enrichment.CVEPageURL, cfg.Enrichment.CWEURL, nil)
	idx, err := search.New()
	if err != nil {
		t.Fatalf("search.New: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	notifier := notify.New(nil, nil)

	app := &App{
		Config: cfg,
		Secret: testSecret,
		Auth:   &AuthHandler{Store: st, Secret: testSecret},
		Report: &ReportHandler{
			Store: st, Vectors: vectors, Ingest: orch, Chains: be, Notifier: notifier, Search: idx,
			Defaults: cfg.Ingestion, AllowedModels: cfg.LLM.AllowedModels, ResultURLBase: cfg.General.ResultURLBase,
			Logger: log.Default(),
		},
		Code: &CodeHandler{
			Store: st, Analyzer: analyzer, Notifier: notifier, Defaults: cfg.CodeAnalysis,
			AllowedModels: cfg.LLM.AllowedModels, ResultURLBase: cfg.General.ResultURLBase, Logger: log.Default(),
		},
		Results: &ResultsHandler{Store: st, Vectors: vectors, Search: idx},
		News:    &NewsHandler{News: staticNews{"nvd": {{Title: "CVE-2024-0001", Link: "https://nvd", Published: "2024-01-01 00:00:00"}}, "threatpost": {}}},
		Chat:    NewChatHandler(st, be, cfg.Ingestion, cfg.Server.AllowedOrigins, nil),
	}
	return &testApp{app: app, e: NewEcho(app), mock: mock, vectors: vectors, be: be, model: factory, index: idx}
}

func floatPtr(v float64) *float64 { return &v }

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := runtime.SignJWT(userID, testSecret, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + tok
}

type upload struct {
	field, name string
	data        []byte
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		fw, err := w.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		fw.Write(f.data)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func serve(ta *testApp, req *http.Request, userID string, t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		req.Header.Set(echo.HeaderAuthorization, bearer(t, userID))
	}
	rec := httptest.NewRecorder()
	ta.e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var he HTTPError
	if err := json.Unmarshal(rec.Body.Bytes(), &he); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return he.Error
}

func expectUser(mock sqlmock.Sqlmock, id string) {
	mock.ExpectQuery(`SELECT id, email, full_name, created_at FROM users WHERE id=\$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "full_name", "created_at"}).
			AddRow(id, "ana@example.com", "Ana", time.Now()))
}

func TestReportRequiresAuth(t *testing.T) {
	ta := newTestApp(t)
	rec := serve(ta, multipartRequest(t, "/report/", map[string]string{"message": "hi"}), "", t)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestReportVectorStoreDown(t *testing.T) {
	ta := newTestApp(t)
	ta.vectors.Down = true
	rec := serve(ta, multipartRequest(t, "/report/", nil, upload{"files", "report.pdf", []byte("%PDF")}), "user-1", t)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != vectorStoreDown {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestReportNoFilesOrMessage(t *testing.T) {
	ta := newTestApp(t)
	rec := serve(ta, multipartRequest(t, "/report/", nil), "user-1", t)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "No files or message provided" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestReportRejectsUnknownModel(t *testing.T) {
	ta := newTestApp(t)
	req := multipartRequest(t, "/report/", map[string]string{"model_name": "gpt-9"}, upload{"files", "report.pdf", []byte("%PDF")})
	rec := serve(ta, req, "user-1", t)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.HasPrefix(msg, "Invalid model name. Choose from:") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestReportRejectsUnsupportedFileInBatch(t *testing.T) {
	ta := newTestApp(t)
	req := multipartRequest(t, "/report/", nil,
		upload{"files", "report.pdf", []byte("%PDF")},
		upload{"files", "payload.exe", []byte("MZ")})
	rec := serve(ta, req, "user-1", t)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "unsupported file type: .exe" {
		t.Fatalf("unexpected message %q", msg)
	}
	if n, _ := ta.vectors.Count(context.Background(), "report"); n != 0 {
		t.Fatalf("nothing should be stored, got %d units", n)
	}
}

// captureArg matches any value and remembers the last one it saw.
type captureArg struct{ got *string }

func (a captureArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*a.got = s
	}
	return ok
}

// expectVulnerabilityInsert expects one record insert for userID and
// captures the collection name it is stored under.
func expectVulnerabilityInsert(mock sqlmock.Sqlmock, userID string, collection *string) {
	mock.ExpectBegin()
	args := []driver.Value{userID}
	for i := 0; i < 10; i++ {
		args = append(args, sqlmock.AnyArg())
	}
	args = append(args, captureArg{got: collection}, sqlmock.AnyArg())
	mock.ExpectPrepare(`INSERT INTO vulnerabilities`).
		ExpectExec().
		WithArgs(args...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

type recordingSender struct{ notices []notify.Notice }

func (s *recordingSender) Send(_ context.Context, n notify.Notice) error {
	s.notices = append(s.notices, n)
	return nil
}

func TestReportIngestsAndAnswers(t *testing.T) {
	ta := newTestApp(t)
	sender := &recordingSender{}
	ta.app.Report.Notifier = notify.New(sender, nil)
	var stored string
	expectUser(ta.mock, "user-1")
	expectVulnerabilityInsert(ta.mock, "user-1", &stored)
	ta.mock.ExpectQuery(`INSERT INTO processing_results`).
		WithArgs("user-1", "report.pdf", sqlmock.AnyArg(), "report", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-1"))

	req := multipartRequest(t, "/report/", map[string]string{"message": "What is vulnerable?"},
		upload{"files", "report.pdf", []byte("%PDF-1.7 two pages")})
	rec := serve(ta, req, "user-1", t)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Collections) != 1 || resp.Collections[0] != "report" {
		t.Fatalf("unexpected collections %v", resp.Collections)
	}
	if len(resp.Results) != 1 || !strings.HasPrefix(resp.Results[0], "http://localhost:4200/results/report-") {
		t.Fatalf("unexpected results %v", resp.Results)
	}
	salted := strings.TrimPrefix(resp.Results[0], "http://localhost:4200/results/")
	if len(resp.Vulnerabilities) != 1 || resp.Vulnerabilities[0].Collection != salted {
		t.Fatalf("records should carry the salted name %s: %+v", salted, resp.Vulnerabilities)
	}
	if stored != salted {
		t.Fatalf("record persisted under %q, want %q", stored, salted)
	}
	if len(sender.notices) != 1 || sender.notices[0].ResultURL != resp.Results[0] || sender.notices[0].Collection != "report" {
		t.Fatalf("unexpected notices %+v", sender.notices)
	}
	if resp.Message != reportDone {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	answer, ok := resp.Answers["report"].(map[string]interface{})
	if !ok || !strings.Contains(answer["message"].(string), "What is vulnerable?") {
		t.Fatalf("unexpected answers %+v", resp.Answers)
	}
	if n, _ := ta.vectors.Count(context.Background(), "report"); n != 1 {
		t.Fatalf("expected one stored unit, got %d", n)
	}
	if hits, err := ta.index.Search("user-1", "Log4Shell", 0); err != nil || len(hits) != 1 {
		t.Fatalf("expected record to be searchable, got %v %v", hits, err)
	}
	if err := ta.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReportSameFindingForTwoUsers(t *testing.T) {
	ta := newTestApp(t)
	stored := map[string]*string{"user-1": new(string), "user-2": new(string)}
	for _, user := range []string{"user-1", "user-2"} {
		expectUser(ta.mock, user)
		expectVulnerabilityInsert(ta.mock, user, stored[user])
		ta.mock.ExpectQuery(`INSERT INTO processing_results`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-" + user))

		req := multipartRequest(t, "/report/", nil, upload{"files", "report.pdf", []byte("%PDF-1.7 same bytes")})
		if rec := serve(ta, req, user, t); rec.Code != http.StatusCreated {
			t.Fatalf("%s: expected 201, got %d: %s", user, rec.Code, rec.Body.String())
		}
	}
	a, b := *stored["user-1"], *stored["user-2"]
	if !strings.HasPrefix(a, "report-") || !strings.HasPrefix(b, "report-") || a == b {
		t.Fatalf("each upload needs its own record key, got %q and %q", a, b)
	}
	for _, user := range []string{"user-1", "user-2"} {
		if hits, err := ta.index.Search(user, "Log4Shell", 0); err != nil || len(hits) != 1 {
			t.Fatalf("%s: expected own searchable record, got %v %v", user, hits, err)
		}
	}
	if err := ta.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReportRecordFailureHasNoSideEffects(t *testing.T) {
	ta := newTestApp(t)
	sender := &recordingSender{}
	ta.app.Report.Notifier = notify.New(sender, nil)
	expectUser(ta.mock, "user-1")
	ta.mock.ExpectBegin()
	ta.mock.ExpectPrepare(`INSERT INTO vulnerabilities`).
		ExpectExec().
		WillReturnError(errors.New("disk full"))
	ta.mock.ExpectRollback()

	req := multipartRequest(t, "/report/", nil, upload{"files", "report.pdf", []byte("%PDF-1.7")})
	rec := serve(ta, req, "user-1", t)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sender.notices) != 0 {
		t.Fatalf("no notification should be sent, got %+v", sender.notices)
	}
	if hits, _ := ta.index.Search("user-1", "Log4Shell", 0); len(hits) != 0 {
		t.Fatalf("nothing should be indexed, got %v", hits)
	}
	// no processing result insert was attempted
	if err := ta.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReportMessageOnlyNeedsOwnedCollection(t *testing.T) {
	ta := newTestApp(t)
	rec := serve(ta, multipartRequest(t, "/report/", map[string]string{"message": "hi"}), "user-1", t)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without collection_name, got %d", rec.Code)
	}

	ta.mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM processing_results WHERE user_id=\$1 AND vector_collection=\$2\)`).
		WithArgs("user-1", "report").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	rec = serve(ta, multipartRequest(t, "/report/", map[string]string{"message": "hi", "collection_name": "report"}), "user-1", t)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp AnswerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Page != 2 || resp.Sources[0].Content != "Log4Shell in logging" {
		t.Fatalf("unexpected sources %+v", resp.Sources)
	}
}

func TestCodeAnalysisEnrichesFindings(t *testing.T) {
	ta := newTestApp(t)
	ta.model.reply = "The code is exposed to CVE-2023-1234 and cwe-79."
	ta.mock.ExpectQuery(`INSERT INTO processing_results`).
		WithArgs("user-1", inlineCodeName, sqlmock.AnyArg(), "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-2"))
	expectUser(ta.mock, "user-1")

	rec := serve(ta, multipartRequest(t, "/code_analysis/", map[string]string{"code": "eval(input())"}), "user-1", t)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CodeAnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "Analyzed code and found 1 CVEs and 1 CWEs." {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if len(resp.Vulnerabilities) != 2 {
		t.Fatalf("expected two findings, got %+v", resp.Vulnerabilities)
	}
	if resp.Vulnerabilities[0].Severity != "High" || resp.Vulnerabilities[1].Name != "Cross-site Scripting" {
		t.Fatalf("unexpected findings %+v", resp.Vulnerabilities)
	}
	if !strings.HasPrefix(resp.ResultURL, "http://localhost:4200/results/code-analysis-") {
		t.Fatalf("unexpected result url %q", resp.ResultURL)
	}
	if err := ta.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCodeAnalysisWithoutIdentifiers(t *testing.T) {
	ta := newTestApp(t)
	ta.model.reply = "No known issues."
	ta.mock.ExpectQuery(`INSERT INTO processing_results`).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("r-3"))
	expectUser(ta.mock, "user-1")

	req := multipartRequest(t, "/code_analysis/", map[string]string{"temperature": "0"}, upload{"code_file", "main.go", []byte("package main")})
	rec := serve(ta, req, "user-1", t)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if temp := ta.model.last.Temperature; temp == nil || *temp != 0 {
		t.Fatalf("explicit zero temperature not forwarded: %v", temp)
	}
	var resp CodeAnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "Analyzed code and found 0 CVEs and 0 CWEs." || len(resp.Vulnerabilities) != 0 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(rec.Body.String(), `"vulnerabilities":[]`) {
		t.Fatalf("findings should render as an empty list: %s", rec.Body.String())
	}
}

func TestCodeAnalysisValidation(t *testing.T) {
	ta := newTestApp(t)
	cases := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"nothing", multipartRequest(t, "/code_analysis/", nil), "No code or file provided"},
		{"extension", multipartRequest(t, "/code_analysis/", nil, upload{"code_file", "notes.docx", []byte("x")}), "Unsupported file type: notes.docx"},
		{"model", multipartRequest(t, "/code_analysis/", map[string]string{"code": "x", "model_name": "gpt-9"}), ""},
	}
	for _, tc := range cases {
		rec := serve(ta, tc.req, "user-1", t)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
		if tc.want != "" {
			if msg := decodeError(t, rec); msg != tc.want {
				t.Fatalf("%s: unexpected message %q", tc.name, msg)
			}
		}
	}
}

func TestResults(t *testing.T) {
	ta := newTestApp(t)
	cols := []string{"id", "user_id", "file_name", "collection_name", "vector_collection", "response", "result_url", "created_at"}
	ta.mock.ExpectQuery(`FROM processing_results WHERE user_id=\$1 AND collection_name=\$2`).
		WithArgs("user-1", "report-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r-1", "user-1", "report.pdf", "report-1", "report",
			[]byte(`{"collection_name":"report","vulnerabilities":[]}`), "http://localhost:4200/results/report-1", time.Now()))
	ta.mock.ExpectQuery(`FROM processing_results WHERE user_id=\$1 AND collection_name=\$2`).
		WithArgs("user-2", "report-1").
		WillReturnRows(sqlmock.NewRows(cols))

	rec := serve(ta, httptest.NewRequest(http.MethodGet, "/results/report-1/", nil), "user-1", t)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["file_name"] != "report.pdf" || body["collection_name"] != "report" {
		t.Fatalf("unexpected body %v", body)
	}

	rec = serve(ta, httptest.NewRequest(http.MethodGet, "/results/report-1/", nil), "user-2", t)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "Result not found" {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestNews(t *testing.T) {
	ta := newTestApp(t)
	if rec := serve(ta, httptest.NewRequest(http.MethodGet, "/news/", nil), "", t); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
	rec := serve(ta, httptest.NewRequest(http.MethodGet, "/news/", nil), "user-1", t)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		News map[string][]models.NewsItem `json:"news"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.News["nvd"]) != 1 || body.News["threatpost"] == nil {
		t.Fatalf("unexpected news %+v", body.News)
	}
}

func TestVulnerabilitySearch(t *testing.T) {
	ta := newTestApp(t)
	if err := ta.index.Add("user-1", models.Vulnerability{Name: "Stored XSS", CWEID: "CWE-79", Description: "comment field", Collection: "report"}); err != nil {
		t.Fatalf("index: %v", err)
	}
	rec := serve(ta, httptest.NewRequest(http.MethodGet, "/vulnerabilities/search/?q=comment", nil), "user-1", t)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp SearchResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Hits) != 1 || resp.Hits[0].Name != "Stored XSS" {
		t.Fatalf("unexpected hits %+v", resp.Hits)
	}

	rec = serve(ta, httptest.NewRequest(http.MethodGet, "/vulnerabilities/search/", nil), "user-1", t)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %d", rec.Code)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperr.New(apperr.ErrValidation, "bad"), http.StatusBadRequest},
		{apperr.New(apperr.ErrUnavailable, "down"), http.StatusServiceUnavailable},
		{apperr.New(apperr.ErrExtraction, "model"), http.StatusBadGateway},
		{store.ErrNotFound, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
	}
	for _, tc := range cases {
		if got := httpError(tc.err, http.StatusBadGateway).Code; got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestIsDue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 15, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time { t := now.Add(-d); return &t }
	cases := []struct {
		spec string
		last *time.Time
		want bool
	}{
		{"*/30 * * * *", nil, true},
		{"*/30 * * * *", ago(10 * time.Minute), false},
		{"*/30 * * * *", ago(31 * time.Minute), true},
		{"@hourly", ago(59 * time.Minute), false},
		{"@hourly", ago(time.Hour), true},
		{"@daily", ago(23 * time.Hour), false},
		{"not a cron", ago(25 * time.Hour), true},
	}
	for _, tc := range cases {
		if got := isDue(tc.spec, tc.last, now); got != tc.want {
			t.Fatalf("isDue(%q, %v): expected %t", tc.spec, tc.last, tc.want)
		}
	}
}

func TestResultRecords(t *testing.T) {
	ta := newTestApp(t)
	cols := []string{"id", "user_id", "file_name", "collection_name", "vector_collection", "response", "result_url", "created_at"}
	ta.mock.ExpectQuery(`FROM processing_results WHERE user_id=\$1 AND collection_name=\$2`).
		WithArgs("user-1", "report-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("r-1", "user-1", "report.pdf", "report-1", "report",
			[]byte(`{}`), "http://localhost:4200/results/report-1", time.Now()))
	vcols := []string{"vulnerability_name", "cve_id", "cwe_id", "description", "type", "severity", "risk",
		"recommended_fix", "cve_url", "cwe_url", "collection_name", "file_name"}
	ta.mock.ExpectQuery(`FROM vulnerabilities WHERE user_id=\$1 AND collection_name=\$2`).
		WithArgs("user-1", "report-1").
		WillReturnRows(sqlmock.NewRows(vcols).AddRow("Log4Shell", "CVE-2021-44228", "", "JNDI lookup", "RCE", "Critical", "High",
			"Upgrade", "", "", "report-1", "report.pdf"))
	ta.mock.ExpectQuery(`FROM processing_results WHERE user_id=\$1 AND collection_name=\$2`).
		WithArgs("user-2", "report-1").
		WillReturnRows(sqlmock.NewRows(cols))

	rec := serve(ta, httptest.NewRequest(http.MethodGet, "/results/report-1/vulnerabilities/", nil), "user-1", t)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp RecordsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Vulnerabilities) != 1 || resp.Vulnerabilities[0].CVEID != "CVE-2021-44228" {
		t.Fatalf("unexpected records %+v", resp)
	}

	rec = serve(ta, httptest.NewRequest(http.MethodGet, "/results/report-1/vulnerabilities/", nil), "user-2", t)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", rec.Code)
	}
	if err := ta.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCollectionSummary(t *testing.T) {
	ta := newTestApp(t)
	ctx := context.Background()
	units := []models.Unit{{Content: "Log4Shell", Metadata: map[string]any{models.MetaFingerprint: "fp1"}}}
	if _, err := ta.vectors.InsertIfAbsent(ctx, "report", "fp1", units, [][]float32{{1, 0}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	owned := `SELECT EXISTS \(SELECT 1 FROM processing_results WHERE user_id=\$1 AND vector_collection=\$2\)`
	ta.mock.ExpectQuery(owned).WithArgs("user-1", "report").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ta.mock.ExpectQuery(owned).WithArgs("user-2", "report").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	rec := serve(ta, httptest.NewRequest(http.MethodGet, "/collections/report/", nil), "user-1", t)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp CollectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Units != 1 || len(resp.Documents) != 1 || resp.Documents[0] != "fp1" {
		t.Fatalf("unexpected summary %+v", resp)
	}

	rec = serve(ta, httptest.NewRequest(http.MethodGet, "/collections/report/", nil), "user-2", t)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
