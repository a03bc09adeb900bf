package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/config"
	"github.com/mohammad-safakhou/svat/internal/collection"
	"github.com/mohammad-safakhou/svat/internal/ingest"
	"github.com/mohammad-safakhou/svat/internal/llm"
	"github.com/mohammad-safakhou/svat/internal/notify"
	"github.com/mohammad-safakhou/svat/internal/runtime"
	"github.com/mohammad-safakhou/svat/internal/search"
	"github.com/mohammad-safakhou/svat/internal/session"
	"github.com/mohammad-safakhou/svat/internal/store"
	"github.com/mohammad-safakhou/svat/internal/vectorstore"
	"github.com/mohammad-safakhou/svat/models"
)

const (
	vectorStoreDown = "Vector store is not reachable. Please ensure it is running."
	reportDone      = "Files processed. You can now ask questions via WebSocket."
)

// ReportHandler ingests uploaded vulnerability reports.
type ReportHandler struct {
	Store         *store.Store
	Vectors       vectorstore.Store
	Ingest        *ingest.Orchestrator
	Chains        session.ChainBuilder
	Notifier      *notify.Notifier
	Search        *search.Index
	Defaults      config.IngestionConfig
	AllowedModels []string
	ResultURLBase string
	PingTimeout   time.Duration
	Logger        *log.Logger
}

func (h *ReportHandler) Register(g *echo.Group, secret []byte) {
	g.POST("/report/", h.report, runtime.EchoAuthMiddleware(secret))
}

// Report
//
//	@Summary		Upload vulnerability reports
//	@Description	Ingests PDF or image reports into per-file collections and optionally answers a question
//	@Tags			report
//	@Accept			multipart/form-data
//	@Produce		json
//	@Success		201	{object}	ReportResponse
//	@Failure		400	{object}	HTTPError
//	@Failure		503	{object}	HTTPError
//	@Router			/report/ [post]
func (h *ReportHandler) report(c echo.Context) error {
	ctx := c.Request().Context()
	userID := runtime.UserID(c)

	if err := h.ping(ctx); err != nil {
		h.Logger.Printf("vector store ping: %v", err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, vectorStoreDown)
	}

	opts, err := h.options(c)
	if err != nil {
		return err
	}

	var files []*multipart.FileHeader
	if form, err := c.MultipartForm(); err == nil {
		files = form.File["files"]
	}
	message := strings.TrimSpace(c.FormValue("message"))
	if len(files) == 0 && message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "No files or message provided")
	}
	if len(files) == 0 {
		return h.answerExisting(c, userID, strings.TrimSpace(c.FormValue("collection_name")), message, opts)
	}

	uploads := make([]ingest.Upload, 0, len(files))
	for _, fh := range files {
		fh := fh
		uploads = append(uploads, ingest.Upload{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	res, err := h.Ingest.Process(ctx, uploads, opts)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}

	user, uerr := h.Store.GetUserByID(ctx, userID)
	if uerr != nil {
		h.Logger.Printf("load user %s for notification: %v", userID, uerr)
	}
	// records are keyed by the salted per-upload name
	salted := make([]string, len(res.Files))
	var vulns []models.Vulnerability
	for i := range res.Files {
		fr := &res.Files[i]
		salted[i] = collection.Salted(fr.FileName, time.Now())
		for j := range fr.Records {
			fr.Records[j].Collection = salted[i]
		}
		vulns = append(vulns, fr.Records...)
	}
	if vulns == nil {
		vulns = []models.Vulnerability{}
	}
	resp := ReportResponse{
		Status:          "Collections created",
		Collections:     res.Collections(),
		Vulnerabilities: vulns,
		Results:         make([]string, 0, len(res.Files)),
		Message:         reportDone,
	}

	if _, err := h.Store.SaveVulnerabilities(ctx, userID, vulns); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	for i, fr := range res.Files {
		url, err := h.saveResult(ctx, userID, salted[i], fr)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		resp.Results = append(resp.Results, url)
	}
	if h.Search != nil {
		if err := h.Search.Add(userID, vulns...); err != nil {
			h.Logger.Printf("index vulnerabilities: %v", err)
		}
	}
	for i, fr := range res.Files {
		h.Notifier.Processed(ctx, notify.Notice{
			To:         user.Email,
			Name:       user.FullName,
			FileName:   fr.FileName,
			Collection: fr.Collection,
			ResultURL:  resp.Results[i],
			Summary:    pluralRecords(len(fr.Records)),
		})
	}

	if message != "" {
		resp.Answers = make(map[string]interface{}, len(res.Files))
		for _, fr := range res.Files {
			ans, err := fr.Chain.Ask(ctx, message)
			if err != nil {
				h.Logger.Printf("answer on %s: %v", fr.Collection, err)
				resp.Answers[fr.Collection] = HTTPError{Error: "Error processing chat: " + err.Error()}
				continue
			}
			resp.Answers[fr.Collection] = answerOf(session.FormatReply(ans))
		}
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *ReportHandler) ping(ctx context.Context) error {
	timeout := h.PingTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return h.Vectors.Ping(pctx)
}

// options reads the tuning fields, falling back to configured defaults.
func (h *ReportHandler) options(c echo.Context) (ingest.Options, error) {
	d := h.Defaults
	opts := ingest.Options{
		Model: models.ModelOptions{Name: d.ModelName, MaxTokens: d.MaxTokens},
		TopK:  d.TopK,
		Chunking: models.Chunking{
			Size:    d.ChunkSize,
			Overlap: d.ChunkOverlap,
		},
	}
	var err error
	if opts.Chunking.Size, err = formInt(c, "chunk_size", opts.Chunking.Size); err != nil {
		return opts, err
	}
	if opts.Chunking.Overlap, err = formInt(c, "chunk_overlap", opts.Chunking.Overlap); err != nil {
		return opts, err
	}
	if opts.Model.MaxTokens, err = formInt(c, "max_tokens", opts.Model.MaxTokens); err != nil {
		return opts, err
	}
	if opts.TopK, err = formInt(c, "top_k", opts.TopK); err != nil {
		return opts, err
	}
	temp, err := formFloat(c, "llm_temperature", d.Temperature)
	if err != nil {
		return opts, err
	}
	opts.Model.Temperature = &temp
	if name := strings.TrimSpace(c.FormValue("model_name")); name != "" {
		opts.Model.Name = name
	}
	if err := llm.CheckModel(h.AllowedModels, opts.Model.Name); err != nil {
		return opts, httpError(err, http.StatusBadRequest)
	}
	if opts.Chunking.Size <= 0 || opts.Chunking.Overlap < 0 || opts.Chunking.Overlap >= opts.Chunking.Size {
		return opts, echo.NewHTTPError(http.StatusBadRequest, "chunk_overlap must be smaller than chunk_size")
	}
	if opts.TopK <= 0 {
		return opts, echo.NewHTTPError(http.StatusBadRequest, "top_k must be positive")
	}
	return opts, nil
}

// answerExisting answers a question against a collection the caller
// already ingested.
func (h *ReportHandler) answerExisting(c echo.Context, userID, name, message string, opts ingest.Options) error {
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "collection_name is required when no files are uploaded")
	}
	ctx := c.Request().Context()
	owned, err := h.Store.CollectionOwnedBy(ctx, userID, name)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !owned {
		return echo.NewHTTPError(http.StatusNotFound, "Collection not found")
	}
	chain, err := h.Chains.BuildChain(ctx, name, models.ChainOptions{Model: opts.Model, TopK: opts.TopK})
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	ans, err := chain.Ask(ctx, message)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Error processing chat: "+err.Error())
	}
	reply := session.FormatReply(ans)
	return c.JSON(http.StatusOK, AnswerResponse{CollectionName: name, Message: reply.Message, Sources: reply.Sources})
}

// saveResult stores the file outcome under its salted name and returns its URL.
func (h *ReportHandler) saveResult(ctx context.Context, userID, salted string, fr ingest.FileResult) (string, error) {
	records := fr.Records
	if records == nil {
		records = []models.Vulnerability{}
	}
	payload, err := json.Marshal(FilePayload{
		FileName:        fr.FileName,
		CollectionName:  fr.Collection,
		Fingerprint:     fr.Fingerprint,
		Stored:          fr.Stored,
		Duplicate:       fr.Skipped,
		Vulnerabilities: records,
	})
	if err != nil {
		return "", err
	}
	url := h.ResultURLBase + salted
	_, err = h.Store.CreateProcessingResult(ctx, models.ProcessingResult{
		UserID:           userID,
		FileName:         fr.FileName,
		CollectionName:   salted,
		VectorCollection: fr.Collection,
		Response:         payload,
		ResultURL:        url,
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

func formInt(c echo.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.FormValue(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+key)
	}
	return n, nil
}

func formFloat(c echo.Context, key string, def float64) (float64, error) {
	raw := strings.TrimSpace(c.FormValue(key))
	if raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+key)
	}
	return f, nil
}

func pluralRecords(n int) string {
	if n == 1 {
		return "1 vulnerability extracted"
	}
	return strconv.Itoa(n) + " vulnerabilities extracted"
}
