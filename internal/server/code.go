package server

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/svat/config"
	"github.com/mohammad-safakhou/svat/internal/codescan"
	"github.com/mohammad-safakhou/svat/internal/collection"
	"github.com/mohammad-safakhou/svat/internal/llm"
	"github.com/mohammad-safakhou/svat/internal/notify"
	"github.com/mohammad-safakhou/svat/internal/runtime"
	"github.com/mohammad-safakhou/svat/internal/store"
	"github.com/mohammad-safakhou/svat/models"
)

const (
	inlineCodeName   = "inline_code_analysis"
	codeAnalysisName = "code-analysis"
	codeDone         = "Code analysis complete. You can view the results."
)

// CodeHandler scans source code for vulnerabilities.
type CodeHandler struct {
	Store         *store.Store
	Analyzer      *codescan.Analyzer
	Notifier      *notify.Notifier
	Defaults      config.CodeAnalysisConfig
	AllowedModels []string
	ResultURLBase string
	MaxBytes      int64
	Logger        *log.Logger
}

func (h *CodeHandler) Register(g *echo.Group, secret []byte) {
	g.POST("/code_analysis/", h.analyze, runtime.EchoAuthMiddleware(secret))
}

// Code analysis
//
//	@Summary	Scan source code
//	@Tags		code
//	@Accept		multipart/form-data
//	@Produce	json
//	@Success	201	{object}	CodeAnalysisResponse
//	@Failure	400	{object}	HTTPError
//	@Failure	502	{object}	HTTPError
//	@Router		/code_analysis/ [post]
func (h *CodeHandler) analyze(c echo.Context) error {
	ctx := c.Request().Context()
	userID := runtime.UserID(c)

	code, fileName, err := h.source(c)
	if err != nil {
		return err
	}
	opts := models.ModelOptions{Name: h.Defaults.DefaultModel}
	if name := strings.TrimSpace(c.FormValue("model_name")); name != "" {
		opts.Name = name
	}
	temp, err := formFloat(c, "temperature", h.Defaults.DefaultTemperature)
	if err != nil {
		return err
	}
	opts.Temperature = &temp
	if err := llm.CheckModel(h.AllowedModels, opts.Name); err != nil {
		return httpError(err, http.StatusBadRequest)
	}

	report, err := h.Analyzer.Analyze(ctx, code, opts)
	if err != nil {
		return httpError(err, http.StatusBadGateway)
	}
	status := report.Status()

	payload, err := json.Marshal(CodePayload{
		FileName:        fileName,
		Status:          status,
		Analysis:        report.Analysis,
		Vulnerabilities: report.Findings,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	salted := collection.Salted(codeAnalysisName, time.Now())
	url := h.ResultURLBase + salted
	if _, err := h.Store.CreateProcessingResult(ctx, models.ProcessingResult{
		UserID:         userID,
		FileName:       fileName,
		CollectionName: salted,
		Response:       payload,
		ResultURL:      url,
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	user, uerr := h.Store.GetUserByID(ctx, userID)
	if uerr != nil {
		h.Logger.Printf("load user %s for notification: %v", userID, uerr)
	}
	h.Notifier.Processed(ctx, notify.Notice{
		To:         user.Email,
		Name:       user.FullName,
		FileName:   fileName,
		Collection: salted,
		ResultURL:  url,
		Summary:    status,
	})

	return c.JSON(http.StatusCreated, CodeAnalysisResponse{
		Status:          status,
		Vulnerabilities: report.Findings,
		ResultURL:       url,
		Message:         codeDone,
	})
}

// source returns the uploaded code file when present, else the code field.
func (h *CodeHandler) source(c echo.Context) (string, string, error) {
	fh, err := c.FormFile("code_file")
	if err != nil {
		code := c.FormValue("code")
		if strings.TrimSpace(code) == "" {
			return "", "", echo.NewHTTPError(http.StatusBadRequest, "No code or file provided")
		}
		return code, inlineCodeName, nil
	}
	if !config.AllowsExtension(h.Defaults.AllowedExtensions, filepath.Ext(fh.Filename)) {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, "Unsupported file type: "+fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer f.Close()
	var r io.Reader = f
	if h.MaxBytes > 0 {
		r = io.LimitReader(f, h.MaxBytes)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return string(b), fh.Filename, nil
}
