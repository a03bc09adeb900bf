// Package extract turns uploaded reports into vulnerability records and
// embeddable units.
package extract

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/llm"
	"github.com/mohammad-safakhou/svat/models"
)

const defaultPromptLimit = 24000

// Document is what was read out of one file.
type Document struct {
	Pages   []Page
	Records []models.Vulnerability
}

// Extractor reads PDFs and images and asks a model for structured records.
type Extractor struct {
	Runner      CommandRunner
	Models      llm.Factory
	PDFToText   string
	Tesseract   string
	PromptLimit int
	Logger      *log.Logger
}

func NewExtractor(runner CommandRunner, factory llm.Factory, pdftotext, tesseract string, logger *log.Logger) *Extractor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if pdftotext == "" {
		pdftotext = "pdftotext"
	}
	if tesseract == "" {
		tesseract = "tesseract"
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags)
	}
	return &Extractor{
		Runner:      runner,
		Models:      factory,
		PDFToText:   pdftotext,
		Tesseract:   tesseract,
		PromptLimit: defaultPromptLimit,
		Logger:      logger,
	}
}

// Pages reads the text of a file by extension.
func (e *Extractor) Pages(ctx context.Context, path, ext string) ([]Page, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return PDFPages(ctx, e.Runner, e.PDFToText, path)
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return ImagePages(ctx, e.Runner, e.Tesseract, path)
	default:
		return nil, apperr.New(apperr.ErrValidation, "unsupported file type: %s", ext)
	}
}

// Extract reads the file and extracts vulnerability records with the model
// named in opts. A file without text yields a document with no records.
func (e *Extractor) Extract(ctx context.Context, path, ext string, opts models.ModelOptions) (*Document, error) {
	pages, err := e.Pages(ctx, path, ext)
	if err != nil {
		if apperr.KindOf(err) == apperr.ErrValidation {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "read %s", ext)
	}
	doc := &Document{Pages: pages}
	text := RenderPages(pages, e.PromptLimit)
	if strings.TrimSpace(text) == "" {
		e.Logger.Printf("no text extracted from %s", path)
		return doc, nil
	}
	if e.Models == nil {
		return doc, nil
	}
	m, err := e.Models.NewChatModel(ctx, opts)
	if err != nil {
		return nil, err
	}
	reply, err := llm.Complete(ctx, m, fmt.Sprintf(recordsPrompt, text))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "structured extraction")
	}
	records, err := ParseRecords(reply)
	if err != nil {
		// the raw text is still indexed when the reply is unusable
		e.Logger.Printf("parse records for %s: %v", path, err)
		return doc, nil
	}
	doc.Records = records
	return doc, nil
}
