// Package ingest runs uploaded files through extraction, deduplicated
// storage and chain construction.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/svat/config"
	"github.com/mohammad-safakhou/svat/internal/apperr"
	"github.com/mohammad-safakhou/svat/internal/archive"
	"github.com/mohammad-safakhou/svat/internal/backend"
	"github.com/mohammad-safakhou/svat/internal/collection"
	"github.com/mohammad-safakhou/svat/internal/dedup"
	"github.com/mohammad-safakhou/svat/internal/extract"
	"github.com/mohammad-safakhou/svat/internal/fingerprint"
	"github.com/mohammad-safakhou/svat/internal/telemetry"
	"github.com/mohammad-safakhou/svat/models"
)

// Upload is one file of a batch. Open is called once.
type Upload struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// BytesUpload wraps in-memory content as an Upload.
func BytesUpload(name string, data []byte) Upload {
	return Upload{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

func (u Upload) Ext() string {
	return strings.ToLower(filepath.Ext(u.Name))
}

// Options tune one batch.
type Options struct {
	Model    models.ModelOptions
	TopK     int
	Chunking models.Chunking
}

// FileResult is the outcome for one file of a batch.
type FileResult struct {
	FileName    string
	Collection  string
	Fingerprint string
	Stored      int
	Skipped     bool
	Records     []models.Vulnerability
	Chain       backend.Chain
}

// Result is the outcome of a fully processed batch, in upload order.
type Result struct {
	Files []FileResult
}

func (r *Result) Collections() []string {
	out := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		out = append(out, f.Collection)
	}
	return out
}

// Orchestrator processes batches of uploads.
type Orchestrator struct {
	AllowedExtensions []string
	TempDir           string
	Backend           backend.Backend
	Gate              *dedup.Gate
	Archive           archive.Vault
	Logger            *log.Logger
}

func NewOrchestrator(cfg config.IngestionConfig, b backend.Backend, gate *dedup.Gate, vault archive.Vault, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Orchestrator{
		AllowedExtensions: cfg.AllowedExtensions,
		TempDir:           cfg.TempDir,
		Backend:           b,
		Gate:              gate,
		Archive:           vault,
		Logger:            logger,
	}
}

// Validate rejects the batch if any file has an unsupported extension.
func (o *Orchestrator) Validate(uploads []Upload) error {
	if len(uploads) == 0 {
		return apperr.New(apperr.ErrValidation, "no files provided")
	}
	for _, u := range uploads {
		if !config.AllowsExtension(o.AllowedExtensions, u.Ext()) {
			return apperr.New(apperr.ErrValidation, "unsupported file type: %s", u.Ext())
		}
	}
	return nil
}

// Process handles every upload in order. The first failing file aborts the
// batch and no partial result is returned.
func (o *Orchestrator) Process(ctx context.Context, uploads []Upload, opts Options) (*Result, error) {
	if err := o.Validate(uploads); err != nil {
		return nil, err
	}
	res := &Result{Files: make([]FileResult, 0, len(uploads))}
	for _, u := range uploads {
		fr, err := o.processFile(ctx, u, opts)
		if err != nil {
			telemetry.IngestedFiles.WithLabelValues("failed").Inc()
			o.Logger.Printf("batch aborted at %s: %v", u.Name, err)
			return nil, err
		}
		outcome := "stored"
		if fr.Skipped {
			outcome = "skipped"
		}
		telemetry.IngestedFiles.WithLabelValues(outcome).Inc()
		res.Files = append(res.Files, fr)
	}
	return res, nil
}

func (o *Orchestrator) processFile(ctx context.Context, u Upload, opts Options) (FileResult, error) {
	ext := u.Ext()
	fr := FileResult{FileName: u.Name, Collection: collection.Name(u.Name, "")}

	path, err := o.stage(u)
	if err != nil {
		return fr, err
	}
	defer os.Remove(path)

	fp, err := fingerprint.File(path)
	if err != nil {
		return fr, err
	}
	fr.Fingerprint = fp

	if o.Archive != nil {
		if _, err := archive.StoreFile(ctx, o.Archive, fp+ext, path); err != nil {
			o.Logger.Printf("archive %s: %v", u.Name, err)
		}
	}

	doc, err := o.Backend.Extract(ctx, path, ext, opts.Model)
	if err != nil {
		return fr, err
	}
	for i := range doc.Records {
		doc.Records[i].Collection = fr.Collection
		doc.Records[i].FileName = u.Name
	}
	fr.Records = doc.Records

	units := extract.ToUnits(doc.Records, doc.Pages, fp, u.Name, opts.Chunking)
	out, err := o.Gate.Write(ctx, fr.Collection, units)
	if err != nil {
		return fr, err
	}
	fr.Stored, fr.Skipped = out.Stored, out.Skipped

	chain, err := o.Backend.BuildChain(ctx, fr.Collection, models.ChainOptions{Model: opts.Model, TopK: opts.TopK})
	if err != nil {
		if apperr.KindOf(err) != nil {
			return fr, apperr.Wrap(apperr.KindOf(err), err, "Failed to build QA chain for %s", fr.Collection)
		}
		return fr, apperr.Wrap(apperr.ErrExtraction, err, "Failed to build QA chain for %s", fr.Collection)
	}
	fr.Chain = chain
	o.Logger.Printf("processed %s into %s (stored=%d skipped=%t records=%d)", u.Name, fr.Collection, fr.Stored, fr.Skipped, len(fr.Records))
	return fr, nil
}

// stage copies the upload to a temp file and returns its path.
func (o *Orchestrator) stage(u Upload) (string, error) {
	rc, err := u.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", u.Name, err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(o.TempDir, "upload-*"+u.Ext())
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage %s: %w", u.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage %s: %w", u.Name, err)
	}
	return tmp.Name(), nil
}
