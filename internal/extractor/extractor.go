// Package extractor downloads OParl files and extracts their text content,
// falling back from a PDF text layer to OCR, updating storage with the
// result.
package extractor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/semaphore"

	"github.com/mandari/ingestor/internal/storage"
)

var pdfMimeTypes = map[string]bool{"application/pdf": true, "application/x-pdf": true}

// Config configures an Extractor.
type Config struct {
	MaxSizeBytes int64
	Concurrency  int
	Timeout      time.Duration
	BatchSize    int
	UserAgent    string
	OCRLanguage  string
}

func (c Config) withDefaults() Config {
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = 50 * 1024 * 1024
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 6
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mandari/2.0 (https://mandari.dev; contact@mandari.dev)"
	}
	if c.OCRLanguage == "" {
		c.OCRLanguage = "deu"
	}
	return c
}

// Extractor is the text-extraction pipeline for File rows.
type Extractor struct {
	db     *storage.DB
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	sem    *semaphore.Weighted
}

// New creates an Extractor.
func New(db *storage.DB, cfg Config, logger *slog.Logger) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{
		db:     db,
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// ExtractPendingFiles downloads and extracts text from a batch of pending
// files belonging to a body, returning how many were successfully
// extracted (non-empty text).
func (e *Extractor) ExtractPendingFiles(ctx context.Context, bodyID uuid.UUID) (int, error) {
	files, err := e.db.ListPendingFiles(ctx, bodyID, e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("extractor: list pending files: %w", err)
	}
	if len(files) == 0 {
		e.logf("no pending files", "body_id", bodyID)
		return 0, nil
	}

	e.logf("extracting text from pending files", "body_id", bodyID, "count", len(files))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		extracted int
	)
	for _, f := range files {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(f storage.PendingFile) {
			defer wg.Done()
			defer e.sem.Release(1)

			ok, err := e.processFile(ctx, f)
			if err != nil {
				e.logf("extraction attempt errored", "file_id", f.ID, "err", err)
				return
			}
			if ok {
				mu.Lock()
				extracted++
				mu.Unlock()
			}
		}(f)
	}
	wg.Wait()

	e.logf("extraction batch complete", "body_id", bodyID, "extracted", extracted, "total", len(files))
	return extracted, nil
}

func (e *Extractor) logf(msg string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Info(msg, args...)
}

// processFile downloads and extracts text for a single pending file,
// persisting the outcome regardless of success or failure.
func (e *Extractor) processFile(ctx context.Context, f storage.PendingFile) (bool, error) {
	if f.URL == "" {
		msg := "no download URL"
		return false, e.db.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{Status: "skipped", Error: &msg})
	}

	if isRejectedMime(f.MimeType) {
		msg := fmt.Sprintf("unsupported MIME type: %s", f.MimeType)
		return false, e.db.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{Status: "skipped", Error: &msg})
	}

	if err := e.db.MarkFileProcessing(ctx, f.ID); err != nil {
		return false, err
	}

	data, err := e.download(ctx, f.URL)
	if err != nil {
		msg := fmt.Sprintf("download failed: %v", err)
		return false, e.db.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{Status: "failed", Error: &msg})
	}

	if int64(len(data)) > e.cfg.MaxSizeBytes {
		msg := fmt.Sprintf("file too large: %d bytes", len(data))
		return false, e.db.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{Status: "skipped", Error: &msg})
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	mimeType := f.MimeType
	if mimeType == "" && bytes.HasPrefix(data, []byte("%PDF-")) {
		mimeType = "application/pdf"
	}

	text, pageCount, method, err := e.extractText(data, mimeType, f.FileName)
	if err != nil {
		msg := fmt.Sprintf("extraction failed: %v", err)
		return false, e.db.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{
			Status: "failed", Error: &msg, SHA256Hash: &hash,
		})
	}

	text = strings.TrimSpace(text)
	if text == "" {
		m := method
		if m == "" {
			m = "none"
		}
		return false, e.db.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{
			Status: "completed", Method: &m, PageCount: pageCount, SHA256Hash: &hash,
		})
	}

	return true, e.db.SetFileExtraction(ctx, f.ID, storage.FileExtractionResult{
		Status: "completed", Method: &method, PageCount: pageCount, TextContent: &text, SHA256Hash: &hash,
	})
}

func isRejectedMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") ||
		strings.HasPrefix(mimeType, "video/") ||
		strings.HasPrefix(mimeType, "audio/")
}

func (e *Extractor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("extractor: http status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// extractText dispatches to the PDF, plaintext, or HTML path based on
// declared MIME type, file extension, or a best-effort plaintext decode.
func (e *Extractor) extractText(data []byte, mimeType, fileName string) (string, *int, string, error) {
	if pdfMimeTypes[mimeType] || strings.HasSuffix(strings.ToLower(fileName), ".pdf") {
		return e.extractFromPDF(data)
	}

	if strings.HasPrefix(mimeType, "text/") {
		text := decodeText(data)
		if mimeType == "text/html" {
			return stripHTMLTags(text), nil, "html", nil
		}
		return text, nil, "plaintext", nil
	}

	if text := decodeText(data); strings.TrimFunc(text, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) != "" {
		return text, nil, "plaintext", nil
	}
	return "", nil, "none", nil
}

// extractFromPDF tries the text layer first, falling back to OCR over
// rasterized pages when the PDF has no extractable text (e.g. scans).
func (e *Extractor) extractFromPDF(data []byte) (string, *int, string, error) {
	pageCount, text, err := readPDFText(data)
	if err != nil {
		e.logf("pdf text-layer extraction failed", "err", err)
	} else if strings.TrimSpace(text) != "" {
		return text, pageCount, "pdf-textlayer", nil
	}

	ocrText, err := e.extractWithOCR(data)
	if err != nil {
		e.logf("ocr extraction failed", "err", err)
	} else if strings.TrimSpace(ocrText) != "" {
		return ocrText, pageCount, "ocr", nil
	}

	return "", pageCount, "none", nil
}

func readPDFText(data []byte) (*int, string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("open pdf: %w", err)
	}

	total := r.NumPage()
	pageCount := total
	var fragments []string
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(text); t != "" {
			fragments = append(fragments, t)
		}
	}
	return &pageCount, strings.Join(fragments, "\n\n"), nil
}

// extractWithOCR rasterizes a PDF's pages to PNG via the poppler
// `pdftoppm` binary, then runs Tesseract over each page image. Requires
// both `pdftoppm` and a Tesseract installation to be present on the host.
func (e *Extractor) extractWithOCR(data []byte) (string, error) {
	dir, err := os.MkdirTemp("", "ingestor-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	pdfPath := filepath.Join(dir, "source.pdf")
	if err := os.WriteFile(pdfPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write pdf: %w", err)
	}

	prefix := filepath.Join(dir, "page")
	cmd := exec.Command("pdftoppm", "-png", "-r", "300", pdfPath, prefix)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftoppm: %w", err)
	}

	pages, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return "", fmt.Errorf("glob page images: %w", err)
	}
	sort.Strings(pages)

	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()
	if err := client.SetLanguage(e.cfg.OCRLanguage); err != nil {
		return "", fmt.Errorf("set ocr language: %w", err)
	}

	var fragments []string
	for _, page := range pages {
		if err := client.SetImage(page); err != nil {
			continue
		}
		text, err := client.Text()
		if err != nil {
			continue
		}
		if t := strings.TrimSpace(text); t != "" {
			fragments = append(fragments, t)
		}
	}
	return strings.Join(fragments, "\n\n"), nil
}

func decodeText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	// latin-1 maps byte-for-byte onto the first 256 Unicode code points.
	runes := make([]rune, len(data))
	for i, b := range data {
		runes[i] = rune(b)
	}
	return string(runes)
}

var htmlTagRegex = regexp.MustCompile(`(?s)<[^>]*>`)

// stripHTMLTags does a minimal tag strip without a full HTML parser,
// matching the original's "no external dependency" choice for this helper.
func stripHTMLTags(html string) string {
	var lines []string
	for _, fragment := range strings.Split(htmlTagRegex.ReplaceAllString(html, "\n"), "\n") {
		if t := strings.TrimSpace(fragment); t != "" {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}
