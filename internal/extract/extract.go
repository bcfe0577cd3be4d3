// Package extract turns uploaded PDF, DOCX and TXT files into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	units "github.com/docker/go-units"
	"github.com/h2non/filetype"
	"golang.org/x/text/encoding/charmap"
)

// FileType identifies a supported document format
type FileType string

const (
	TypePDF  FileType = "pdf"
	TypeDOCX FileType = "docx"
	TypeTXT  FileType = "txt"
)

// DefaultMaxSize is the upload limit when none is configured.
const DefaultMaxSize int64 = 10 * units.MB

// docxExpansion bounds word/document.xml at this multiple of the upload
// limit once decompressed.
const docxExpansion = 20

var (
	ErrUnsupported = errors.New("unsupported file type")
	ErrTooLarge    = errors.New("file too large")
	ErrUnavailable = errors.New("extraction tool not installed")
)

// Result holds text extracted from a document
type Result struct {
	Text     string   `json:"text"`
	FileType FileType `json:"file_type"`
	Pages    int      `json:"pages,omitempty"`
	Size     int64    `json:"size"`
	Warning  string   `json:"warning,omitempty"`
}

// Extractor pulls text out of documents
type Extractor struct {
	pdfToTextPath string
	maxSize       int64
	timeout       time.Duration
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxSize limits the accepted input size in bytes.
func WithMaxSize(n int64) Option {
	return func(e *Extractor) { e.maxSize = n }
}

// WithPDFToText sets the pdftotext binary. An empty name disables PDFs.
func WithPDFToText(name string) Option {
	return func(e *Extractor) {
		e.pdfToTextPath = ""
		if name != "" {
			e.pdfToTextPath, _ = exec.LookPath(name)
		}
	}
}

// WithTimeout bounds a single external extraction.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// New creates an Extractor. Checks for system dependencies.
func New(opts ...Option) *Extractor {
	pdf, _ := exec.LookPath("pdftotext")
	e := &Extractor{
		pdfToTextPath: pdf,
		maxSize:       DefaultMaxSize,
		timeout:       60 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Available reports which extraction capabilities are present
func (e *Extractor) Available() map[FileType]bool {
	return map[FileType]bool{
		TypePDF:  e.pdfToTextPath != "",
		TypeDOCX: true,
		TypeTXT:  true,
	}
}

// MaxSize returns the configured size limit in bytes.
func (e *Extractor) MaxSize() int64 {
	return e.maxSize
}

// Extract detects the type of data and returns its text. name is only
// used as a hint when the content has no recognizable signature.
func (e *Extractor) Extract(ctx context.Context, name string, data []byte) (*Result, error) {
	size := int64(len(data))
	if e.maxSize > 0 && size > e.maxSize {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrTooLarge,
			units.HumanSize(float64(size)), units.HumanSize(float64(e.maxSize)))
	}

	ft, err := Detect(name, data)
	if err != nil {
		return nil, err
	}

	var res *Result
	switch ft {
	case TypePDF:
		res, err = e.extractPDF(ctx, data)
	case TypeDOCX:
		res, err = extractDOCX(data, e.xmlLimit())
	case TypeTXT:
		res = extractTXT(data)
	}
	if err != nil {
		return nil, err
	}
	res.Size = size
	res.Text = strings.ReplaceAll(res.Text, "\r\n", "\n")
	if strings.TrimSpace(res.Text) == "" && res.Warning == "" {
		res.Warning = "no text found"
	}
	return res, nil
}

// Detect identifies the document type from its magic bytes, falling back
// to the file extension for plain text.
func Detect(name string, data []byte) (FileType, error) {
	kind, _ := filetype.Match(data)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))

	switch {
	case kind.Extension == "pdf":
		return TypePDF, nil
	case kind.Extension == "docx":
		return TypeDOCX, nil
	case kind.Extension == "zip" && isDOCX(data):
		return TypeDOCX, nil
	case kind == filetype.Unknown && (ext == "txt" || ext == "" || ext == "text") && looksLikeText(data):
		return TypeTXT, nil
	}

	label := kind.Extension
	if kind == filetype.Unknown {
		label = ext
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, label)
}

// extractPDF runs pdftotext on PDF bytes
func (e *Extractor) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	if e.pdfToTextPath == "" {
		return nil, fmt.Errorf("%w: pdftotext", ErrUnavailable)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// pdftotext -layout - - (stdin to stdout)
	cmd := exec.CommandContext(ctx, e.pdfToTextPath, "-layout", "-enc", "UTF-8", "-", "-")
	cmd.Stdin = bytes.NewReader(data)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftotext: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimRight(stdout.String(), "\f\n ")
	res := &Result{
		Text:     text,
		FileType: TypePDF,
		Pages:    strings.Count(text, "\f") + 1,
	}
	if strings.TrimSpace(strings.ReplaceAll(text, "\f", "")) == "" {
		res.Warning = "pdf has no text layer; scanned documents are not supported"
	}
	return res, nil
}

func isDOCX(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			return true
		}
	}
	return false
}

func (e *Extractor) xmlLimit() int64 {
	if e.maxSize > 0 {
		return docxExpansion * e.maxSize
	}
	return docxExpansion * DefaultMaxSize
}

// extractDOCX reads the paragraphs of word/document.xml, one per line.
// The decompressed XML may not exceed limit bytes.
func extractDOCX(data []byte, limit int64) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: docx without word/document.xml", ErrUnsupported)
	}

	tooLarge := fmt.Errorf("%w: document.xml expands beyond %s", ErrTooLarge, units.HumanSize(float64(limit)))
	if doc.UncompressedSize64 > uint64(limit) {
		return nil, tooLarge
	}

	rc, err := doc.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	// The header size can lie; count what is actually inflated.
	lr := &io.LimitedReader{R: rc, N: limit + 1}
	text, pages, err := docxText(lr)
	if lr.N <= 0 {
		return nil, tooLarge
	}
	if err != nil {
		return nil, err
	}
	return &Result{Text: text, FileType: TypeDOCX, Pages: pages}, nil
}

func docxText(r io.Reader) (string, int, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	pages := 1

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", 0, fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				if attr(t, "type") == "page" {
					pages++
				}
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), pages, nil
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// extractTXT decodes UTF-8, falling back to Windows-1252 for legacy files.
func extractTXT(data []byte) *Result {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	res := &Result{FileType: TypeTXT}
	if utf8.Valid(data) {
		res.Text = string(data)
		return res
	}
	text, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		res.Text = strings.ToValidUTF8(string(data), "�")
		res.Warning = "invalid UTF-8 replaced"
		return res
	}
	res.Text = string(text)
	res.Warning = "decoded as Windows-1252"
	return res
}

// looksLikeText rejects binary content: NUL bytes or mostly control characters.
func looksLikeText(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	control := 0
	for _, c := range sample {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' && c != '\f' {
			control++
		}
	}
	return control*10 <= len(sample)
}
