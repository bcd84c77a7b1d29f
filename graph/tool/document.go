package tool

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/dshills/agentflow/internal/xjson"
)

// ErrConverterUnavailable is returned for formats that need a document
// conversion service when none is configured.
var ErrConverterUnavailable = errors.New("document converter not configured")

// Table is a table found in a document, as rows of cells.
type Table struct {
	Rows [][]string `json:"rows"`
}

// DocumentMetadata describes an extracted document.
type DocumentMetadata struct {
	Pages  int    `json:"pages"`
	Source string `json:"source"`
	Format string `json:"format"`
}

// Document is the structured result of an extraction.
type Document struct {
	Text     string           `json:"text"`
	Metadata DocumentMetadata `json:"metadata"`
	Tables   []Table          `json:"tables"`
}

// DocumentExtractor turns files into text and tables.
//
// Plain-text formats (txt, md, csv, json, html) are read locally. PDFs and
// images are posted to a docling-serve instance; without one they fail with
// ErrConverterUnavailable. Conversions are serialized so a shared extractor
// never floods the converter.
type DocumentExtractor struct {
	mu         sync.Mutex
	doclingURL string
	client     *http.Client
	maxBytes   int64
}

// DocumentOption configures a DocumentExtractor.
type DocumentOption func(*DocumentExtractor)

// WithDoclingURL sets the base URL of a docling-serve instance.
func WithDoclingURL(u string) DocumentOption {
	return func(d *DocumentExtractor) { d.doclingURL = strings.TrimRight(u, "/") }
}

// WithDocumentClient sets the HTTP client used for remote conversion.
func WithDocumentClient(c *http.Client) DocumentOption {
	return func(d *DocumentExtractor) { d.client = c }
}

// WithMaxDocumentBytes caps the size of files the extractor accepts.
func WithMaxDocumentBytes(n int64) DocumentOption {
	return func(d *DocumentExtractor) { d.maxBytes = n }
}

// NewDocumentExtractor creates a DocumentExtractor.
func NewDocumentExtractor(opts ...DocumentOption) *DocumentExtractor {
	d := &DocumentExtractor{
		client:   &http.Client{Timeout: 2 * time.Minute},
		maxBytes: 50 << 20,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements Tool.
func (d *DocumentExtractor) Name() string {
	return "document_extractor"
}

// Description implements Describer.
func (d *DocumentExtractor) Description() string {
	return "Extract text and tables from a document file given its path"
}

// Call implements Tool. Input: "path" (or "value"). Output: "text",
// "metadata", "tables".
func (d *DocumentExtractor) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	path := stringInput(input, "path", "value")
	if path == "" {
		return nil, fmt.Errorf("%w: path", ErrMissingInput)
	}
	doc, err := d.Extract(ctx, path)
	if err != nil {
		return nil, err
	}

	var out map[string]interface{}
	raw, err := xjson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := xjson.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Extract reads the file at path.
func (d *DocumentExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if d.maxBytes > 0 && info.Size() > d.maxBytes {
		return nil, fmt.Errorf("file %s is %d bytes, limit is %d", path, info.Size(), d.maxBytes)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch format {
	case "txt", "md", "markdown", "json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return localDocument(path, format, string(data), nil), nil
	case "csv":
		return extractCSV(path)
	case "html", "htm":
		return extractHTML(path, format)
	case "pdf", "png", "jpg", "jpeg", "docx", "pptx":
		return d.convert(ctx, path, format)
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

func localDocument(path, format, text string, tables []Table) *Document {
	if tables == nil {
		tables = []Table{}
	}
	return &Document{
		Text:     text,
		Metadata: DocumentMetadata{Pages: 1, Source: path, Format: format},
		Tables:   tables,
	}
}

func extractCSV(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", path, err)
	}

	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = "| " + strings.Join(row, " | ") + " |"
	}
	return localDocument(path, "csv", strings.Join(lines, "\n"), []Table{{Rows: rows}}), nil
}

func extractHTML(path, format string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	root, err := html.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", path, err)
	}

	var blocks []string
	var tables []Table
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			case "table":
				tables = append(tables, htmlTable(n))
				return
			case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "pre", "blockquote":
				if t := textContent(n); t != "" {
					blocks = append(blocks, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return localDocument(path, format, strings.Join(blocks, "\n\n"), tables), nil
}

func htmlTable(n *html.Node) Table {
	var t Table
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var row []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					row = append(row, textContent(c))
				}
			}
			t.Rows = append(t.Rows, row)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return t
}

type doclingResponse struct {
	Document struct {
		MDContent   string `json:"md_content"`
		TextContent string `json:"text_content"`
		JSONContent struct {
			Pages  map[string]xjson.RawMessage `json:"pages"`
			Tables []struct {
				Data struct {
					Grid [][]struct {
						Text string `json:"text"`
					} `json:"grid"`
				} `json:"data"`
			} `json:"tables"`
		} `json:"json_content"`
	} `json:"document"`
	Status string   `json:"status"`
	Errors []string `json:"errors"`
}

// convert posts the file to docling-serve's /v1/convert/file endpoint.
func (d *DocumentExtractor) convert(ctx context.Context, path, format string) (*Document, error) {
	if d.doclingURL == "" {
		return nil, fmt.Errorf("%w: cannot extract %s files", ErrConverterUnavailable, format)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("to_formats", "md")
	_ = mw.WriteField("to_formats", "json")
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.doclingURL+"/v1/convert/file", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document conversion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("document converter returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var dr doclingResponse
	if err := xjson.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("decode conversion response: %w", err)
	}
	if dr.Status == "failure" {
		return nil, fmt.Errorf("document conversion failed: %s", strings.Join(dr.Errors, "; "))
	}

	text := dr.Document.MDContent
	if text == "" {
		text = dr.Document.TextContent
	}
	doc := localDocument(path, format, text, nil)
	if n := len(dr.Document.JSONContent.Pages); n > 0 {
		doc.Metadata.Pages = n
	}
	for _, tbl := range dr.Document.JSONContent.Tables {
		var t Table
		for _, gridRow := range tbl.Data.Grid {
			row := make([]string, len(gridRow))
			for i, cell := range gridRow {
				row[i] = cell.Text
			}
			t.Rows = append(t.Rows, row)
		}
		doc.Tables = append(doc.Tables, t)
	}
	return doc, nil
}
