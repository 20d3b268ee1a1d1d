package agents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxDocumentBytes caps a single source download. Ministry curriculum PDFs
// run 2-8 MB; anything past 20 MB is not a curriculum document.
const MaxDocumentBytes = 20 * 1024 * 1024

const defaultUserAgent = "edutrack-ingest/1.0"

// SearchResult is one hit from a search backend.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// SearchProvider abstracts the web search backend the scout fans out to.
// Production wires a search API; tests wire a fixture provider.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// Document is a downloaded source document.
type Document struct {
	URL         string
	ContentType string
	Data        []byte
}

// Fetcher abstracts document download so the architect and the ingest
// pipeline can be tested against local servers.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Document, error)
}

// HTTPFetcher downloads documents with a hard size cap. The cap is checked
// twice: against Content-Length before reading, and against the running
// total while streaming, so a lying header cannot bypass it.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPFetcher builds a fetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		maxBytes:  MaxDocumentBytes,
	}
}

// Fetch downloads a document and returns its bytes and content type.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d fetching %s", resp.StatusCode, url)
	}

	if resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("document is %d bytes, limit %d", resp.ContentLength, f.maxBytes)
	}

	var buf bytes.Buffer
	chunk := make([]byte, 8192)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			if int64(buf.Len()+n) > f.maxBytes {
				return nil, fmt.Errorf("document exceeds %d byte limit", f.maxBytes)
			}
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}

	return &Document{
		URL:         url,
		ContentType: resp.Header.Get("Content-Type"),
		Data:        buf.Bytes(),
	}, nil
}

// DocumentKind is the parse format of a downloaded document.
type DocumentKind string

const (
	KindPDF  DocumentKind = "pdf"
	KindHTML DocumentKind = "html"
	KindText DocumentKind = "text"
)

// Kind classifies the document for the text extractor. The content type
// wins; the URL suffix and a magic-byte sniff cover servers that send
// generic types.
func (d *Document) Kind() DocumentKind {
	ct := strings.ToLower(d.ContentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return KindPDF
	case strings.Contains(ct, "html"):
		return KindHTML
	case strings.Contains(ct, "text/plain"):
		return KindText
	}
	if strings.HasSuffix(strings.ToLower(d.URL), ".pdf") || bytes.HasPrefix(d.Data, []byte("%PDF-")) {
		return KindPDF
	}
	if bytes.Contains(d.Data[:min(len(d.Data), 512)], []byte("<html")) {
		return KindHTML
	}
	return KindText
}
