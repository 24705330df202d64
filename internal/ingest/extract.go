package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxDocumentBytes caps how much of a fetched document is read.
const MaxDocumentBytes = 10 << 20

// ErrUnsupportedContent is returned by FetchURL for content types it cannot
// turn into text.
var ErrUnsupportedContent = errors.New("unsupported content type")

// ExtractHTML returns the visible text of an HTML document, one text run per
// line. Script, style, noscript, template and head content is skipped.
func ExtractHTML(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
				return
			}
		}
		if n.Type == html.TextNode {
			if line := collapse(n.Data); line != "" {
				lines = append(lines, line)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n"), nil
}

// ExtractPDF returns the text layer of a PDF document.
func ExtractPDF(r io.ReaderAt, size int64) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("reading pdf: %v", p)
		}
	}()

	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := doc.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}

	var lines []string
	for _, l := range strings.Split(string(raw), "\n") {
		if l = collapse(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// FetchURL downloads url and extracts its text according to the response
// content type: HTML, PDF or plain text.
func FetchURL(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, MaxDocumentBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/html", "application/xhtml+xml", "":
		return ExtractHTML(body)
	case "application/pdf":
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", url, err)
		}
		return ExtractPDF(bytes.NewReader(raw), int64(len(raw)))
	case "text/plain", "text/markdown":
		raw, err := io.ReadAll(body)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", url, err)
		}
		return strings.TrimSpace(string(raw)), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, mediaType)
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
