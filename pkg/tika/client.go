// Package tika extracts per-page text from documents through an Apache Tika server.
package tika

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/pkg/apperr"
)

// Client is a Tika server client.
type Client struct {
	serverURL string
	http      *http.Client
}

// NewClient creates a Tika client.
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		http:      &http.Client{Timeout: cfg.Timeout()},
	}
}

// ExtractPages asks Tika for XHTML and returns the text of each page in order.
// Tika wraps every PDF page in <div class="page">; documents without page
// markup come back as a single page.
func (c *Client) ExtractPages(ctx context.Context, r io.Reader, fileName string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", r)
	if err != nil {
		return nil, apperr.NewExtraction("tika request", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Content-Type", detectMimeType(fileName))

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			// the document may be fine; the server did not answer in time
			return nil, apperr.NewStorage("call tika", err)
		}
		return nil, apperr.NewExtraction("call tika", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.NewExtraction("call tika", fmt.Errorf("tika returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	pages, err := ParsePages(resp.Body)
	if err != nil {
		return nil, apperr.NewExtraction("parse tika xhtml", err)
	}
	return pages, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ParsePages splits Tika XHTML output into page texts.
func ParsePages(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var pages []string
	var body *html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "body" && body == nil {
				body = n
			}
			if n.Data == "div" && hasClass(n, "page") {
				pages = append(pages, textOf(n))
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if len(pages) == 0 && body != nil {
		pages = []string{textOf(body)}
	}
	return pages, nil
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

// textOf concatenates text nodes, breaking lines at block elements.
func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "head" {
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
				b.WriteByte('\n')
			}
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}

func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}
