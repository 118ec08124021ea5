package tika

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/pkg/apperr"
)

const twoPages = `<html xmlns="http://www.w3.org/1999/xhtml"><head><title>Bylaws</title></head>
<body><div class="page"><p>Article I</p><p>Name of the association.</p></div>
<div class="page"><p></p></div>
<div class="page"><p>Article II</p></div></body></html>`

func TestParsePages(t *testing.T) {
	pages, err := ParsePages(strings.NewReader(twoPages))
	require.NoError(t, err)

	require.Len(t, pages, 3)
	assert.Equal(t, "Article I\nName of the association.", pages[0])
	assert.Equal(t, "", pages[1])
	assert.Equal(t, "Article II", pages[2])
}

func TestParsePagesWithoutPageMarkup(t *testing.T) {
	pages, err := ParsePages(strings.NewReader(`<html><head><title>x</title></head><body><p>Just text</p></body></html>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Just text"}, pages)
}

func TestExtractPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "%PDF-1.7", string(body))
		_, _ = w.Write([]byte(twoPages))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL + "/", TimeoutSeconds: 5})
	pages, err := c.ExtractPages(context.Background(), strings.NewReader("%PDF-1.7"), "bylaws.pdf")
	require.NoError(t, err)
	assert.Len(t, pages, 3)
}

func TestExtractPagesCorruptDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("Unable to parse PDF"))
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL, TimeoutSeconds: 5})
	_, err := c.ExtractPages(context.Background(), strings.NewReader("garbage"), "broken.pdf")
	require.Error(t, err)
	assert.Equal(t, apperr.KindExtraction, apperr.KindOf(err))
	assert.ErrorContains(t, err, "422")
}

func TestExtractPagesTimeoutIsStorageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(config.TikaConfig{ServerURL: srv.URL, TimeoutSeconds: 5})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.ExtractPages(ctx, strings.NewReader("%PDF-1.7"), "minutes.pdf")
	require.Error(t, err)
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	// the orchestrator's extraction wrapper keeps the inner kind
	assert.Equal(t, apperr.KindStorage, apperr.KindOf(apperr.NewExtraction("extract pages", err)))
}
