package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-nexus-rag/internal/config"
)

type frames struct {
	got []string
}

func (f *frames) WriteMessage(_ int, data []byte) error {
	f.got = append(f.got, string(data))
	return nil
}

func TestComplete(t *testing.T) {
	var seen chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Quiet hours start at 10pm [1]."}}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{
		APIKey: "k", BaseURL: srv.URL + "/v1/", Model: "m", TimeoutSeconds: 5,
		Generation: config.LLMGenerationConfig{Temperature: 0.3, MaxTokens: 100},
	})
	out, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "quiet hours?"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Quiet hours start at 10pm [1].", out)

	assert.False(t, seen.Stream)
	assert.Equal(t, "m", seen.Model)
	require.NotNil(t, seen.Temperature)
	assert.InDelta(t, 0.3, *seen.Temperature, 1e-9)
	assert.Nil(t, seen.TopP)
	require.NotNil(t, seen.MaxTokens)
	assert.Equal(t, 100, *seen.MaxTokens)
}

func TestCompleteNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestStreamChatMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		for _, part := range []string{"Pool ", "closes ", "at 9."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	temp := 0.0
	c := NewClient(config.LLMConfig{BaseURL: srv.URL})
	w := &frames{}
	err := c.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "pool?"}}, &GenerationParams{Temperature: &temp}, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pool ", "closes ", "at 9."}, w.got)
}
