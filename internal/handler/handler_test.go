package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/repository"
	"hoa-nexus-rag/internal/service"
	"hoa-nexus-rag/pkg/llm"
	"hoa-nexus-rag/pkg/tasks"
	"hoa-nexus-rag/pkg/token"
)

type fakeIndexing struct {
	mu        sync.Mutex
	lastScope model.Scope
	lastForce bool
	deleted   []string
}

func (f *fakeIndexing) IndexDocuments(_ context.Context, scope model.Scope) (*model.IndexingRunReport, error) {
	f.mu.Lock()
	f.lastScope = scope
	f.mu.Unlock()
	return &model.IndexingRunReport{RunID: "r1", Total: 2, Successful: 1, Skipped: 1}, nil
}

func (f *fakeIndexing) IndexFile(_ context.Context, fileID string, force bool) (*model.IndexingRunReport, error) {
	if fileID == "missing" {
		return nil, repository.ErrFileNotFound
	}
	f.lastForce = force
	return &model.IndexingRunReport{RunID: "r2", Total: 1, Successful: 1, ProcessedFiles: []model.ProcessedFile{
		{FileID: fileID, Status: model.StatusSuccess, Details: "indexed 3 chunks (forced re-index)"},
	}}, nil
}

func (f *fakeIndexing) EnqueueDocuments(_ context.Context, scope model.Scope) (*model.IndexingRun, error) {
	return &model.IndexingRun{RunID: "r3", Status: model.RunQueued, Scope: scope}, nil
}

func (f *fakeIndexing) EnqueueFile(_ context.Context, fileID string, _ bool) (*model.IndexingRun, error) {
	return &model.IndexingRun{RunID: "r4", Status: model.RunQueued, FileID: fileID}, nil
}

func (f *fakeIndexing) GetRun(_ context.Context, runID string) (*model.IndexingRun, error) {
	if runID != "r3" {
		return nil, repository.ErrRunNotFound
	}
	return &model.IndexingRun{RunID: "r3", Status: model.RunCompleted}, nil
}

func (f *fakeIndexing) HandleTask(context.Context, tasks.IndexTask) error { return nil }

func (f *fakeIndexing) DeleteFile(_ context.Context, fileID string) error {
	f.deleted = append(f.deleted, fileID)
	return nil
}

func (f *fakeIndexing) Stats(context.Context) (*service.IndexStats, error) {
	return &service.IndexStats{
		Vector: &model.VectorStats{Backend: "memory", TotalChunks: 12, IndexedFiles: 1},
		Files:  &repository.IndexSummary{Total: 1, Indexed: 1},
	}, nil
}

type fakeRecovery struct {
	scope   model.Scope
	trigger bool
}

func (f *fakeRecovery) ResetFailedIndexes(_ context.Context, scope model.Scope, trigger bool) (*service.ResetResult, error) {
	f.scope, f.trigger = scope, trigger
	return &service.ResetResult{AffectedRows: 1}, nil
}

type fakeChat struct {
	mu   sync.Mutex
	last model.ChatRequest
	err  error
}

func (f *fakeChat) Complete(_ context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.ChatResponse{Response: "answer", UsedRAG: true}, nil
}

func (f *fakeChat) StreamResponse(_ context.Context, req model.ChatRequest, ws llm.MessageWriter, _ func() bool) error {
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	for _, part := range []string{"Pool ", "opens at 8."} {
		b, _ := json.Marshal(map[string]string{"chunk": part})
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			return err
		}
	}
	return ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"completion","status":"finished"}`))
}

func (f *fakeChat) lastRequest() model.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type fakeRetrieval struct {
	scope model.Scope
	k     int
}

func (f *fakeRetrieval) Retrieve(_ context.Context, _ string, scope model.Scope, k int) ([]model.SearchResult, error) {
	f.scope, f.k = scope, k
	return []model.SearchResult{{FileID: "f1", Score: 0.9}}, nil
}

type testEnv struct {
	router    *gin.Engine
	jwt       *token.JWTManager
	indexing  *fakeIndexing
	recovery  *fakeRecovery
	chat      *fakeChat
	retrieval *fakeRetrieval
}

func newTestEnv(checks map[string]Checker) *testEnv {
	jwt := token.NewJWTManager("secret", 1)
	env := &testEnv{
		jwt:       jwt,
		indexing:  &fakeIndexing{},
		recovery:  &fakeRecovery{},
		chat:      &fakeChat{},
		retrieval: &fakeRetrieval{},
	}
	env.router = NewRouter(gin.TestMode, jwt, Handlers{
		Indexing: NewIndexingHandler(env.indexing, env.recovery),
		Chat:     NewChatHandler(env.chat, env.retrieval, jwt),
		Health:   NewHealthHandler(checks),
	})
	return env
}

func (e *testEnv) token(t *testing.T, role string, community *string) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken("u1", "someone", role, community)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(method, path, bearer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestIndexingRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(nil)

	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/api/v1/ai/index-documents", "", "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodPost, "/api/v1/ai/index-documents", env.token(t, "USER", nil), "").Code)
	assert.Equal(t, http.StatusForbidden, env.do(http.MethodGet, "/api/v1/ai/vector-stats", env.token(t, "USER", nil), "").Code)
}

func TestIndexDocuments(t *testing.T) {
	env := newTestEnv(nil)
	admin := env.token(t, token.RoleAdmin, nil)

	w := env.do(http.MethodPost, "/api/v1/ai/index-documents", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report model.IndexingRunReport
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &report))
	assert.Equal(t, 2, report.Total)
	assert.True(t, env.indexing.lastScope.IsZero())

	w = env.do(http.MethodPost, "/api/v1/ai/index-documents", admin, `{"communityId":"c1","folderType":"minutes"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", *env.indexing.lastScope.CommunityID)
	assert.Equal(t, "minutes", env.indexing.lastScope.FolderType)

	w = env.do(http.MethodPost, "/api/v1/ai/index-documents", admin, `{"async":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"runId":"r3"`)

	w = env.do(http.MethodPost, "/api/v1/ai/index-documents", admin, `{"communityId":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIndexFile(t *testing.T) {
	env := newTestEnv(nil)
	admin := env.token(t, token.RoleAdmin, nil)

	w := env.do(http.MethodPost, "/api/v1/ai/index-file/f1?force=true", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.indexing.lastForce)
	var data struct {
		Status  string `json:"status"`
		Details string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, "success", data.Status)
	assert.Contains(t, data.Details, "3 chunks")

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodPost, "/api/v1/ai/index-file/missing", admin, "").Code)
	assert.Equal(t, http.StatusAccepted, env.do(http.MethodPost, "/api/v1/ai/index-file/f1?async=true", admin, "").Code)
}

func TestResetStatsRunsDelete(t *testing.T) {
	env := newTestEnv(nil)
	admin := env.token(t, token.RoleAdmin, nil)

	w := env.do(http.MethodPost, "/api/v1/ai/reset-failed-indexes", admin, `{"scope":{"communityId":"c9"},"trigger":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"affectedRows":1}`, string(decode(t, w).Data))
	assert.Equal(t, "c9", *env.recovery.scope.CommunityID)
	assert.True(t, env.recovery.trigger)

	w = env.do(http.MethodGet, "/api/v1/ai/vector-stats", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"totalChunks":12`)

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/ai/index-runs/r3", admin, "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/v1/ai/index-runs/zzz", admin, "").Code)

	assert.Equal(t, http.StatusOK, env.do(http.MethodDelete, "/api/v1/ai/index/f7", admin, "").Code)
	assert.Equal(t, []string{"f7"}, env.indexing.deleted)
}

func TestChatScopesToCallerCommunity(t *testing.T) {
	env := newTestEnv(nil)
	c1 := "c1"

	w := env.do(http.MethodPost, "/api/v1/ai/chat", env.token(t, "USER", &c1), `{"message":"pets?","communityId":"c2","useRAG":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", *env.chat.lastRequest().CommunityID)

	w = env.do(http.MethodPost, "/api/v1/ai/chat", env.token(t, token.RoleAdmin, &c1), `{"message":"pets?","communityId":"c2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c2", *env.chat.lastRequest().CommunityID)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/v1/ai/chat", env.token(t, "USER", nil), `{}`).Code)

	env.chat.err = errors.New("llm down")
	assert.Equal(t, http.StatusBadGateway, env.do(http.MethodPost, "/api/v1/ai/chat", env.token(t, "USER", nil), `{"message":"x"}`).Code)
}

func TestSearch(t *testing.T) {
	env := newTestEnv(nil)
	user := env.token(t, "USER", nil)

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/ai/search", user, "").Code)

	w := env.do(http.MethodGet, "/api/v1/ai/search?query=fence+height&topK=3&folderType=governing", user, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, env.retrieval.k)
	assert.Equal(t, "governing", env.retrieval.scope.FolderType)
	assert.Nil(t, env.retrieval.scope.CommunityID)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(map[string]Checker{
		"mysql": func(context.Context) error { return nil },
	})
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "", "").Code)

	env = newTestEnv(map[string]Checker{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w := env.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(nil)
	env.do(http.MethodGet, "/healthz", "", "")
	w := env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hoa_http_requests_total")
}

func TestChatWebSocket(t *testing.T) {
	env := newTestEnv(nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ai/chat/ws/"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"bad-token", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c1 := "c1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+env.token(t, "USER", &c1), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("when does the pool open?")))
	var frames []string
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 3; i++ {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		frames = append(frames, string(data))
	}
	assert.JSONEq(t, `{"chunk":"Pool "}`, frames[0])
	assert.JSONEq(t, `{"chunk":"opens at 8."}`, frames[1])
	assert.Contains(t, frames[2], "completion")

	req := env.chat.lastRequest()
	assert.Equal(t, "when does the pool open?", req.Message)
	assert.Equal(t, "c1", *req.CommunityID)
}
