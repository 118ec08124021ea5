package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/internal/service"
	"hoa-nexus-rag/pkg/log"
	"hoa-nexus-rag/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatHandler serves chat over REST and WebSocket, plus the debug search route.
type ChatHandler struct {
	chatService      service.ChatService
	retrievalService service.RetrievalService
	jwtManager       *token.JWTManager
}

func NewChatHandler(chatService service.ChatService, retrievalService service.RetrievalService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService:      chatService,
		retrievalService: retrievalService,
		jwtManager:       jwtManager,
	}
}

// Chat answers one message, retrieving context when useRAG is set.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	scope := callerScope(c, model.Scope{CommunityID: req.CommunityID, FolderType: req.FolderType})
	req.CommunityID = scope.CommunityID

	resp, err := h.chatService.Complete(c.Request.Context(), req)
	if err != nil {
		log.Errorf("[ChatHandler] chat failed: %v", err)
		fail(c, http.StatusBadGateway, "AI service temporarily unavailable")
		return
	}
	ok(c, resp)
}

// Search exposes retrieval directly, for debugging relevance.
func (h *ChatHandler) Search(c *gin.Context) {
	query := c.Query("query")
	if strings.TrimSpace(query) == "" {
		fail(c, http.StatusBadRequest, "query is required")
		return
	}
	topK, err := strconv.Atoi(c.DefaultQuery("topK", "0"))
	if err != nil || topK < 0 {
		topK = 0
	}
	scope := callerScope(c, model.Scope{
		CommunityID: optionalString(c.Query("communityId")),
		FolderType:  c.Query("folderType"),
	})

	results, err := h.retrievalService.Retrieve(c.Request.Context(), query, scope, topK)
	if err != nil {
		failErr(c, "ChatHandler", err)
		return
	}
	log.Infof("[ChatHandler] search query='%s' returned %d results", query, len(results))
	ok(c, results)
}

// wsSession serialises writes from the stream goroutine and the read loop.
type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
	stop atomic.Bool
	busy atomic.Bool
}

func (s *wsSession) WriteMessage(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsSession) writeJSON(v interface{}) {
	b, _ := json.Marshal(v)
	_ = s.WriteMessage(websocket.TextMessage, b)
}

// wsMessage is a client frame: a chat request or {"type":"stop"}.
type wsMessage struct {
	Type string `json:"type"`
	model.ChatRequest
}

// Stream handles GET /chat/ws/:token. Each text frame is a question, either
// plain text or a JSON ChatRequest; {"type":"stop"} halts the current answer.
func (h *ChatHandler) Stream(c *gin.Context) {
	claims, err := h.jwtManager.VerifyToken(c.Param("token"))
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] websocket upgrade failed", err)
		return
	}
	ctx, cancel := context.WithCancel(c.Request.Context())
	var wg sync.WaitGroup
	defer conn.Close()
	defer wg.Wait()
	defer cancel()

	log.Infof("[ChatHandler] websocket connected, user: %s", claims.Username)
	sess := &wsSession{conn: conn}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("[ChatHandler] websocket closed: %v", err)
			return
		}

		var msg wsMessage
		if len(raw) > 0 && raw[0] == '{' {
			if err := json.Unmarshal(raw, &msg); err != nil {
				sess.writeJSON(gin.H{"error": "malformed message"})
				continue
			}
		} else {
			msg.Message = string(raw)
		}

		if msg.Type == "stop" {
			sess.stop.Store(true)
			sess.writeJSON(gin.H{"type": "stop", "message": "response stopped", "timestamp": time.Now().UnixMilli()})
			continue
		}
		if strings.TrimSpace(msg.Message) == "" {
			sess.writeJSON(gin.H{"error": "message is required"})
			continue
		}
		if !sess.busy.CompareAndSwap(false, true) {
			sess.writeJSON(gin.H{"error": "a response is already streaming"})
			continue
		}

		req := msg.ChatRequest
		if claims.CommunityID != nil && !claims.IsAdmin() {
			req.CommunityID = claims.CommunityID
		}
		sess.stop.Store(false)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sess.busy.Store(false)
			if err := h.chatService.StreamResponse(ctx, req, sess, sess.stop.Load); err != nil {
				log.Errorf("[ChatHandler] streaming failed: %v", err)
				sess.writeJSON(gin.H{"error": "AI service temporarily unavailable"})
				sess.writeJSON(gin.H{"type": "completion", "status": "finished", "timestamp": time.Now().UnixMilli()})
			}
		}()
	}
}
