package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hoa-nexus-rag/internal/config"
	"hoa-nexus-rag/internal/model"
	"hoa-nexus-rag/pkg/llm"
	"hoa-nexus-rag/pkg/log"
)

// ChatService answers resident questions, grounding them in retrieved documents.
type ChatService interface {
	Complete(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	// StreamResponse writes the answer to ws as {"chunk": ...} frames followed by
	// a completion notice carrying the sources.
	StreamResponse(ctx context.Context, req model.ChatRequest, ws llm.MessageWriter, shouldStop func() bool) error
}

type chatService struct {
	retrieval RetrievalService
	llmClient llm.Client
	chatCfg   config.ChatConfig
	llmCfg    config.LLMConfig
}

// NewChatService answers questions from retrieved context with the configured LLM.
func NewChatService(retrieval RetrievalService, llmClient llm.Client, chatCfg config.ChatConfig, llmCfg config.LLMConfig) ChatService {
	return &chatService{
		retrieval: retrieval,
		llmClient: llmClient,
		chatCfg:   chatCfg,
		llmCfg:    llmCfg,
	}
}

func (s *chatService) Complete(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	messages, sources, usedRAG := s.prepare(ctx, req)
	answer, err := s.llmClient.Complete(ctx, messages, s.buildGenerationParams())
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	return &model.ChatResponse{Response: answer, Sources: sources, UsedRAG: usedRAG}, nil
}

func (s *chatService) StreamResponse(ctx context.Context, req model.ChatRequest, ws llm.MessageWriter, shouldStop func() bool) error {
	messages, sources, usedRAG := s.prepare(ctx, req)
	interceptor := &wsWriterInterceptor{conn: ws, shouldStop: shouldStop}
	if err := s.llmClient.StreamChatMessages(ctx, messages, s.buildGenerationParams(), interceptor); err != nil {
		return err
	}
	sendCompletion(ws, sources, usedRAG)
	return nil
}

// prepare runs retrieval when enabled and composes the LLM messages. Retrieval
// failures fall back to answering without context.
func (s *chatService) prepare(ctx context.Context, req model.ChatRequest) ([]llm.Message, []model.ChatSource, bool) {
	useRAG := s.chatCfg.UseRAG
	if req.UseRAG != nil {
		useRAG = *req.UseRAG
	}

	var results []model.SearchResult
	if useRAG {
		var err error
		results, err = s.retrieval.Retrieve(ctx, req.Message, model.Scope{CommunityID: req.CommunityID, FolderType: req.FolderType}, 0)
		if err != nil {
			log.Warnf("[ChatService] retrieval failed, answering without context: %v", err)
			results = nil
		}
	}
	usedRAG := useRAG && len(results) > 0
	chatRequests.WithLabelValues(fmt.Sprintf("%t", usedRAG)).Inc()

	var system string
	if useRAG {
		system = s.buildSystemMessage(s.buildContextText(results))
	} else {
		system = strings.TrimSpace(s.llmCfg.Prompt.Rules)
	}
	return s.composeMessages(system, req.ConversationHistory, req.Message), buildSources(results), usedRAG
}

func (s *chatService) buildContextText(results []model.SearchResult) string {
	if len(results) == 0 {
		return ""
	}
	const maxSnippetLen = 1000
	var b strings.Builder
	for i, r := range results {
		snippet := truncateRunes(r.Text, maxSnippetLen)
		label := r.FileName
		if label == "" {
			label = "unknown"
		}
		fmt.Fprintf(&b, "[%d] (%s, p.%d) %s\n", i+1, label, r.PageNumber, snippet)
	}
	return b.String()
}

func (s *chatService) buildSystemMessage(contextText string) string {
	p := s.llmCfg.Prompt
	refStart := p.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := p.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if rules := strings.TrimSpace(p.Rules); rules != "" {
		sys.WriteString(rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextText != "" {
		sys.WriteString(contextText)
	} else {
		noRes := p.NoResultText
		if noRes == "" {
			noRes = "(no matching documents)"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

// composeMessages keeps the last chat.max_history user/assistant turns.
func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage, userInput string) []llm.Message {
	var kept []model.ChatMessage
	for _, m := range history {
		if (m.Role == "user" || m.Role == "assistant") && strings.TrimSpace(m.Content) != "" {
			kept = append(kept, m)
		}
	}
	if limit := s.chatCfg.MaxHistory; limit >= 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}

	msgs := make([]llm.Message, 0, len(kept)+2)
	if systemMsg != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: systemMsg})
	}
	for _, m := range kept {
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: "user", Content: userInput})
}

func (s *chatService) buildGenerationParams() *llm.GenerationParams {
	g := s.llmCfg.Generation
	var gp llm.GenerationParams
	if g.Temperature != 0 {
		t := g.Temperature
		gp.Temperature = &t
	}
	if g.TopP != 0 {
		p := g.TopP
		gp.TopP = &p
	}
	if g.MaxTokens != 0 {
		m := g.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

func buildSources(results []model.SearchResult) []model.ChatSource {
	sources := make([]model.ChatSource, 0, len(results))
	for i, r := range results {
		sources = append(sources, model.ChatSource{
			Index:      i + 1,
			FileID:     r.FileID,
			FileName:   r.FileName,
			PageNumber: r.PageNumber,
			ChunkIndex: r.ChunkIndex,
			Score:      r.Score,
			Snippet:    truncateRunes(r.Text, 200),
		})
	}
	return sources
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// wsWriterInterceptor wraps each streamed delta as {"chunk": ...}.
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	shouldStop func() bool
}

func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		return nil
	}
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

func sendCompletion(ws llm.MessageWriter, sources []model.ChatSource, usedRAG bool) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"sources":   sources,
		"usedRAG":   usedRAG,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
