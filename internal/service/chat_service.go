package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"rag-connect-go/internal/model"
	"rag-connect-go/internal/repository"
	"rag-connect-go/pkg/llm"
	"rag-connect-go/pkg/log"
)

// chatTopK 每轮对话检索的上下文分块数量。
const chatTopK = 5

// systemPrompt 是 RAG 对话的基础系统提示词，包含 3D 可视化的 JSON 输出约定。
const systemPrompt = `You are an AI portfolio assistant for a junior AI/ML developer. You have access to information about their projects and can discuss their technical achievements.

When the user asks to visualize, show, or display project metrics, accuracies, or comparisons in 3D, you MUST include a JSON code block in your response using exactly this format:

` + "```json" + `
{"type":"globe","data":[{"label":"Project Name","value":95,"color":"#6366f1"}],"title":"My AI Projects"}
` + "```" + `

Types available:
- "globe" - for showing project accuracies/metrics as points on a globe
- "neural" - for showing project relationships as a neural network
- "helix" - for showing projects as a timeline helix

Only include the JSON block when visualization is explicitly requested. Keep your text response concise and informative. If no context is available, answer from general AI/ML knowledge.`

// ChatService 定义了 RAG 对话操作的接口。
type ChatService interface {
	StreamResponse(ctx context.Context, sessionID, query string, ws *websocket.Conn) error
}

type chatService struct {
	searchService    SearchService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(searchService SearchService, llmClient llm.Client, conversationRepo repository.ConversationRepository) ChatService {
	return &chatService{
		searchService:    searchService,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
	}
}

// StreamResponse 协调 RAG 流程并通过 websocket 流式传输 LLM 响应。
// 检索失败不阻断对话，LLM 会在无上下文时退回通用回答。
func (s *chatService) StreamResponse(ctx context.Context, sessionID, query string, ws *websocket.Conn) error {
	// 1. 检索上下文并拼接 system 消息
	matches := s.searchService.RetrieveContext(ctx, query, chatTopK)
	systemMsg := buildSystemMessage(matches)

	// 2. 加载会话历史
	history, err := s.conversationRepo.GetConversationHistory(ctx, sessionID)
	if err != nil {
		log.Errorf("[ChatService] 读取会话历史失败: %v", err)
		history = []model.ChatMessage{}
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: systemMsg})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: query})

	// 3. 流式调用 LLM，拦截 writer 以捕获完整答案
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, answer: answerBuilder}
	if err := s.llmClient.StreamChatMessages(ctx, messages, interceptor); err != nil {
		return fmt.Errorf("LLM 流式调用失败: %w", err)
	}

	// 4. 发送完成通知并保存对话
	sendCompletion(ws)
	fullAnswer := answerBuilder.String()
	if fullAnswer != "" {
		// 使用后台上下文：即使请求被取消也要保存已生成的答案
		if err := s.saveTurn(context.Background(), sessionID, query, fullAnswer, history); err != nil {
			log.Errorf("[ChatService] 保存会话历史失败: %v", err)
		}
	}
	return nil
}

// buildSystemMessage 将检索命中拼接到基础提示词后。
func buildSystemMessage(matches []model.DocumentMatch) string {
	if len(matches) == 0 {
		return systemPrompt
	}
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	sb.WriteString("\n\nRelevant project information:\n")
	for i, m := range matches {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func (s *chatService) saveTurn(ctx context.Context, sessionID, question, answer string, history []model.ChatMessage) error {
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: time.Now()},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: time.Now()},
	)
	return s.conversationRepo.UpdateConversationHistory(ctx, sessionID, history)
}

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn   *websocket.Conn
	answer *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口，将原始分块包装成 {"chunk":"..."}。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	w.answer.Write(data)
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON。
func sendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
