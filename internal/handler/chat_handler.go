package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rag-connect-go/internal/repository"
	"rag-connect-go/internal/service"
	"rag-connect-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService      service.ChatService
	conversationRepo repository.ConversationRepository
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, conversationRepo repository.ConversationRepository) *ChatHandler {
	return &ChatHandler{
		chatService:      chatService,
		conversationRepo: conversationRepo,
	}
}

// chatRequest 是 websocket 上每条用户消息的格式。
// session_id 为空时由服务端生成并在首帧回传。
type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Handle 处理一个传入的 WebSocket 连接。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Info("WebSocket 连接已建立")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req chatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			// 兼容裸文本消息
			req = chatRequest{Query: string(message)}
		}
		if req.Query == "" {
			continue
		}

		sessionID := h.conversationRepo.EnsureSessionID(req.SessionID)
		if req.SessionID == "" {
			// 新会话：先回传 session_id，客户端后续消息需带上
			b, _ := json.Marshal(map[string]string{"type": "session", "session_id": sessionID})
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}

		if err := h.chatService.StreamResponse(c.Request.Context(), sessionID, req.Query, conn); err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			errResp := map[string]string{"error": "AI服务暂时不可用，请稍后重试"}
			b, _ := json.Marshal(errResp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			break
		}
	}
}
