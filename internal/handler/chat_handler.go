package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chat-pdf-go/internal/model"
	"chat-pdf-go/internal/service"
	"chat-pdf-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 聊天接口的固定错误信息
const (
	MsgChatFailed     = "An error occurred while processing your request."
	MsgInvalidBody    = "Invalid request body"
	MsgAlreadyStreams = "A response is already streaming."
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatRequest 是聊天接口的请求体，对话由客户端完整提交。
type ChatRequest struct {
	Messages []model.ChatMessage `json:"messages"`
}

// streamFrame 是 WebSocket 上客户端发来的消息：{"messages":[...]} 或 {"type":"stop"}。
type streamFrame struct {
	Type     string              `json:"type"`
	Messages []model.ChatMessage `json:"messages"`
}

// ChatHandler 负责处理问答请求，包括普通 HTTP 和 WebSocket 流式两种方式。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Chat 处理 POST /api/chat，成功时原样返回上游的 JSON 响应。
func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[ChatHandler] 无效的请求体: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": MsgInvalidBody})
		return
	}

	res, err := h.chatService.Answer(c.Request.Context(), req.Messages)
	if err != nil {
		respondError(c, "ChatHandler", err, MsgChatFailed)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", res.Completion)
}

// Stream 处理一个 WebSocket 连接。同一连接上同时只允许一个流式回答。
// {"type":"stop"} 取消当前回答的上游调用，等它发出完成通知后再回复 stop 确认，之后即可提出新问题。
func (h *ChatHandler) Stream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("[ChatHandler] WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	out := &lockedConn{conn: conn}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var active *activeStream
	defer func() { active.stop() }()

	log.Infof("[ChatHandler] WebSocket 连接已建立, remote: %s", c.ClientIP())
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			out.writeJSON(gin.H{"error": MsgInvalidBody})
			continue
		}
		if frame.Type == "stop" {
			active.stop()
			active = nil
			out.writeJSON(gin.H{"type": "stop", "timestamp": time.Now().UnixMilli()})
			continue
		}
		if active.running() {
			out.writeJSON(gin.H{"error": MsgAlreadyStreams})
			continue
		}
		active = h.startStream(ctx, frame.Messages, out)
	}
}

// activeStream 是连接上正在进行的一次流式回答。
type activeStream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (a *activeStream) running() bool {
	if a == nil {
		return false
	}
	select {
	case <-a.done:
		return false
	default:
		return true
	}
}

// stop 取消上游调用并等待 goroutine 退出。
func (a *activeStream) stop() {
	if a == nil {
		return
	}
	a.cancel()
	<-a.done
}

func (h *ChatHandler) startStream(parent context.Context, messages []model.ChatMessage, out *lockedConn) *activeStream {
	ctx, cancel := context.WithCancel(parent)
	a := &activeStream{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		defer cancel()
		if err := h.chatService.StreamAnswer(ctx, messages, out); err != nil {
			log.Errorf("[ChatHandler] 处理流式响应失败: %v", err)
			out.writeJSON(gin.H{"error": publicMessage(err, MsgChatFailed)})
			out.writeJSON(gin.H{"type": "completion", "status": service.StatusFinished, "timestamp": time.Now().UnixMilli()})
		}
	}()
	return a
}

// lockedConn 串行化对 websocket.Conn 的写操作，读循环与流式 goroutine 共用同一连接。
type lockedConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (l *lockedConn) WriteMessage(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.WriteMessage(messageType, data)
}

func (l *lockedConn) writeJSON(v any) {
	b, _ := json.Marshal(v)
	_ = l.WriteMessage(websocket.TextMessage, b)
}
