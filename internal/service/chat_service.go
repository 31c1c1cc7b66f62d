// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"chat-pdf-go/internal/apperr"
	"chat-pdf-go/internal/config"
	"chat-pdf-go/internal/model"
	"chat-pdf-go/pkg/embedding"
	"chat-pdf-go/pkg/llm"
	"chat-pdf-go/pkg/log"
	"chat-pdf-go/pkg/vectorstore"

	"github.com/gorilla/websocket"
)

// 返回给调用方的错误信息
const (
	MsgNoMessages   = "No messages provided"
	MsgEmptyMessage = "The last message must have content."
)

// 流式回答完成通知中的 status
const (
	StatusFinished = "finished"
	StatusStopped  = "stopped"
)

// ChatResult 是一次非流式问答的结果。Completion 是上游接口的原始响应体。
type ChatResult struct {
	Context    string
	Matches    []model.Match
	Completion json.RawMessage
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Answer 检索最新一条消息的相关上下文，并返回上游的完整回复。
	Answer(ctx context.Context, messages []model.ChatMessage) (*ChatResult, error)
	// StreamAnswer 与 Answer 使用相同的检索与提示，回复以增量分块写入 writer。
	// ctx 被取消时视为客户端主动停止：不返回错误，只发送 status 为 stopped 的完成通知。
	StreamAnswer(ctx context.Context, messages []model.ChatMessage, writer llm.MessageWriter) error
}

type chatService struct {
	embedder  embedding.Client
	store     vectorstore.Store
	llmClient llm.Client
	namespace string
	topK      int
	llmCfg    config.LLMConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	embedder embedding.Client,
	store vectorstore.Store,
	llmClient llm.Client,
	namespace string,
	retrieval config.RetrievalConfig,
	llmCfg config.LLMConfig,
) ChatService {
	return &chatService{
		embedder:  embedder,
		store:     store,
		llmClient: llmClient,
		namespace: namespace,
		topK:      retrieval.TopK,
		llmCfg:    llmCfg,
	}
}

// Answer 协调 RAG 流程：向量化最新消息、检索、拼装 system 消息、调用 LLM。
func (s *chatService) Answer(ctx context.Context, messages []model.ChatMessage) (*ChatResult, error) {
	contextText, matches, err := s.retrieve(ctx, messages)
	if err != nil {
		return nil, err
	}

	llmMsgs := toLLMMessages(s.composeMessages(s.buildSystemMessage(contextText), messages))
	raw, err := s.llmClient.CreateChatCompletion(ctx, llmMsgs, s.buildGenerationParams())
	if err != nil {
		log.Errorf("[ChatService] 调用 LLM 失败: %v", err)
		return nil, apperr.Upstream("chat completion", "", err)
	}
	log.Infof("[ChatService] 问答完成, 检索命中: %d, 响应大小: %d 字节", len(matches), len(raw))

	return &ChatResult{Context: contextText, Matches: matches, Completion: raw}, nil
}

// StreamAnswer 协调 RAG 流程并流式传输 LLM 响应。
func (s *chatService) StreamAnswer(ctx context.Context, messages []model.ChatMessage, writer llm.MessageWriter) error {
	contextText, _, err := s.retrieve(ctx, messages)
	if err != nil {
		return s.streamStopped(ctx, writer, 0, err)
	}

	llmMsgs := toLLMMessages(s.composeMessages(s.buildSystemMessage(contextText), messages))
	// 拦截 writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{ctx: ctx, conn: writer, writer: answerBuilder}
	if err := s.llmClient.StreamChatMessages(ctx, llmMsgs, s.buildGenerationParams(), interceptor); err != nil {
		log.Errorf("[ChatService] 流式调用 LLM 失败: %v", err)
		return s.streamStopped(ctx, writer, answerBuilder.Len(), apperr.Upstream("chat stream", "", err))
	}

	sendCompletion(writer, StatusFinished)
	log.Infof("[ChatService] 流式回答完成, 长度: %d", answerBuilder.Len())
	return nil
}

// streamStopped 区分客户端停止与真正的失败：ctx 已取消时吞掉错误并发送 stopped 通知。
func (s *chatService) streamStopped(ctx context.Context, writer llm.MessageWriter, written int, err error) error {
	if ctx.Err() == nil {
		return err
	}
	sendCompletion(writer, StatusStopped)
	log.Infof("[ChatService] 流式回答已停止, 已发送长度: %d", written)
	return nil
}

// retrieve 只对最后一条消息做向量化检索，返回拼装好的上下文文本。
func (s *chatService) retrieve(ctx context.Context, messages []model.ChatMessage) (string, []model.Match, error) {
	const op = "chat"
	if len(messages) == 0 {
		return "", nil, apperr.Validation(op, MsgNoMessages)
	}
	query := model.LastContent(messages)
	if strings.TrimSpace(query) == "" {
		return "", nil, apperr.Validation(op, MsgEmptyMessage)
	}

	queryVector, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[ChatService] 向量化查询失败: %v", err)
		return "", nil, apperr.Upstream("embed query", "", err)
	}

	matches, err := s.store.Query(ctx, s.namespace, queryVector, s.topK)
	if err != nil {
		log.Errorf("[ChatService] 向量库查询失败: %v", err)
		return "", nil, apperr.Upstream("query vectors", "", err)
	}
	log.Debugf("[ChatService] 检索完成, namespace: %s, topK: %d, 命中: %d", s.namespace, s.topK, len(matches))

	if len(matches) == 0 {
		return s.noResultText(), matches, nil
	}
	return buildContextText(matches), matches, nil
}

// buildContextText 按向量库返回的顺序拼接非空的分块文本
func buildContextText(matches []model.Match) string {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Metadata.Text != "" {
			texts = append(texts, m.Metadata.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (s *chatService) noResultText() string {
	if s.llmCfg.Prompt.NoResultText != "" {
		return s.llmCfg.Prompt.NoResultText
	}
	return config.DefaultNoResultText
}

func (s *chatService) buildSystemMessage(contextText string) string {
	rules := s.llmCfg.Prompt.Rules
	if rules == "" {
		rules = config.DefaultPromptRules
	}
	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\nContext: ")
	sys.WriteString(contextText)
	return sys.String()
}

// composeMessages 把 system 消息放在最前，客户端提交的对话原样跟随
func (s *chatService) composeMessages(systemMsg string, history []model.ChatMessage) []model.ChatMessage {
	msgs := make([]model.ChatMessage, 0, len(history)+1)
	msgs = append(msgs, model.ChatMessage{Role: model.RoleSystem, Content: systemMsg})
	msgs = append(msgs, history...)
	return msgs
}

func toLLMMessages(messages []model.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *chatService) buildGenerationParams() *llm.GenerationParams {
	var gp llm.GenerationParams
	if s.llmCfg.Generation.Temperature != 0 {
		t := s.llmCfg.Generation.Temperature
		gp.Temperature = &t
	}
	if s.llmCfg.Generation.TopP != 0 {
		p := s.llmCfg.Generation.TopP
		gp.TopP = &p
	}
	if s.llmCfg.Generation.MaxTokens != 0 {
		m := s.llmCfg.Generation.MaxTokens
		gp.MaxTokens = &m
	}
	if gp.Temperature == nil && gp.TopP == nil && gp.MaxTokens == nil {
		return nil
	}
	return &gp
}

// wsWriterInterceptor 封装下游 writer，用于捕获写入的消息。ctx 取消后不再下发，并让上游读取循环退出。
type wsWriterInterceptor struct {
	ctx    context.Context
	conn   llm.MessageWriter
	writer *strings.Builder
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	b, _ := json.Marshal(map[string]string{"chunk": string(data)})
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(w llm.MessageWriter, status string) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = w.WriteMessage(websocket.TextMessage, b)
}
