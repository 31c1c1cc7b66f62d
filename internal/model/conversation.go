// Package model 包含了应用的数据模型定义。
package model

// 消息角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表对话中的单条消息。对话由客户端完整提交，服务端不做持久化。
type ChatMessage struct {
	Role    string `json:"role"` // "user"、"assistant" 或 "system"
	Content string `json:"content"`
}

// LastContent 返回对话中最后一条消息的内容，对话为空时返回空串。
func LastContent(messages []ChatMessage) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].Content
}
