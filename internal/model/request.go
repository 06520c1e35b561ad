package model

// TextMessageRequest 文本消息请求
type TextMessageRequest struct {
	ChatID string `json:"chat_id" binding:"required"`
	Prompt string `json:"prompt" binding:"required"`
}

// ImageMessageRequest 图片消息请求
type ImageMessageRequest struct {
	ChatID      string `json:"chat_id" binding:"required"`
	Prompt      string `json:"prompt" binding:"required"`
	IsPublished bool   `json:"is_published,omitempty"`
}

// CreateConversationRequest 创建对话请求
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
}

// RenameConversationRequest 修改对话标题请求
type RenameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}
