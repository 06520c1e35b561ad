package model

// FailureReason 消息交换失败原因
type FailureReason string

const (
	ReasonInsufficientCredit FailureReason = "InsufficientCredit" // 额度不足，无副作用
	ReasonNotFound           FailureReason = "NotFound"           // 对话不存在或不属于当前用户
	ReasonRateLimited        FailureReason = "RateLimited"        // 上游限流，稍后重试
	ReasonUpstreamError      FailureReason = "UpstreamError"      // 上游生成失败
	ReasonTimeout            FailureReason = "Timeout"            // 上游生成超时
	ReasonStorageError       FailureReason = "StorageError"       // 保存失败，未扣费
	ReasonDebitFailed        FailureReason = "DebitFailed"        // 已保存但扣费失败，需要对账
)

// ExchangeResult 消息交换结果
// 失败时不返回 error，而是通过 Reason 区分
type ExchangeResult struct {
	Success  bool          `json:"success"`
	Reply    *Turn         `json:"reply,omitempty"`
	Reason   FailureReason `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	Unbilled bool          `json:"unbilled,omitempty"` // 回复已送达但未扣费
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// UserInfo 用户信息
type UserInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Credits int64  `json:"credits"`
}
